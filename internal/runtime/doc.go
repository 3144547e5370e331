// Package runtime is the client side of the tracing library.
//
// A Runtime owns the client and shared-memory registries, the daemon
// communicator, the trace job allocator and processor, and one background
// worker. Application goroutines call the public methods; they register
// locally right away and talk to the daemon inline only when it is already
// reachable. The worker connects to the daemon, replays registrations the
// application made while it was away, sets up the trace metadata region and
// then drains completed jobs until the daemon goes away or the runtime is
// closed.
//
// Worker states:
//
//	NotInitialized -> DaemonInitialized -> Initialized <-> DaemonDisconnected
//	                                     \-> GenericError (terminal)
//
// A failure the worker cannot recover from is stored in a single fatal slot
// that every public method checks first. The slot is cleared when the worker
// completes a full initialization cycle.
package runtime
