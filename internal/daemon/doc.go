// Package daemon talks to the trace daemon.
//
// Communicator is the capability the runtime consumes: connect, register
// clients and shared-memory objects, and learn when the daemon goes away.
// GRPC implements it over a unary gRPC channel carrying protobuf well-known
// types, so no generated stubs are needed on either side.
//
// Every call is bounded by the configured call timeout and passes through a
// circuit breaker, so an inline registration on an application goroutine
// fails promptly instead of hanging on a dead daemon.
//
// Example Usage:
//
//	comm := daemon.NewGRPC(daemon.Options{
//	    Address:     "unix:///run/tracing/daemon.sock",
//	    CallTimeout: 500 * time.Millisecond,
//	}, logger, metrics)
//	comm.SubscribeToTermination(onLost)
//	if err := comm.Connect(ctx); err != nil {
//	    // retry later
//	}
//	remote, err := comm.RegisterClient(ctx, types.BindingVector, types.NewAppID("App1"))
package daemon
