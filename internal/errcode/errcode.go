// Package errcode defines the error kinds returned by the tracing client runtime.
//
// A Code is itself an error, so callers compare with errors.Is:
//
//	if errors.Is(err, errcode.DaemonNotConnected) {
//		// retry later
//	}
//
// Codes are small integers so the runtime can publish the process-wide fatal
// error through a single atomic word.
package errcode

import "errors"

// Code identifies one failure kind.
type Code uint32

const (
	// None is the zero value and never returned as an error.
	None Code = iota

	// Validation
	InvalidArgument
	InvalidBindingType
	InvalidAppInstanceID
	ClientNotFound
	InvalidShmObjectHandle
	SharedMemoryObjectAlreadyRegistered
	CallbackAlreadyRegistered
	NotTypedMemory
	BadFileDescriptor

	// Capacity
	NoMoreSpaceForNewClient
	NoMoreSpaceForNewShmObject
	NoFreeSlotToSaveCallback

	// Daemon connectivity
	DaemonNotConnected
	DaemonConnectionFailed
	MessageSendFailed
	SharedMemoryObjectRegistrationFailed
	SharedMemoryObjectUnregisterFailed

	// Job pipeline
	NoMetaInfoProvided
	NotEnoughMemory
	RingBufferFull
	RingBufferNotInitialized
	NoDeallocatorRegistered

	// Worker fatal conditions
	DaemonNotAvailable
	FailedRegisterCachedClients
	FailedRegisterCachedShmObjects
	TraceJobAllocatorInitializationFailed
	DaemonIsDisconnected
	FailedToProcessJobs
	Terminal

	lastCode
)

var messages = [...]string{
	None:                                  "no error",
	InvalidArgument:                       "invalid argument",
	InvalidBindingType:                    "invalid binding type",
	InvalidAppInstanceID:                  "invalid app instance id",
	ClientNotFound:                        "trace client not registered",
	InvalidShmObjectHandle:                "shared-memory object handle not registered with the daemon",
	SharedMemoryObjectAlreadyRegistered:   "shared-memory object already registered",
	CallbackAlreadyRegistered:             "trace done callback already registered for client",
	NotTypedMemory:                        "shared-memory object is not in typed memory",
	BadFileDescriptor:                     "bad file descriptor",
	NoMoreSpaceForNewClient:               "maximum number of trace clients reached",
	NoMoreSpaceForNewShmObject:            "maximum number of shared-memory objects reached",
	NoFreeSlotToSaveCallback:              "no free slot to save the trace done callback",
	DaemonNotConnected:                    "trace daemon not connected yet",
	DaemonConnectionFailed:                "trace daemon connection failed",
	MessageSendFailed:                     "message to trace daemon could not be sent",
	SharedMemoryObjectRegistrationFailed:  "shared-memory object registration failed",
	SharedMemoryObjectUnregisterFailed:    "shared-memory object unregistration failed",
	NoMetaInfoProvided:                    "no supported meta info provided",
	NotEnoughMemory:                       "not enough memory in trace metadata region",
	RingBufferFull:                        "trace job ring buffer full",
	RingBufferNotInitialized:              "trace job ring buffer not initialized",
	NoDeallocatorRegistered:               "no job deallocator registered",
	DaemonNotAvailable:                    "trace daemon never became available",
	FailedRegisterCachedClients:           "failed to register cached trace clients",
	FailedRegisterCachedShmObjects:        "failed to register cached shared-memory objects",
	TraceJobAllocatorInitializationFailed: "trace job allocator initialization failed",
	DaemonIsDisconnected:                  "trace daemon disconnected",
	FailedToProcessJobs:                   "failed to process trace jobs",
	Terminal:                              "tracing library terminated",
}

// Error implements error.
func (c Code) Error() string {
	if c < lastCode {
		return messages[c]
	}
	return "unknown tracing error"
}

// String returns the message for c.
func (c Code) String() string { return c.Error() }

// Recoverable reports whether a caller may retry the failed operation later
// without the runtime being recreated.
func (c Code) Recoverable() bool {
	switch c {
	case ClientNotFound,
		SharedMemoryObjectAlreadyRegistered,
		CallbackAlreadyRegistered,
		NoFreeSlotToSaveCallback,
		DaemonNotConnected,
		MessageSendFailed,
		NotEnoughMemory,
		RingBufferFull,
		NoMetaInfoProvided,
		DaemonIsDisconnected:
		return true
	}
	return false
}

// Valid reports whether c is a known, non-zero code.
func (c Code) Valid() bool {
	return c > None && c < lastCode
}

// From extracts the Code carried by err. Errors without a code map to
// fallback; a nil error maps to None.
func From(err error, fallback Code) Code {
	if err == nil {
		return None
	}
	var c Code
	if errors.As(err, &c) && c.Valid() {
		return c
	}
	return fallback
}
