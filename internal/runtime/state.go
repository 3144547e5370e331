package runtime

import (
	"sync/atomic"

	"github.com/GriffinCanCode/AgentOS/tracelib/internal/errcode"
)

// LibraryState is the worker's progress through initialization.
type LibraryState int32

const (
	NotInitialized LibraryState = iota
	DaemonInitialized
	Initialized
	DaemonDisconnected
	GenericError
)

func (s LibraryState) String() string {
	switch s {
	case NotInitialized:
		return "not_initialized"
	case DaemonInitialized:
		return "daemon_initialized"
	case Initialized:
		return "initialized"
	case DaemonDisconnected:
		return "daemon_disconnected"
	case GenericError:
		return "generic_error"
	default:
		return "unknown"
	}
}

// DaemonReady reports whether daemon calls may be made inline.
func (s LibraryState) DaemonReady() bool {
	return s == DaemonInitialized || s == Initialized
}

// fatalSlot holds the error every public call fails with, if any.
type fatalSlot struct {
	code atomic.Uint32
}

func (f *fatalSlot) set(c errcode.Code) {
	f.code.Store(uint32(c))
}

func (f *fatalSlot) clear() {
	f.code.Store(uint32(errcode.None))
}

func (f *fatalSlot) load() errcode.Code {
	return errcode.Code(f.code.Load())
}

func (f *fatalSlot) err() error {
	if c := f.load(); c != errcode.None {
		return c
	}
	return nil
}
