package daemon

import (
	"context"

	"github.com/GriffinCanCode/AgentOS/tracelib/internal/shared/types"
)

// Communicator is the trace daemon as seen by the client runtime.
type Communicator interface {
	// Connect establishes the channel. It fails promptly when the daemon is
	// unreachable and may be called again after a failure or termination.
	Connect(ctx context.Context) error
	RegisterClient(ctx context.Context, binding types.BindingType, appID types.AppID) (types.ClientID, error)
	RegisterShmObject(ctx context.Context, fd int) (types.ShmObjectHandle, error)
	RegisterShmObjectPath(ctx context.Context, path string) (types.ShmObjectHandle, error)
	UnregisterShmObject(ctx context.Context, handle types.ShmObjectHandle) error
	// SubscribeToTermination registers fn to run each time an established
	// channel is lost. fn must not block.
	SubscribeToTermination(fn func())
	Close() error
}
