package registry

import (
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/errcode"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/shared/types"
)

// ClientKey identifies a trace client for idempotent registration.
type ClientKey struct {
	Binding types.BindingType
	AppID   types.AppID
}

// Clients holds registered trace clients.
type Clients = Registry[types.ClientID, ClientKey, types.ClientID]

// ClientEntry is one registered trace client.
type ClientEntry = Entry[types.ClientID, ClientKey, types.ClientID]

// ClientView is a consistent copy of a ClientEntry.
type ClientView = View[types.ClientID, ClientKey, types.ClientID]

// NewClients creates a client registry with the given capacity.
func NewClients(capacity int) *Clients {
	return New[types.ClientID, ClientKey, types.ClientID](capacity, errcode.NoMoreSpaceForNewClient)
}

// ShmObjects holds registered shared-memory objects keyed by file descriptor.
type ShmObjects = Registry[types.ShmObjectHandle, int, types.ShmObjectHandle]

// ShmEntry is one registered shared-memory object.
type ShmEntry = Entry[types.ShmObjectHandle, int, types.ShmObjectHandle]

// NewShmObjects creates a shared-memory object registry with the given capacity.
func NewShmObjects(capacity int) *ShmObjects {
	return New[types.ShmObjectHandle, int, types.ShmObjectHandle](capacity, errcode.NoMoreSpaceForNewShmObject)
}
