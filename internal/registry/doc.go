// Package registry provides the identifier registries of the tracing client.
//
// A Registry maps locally issued ids to entries that carry an optional
// daemon issued id and a pending registration error. Storage is a fixed set
// of slots allocated at construction, so an *Entry obtained from the
// registry is never moved or freed while other goroutines register, release
// or iterate. Mutation is per entry; lookups by local id take no registry
// wide lock.
//
// Components:
//   - Registry: generic slot arena with monotonic local ids
//   - Clients: trace clients keyed by binding and application id
//   - ShmObjects: shared-memory objects keyed by file descriptor
//
// Example Usage:
//
//	clients := registry.NewClients(32)
//	entry, existed, err := clients.Register(registry.ClientKey{
//	    Binding: types.BindingVector,
//	    AppID:   types.NewAppID("App1"),
//	})
//	entry.SetRemote(remoteID)
//	clients.InvalidateAllRemote()
package registry
