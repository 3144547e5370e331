// Package types provides the value types shared by the tracing client runtime.
//
// Identifiers:
//   - ClientID: locally or daemon issued trace client id (0 is invalid)
//   - ShmObjectHandle: locally or daemon issued shared-memory object handle
//   - ContextID: caller supplied id echoed back by the trace done callback
//   - AppID: fixed-width application identifier
//
// Payload:
//   - ShmChunk / ShmChunkList: references into registered shared-memory objects
//   - LocalChunk / LocalChunkList: process-local bytes copied by the allocator
//   - MetaInfo: AraComMetaInfo (supported) and DltMetaInfo
//
// Example Usage:
//
//	app := types.NewAppID("Radar01")
//	chunks := types.ShmChunkList{{Handle: h, Offset: 0, Size: 64}}
package types
