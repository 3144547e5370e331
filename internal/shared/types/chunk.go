package types

// MaxChunksPerTrace bounds the chunk list of a single trace call.
const MaxChunksPerTrace = 10

// ShmChunk addresses Size bytes at Offset inside a registered object.
type ShmChunk struct {
	Handle ShmObjectHandle
	Offset uint64
	Size   uint64
}

// ShmChunkList is the payload of a shared-memory trace.
type ShmChunkList []ShmChunk

// Clone returns an independent copy of l.
func (l ShmChunkList) Clone() ShmChunkList {
	out := make(ShmChunkList, len(l))
	copy(out, l)
	return out
}

// LocalChunk is process-local data copied into the trace metadata region.
type LocalChunk struct {
	Data []byte
}

// LocalChunkList is the payload of a local trace.
type LocalChunkList []LocalChunk

// TotalSize returns the number of payload bytes in l.
func (l LocalChunkList) TotalSize() int {
	n := 0
	for _, c := range l {
		n += len(c.Data)
	}
	return n
}

// TraceDoneCallback is invoked once a shared-memory job no longer references
// caller memory.
type TraceDoneCallback func(ContextID)
