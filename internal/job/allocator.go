package job

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/tracelib/internal/errcode"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/logging"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/shared/types"
)

// Allocator writes jobs into a Ring, keeping their records in an Arena over
// the trace metadata region.
type Allocator struct {
	// mu serializes producers so a free ring slot checked before the arena
	// allocation is still free at Push.
	mu     sync.Mutex
	ring   *Ring
	arena  *Arena
	handle atomic.Int64
	now    func() time.Time
	logger *zap.Logger
}

// NewAllocator creates an allocator. The metadata handle is unset until
// SetTraceMetaDataHandle is called.
func NewAllocator(ring *Ring, arena *Arena, logger *zap.Logger) *Allocator {
	a := &Allocator{
		ring:   ring,
		arena:  arena,
		now:    time.Now,
		logger: logging.OrNop(logger),
	}
	a.handle.Store(int64(types.InvalidShmObjectHandle))
	return a
}

// SetTraceMetaDataHandle sets the daemon handle of the metadata region.
func (a *Allocator) SetTraceMetaDataHandle(handle types.ShmObjectHandle) {
	a.handle.Store(int64(handle))
}

func (a *Allocator) metaDataHandle() (types.ShmObjectHandle, bool) {
	h := types.ShmObjectHandle(a.handle.Load())
	return h, h.Valid()
}

// AllocateShmJob queues a job referencing caller shared memory. chunks must
// already carry daemon handles.
func (a *Allocator) AllocateShmJob(client types.ClientID, meta types.MetaInfo, binding types.BindingType,
	app types.AppID, chunks types.ShmChunkList, contextID types.ContextID) error {
	info, ok := araComInfo(meta)
	if !ok {
		return errcode.NoMetaInfoProvided
	}
	return a.allocate(Job{
		Type:      ShmJob,
		ClientID:  client,
		ContextID: contextID,
		Binding:   binding,
		AppID:     app,
	}, info, nil, chunks)
}

// AllocateLocalJob copies chunks into the metadata region and queues a job.
func (a *Allocator) AllocateLocalJob(client types.ClientID, meta types.MetaInfo, binding types.BindingType,
	app types.AppID, chunks types.LocalChunkList) error {
	info, ok := araComInfo(meta)
	if !ok {
		return errcode.NoMetaInfoProvided
	}
	return a.allocate(Job{
		Type:     LocalJob,
		ClientID: client,
		Binding:  binding,
		AppID:    app,
	}, info, chunks, nil)
}

func (a *Allocator) allocate(job Job, info types.AraComMetaInfo, local types.LocalChunkList, shared types.ShmChunkList) error {
	handle, ok := a.metaDataHandle()
	if !ok {
		return errcode.RingBufferNotInitialized
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ring.Closed() {
		return errcode.RingBufferNotInitialized
	}
	if a.ring.Free() == 0 {
		return errcode.RingBufferFull
	}

	size := headerSize + local.TotalSize()
	off, err := a.arena.Alloc(size)
	if err != nil {
		return err
	}
	mem := a.arena.Bytes(off, size)

	job.Timestamp = a.now()
	putTimestamp(mem, job.Timestamp)
	putMeta(mem[TimestampSize:headerSize], Meta{
		Info:      info,
		Binding:   job.Binding,
		ClientID:  job.ClientID,
		ContextID: job.ContextID,
		AppID:     job.AppID,
	})

	chunks := make(types.ShmChunkList, 0, 2+len(local)+len(shared))
	chunks = append(chunks,
		types.ShmChunk{Handle: handle, Offset: off, Size: TimestampSize},
		types.ShmChunk{Handle: handle, Offset: off + TimestampSize, Size: MetaSize},
	)
	pos := uint64(headerSize)
	for _, c := range local {
		if len(c.Data) == 0 {
			continue
		}
		copy(mem[pos:], c.Data)
		chunks = append(chunks, types.ShmChunk{Handle: handle, Offset: off + pos, Size: uint64(len(c.Data))})
		pos += uint64(len(c.Data))
	}
	chunks = append(chunks, shared...)

	job.Chunks = chunks
	job.block = block{off: off, size: uint64(size)}

	if err := a.ring.Push(job); err != nil {
		a.arena.Rollback(off)
		return err
	}
	return nil
}

// DeallocateJob frees the metadata record of a released job.
func (a *Allocator) DeallocateJob(job *Job) error {
	if job == nil {
		return errcode.InvalidArgument
	}
	if job.block.size == 0 {
		return nil
	}
	if err := a.arena.Free(job.block.off); err != nil {
		return fmt.Errorf("deallocate %s job: %w", job.Type, err)
	}
	return nil
}

// CloseRingBuffer rejects further allocations.
func (a *Allocator) CloseRingBuffer() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ring.Close()
	a.arena.Reset()
}

// ResetRingBuffer drops queued jobs and their records. The dropped jobs are
// returned so their clients can still be notified.
func (a *Allocator) ResetRingBuffer() []Job {
	a.mu.Lock()
	defer a.mu.Unlock()
	dropped := a.ring.Drain()
	if len(dropped) > 0 {
		a.logger.Warn("dropping queued trace jobs", zap.Int("jobs", len(dropped)))
	}
	a.arena.Reset()
	return dropped
}
