package job

import (
	"context"
	"errors"
	"time"

	"github.com/GriffinCanCode/AgentOS/tracelib/internal/shared/types"
)

// Type distinguishes jobs referencing caller memory from jobs whose payload
// was copied.
type Type uint8

const (
	ShmJob Type = iota
	LocalJob
)

func (t Type) String() string {
	if t == ShmJob {
		return "shm"
	}
	return "local"
}

// Job is one queued trace.
type Job struct {
	Type      Type
	ClientID  types.ClientID // daemon issued
	ContextID types.ContextID
	Binding   types.BindingType
	AppID     types.AppID
	Timestamp time.Time
	// Chunks holds the timestamp chunk, the meta info chunk and the payload.
	Chunks types.ShmChunkList

	block block
}

// TraceJobAllocator turns trace calls into jobs.
type TraceJobAllocator interface {
	AllocateShmJob(client types.ClientID, meta types.MetaInfo, binding types.BindingType,
		app types.AppID, chunks types.ShmChunkList, contextID types.ContextID) error
	AllocateLocalJob(client types.ClientID, meta types.MetaInfo, binding types.BindingType,
		app types.AppID, chunks types.LocalChunkList) error
	DeallocateJob(job *Job) error
	SetTraceMetaDataHandle(handle types.ShmObjectHandle)
	CloseRingBuffer()
	ResetRingBuffer() []Job
}

// TraceJobProcessor completes queued jobs.
type TraceJobProcessor interface {
	SaveCallback(client types.ClientID, callback types.TraceDoneCallback) error
	ProcessPendingJobs(ctx context.Context) error
	CleanPendingJobs() error
	ReleaseDropped(jobs []Job)
}

// ClientResolver maps daemon issued client ids to local ids.
type ClientResolver interface {
	LocalOf(remote types.ClientID) (types.ClientID, bool)
}

// ErrRejected marks a delivery the daemon refused. Sinks wrap it so the
// processor releases the job instead of retrying it.
var ErrRejected = errors.New("trace job rejected")

// Sink receives each job once before it is released.
type Sink interface {
	Deliver(ctx context.Context, job *Job) error
}
