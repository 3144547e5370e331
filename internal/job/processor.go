package job

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/tracelib/internal/errcode"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/logging"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/shared/types"
)

// Deallocator frees the resources of a released job.
type Deallocator func(job *Job) error

// ReleaseHook observes every released job. cleaned is true for jobs dropped
// without delivery.
type ReleaseHook func(job *Job, cleaned bool)

type callbackSlot struct {
	client   types.ClientID
	callback types.TraceDoneCallback
}

// Processor completes the jobs queued in a Ring.
type Processor struct {
	ring    *Ring
	clients ClientResolver
	sink    Sink
	hook    ReleaseHook
	logger  *zap.Logger

	deallocMu sync.RWMutex
	dealloc   Deallocator

	cbMu      sync.RWMutex
	callbacks []callbackSlot
	maxSlots  int
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithSink delivers each job to s before it is released.
func WithSink(s Sink) ProcessorOption {
	return func(p *Processor) { p.sink = s }
}

// WithReleaseHook observes released jobs.
func WithReleaseHook(h ReleaseHook) ProcessorOption {
	return func(p *Processor) { p.hook = h }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = logging.OrNop(l) }
}

// NewProcessor creates a processor holding at most maxCallbacks callbacks.
func NewProcessor(ring *Ring, clients ClientResolver, maxCallbacks int, opts ...ProcessorOption) *Processor {
	p := &Processor{
		ring:     ring,
		clients:  clients,
		maxSlots: maxCallbacks,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetDeallocator installs the function releasing job resources.
func (p *Processor) SetDeallocator(fn Deallocator) {
	p.deallocMu.Lock()
	p.dealloc = fn
	p.deallocMu.Unlock()
}

func (p *Processor) deallocator() Deallocator {
	p.deallocMu.RLock()
	defer p.deallocMu.RUnlock()
	return p.dealloc
}

// SaveCallback registers the trace done callback of a local client.
func (p *Processor) SaveCallback(client types.ClientID, callback types.TraceDoneCallback) error {
	if callback == nil {
		return errcode.InvalidArgument
	}

	p.cbMu.Lock()
	defer p.cbMu.Unlock()

	for _, s := range p.callbacks {
		if s.client == client {
			return errcode.CallbackAlreadyRegistered
		}
	}
	if len(p.callbacks) >= p.maxSlots {
		return errcode.NoFreeSlotToSaveCallback
	}
	p.callbacks = append(p.callbacks, callbackSlot{client: client, callback: callback})
	return nil
}

func (p *Processor) callbackFor(local types.ClientID) types.TraceDoneCallback {
	p.cbMu.RLock()
	defer p.cbMu.RUnlock()
	for _, s := range p.callbacks {
		if s.client == local {
			return s.callback
		}
	}
	return nil
}

// ProcessPendingJobs delivers and releases queued jobs in order. A delivery
// failure leaves the job queued for the next call, unless it wraps
// ErrRejected: a rejected job is released as cleaned. A deallocation failure
// is returned as FailedToProcessJobs.
func (p *Processor) ProcessPendingJobs(ctx context.Context) error {
	dealloc := p.deallocator()
	if dealloc == nil {
		return errcode.NoDeallocatorRegistered
	}

	for ctx.Err() == nil {
		job, consumed, ok := p.ring.Front()
		if !ok {
			return nil
		}

		rejected := false
		if !consumed {
			if p.sink != nil {
				if err := p.sink.Deliver(ctx, &job); err != nil {
					if !errors.Is(err, ErrRejected) {
						p.logger.Debug("trace job delivery deferred",
							zap.Stringer("client", job.ClientID),
							zap.Stringer("type", job.Type),
							zap.Error(err))
						return nil
					}
					p.logger.Warn("trace job rejected by daemon",
						zap.Stringer("client", job.ClientID),
						zap.Stringer("type", job.Type),
						zap.Uint32("context_id", uint32(job.ContextID)),
						zap.Error(err))
					rejected = true
				}
			}
			p.ring.MarkConsumed()
		}

		if err := p.release(&job, dealloc, rejected); err != nil {
			return fmt.Errorf("%w: %w", errcode.FailedToProcessJobs, err)
		}
	}
	return nil
}

// CleanPendingJobs releases every queued job without delivering it, still
// invoking the callbacks of shared-memory jobs.
func (p *Processor) CleanPendingJobs() error {
	dealloc := p.deallocator()
	if dealloc == nil {
		return errcode.NoDeallocatorRegistered
	}

	cleaned := 0
	for {
		job, consumed, ok := p.ring.Front()
		if !ok {
			break
		}
		if !consumed {
			p.ring.MarkConsumed()
		}
		if err := p.release(&job, dealloc, true); err != nil {
			p.logger.Warn("failed to deallocate cleaned trace job", zap.Error(err))
		}
		cleaned++
	}

	if cleaned > 0 {
		p.logger.Info("cleaned pending trace jobs", zap.Int("jobs", cleaned))
	}
	return nil
}

// ReleaseDropped reports jobs already removed from the ring, whose records
// were reset rather than deallocated, as cleaned.
func (p *Processor) ReleaseDropped(jobs []Job) {
	for i := range jobs {
		job := &jobs[i]
		if job.Type == ShmJob {
			p.notify(job)
		}
		if p.hook != nil {
			p.hook(job, true)
		}
	}
	if len(jobs) > 0 {
		p.logger.Info("released dropped trace jobs", zap.Int("jobs", len(jobs)))
	}
}

// release deallocates job, notifies its client and frees the ring slot. The
// slot is freed even when deallocation fails so the queue keeps moving.
func (p *Processor) release(job *Job, dealloc Deallocator, cleaned bool) error {
	err := dealloc(job)

	if job.Type == ShmJob {
		p.notify(job)
	}
	p.ring.PopFront()

	if p.hook != nil {
		p.hook(job, cleaned)
	}
	return err
}

func (p *Processor) notify(job *Job) {
	if p.clients == nil {
		return
	}
	local, ok := p.clients.LocalOf(job.ClientID)
	if !ok {
		p.logger.Debug("no local client for completed job", zap.Stringer("remote_client", job.ClientID))
		return
	}
	if cb := p.callbackFor(local); cb != nil {
		cb(job.ContextID)
	}
}
