package job

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/tracelib/internal/logging"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/shm"
)

// ErrNoProcessor is returned by NewAllocator before NewProcessor.
var ErrNoProcessor = errors.New("job pipeline: processor not created")

// PipelineConfig sizes a Pipeline.
type PipelineConfig struct {
	RingCapacity int
	MaxCallbacks int
}

// Pipeline builds an Allocator and Processor sharing one Ring.
type Pipeline struct {
	cfg    PipelineConfig
	ring   *Ring
	opts   []ProcessorOption
	logger *zap.Logger

	mu        sync.Mutex
	processor *Processor
	allocator *Allocator
}

// NewPipeline creates a pipeline. opts apply to the processor.
func NewPipeline(cfg PipelineConfig, logger *zap.Logger, opts ...ProcessorOption) *Pipeline {
	logger = logging.OrNop(logger)
	return &Pipeline{
		cfg:    cfg,
		ring:   NewRing(cfg.RingCapacity),
		opts:   append([]ProcessorOption{WithLogger(logger)}, opts...),
		logger: logger,
	}
}

// Ring returns the shared ring.
func (p *Pipeline) Ring() *Ring {
	return p.ring
}

// NewProcessor creates the processor resolving callbacks through clients.
func (p *Pipeline) NewProcessor(clients ClientResolver) TraceJobProcessor {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processor = NewProcessor(p.ring, clients, p.cfg.MaxCallbacks, p.opts...)
	return p.processor
}

// NewAllocator creates the allocator over region and installs its
// deallocator in the processor.
func (p *Pipeline) NewAllocator(region shm.Region) (TraceJobAllocator, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.processor == nil {
		return nil, ErrNoProcessor
	}
	p.allocator = NewAllocator(p.ring, NewArena(region.Bytes()), p.logger)
	p.processor.SetDeallocator(p.allocator.DeallocateJob)
	return p.allocator, nil
}
