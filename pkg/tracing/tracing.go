// Package tracing is the public entry point of the trace client library.
//
// Open builds the production stack: a gRPC communicator to the trace daemon,
// POSIX shared-memory regions and the in-process job pipeline. Only one
// Library may be open in a process at a time.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/tracelib/internal/config"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/daemon"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/job"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/logging"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/runtime"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/shm"
)

// ErrAlreadyOpen is returned by Open while another Library is open.
var ErrAlreadyOpen = errors.New("tracing: library already open")

var opened atomic.Bool

// Re-exported identifiers so callers need only this package.
type (
	BindingType       = types.BindingType
	ClientID          = types.ClientID
	ShmObjectHandle   = types.ShmObjectHandle
	ContextID         = types.ContextID
	ShmChunk          = types.ShmChunk
	ShmChunkList      = types.ShmChunkList
	LocalChunk        = types.LocalChunk
	LocalChunkList    = types.LocalChunkList
	MetaInfo          = types.MetaInfo
	AraComMetaInfo    = types.AraComMetaInfo
	TraceDoneCallback = types.TraceDoneCallback
	State             = runtime.LibraryState
)

const (
	BindingLoLa           = types.BindingLoLa
	BindingVector         = types.BindingVector
	BindingVectorZeroCopy = types.BindingVectorZeroCopy
)

const (
	NotInitialized     = runtime.NotInitialized
	DaemonInitialized  = runtime.DaemonInitialized
	Initialized        = runtime.Initialized
	DaemonDisconnected = runtime.DaemonDisconnected
	GenericError       = runtime.GenericError
)

// Library is an open trace client runtime.
type Library struct {
	rt      *runtime.Runtime
	logger  *logging.Logger
	ownLog  bool
	metrics *monitoring.Metrics

	closeOnce sync.Once
	closeErr  error
}

// Open validates cfg, builds the runtime and starts connecting to the
// daemon in the background. A nil cfg is loaded from the environment.
func Open(cfg *config.Config, opts ...Option) (*Library, error) {
	if !opened.CompareAndSwap(false, true) {
		return nil, ErrAlreadyOpen
	}
	lib, err := open(cfg, opts...)
	if err != nil {
		opened.Store(false)
		return nil, err
	}
	return lib, nil
}

func open(cfg *config.Config, opts ...Option) (*Library, error) {
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	lib := &Library{}
	if o.logger != nil {
		lib.logger = logging.Wrap(o.logger)
	} else {
		lc := logging.DefaultConfig()
		if cfg.Logging.Development {
			lc = logging.DevelopmentConfig()
		}
		lc.Level = cfg.Logging.Level
		logger, err := logging.New(lc)
		if err != nil {
			return nil, fmt.Errorf("tracing: create logger: %w", err)
		}
		lib.logger = logger
		lib.ownLog = true
	}
	lib.metrics = monitoring.NewMetrics(o.registerer, cfg.Metrics.Namespace)

	rid := id.NewRuntimeID()
	comm := daemon.NewGRPC(daemon.Options{
		Address:     cfg.Daemon.Address,
		CallTimeout: cfg.Daemon.CallTimeout,
		Keepalive:   cfg.Daemon.Keepalive,
		RuntimeID:   rid,
		DialOptions: o.dialOptions,
	}, lib.logger.Component(logging.Daemon), lib.metrics)

	var pipeline *job.Pipeline
	pipeline = job.NewPipeline(job.PipelineConfig{
		RingCapacity: cfg.Limits.RingCapacity,
		MaxCallbacks: cfg.Limits.MaxClients,
	}, lib.logger.Component(logging.Job),
		job.WithSink(comm),
		job.WithReleaseHook(func(_ *job.Job, cleaned bool) {
			lib.metrics.RecordJob(cleaned)
			lib.metrics.RingBacklog.Set(float64(pipeline.Ring().Len()))
		}))

	validator := shm.NewValidator(o.shmDir)
	rt, err := runtime.New(cfg, runtime.Dependencies{
		Communicator: comm,
		Validator:    validator,
		Regions:      shm.NewFactory(o.shmDir, validator, lib.logger.Component(logging.Runtime)),
		Jobs:         pipeline,
		ID:           rid,
	}, lib.logger, lib.metrics)
	if err != nil {
		_ = comm.Close()
		lib.metrics.Unregister()
		lib.syncLogger()
		return nil, err
	}
	lib.rt = rt
	return lib, nil
}

// ID returns the runtime instance id.
func (l *Library) ID() id.RuntimeID {
	return l.rt.ID()
}

// State returns the current library state.
func (l *Library) State() State {
	return l.rt.State()
}

// Logger returns the library's logger.
func (l *Library) Logger() *zap.Logger {
	return l.logger.Logger
}

// RegisterClient registers a trace client; see runtime.Runtime.RegisterClient.
func (l *Library) RegisterClient(ctx context.Context, binding BindingType, appID string) (ClientID, error) {
	return l.rt.RegisterClient(ctx, binding, appID)
}

// RegisterShmObject registers the shared-memory object behind fd.
func (l *Library) RegisterShmObject(ctx context.Context, client ClientID, fd int) (ShmObjectHandle, error) {
	return l.rt.RegisterShmObject(ctx, client, fd)
}

// RegisterShmObjectPath registers the shared-memory object at path.
func (l *Library) RegisterShmObjectPath(ctx context.Context, client ClientID, path string) (ShmObjectHandle, error) {
	return l.rt.RegisterShmObjectPath(ctx, client, path)
}

// UnregisterShmObject releases handle.
func (l *Library) UnregisterShmObject(ctx context.Context, client ClientID, handle ShmObjectHandle) error {
	return l.rt.UnregisterShmObject(ctx, client, handle)
}

// RegisterTraceDoneCallback sets the completion callback of client.
func (l *Library) RegisterTraceDoneCallback(client ClientID, callback TraceDoneCallback) error {
	return l.rt.RegisterTraceDoneCallback(client, callback)
}

// Trace queues a trace of caller-owned shared memory. The memory must stay
// untouched until the client's callback reports contextID.
func (l *Library) Trace(client ClientID, meta MetaInfo, chunks ShmChunkList, contextID ContextID) error {
	return l.rt.TraceShared(client, meta, chunks, contextID)
}

// TraceLocal queues a trace of chunks, which are copied before returning.
func (l *Library) TraceLocal(client ClientID, meta MetaInfo, chunks LocalChunkList) error {
	return l.rt.TraceLocal(client, meta, chunks)
}

// Close shuts the library down and unregisters its metrics. Another Library
// may be opened afterwards, with the same registerer.
func (l *Library) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.rt.Close()
		l.metrics.Unregister()
		l.syncLogger()
		opened.Store(false)
	})
	return l.closeErr
}

func (l *Library) syncLogger() {
	if l.ownLog {
		_ = l.logger.Sync()
	}
}
