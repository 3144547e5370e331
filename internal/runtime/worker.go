package runtime

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/AgentOS/tracelib/internal/errcode"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/registry"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/shm"
)

// run is the worker. It returns when ctx is cancelled or a fatal error was
// stored.
func (r *Runtime) run(ctx context.Context) {
	defer close(r.done)
	r.worker.Debug("worker started")

	for ctx.Err() == nil {
		if !r.connect(ctx) {
			return
		}
		if !r.replay(ctx) {
			return
		}
		if !r.initMetaData(ctx) {
			return
		}

		r.fatal.clear()
		r.setState(Initialized)
		r.worker.Info("tracing library initialized")

		if !r.drain(ctx) {
			return
		}
	}
}

// connect retries the daemon at the configured interval until it answers.
// The connect budget, if any, bounds only the first connection.
func (r *Runtime) connect(ctx context.Context) bool {
	if !r.connectedOnce && r.cfg.Worker.ConnectBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Worker.ConnectBudget)
		defer cancel()
	}

	limiter := rate.NewLimiter(rate.Every(r.cfg.Worker.ConnectRetry), 1)
	start := time.Now()
	attempts := 0
	for limiter.Wait(ctx) == nil {
		attempts++
		r.metrics.ConnectAttempts.Inc()

		err := r.deps.Communicator.Connect(ctx)
		if err == nil {
			r.connectedOnce = true
			r.setState(DaemonInitialized)
			r.worker.Info("connected to trace daemon",
				zap.Int("attempts", attempts),
				zap.Duration("elapsed", time.Since(start)))
			return true
		}
		if attempts == 1 {
			r.worker.Info("trace daemon not reachable, retrying",
				zap.Duration("interval", r.cfg.Worker.ConnectRetry),
				zap.Error(err))
		}
	}

	r.fatal.set(errcode.DaemonNotAvailable)
	r.worker.Error("trace daemon never became available",
		zap.Int("attempts", attempts),
		zap.Duration("elapsed", time.Since(start)))
	return false
}

// replay registers with the daemon every client and shared-memory object
// that has no daemon id yet. A client failure becomes that client's pending
// error; a shared-memory failure aborts the batch.
func (r *Runtime) replay(ctx context.Context) bool {
	r.clients.Range(func(e *registry.ClientEntry) bool {
		if ctx.Err() != nil {
			return false
		}
		if _, ok := e.Remote(); ok {
			return true
		}
		if err := r.registerClientRemote(ctx, e); err != nil {
			r.metrics.RecordReplayFailure("client")
		}
		return true
	})
	if ctx.Err() != nil {
		r.fatal.set(errcode.FailedRegisterCachedClients)
		r.worker.Error("stopped before cached clients were registered")
		return false
	}

	var failed error
	r.shmObjs.Range(func(e *registry.ShmEntry) bool {
		if ctx.Err() != nil {
			return false
		}
		if _, ok := e.Remote(); ok {
			return true
		}
		_, err := e.Bind(func() (types.ShmObjectHandle, error) {
			return r.deps.Communicator.RegisterShmObject(ctx, e.Key())
		})
		if err != nil {
			failed = err
			r.worker.Error("failed to register cached shared-memory object",
				zap.Stringer("handle", e.Local()),
				zap.Int("fd", e.Key()),
				zap.Error(err))
			return false
		}
		return true
	})
	if failed != nil || ctx.Err() != nil {
		r.metrics.RecordReplayFailure("shm")
		r.fatal.set(errcode.FailedRegisterCachedShmObjects)
		return false
	}
	return true
}

// initMetaData creates the trace metadata region on first use, registers it
// with the daemon and binds its handle into the allocator, which is created
// once.
func (r *Runtime) initMetaData(ctx context.Context) bool {
	if r.tmd == nil {
		name := r.cfg.TMDPath(shm.Pid())
		region, err := r.deps.Regions.Create(name, r.cfg.Memory.Size)
		if err != nil {
			r.fail(errcode.From(err, errcode.SharedMemoryObjectRegistrationFailed),
				"failed to create trace metadata region", zap.String("name", name), zap.Error(err))
			return false
		}
		r.tmd = region
	}

	handle, err := r.deps.Communicator.RegisterShmObjectPath(ctx, r.tmd.Name())
	if err != nil {
		r.fail(errcode.From(err, errcode.SharedMemoryObjectRegistrationFailed),
			"failed to register trace metadata region", zap.String("name", r.tmd.Name()), zap.Error(err))
		return false
	}
	r.tmdHandle = handle

	alloc := r.currentAllocator()
	if alloc == nil {
		alloc, err = r.deps.Jobs.NewAllocator(r.tmd)
		if err != nil {
			r.fatal.set(errcode.TraceJobAllocatorInitializationFailed)
			r.worker.Error("trace job allocator initialization failed", zap.Error(err))
			return false
		}
		r.allocator.Store(allocatorRef{alloc})
	}
	alloc.SetTraceMetaDataHandle(handle)

	r.worker.Debug("trace metadata region ready",
		zap.String("name", r.tmd.Name()),
		zap.Stringer("handle", handle),
		zap.Int("size", r.tmd.Size()))
	return true
}

func (r *Runtime) fail(code errcode.Code, msg string, fields ...zap.Field) {
	r.setState(GenericError)
	r.fatal.set(code)
	r.worker.Error(msg, fields...)
}

// drain processes pending jobs every drain interval. It returns true after
// handling a daemon termination and false on cancellation or a processor
// failure.
func (r *Runtime) drain(ctx context.Context) bool {
	ticker := time.NewTicker(r.cfg.Worker.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-r.terminated:
			r.handleTermination()
			return true
		default:
		}

		if err := r.processor.ProcessPendingJobs(ctx); err != nil {
			r.fatal.set(errcode.FailedToProcessJobs)
			r.worker.Error("failed to process trace jobs", zap.Error(err))
			return false
		}

		select {
		case <-ctx.Done():
			return false
		case <-r.terminated:
			r.handleTermination()
			return true
		case <-ticker.C:
		}
	}
}

// onTermination runs on the communicator's goroutine.
func (r *Runtime) onTermination() {
	r.setState(DaemonDisconnected)
	select {
	case r.terminated <- struct{}{}:
	default:
	}
}

func (r *Runtime) handleTermination() {
	r.metrics.Disconnects.Inc()
	r.fatal.set(errcode.DaemonIsDisconnected)
	r.setState(DaemonDisconnected)

	if err := r.processor.CleanPendingJobs(); err != nil {
		r.worker.Warn("failed to clean pending trace jobs", zap.Error(err))
	}
	// A trace admitted before the state change may land after the clean.
	if alloc := r.currentAllocator(); alloc != nil {
		r.processor.ReleaseDropped(alloc.ResetRingBuffer())
	}
	r.clients.InvalidateAllRemote()
	r.shmObjs.InvalidateAllRemote()
	r.tmdHandle = types.InvalidShmObjectHandle

	r.worker.Warn("trace daemon disconnected, waiting for it to return")
}
