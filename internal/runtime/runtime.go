package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/tracelib/internal/config"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/daemon"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/errcode"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/job"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/logging"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/registry"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/shm"
)

// JobFactory builds the job processor and, once the trace metadata region
// exists, the allocator writing into it.
type JobFactory interface {
	NewProcessor(clients job.ClientResolver) job.TraceJobProcessor
	NewAllocator(region shm.Region) (job.TraceJobAllocator, error)
}

// Dependencies are the collaborators a Runtime drives.
type Dependencies struct {
	Communicator daemon.Communicator
	Validator    shm.MemoryValidator
	Regions      shm.RegionFactory
	Jobs         JobFactory

	// ID names the runtime in logs; zero generates one.
	ID id.RuntimeID
}

func (d Dependencies) check() error {
	switch {
	case d.Communicator == nil:
		return fmt.Errorf("runtime: missing communicator: %w", errcode.InvalidArgument)
	case d.Validator == nil:
		return fmt.Errorf("runtime: missing memory validator: %w", errcode.InvalidArgument)
	case d.Regions == nil:
		return fmt.Errorf("runtime: missing region factory: %w", errcode.InvalidArgument)
	case d.Jobs == nil:
		return fmt.Errorf("runtime: missing job factory: %w", errcode.InvalidArgument)
	}
	return nil
}

type allocatorRef struct {
	job.TraceJobAllocator
}

// Runtime is the client runtime of the tracing library.
type Runtime struct {
	cfg     *config.Config
	deps    Dependencies
	id      id.RuntimeID
	logger  *zap.Logger
	worker  *zap.Logger
	metrics *monitoring.Metrics

	clients   *registry.Clients
	shmObjs   *registry.ShmObjects
	processor job.TraceJobProcessor
	allocator atomic.Value // allocatorRef

	state atomic.Int32
	fatal fatalSlot

	// terminated carries one pending termination notice to the worker.
	terminated chan struct{}

	// Owned by the worker until done is closed, then by Close.
	tmd           shm.Region
	tmdHandle     types.ShmObjectHandle
	connectedOnce bool

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// New creates a runtime and starts its worker. Close must be called to stop
// the worker and release the trace metadata region.
func New(cfg *config.Config, deps Dependencies, logger *logging.Logger, metrics *monitoring.Metrics) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := deps.check(); err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = monitoring.NewNopMetrics()
	}

	rid := deps.ID
	if rid == "" {
		rid = id.NewRuntimeID()
	}
	r := &Runtime{
		cfg:        cfg,
		deps:       deps,
		id:         rid,
		logger:     logger.Component(logging.Runtime).With(zap.String("runtime_id", string(rid))),
		worker:     logger.Component(logging.Worker).With(zap.String("runtime_id", string(rid))),
		metrics:    metrics,
		clients:    registry.NewClients(cfg.Limits.MaxClients),
		shmObjs:    registry.NewShmObjects(cfg.Limits.MaxShmObjects),
		terminated: make(chan struct{}, 1),
		tmdHandle:  types.InvalidShmObjectHandle,
		done:       make(chan struct{}),
	}
	r.processor = deps.Jobs.NewProcessor(r.clients)
	r.setState(NotInitialized)

	deps.Communicator.SubscribeToTermination(r.onTermination)

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.run(ctx)

	r.logger.Info("tracing runtime started",
		zap.Int("max_clients", cfg.Limits.MaxClients),
		zap.Int("max_shm_objects", cfg.Limits.MaxShmObjects))
	return r, nil
}

// ID returns the runtime instance id.
func (r *Runtime) ID() id.RuntimeID {
	return r.id
}

// State returns the current library state.
func (r *Runtime) State() LibraryState {
	return LibraryState(r.state.Load())
}

func (r *Runtime) setState(s LibraryState) {
	r.state.Store(int32(s))
	r.metrics.SetState(int32(s))
}

func (r *Runtime) currentAllocator() job.TraceJobAllocator {
	ref, _ := r.allocator.Load().(allocatorRef)
	return ref.TraceJobAllocator
}

func (r *Runtime) publishRegistered() {
	r.metrics.SetRegistered(r.clients.Len(), r.shmObjs.Len())
}

// RegisterClient registers a trace client and returns its local id. appID
// is truncated to types.AppIDLength bytes. Registering the same binding and
// truncated id again returns the same local id. When the daemon is reachable
// the client is also registered remotely, and a failure there is returned
// and kept as the client's pending error.
func (r *Runtime) RegisterClient(ctx context.Context, binding types.BindingType, appID string) (types.ClientID, error) {
	if err := r.fatal.err(); err != nil {
		return types.InvalidClientID, err
	}
	if appID == "" || !binding.Valid() {
		r.logger.Debug("rejected client registration",
			zap.Stringer("binding", binding),
			zap.String("app_id", appID))
		return types.InvalidClientID, errcode.InvalidArgument
	}

	entry, existed, err := r.clients.Register(registry.ClientKey{Binding: binding, AppID: types.NewAppID(appID)})
	if err != nil {
		return types.InvalidClientID, err
	}
	if existed {
		return entry.Local(), nil
	}
	r.publishRegistered()
	r.logger.Debug("registered trace client",
		zap.Stringer("client", entry.Local()),
		zap.Stringer("binding", binding),
		zap.String("app_id", entry.Key().AppID.String()))

	if r.State().DaemonReady() {
		if err := r.registerClientRemote(ctx, entry); err != nil {
			return types.InvalidClientID, err
		}
	}
	return entry.Local(), nil
}

func (r *Runtime) registerClientRemote(ctx context.Context, entry *registry.ClientEntry) error {
	key := entry.Key()
	_, err := entry.Bind(func() (types.ClientID, error) {
		return r.deps.Communicator.RegisterClient(ctx, key.Binding, key.AppID)
	})
	if err != nil {
		entry.SetError(errcode.From(err, errcode.MessageSendFailed))
		r.logger.Warn("failed to register client with daemon",
			zap.Stringer("client", entry.Local()),
			zap.String("app_id", key.AppID.String()),
			zap.Stringer("binding", key.Binding),
			zap.Error(err))
		return err
	}
	return nil
}

// RegisterShmObjectPath registers the shared-memory object at path for
// client and returns its local handle.
func (r *Runtime) RegisterShmObjectPath(ctx context.Context, client types.ClientID, path string) (types.ShmObjectHandle, error) {
	if err := r.fatal.err(); err != nil {
		return types.InvalidShmObjectHandle, err
	}
	if path == "" {
		return types.InvalidShmObjectHandle, errcode.InvalidArgument
	}

	fd, err := r.deps.Validator.FileDescriptorFromPath(path)
	if err != nil {
		r.logger.Debug("cannot open shared-memory object", zap.String("path", path), zap.Error(err))
		return types.InvalidShmObjectHandle, err
	}
	return r.registerShm(ctx, client, fd)
}

// RegisterShmObject registers the shared-memory object behind fd for client
// and returns its local handle.
func (r *Runtime) RegisterShmObject(ctx context.Context, client types.ClientID, fd int) (types.ShmObjectHandle, error) {
	if err := r.fatal.err(); err != nil {
		return types.InvalidShmObjectHandle, err
	}
	if fd < 0 {
		return types.InvalidShmObjectHandle, errcode.InvalidArgument
	}
	return r.registerShm(ctx, client, fd)
}

func (r *Runtime) registerShm(ctx context.Context, client types.ClientID, fd int) (types.ShmObjectHandle, error) {
	if _, ok := r.clients.Find(client); !ok {
		return types.InvalidShmObjectHandle, errcode.ClientNotFound
	}
	if _, ok := r.shmObjs.FindByKey(fd); ok {
		return types.InvalidShmObjectHandle, errcode.SharedMemoryObjectAlreadyRegistered
	}

	typed, err := r.deps.Validator.IsSharedMemoryTyped(fd)
	if err != nil {
		return types.InvalidShmObjectHandle, err
	}
	if !typed {
		return types.InvalidShmObjectHandle, errcode.NotTypedMemory
	}

	entry, existed, err := r.shmObjs.Register(fd)
	if err != nil {
		return types.InvalidShmObjectHandle, err
	}
	if existed {
		return types.InvalidShmObjectHandle, errcode.SharedMemoryObjectAlreadyRegistered
	}
	r.publishRegistered()

	if r.State().DaemonReady() {
		_, err := entry.Bind(func() (types.ShmObjectHandle, error) {
			return r.deps.Communicator.RegisterShmObject(ctx, fd)
		})
		if err != nil {
			r.logger.Warn("failed to register shared-memory object with daemon",
				zap.Stringer("handle", entry.Local()),
				zap.Int("fd", fd),
				zap.Error(err))
			return types.InvalidShmObjectHandle, err
		}
	}
	return entry.Local(), nil
}

// UnregisterShmObject releases handle. While the daemon is reachable the
// daemon registration is released first and a failure there keeps the
// handle registered.
func (r *Runtime) UnregisterShmObject(ctx context.Context, client types.ClientID, handle types.ShmObjectHandle) error {
	if err := r.fatal.err(); err != nil {
		r.releaseShm(handle)
		return err
	}
	if _, ok := r.clients.Find(client); !ok {
		return errcode.ClientNotFound
	}

	if r.State().DaemonReady() {
		entry, ok := r.shmObjs.Find(handle)
		if !ok {
			return nil
		}
		if remote, ok := entry.Remote(); ok {
			if err := r.deps.Communicator.UnregisterShmObject(ctx, remote); err != nil {
				return err
			}
		}
	}
	r.releaseShm(handle)
	return nil
}

func (r *Runtime) releaseShm(handle types.ShmObjectHandle) {
	if r.shmObjs.Release(handle) {
		r.publishRegistered()
	}
}

// RegisterTraceDoneCallback sets the callback invoked with the context id of
// each completed shared-memory trace of client.
func (r *Runtime) RegisterTraceDoneCallback(client types.ClientID, callback types.TraceDoneCallback) error {
	if err := r.fatal.err(); err != nil {
		return err
	}
	if callback == nil {
		return errcode.InvalidArgument
	}
	if _, ok := r.clients.Find(client); !ok {
		return errcode.ClientNotFound
	}
	return r.processor.SaveCallback(client, callback)
}

// traceTarget returns the client view a trace call is issued for.
func (r *Runtime) traceTarget(client types.ClientID) (registry.ClientView, error) {
	if err := r.fatal.err(); err != nil {
		return registry.ClientView{}, err
	}
	entry, ok := r.clients.Find(client)
	if !ok {
		return registry.ClientView{}, errcode.ClientNotFound
	}
	v := entry.View()
	if v.Pending != errcode.None {
		return v, v.Pending
	}
	if !v.HasRemote {
		return v, errcode.DaemonNotConnected
	}
	if r.State() != Initialized {
		return v, errcode.DaemonNotConnected
	}
	return v, nil
}

// TraceShared queues a trace of caller-owned shared memory. Chunk handles
// are local handles; the caller's list is not modified.
func (r *Runtime) TraceShared(client types.ClientID, meta types.MetaInfo, chunks types.ShmChunkList, contextID types.ContextID) (err error) {
	defer func() { r.metrics.RecordTrace("shm", err) }()

	v, err := r.traceTarget(client)
	if err != nil {
		return err
	}
	if len(chunks) == 0 || len(chunks) > types.MaxChunksPerTrace {
		return errcode.InvalidArgument
	}

	translated := chunks.Clone()
	for i := range translated {
		remote, ok := r.shmObjs.Remote(translated[i].Handle)
		if !ok {
			return errcode.InvalidShmObjectHandle
		}
		translated[i].Handle = remote
	}

	alloc := r.currentAllocator()
	if alloc == nil {
		return errcode.DaemonNotConnected
	}
	return alloc.AllocateShmJob(v.Remote, meta, v.Key.Binding, v.Key.AppID, translated, contextID)
}

// TraceLocal queues a trace whose payload is copied out of chunks before
// the call returns.
func (r *Runtime) TraceLocal(client types.ClientID, meta types.MetaInfo, chunks types.LocalChunkList) (err error) {
	defer func() { r.metrics.RecordTrace("local", err) }()

	v, err := r.traceTarget(client)
	if err != nil {
		return err
	}
	if len(chunks) == 0 || len(chunks) > types.MaxChunksPerTrace {
		return errcode.InvalidArgument
	}

	alloc := r.currentAllocator()
	if alloc == nil {
		return errcode.DaemonNotConnected
	}
	return alloc.AllocateLocalJob(v.Remote, meta, v.Key.Binding, v.Key.AppID, chunks)
}

// Close stops the worker and releases its resources. The ring buffer is
// closed before the trace metadata region it writes into is removed. It is
// safe to call more than once.
func (r *Runtime) Close() error {
	r.closeOnce.Do(func() {
		r.cancel()
		<-r.done
		r.setState(NotInitialized)

		if alloc := r.currentAllocator(); alloc != nil {
			alloc.CloseRingBuffer()
		}

		var errs []error
		if r.tmd != nil {
			if r.tmdHandle.Valid() {
				if err := r.deps.Communicator.UnregisterShmObject(context.Background(), r.tmdHandle); err != nil {
					r.worker.Warn("failed to unregister trace metadata region", zap.Error(err))
				}
			}
			if err := r.deps.Regions.Remove(r.tmd); err != nil {
				errs = append(errs, fmt.Errorf("remove trace metadata region: %w", err))
			}
			r.tmd = nil
			r.tmdHandle = types.InvalidShmObjectHandle
		}
		if err := r.deps.Communicator.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close communicator: %w", err))
		}

		r.closeErr = errors.Join(errs...)
		r.logger.Info("tracing runtime stopped")
	})
	return r.closeErr
}
