package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/tracelib/internal/config"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/errcode"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/job"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/logging"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/testutil"
)

const tmdRemoteHandle = types.ShmObjectHandle(500)

var testMeta = types.AraComMetaInfo{Properties: types.AraComProperties{
	TracePointType:   types.TracePointProxyEventRecv,
	Element:          types.ServiceInstanceElement{ServiceID: 1, InstanceID: 2, ElementID: 3},
	TracePointDataID: 4,
}}

// fakeDaemon is a Communicator whose availability tests switch at will.
type fakeDaemon struct {
	mu           sync.Mutex
	available    bool
	failClient   error
	failShm      error
	failUnreg    error
	nextClient   types.ClientID
	nextHandle   types.ShmObjectHandle
	paths        []string
	unregistered []types.ShmObjectHandle
	clientCalls  int
	closed       bool
	subscribers  []func()
}

func newFakeDaemon(available bool) *fakeDaemon {
	return &fakeDaemon{available: available, nextClient: 10, nextHandle: 100}
}

func (d *fakeDaemon) setAvailable(v bool) {
	d.mu.Lock()
	d.available = v
	d.mu.Unlock()
}

func (d *fakeDaemon) set(fn func(d *fakeDaemon)) {
	d.mu.Lock()
	fn(d)
	d.mu.Unlock()
}

func (d *fakeDaemon) Connect(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.available {
		return errcode.DaemonConnectionFailed
	}
	return nil
}

func (d *fakeDaemon) RegisterClient(context.Context, types.BindingType, types.AppID) (types.ClientID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clientCalls++
	if d.failClient != nil {
		return types.InvalidClientID, d.failClient
	}
	d.nextClient++
	return d.nextClient, nil
}

func (d *fakeDaemon) RegisterShmObject(context.Context, int) (types.ShmObjectHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failShm != nil {
		return types.InvalidShmObjectHandle, d.failShm
	}
	d.nextHandle++
	return d.nextHandle, nil
}

func (d *fakeDaemon) RegisterShmObjectPath(_ context.Context, path string) (types.ShmObjectHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paths = append(d.paths, path)
	return tmdRemoteHandle, nil
}

func (d *fakeDaemon) UnregisterShmObject(_ context.Context, h types.ShmObjectHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failUnreg != nil {
		return d.failUnreg
	}
	d.unregistered = append(d.unregistered, h)
	return nil
}

func (d *fakeDaemon) SubscribeToTermination(fn func()) {
	d.mu.Lock()
	d.subscribers = append(d.subscribers, fn)
	d.mu.Unlock()
}

func (d *fakeDaemon) terminate() {
	d.mu.Lock()
	subs := append([]func(){}, d.subscribers...)
	d.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

func (d *fakeDaemon) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// holdSink never accepts a job, keeping everything queued.
type holdSink struct{}

func (holdSink) Deliver(context.Context, *job.Job) error {
	return errcode.MessageSendFailed
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Worker.ConnectRetry = 2 * time.Millisecond
	cfg.Worker.DrainInterval = 2 * time.Millisecond
	cfg.Memory.Size = 1 << 16
	cfg.Limits.MaxClients = 8
	cfg.Limits.MaxShmObjects = 4
	cfg.Limits.RingCapacity = 16
	return cfg
}

type harness struct {
	daemon    *fakeDaemon
	validator *testutil.MockValidator
	region    *testutil.Region
	regions   *testutil.MockRegionFactory
	processor *testutil.MockProcessor
	allocator *testutil.MockAllocator
	jobs      JobFactory
}

func newHarness(t *testing.T, available bool) *harness {
	t.Helper()
	h := &harness{
		daemon:    newFakeDaemon(available),
		validator: testutil.NewMockValidator(t),
		region:    testutil.NewRegion("/dev_tmd_test", 9, 1<<16),
		processor: testutil.NewMockProcessor(t),
		allocator: testutil.NewMockAllocator(t),
	}
	h.regions = testutil.NewMockRegionFactory(t, h.region)
	h.jobs = testutil.NewMockJobFactory(t, h.processor, h.allocator)
	return h
}

func (h *harness) deps() Dependencies {
	return Dependencies{
		Communicator: h.daemon,
		Validator:    h.validator,
		Regions:      h.regions,
		Jobs:         h.jobs,
	}
}

func (h *harness) start(t *testing.T, cfg *config.Config) *Runtime {
	t.Helper()
	r, err := New(cfg, h.deps(), logging.NewNop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func waitState(t *testing.T, r *Runtime, want LibraryState) {
	t.Helper()
	require.Eventually(t, func() bool { return r.State() == want },
		2*time.Second, time.Millisecond, "state never reached %s, last %s", want, r.State())
}

func waitFatal(t *testing.T, r *Runtime, want errcode.Code) {
	t.Helper()
	require.Eventually(t, func() bool { return r.fatal.load() == want },
		2*time.Second, time.Millisecond, "fatal error never became %v", want)
}
