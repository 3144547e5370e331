// Package testutil provides testify mocks of the runtime collaborators.
package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/GriffinCanCode/AgentOS/tracelib/internal/job"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/shm"
)

// MockCommunicator is a mock implementation of daemon.Communicator.
type MockCommunicator struct {
	mock.Mock

	mu          sync.Mutex
	subscribers []func()
}

// Connect mocks the Connect method.
func (m *MockCommunicator) Connect(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// RegisterClient mocks the RegisterClient method.
func (m *MockCommunicator) RegisterClient(ctx context.Context, binding types.BindingType, appID types.AppID) (types.ClientID, error) {
	args := m.Called(ctx, binding, appID)
	return args.Get(0).(types.ClientID), args.Error(1)
}

// RegisterShmObject mocks the RegisterShmObject method.
func (m *MockCommunicator) RegisterShmObject(ctx context.Context, fd int) (types.ShmObjectHandle, error) {
	args := m.Called(ctx, fd)
	return args.Get(0).(types.ShmObjectHandle), args.Error(1)
}

// RegisterShmObjectPath mocks the RegisterShmObjectPath method.
func (m *MockCommunicator) RegisterShmObjectPath(ctx context.Context, path string) (types.ShmObjectHandle, error) {
	args := m.Called(ctx, path)
	return args.Get(0).(types.ShmObjectHandle), args.Error(1)
}

// UnregisterShmObject mocks the UnregisterShmObject method.
func (m *MockCommunicator) UnregisterShmObject(ctx context.Context, handle types.ShmObjectHandle) error {
	return m.Called(ctx, handle).Error(0)
}

// SubscribeToTermination records fn so tests can fire it with Terminate.
func (m *MockCommunicator) SubscribeToTermination(fn func()) {
	m.mu.Lock()
	m.subscribers = append(m.subscribers, fn)
	m.mu.Unlock()
}

// Terminate invokes every termination subscriber.
func (m *MockCommunicator) Terminate() {
	m.mu.Lock()
	subs := append([]func(){}, m.subscribers...)
	m.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

// Close mocks the Close method.
func (m *MockCommunicator) Close() error {
	return m.Called().Error(0)
}

// NewMockCommunicator creates a mock communicator with default behaviors:
// connect succeeds, nothing is registered and close succeeds.
func NewMockCommunicator(t *testing.T) *MockCommunicator {
	t.Helper()
	m := new(MockCommunicator)

	m.On("Connect", mock.Anything).Return(nil).Maybe()
	m.On("Close").Return(nil).Maybe()

	return m
}

// MockAllocator is a mock implementation of job.TraceJobAllocator.
type MockAllocator struct {
	mock.Mock
}

// AllocateShmJob mocks the AllocateShmJob method.
func (m *MockAllocator) AllocateShmJob(client types.ClientID, meta types.MetaInfo, binding types.BindingType,
	app types.AppID, chunks types.ShmChunkList, contextID types.ContextID) error {
	return m.Called(client, meta, binding, app, chunks, contextID).Error(0)
}

// AllocateLocalJob mocks the AllocateLocalJob method.
func (m *MockAllocator) AllocateLocalJob(client types.ClientID, meta types.MetaInfo, binding types.BindingType,
	app types.AppID, chunks types.LocalChunkList) error {
	return m.Called(client, meta, binding, app, chunks).Error(0)
}

// DeallocateJob mocks the DeallocateJob method.
func (m *MockAllocator) DeallocateJob(j *job.Job) error {
	return m.Called(j).Error(0)
}

// SetTraceMetaDataHandle mocks the SetTraceMetaDataHandle method.
func (m *MockAllocator) SetTraceMetaDataHandle(handle types.ShmObjectHandle) {
	m.Called(handle)
}

// CloseRingBuffer mocks the CloseRingBuffer method.
func (m *MockAllocator) CloseRingBuffer() {
	m.Called()
}

// ResetRingBuffer mocks the ResetRingBuffer method.
func (m *MockAllocator) ResetRingBuffer() []job.Job {
	jobs, _ := m.Called().Get(0).([]job.Job)
	return jobs
}

// NewMockAllocator creates a mock allocator whose lifecycle calls are
// accepted. Allocation calls must be set up by the test.
func NewMockAllocator(t *testing.T) *MockAllocator {
	t.Helper()
	m := new(MockAllocator)

	m.On("SetTraceMetaDataHandle", mock.Anything).Return().Maybe()
	m.On("CloseRingBuffer").Return().Maybe()
	m.On("ResetRingBuffer").Return([]job.Job(nil)).Maybe()

	return m
}

// MockProcessor is a mock implementation of job.TraceJobProcessor.
type MockProcessor struct {
	mock.Mock
}

// SaveCallback mocks the SaveCallback method.
func (m *MockProcessor) SaveCallback(client types.ClientID, callback types.TraceDoneCallback) error {
	return m.Called(client, callback).Error(0)
}

// ProcessPendingJobs mocks the ProcessPendingJobs method.
func (m *MockProcessor) ProcessPendingJobs(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// CleanPendingJobs mocks the CleanPendingJobs method.
func (m *MockProcessor) CleanPendingJobs() error {
	return m.Called().Error(0)
}

// ReleaseDropped mocks the ReleaseDropped method.
func (m *MockProcessor) ReleaseDropped(jobs []job.Job) {
	m.Called(jobs)
}

// NewMockProcessor creates a mock processor whose drain calls succeed.
func NewMockProcessor(t *testing.T) *MockProcessor {
	t.Helper()
	m := new(MockProcessor)

	m.On("ProcessPendingJobs", mock.Anything).Return(nil).Maybe()
	m.On("CleanPendingJobs").Return(nil).Maybe()
	m.On("ReleaseDropped", mock.Anything).Return().Maybe()

	return m
}

// MockValidator is a mock implementation of shm.MemoryValidator.
type MockValidator struct {
	mock.Mock
}

// IsSharedMemoryTyped mocks the IsSharedMemoryTyped method.
func (m *MockValidator) IsSharedMemoryTyped(fd int) (bool, error) {
	args := m.Called(fd)
	return args.Bool(0), args.Error(1)
}

// FileDescriptorFromPath mocks the FileDescriptorFromPath method.
func (m *MockValidator) FileDescriptorFromPath(path string) (int, error) {
	args := m.Called(path)
	return args.Int(0), args.Error(1)
}

// NewMockValidator creates a mock validator reporting every object as
// typed memory.
func NewMockValidator(t *testing.T) *MockValidator {
	t.Helper()
	m := new(MockValidator)

	m.On("IsSharedMemoryTyped", mock.Anything).Return(true, nil).Maybe()

	return m
}

// Region is an in-memory shm.Region.
type Region struct {
	RegionName string
	RegionFd   int
	Mem        []byte
}

func (r *Region) Name() string  { return r.RegionName }
func (r *Region) Fd() int       { return r.RegionFd }
func (r *Region) Bytes() []byte { return r.Mem }
func (r *Region) Size() int     { return len(r.Mem) }

// MockRegionFactory is a mock implementation of shm.RegionFactory.
type MockRegionFactory struct {
	mock.Mock
}

// Create mocks the Create method.
func (m *MockRegionFactory) Create(name string, size int) (shm.Region, error) {
	args := m.Called(name, size)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(shm.Region), args.Error(1)
}

// Remove mocks the Remove method.
func (m *MockRegionFactory) Remove(r shm.Region) error {
	return m.Called(r).Error(0)
}

// NewMockRegionFactory creates a mock factory returning region from every
// Create and accepting Remove.
func NewMockRegionFactory(t *testing.T, region shm.Region) *MockRegionFactory {
	t.Helper()
	m := new(MockRegionFactory)

	m.On("Create", mock.Anything, mock.Anything).Return(region, nil).Maybe()
	m.On("Remove", mock.Anything).Return(nil).Maybe()

	return m
}

// MockJobFactory is a mock implementation of runtime.JobFactory.
type MockJobFactory struct {
	mock.Mock
}

// NewProcessor mocks the NewProcessor method.
func (m *MockJobFactory) NewProcessor(clients job.ClientResolver) job.TraceJobProcessor {
	return m.Called(clients).Get(0).(job.TraceJobProcessor)
}

// NewAllocator mocks the NewAllocator method.
func (m *MockJobFactory) NewAllocator(region shm.Region) (job.TraceJobAllocator, error) {
	args := m.Called(region)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(job.TraceJobAllocator), args.Error(1)
}

// NewMockJobFactory creates a mock factory handing out processor and
// allocator.
func NewMockJobFactory(t *testing.T, processor job.TraceJobProcessor, allocator job.TraceJobAllocator) *MockJobFactory {
	t.Helper()
	m := new(MockJobFactory)

	m.On("NewProcessor", mock.Anything).Return(processor).Maybe()
	m.On("NewAllocator", mock.Anything).Return(allocator, nil).Maybe()

	return m
}

// NewRegion creates an in-memory region of size bytes.
func NewRegion(name string, fd, size int) *Region {
	return &Region{RegionName: name, RegionFd: fd, Mem: make([]byte, size)}
}
