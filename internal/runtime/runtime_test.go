package runtime

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/tracelib/internal/errcode"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/logging"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/registry"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/testutil"
)

func TestNewRequiresDependencies(t *testing.T) {
	h := newHarness(t, false)

	deps := h.deps()
	deps.Validator = nil
	_, err := New(testConfig(), deps, logging.NewNop(), nil)
	assert.ErrorIs(t, err, errcode.InvalidArgument)

	deps = h.deps()
	deps.Communicator = nil
	_, err = New(testConfig(), deps, logging.NewNop(), nil)
	assert.ErrorIs(t, err, errcode.InvalidArgument)
}

func TestLibraryState(t *testing.T) {
	assert.True(t, DaemonInitialized.DaemonReady())
	assert.True(t, Initialized.DaemonReady())
	assert.False(t, NotInitialized.DaemonReady())
	assert.False(t, DaemonDisconnected.DaemonReady())
	assert.False(t, GenericError.DaemonReady())
	assert.Equal(t, "daemon_disconnected", DaemonDisconnected.String())
}

func TestRegisterClientLocally(t *testing.T) {
	h := newHarness(t, false)
	r := h.start(t, testConfig())
	ctx := context.Background()

	tests := []struct {
		name    string
		binding types.BindingType
		app     string
		wantErr error
	}{
		{"empty app id", types.BindingVector, "", errcode.InvalidArgument},
		{"undefined binding", types.BindingUndefined, "App1", errcode.InvalidArgument},
		{"out of range binding", types.BindingType(42), "App1", errcode.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.RegisterClient(ctx, tt.binding, tt.app)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	first, err := r.RegisterClient(ctx, types.BindingVector, "App1")
	require.NoError(t, err)
	assert.Equal(t, types.ClientID(1), first)

	again, err := r.RegisterClient(ctx, types.BindingVector, "App1")
	require.NoError(t, err)
	assert.Equal(t, first, again)

	long, err := r.RegisterClient(ctx, types.BindingVector, "ApplicationOne")
	require.NoError(t, err)
	truncated, err := r.RegisterClient(ctx, types.BindingVector, "ApplicatXYZ")
	require.NoError(t, err)
	assert.Equal(t, long, truncated, "ids agree on the first eight bytes")

	other, err := r.RegisterClient(ctx, types.BindingLoLa, "App1")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)

	assert.Zero(t, h.daemon.clientCalls, "no daemon call before it is reachable")
}

func TestRegisterClientCapacity(t *testing.T) {
	h := newHarness(t, false)
	cfg := testConfig()
	cfg.Limits.MaxClients = 2
	r := h.start(t, cfg)
	ctx := context.Background()

	_, err := r.RegisterClient(ctx, types.BindingVector, "A")
	require.NoError(t, err)
	_, err = r.RegisterClient(ctx, types.BindingVector, "B")
	require.NoError(t, err)

	_, err = r.RegisterClient(ctx, types.BindingVector, "C")
	assert.ErrorIs(t, err, errcode.NoMoreSpaceForNewClient)

	id, err := r.RegisterClient(ctx, types.BindingVector, "A")
	require.NoError(t, err)
	assert.Equal(t, types.ClientID(1), id)
}

func TestTraceBeforeDaemonIsRejected(t *testing.T) {
	h := newHarness(t, false)
	r := h.start(t, testConfig())
	ctx := context.Background()

	id, err := r.RegisterClient(ctx, types.BindingVector, "App1")
	require.NoError(t, err)
	handle, err := r.RegisterShmObject(ctx, id, 42)
	require.NoError(t, err)

	err = r.TraceShared(id, testMeta, types.ShmChunkList{{Handle: handle, Size: 8}}, 1)
	assert.ErrorIs(t, err, errcode.DaemonNotConnected)
	err = r.TraceLocal(id, testMeta, types.LocalChunkList{{Data: []byte("x")}})
	assert.ErrorIs(t, err, errcode.DaemonNotConnected)

	assert.ErrorIs(t, r.TraceLocal(99, testMeta, nil), errcode.ClientNotFound)

	h.allocator.AssertNotCalled(t, "AllocateShmJob",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	h.allocator.AssertNotCalled(t, "AllocateLocalJob",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestInlineRegistrationFailureBecomesPendingError(t *testing.T) {
	h := newHarness(t, true)
	r := h.start(t, testConfig())
	waitState(t, r, Initialized)
	ctx := context.Background()

	h.daemon.set(func(d *fakeDaemon) { d.failClient = errcode.MessageSendFailed })
	_, err := r.RegisterClient(ctx, types.BindingVector, "App1")
	assert.ErrorIs(t, err, errcode.MessageSendFailed)

	entry, ok := r.clients.FindByKey(registry.ClientKey{Binding: types.BindingVector, AppID: types.NewAppID("App1")})
	require.True(t, ok, "local registration survives the daemon failure")

	err = r.TraceLocal(entry.Local(), testMeta, types.LocalChunkList{{Data: []byte("x")}})
	assert.ErrorIs(t, err, errcode.MessageSendFailed)
}

func TestRegisterShmObjectValidation(t *testing.T) {
	h := newHarness(t, false)
	validator := new(testutil.MockValidator)
	validator.On("FileDescriptorFromPath", "/shm/data").Return(5, nil)
	validator.On("FileDescriptorFromPath", "/shm/missing").Return(-1, errcode.BadFileDescriptor)
	validator.On("IsSharedMemoryTyped", 5).Return(true, nil)
	validator.On("IsSharedMemoryTyped", 6).Return(false, nil)
	validator.On("IsSharedMemoryTyped", 7).Return(false, errcode.BadFileDescriptor)
	h.validator = validator

	r := h.start(t, testConfig())
	ctx := context.Background()
	client, err := r.RegisterClient(ctx, types.BindingVector, "App1")
	require.NoError(t, err)

	_, err = r.RegisterShmObjectPath(ctx, client, "")
	assert.ErrorIs(t, err, errcode.InvalidArgument)
	_, err = r.RegisterShmObject(ctx, client, -1)
	assert.ErrorIs(t, err, errcode.InvalidArgument)
	_, err = r.RegisterShmObjectPath(ctx, client, "/shm/missing")
	assert.ErrorIs(t, err, errcode.BadFileDescriptor)
	_, err = r.RegisterShmObject(ctx, 99, 5)
	assert.ErrorIs(t, err, errcode.ClientNotFound)
	_, err = r.RegisterShmObject(ctx, client, 6)
	assert.ErrorIs(t, err, errcode.NotTypedMemory)
	_, err = r.RegisterShmObject(ctx, client, 7)
	assert.ErrorIs(t, err, errcode.BadFileDescriptor)

	handle, err := r.RegisterShmObjectPath(ctx, client, "/shm/data")
	require.NoError(t, err)
	assert.Equal(t, types.ShmObjectHandle(1), handle)

	_, err = r.RegisterShmObject(ctx, client, 5)
	assert.ErrorIs(t, err, errcode.SharedMemoryObjectAlreadyRegistered)
	assert.Equal(t, 1, r.shmObjs.Len())
}

func TestRegisterShmObjectCapacity(t *testing.T) {
	h := newHarness(t, false)
	cfg := testConfig()
	cfg.Limits.MaxShmObjects = 1
	r := h.start(t, cfg)
	ctx := context.Background()

	client, err := r.RegisterClient(ctx, types.BindingVector, "App1")
	require.NoError(t, err)
	_, err = r.RegisterShmObject(ctx, client, 10)
	require.NoError(t, err)
	_, err = r.RegisterShmObject(ctx, client, 11)
	assert.ErrorIs(t, err, errcode.NoMoreSpaceForNewShmObject)
}

func TestUnregisterShmObject(t *testing.T) {
	t.Run("daemon not ready releases locally", func(t *testing.T) {
		h := newHarness(t, false)
		r := h.start(t, testConfig())
		ctx := context.Background()

		client, _ := r.RegisterClient(ctx, types.BindingVector, "App1")
		handle, err := r.RegisterShmObject(ctx, client, 42)
		require.NoError(t, err)

		assert.ErrorIs(t, r.UnregisterShmObject(ctx, 99, handle), errcode.ClientNotFound)
		require.NoError(t, r.UnregisterShmObject(ctx, client, handle))
		_, ok := r.shmObjs.Find(handle)
		assert.False(t, ok)
		assert.Empty(t, h.daemon.unregistered)

		again, err := r.RegisterShmObject(ctx, client, 42)
		require.NoError(t, err)
		assert.NotEqual(t, handle, again, "handles are never reused")
	})

	t.Run("daemon ready unregisters remotely first", func(t *testing.T) {
		h := newHarness(t, true)
		r := h.start(t, testConfig())
		waitState(t, r, Initialized)
		ctx := context.Background()

		client, err := r.RegisterClient(ctx, types.BindingVector, "App1")
		require.NoError(t, err)
		handle, err := r.RegisterShmObject(ctx, client, 42)
		require.NoError(t, err)
		remote, ok := r.shmObjs.Remote(handle)
		require.True(t, ok)

		h.daemon.set(func(d *fakeDaemon) { d.failUnreg = errcode.SharedMemoryObjectUnregisterFailed })
		err = r.UnregisterShmObject(ctx, client, handle)
		assert.ErrorIs(t, err, errcode.SharedMemoryObjectUnregisterFailed)
		_, ok = r.shmObjs.Find(handle)
		assert.True(t, ok, "handle kept when the daemon refuses")

		h.daemon.set(func(d *fakeDaemon) { d.failUnreg = nil })
		require.NoError(t, r.UnregisterShmObject(ctx, client, handle))
		_, ok = r.shmObjs.Find(handle)
		assert.False(t, ok)
		h.daemon.set(func(d *fakeDaemon) {
			assert.Equal(t, []types.ShmObjectHandle{remote}, d.unregistered)
		})
	})
}

func TestRegisterTraceDoneCallback(t *testing.T) {
	h := newHarness(t, false)
	r := h.start(t, testConfig())
	client, err := r.RegisterClient(context.Background(), types.BindingVector, "App1")
	require.NoError(t, err)

	cb := func(types.ContextID) {}
	assert.ErrorIs(t, r.RegisterTraceDoneCallback(client, nil), errcode.InvalidArgument)
	assert.ErrorIs(t, r.RegisterTraceDoneCallback(99, cb), errcode.ClientNotFound)

	h.processor.On("SaveCallback", client, mock.Anything).Return(errcode.CallbackAlreadyRegistered).Once()
	assert.ErrorIs(t, r.RegisterTraceDoneCallback(client, cb), errcode.CallbackAlreadyRegistered)
	h.processor.AssertCalled(t, "SaveCallback", client, mock.Anything)
}

func TestTraceSharedTranslatesHandles(t *testing.T) {
	h := newHarness(t, true)
	r := h.start(t, testConfig())
	waitState(t, r, Initialized)
	ctx := context.Background()

	for i := 1; i <= 6; i++ {
		_, err := r.RegisterClient(ctx, types.BindingLoLa, fmt.Sprintf("Other%d", i))
		require.NoError(t, err)
	}
	client, err := r.RegisterClient(ctx, types.BindingVector, "App1")
	require.NoError(t, err)
	require.Equal(t, types.ClientID(7), client)

	for fd := 40; fd < 42; fd++ {
		_, err := r.RegisterShmObject(ctx, client, fd)
		require.NoError(t, err)
	}
	handle, err := r.RegisterShmObject(ctx, client, 42)
	require.NoError(t, err)
	require.Equal(t, types.ShmObjectHandle(3), handle)

	remoteClient, ok := r.clients.Remote(client)
	require.True(t, ok)
	remoteHandle, ok := r.shmObjs.Remote(handle)
	require.True(t, ok)
	require.NotEqual(t, handle, remoteHandle)

	h.allocator.On("AllocateShmJob", remoteClient, testMeta, types.BindingVector, types.NewAppID("App1"),
		mock.MatchedBy(func(c types.ShmChunkList) bool {
			return len(c) == 1 && c[0].Handle == remoteHandle && c[0].Offset == 16
		}), types.ContextID(23)).Return(nil).Once()

	chunks := types.ShmChunkList{{Handle: handle, Offset: 16, Size: 64}}
	require.NoError(t, r.TraceShared(client, testMeta, chunks, 23))
	assert.Equal(t, handle, chunks[0].Handle, "caller's list is not rewritten")
	h.allocator.AssertExpectations(t)
}

func TestTraceSharedRejectsUnknownHandle(t *testing.T) {
	h := newHarness(t, true)
	r := h.start(t, testConfig())
	waitState(t, r, Initialized)
	ctx := context.Background()

	client, err := r.RegisterClient(ctx, types.BindingVector, "App1")
	require.NoError(t, err)
	handle, err := r.RegisterShmObject(ctx, client, 42)
	require.NoError(t, err)

	chunks := types.ShmChunkList{{Handle: handle, Size: 8}, {Handle: 77, Size: 8}}
	assert.ErrorIs(t, r.TraceShared(client, testMeta, chunks, 1), errcode.InvalidShmObjectHandle)

	assert.ErrorIs(t, r.TraceShared(client, testMeta, nil, 1), errcode.InvalidArgument)
	tooMany := make(types.ShmChunkList, types.MaxChunksPerTrace+1)
	assert.ErrorIs(t, r.TraceShared(client, testMeta, tooMany, 1), errcode.InvalidArgument)
	assert.ErrorIs(t, r.TraceLocal(client, testMeta, nil), errcode.InvalidArgument)

	h.allocator.AssertNotCalled(t, "AllocateShmJob",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestTraceLocalUsesRemoteClient(t *testing.T) {
	h := newHarness(t, true)
	r := h.start(t, testConfig())
	waitState(t, r, Initialized)

	client, err := r.RegisterClient(context.Background(), types.BindingVectorZeroCopy, "App1")
	require.NoError(t, err)
	remote, ok := r.clients.Remote(client)
	require.True(t, ok)

	payload := types.LocalChunkList{{Data: []byte("payload")}}
	h.allocator.On("AllocateLocalJob", remote, testMeta, types.BindingVectorZeroCopy, types.NewAppID("App1"), payload).
		Return(errcode.RingBufferFull).Once()

	assert.ErrorIs(t, r.TraceLocal(client, testMeta, payload), errcode.RingBufferFull)
	h.allocator.AssertExpectations(t)
}

func TestCloseReleasesResources(t *testing.T) {
	h := newHarness(t, true)
	r := h.start(t, testConfig())
	waitState(t, r, Initialized)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	assert.Equal(t, NotInitialized, r.State())
	h.regions.AssertCalled(t, "Remove", h.region)
	h.allocator.AssertCalled(t, "CloseRingBuffer")
	h.daemon.set(func(d *fakeDaemon) {
		assert.True(t, d.closed)
		assert.Contains(t, d.unregistered, tmdRemoteHandle)
	})
}

func TestCloseStopsRingBeforeRemovingRegion(t *testing.T) {
	h := newHarness(t, true)
	var order []string

	alloc := new(testutil.MockAllocator)
	alloc.On("SetTraceMetaDataHandle", mock.Anything).Return().Maybe()
	alloc.On("CloseRingBuffer").Run(func(mock.Arguments) {
		order = append(order, "close ring")
	}).Return().Once()
	h.jobs = testutil.NewMockJobFactory(t, h.processor, alloc)

	regions := new(testutil.MockRegionFactory)
	regions.On("Create", mock.Anything, mock.Anything).Return(h.region, nil).Once()
	regions.On("Remove", h.region).Run(func(mock.Arguments) {
		order = append(order, "remove region")
	}).Return(nil).Once()
	h.regions = regions

	r := h.start(t, testConfig())
	waitState(t, r, Initialized)
	require.NoError(t, r.Close())

	assert.Equal(t, []string{"close ring", "remove region"}, order)
	h.daemon.set(func(d *fakeDaemon) { assert.Contains(t, d.unregistered, tmdRemoteHandle) })
	regions.AssertExpectations(t)
	alloc.AssertExpectations(t)
}

func TestCloseWhileConnecting(t *testing.T) {
	h := newHarness(t, false)
	r := h.start(t, testConfig())

	require.NoError(t, r.Close())
	assert.Equal(t, NotInitialized, r.State())
	h.regions.AssertNotCalled(t, "Remove", mock.Anything)
	h.daemon.set(func(d *fakeDaemon) { assert.True(t, d.closed) })
}
