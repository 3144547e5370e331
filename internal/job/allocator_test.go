package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/tracelib/internal/errcode"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/shared/types"
)

const tmdHandle = types.ShmObjectHandle(99)

var testMeta = types.AraComMetaInfo{Properties: types.AraComProperties{
	TracePointType: types.TracePointSkelEventSnd,
	Element: types.ServiceInstanceElement{
		ServiceID: 0xA, MajorVersion: 1, MinorVersion: 2, InstanceID: 3, ElementID: 4,
	},
	TracePointDataID: 0xBB,
}}

func newTestAllocator(t *testing.T, ringSize, memSize int) (*Allocator, *Ring, []byte) {
	t.Helper()
	mem := make([]byte, memSize)
	ring := NewRing(ringSize)
	a := NewAllocator(ring, NewArena(mem), nil)
	a.now = func() time.Time { return time.Unix(0, 1234567890) }
	a.SetTraceMetaDataHandle(tmdHandle)
	return a, ring, mem
}

func TestAllocateShmJobPrependsRecordChunks(t *testing.T) {
	a, ring, mem := newTestAllocator(t, 4, 1024)
	app := types.NewAppID("App1")
	payload := types.ShmChunkList{{Handle: 5, Offset: 128, Size: 64}}

	require.NoError(t, a.AllocateShmJob(9, testMeta, types.BindingVector, app, payload, 23))

	job, _, ok := ring.Front()
	require.True(t, ok)
	assert.Equal(t, ShmJob, job.Type)
	assert.Equal(t, types.ClientID(9), job.ClientID)
	assert.Equal(t, types.ContextID(23), job.ContextID)
	require.Len(t, job.Chunks, 3)

	ts, meta := job.Chunks[0], job.Chunks[1]
	assert.Equal(t, tmdHandle, ts.Handle)
	assert.Equal(t, uint64(TimestampSize), ts.Size)
	assert.Equal(t, tmdHandle, meta.Handle)
	assert.Equal(t, payload[0], job.Chunks[2])

	gotTS, err := DecodeTimestamp(mem[ts.Offset : ts.Offset+ts.Size])
	require.NoError(t, err)
	assert.Equal(t, int64(1234567890), gotTS.UnixNano())

	decoded, err := DecodeMeta(mem[meta.Offset : meta.Offset+meta.Size])
	require.NoError(t, err)
	assert.Equal(t, testMeta, decoded.Info)
	assert.Equal(t, types.BindingVector, decoded.Binding)
	assert.Equal(t, types.ClientID(9), decoded.ClientID)
	assert.Equal(t, types.ContextID(23), decoded.ContextID)
	assert.Equal(t, app, decoded.AppID)
}

func TestAllocateLocalJobCopiesPayload(t *testing.T) {
	a, ring, mem := newTestAllocator(t, 4, 1024)
	data := []byte("hello trace")
	local := types.LocalChunkList{{Data: data}, {Data: nil}, {Data: []byte{1, 2}}}

	require.NoError(t, a.AllocateLocalJob(1, &testMeta, types.BindingLoLa, types.NewAppID("A"), local))
	data[0] = 'X'

	job, _, ok := ring.Front()
	require.True(t, ok)
	assert.Equal(t, LocalJob, job.Type)
	require.Len(t, job.Chunks, 4)

	c := job.Chunks[2]
	assert.Equal(t, tmdHandle, c.Handle)
	assert.Equal(t, "hello trace", string(mem[c.Offset:c.Offset+c.Size]))
	c = job.Chunks[3]
	assert.Equal(t, []byte{1, 2}, mem[c.Offset:c.Offset+c.Size])
}

func TestAllocateErrors(t *testing.T) {
	t.Run("unsupported meta info", func(t *testing.T) {
		a, ring, _ := newTestAllocator(t, 4, 1024)
		err := a.AllocateShmJob(1, types.DltMetaInfo{}, types.BindingVector, types.AppID{}, nil, 0)
		assert.ErrorIs(t, err, errcode.NoMetaInfoProvided)
		err = a.AllocateLocalJob(1, nil, types.BindingVector, types.AppID{}, nil)
		assert.ErrorIs(t, err, errcode.NoMetaInfoProvided)
		assert.Equal(t, 0, ring.Len())
	})

	t.Run("metadata handle unset", func(t *testing.T) {
		a := NewAllocator(NewRing(4), NewArena(make([]byte, 1024)), nil)
		err := a.AllocateShmJob(1, testMeta, types.BindingVector, types.AppID{}, nil, 0)
		assert.ErrorIs(t, err, errcode.RingBufferNotInitialized)
	})

	t.Run("ring full", func(t *testing.T) {
		a, _, _ := newTestAllocator(t, 1, 1024)
		require.NoError(t, a.AllocateShmJob(1, testMeta, types.BindingVector, types.AppID{}, nil, 0))
		err := a.AllocateShmJob(1, testMeta, types.BindingVector, types.AppID{}, nil, 1)
		assert.ErrorIs(t, err, errcode.RingBufferFull)
	})

	t.Run("region exhausted", func(t *testing.T) {
		a, ring, _ := newTestAllocator(t, 4, 64)
		err := a.AllocateLocalJob(1, testMeta, types.BindingVector, types.AppID{}, types.LocalChunkList{{Data: make([]byte, 100)}})
		assert.ErrorIs(t, err, errcode.NotEnoughMemory)
		assert.Equal(t, 0, ring.Len())
	})

	t.Run("closed", func(t *testing.T) {
		a, _, _ := newTestAllocator(t, 4, 1024)
		a.CloseRingBuffer()
		err := a.AllocateShmJob(1, testMeta, types.BindingVector, types.AppID{}, nil, 0)
		assert.ErrorIs(t, err, errcode.RingBufferNotInitialized)
	})
}

func TestDeallocateFreesInOrder(t *testing.T) {
	a, ring, _ := newTestAllocator(t, 4, 1024)
	require.NoError(t, a.AllocateShmJob(1, testMeta, types.BindingVector, types.AppID{}, nil, 1))
	require.NoError(t, a.AllocateShmJob(1, testMeta, types.BindingVector, types.AppID{}, nil, 2))
	assert.Equal(t, uint64(2*headerSize), a.arena.Used())

	job, _, _ := ring.Front()
	require.NoError(t, a.DeallocateJob(&job))
	assert.Equal(t, uint64(headerSize), a.arena.Used())
	assert.ErrorIs(t, a.DeallocateJob(nil), errcode.InvalidArgument)
}

func TestResetRingBuffer(t *testing.T) {
	a, ring, _ := newTestAllocator(t, 4, 1024)
	require.NoError(t, a.AllocateShmJob(1, testMeta, types.BindingVector, types.AppID{}, nil, 1))

	dropped := a.ResetRingBuffer()
	require.Len(t, dropped, 1)
	assert.Equal(t, types.ContextID(1), dropped[0].ContextID)
	assert.Equal(t, 0, ring.Len())
	assert.Zero(t, a.arena.Used())
	require.NoError(t, a.AllocateShmJob(1, testMeta, types.BindingVector, types.AppID{}, nil, 2))
}
