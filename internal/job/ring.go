package job

import (
	"sync"

	"github.com/GriffinCanCode/AgentOS/tracelib/internal/errcode"
)

// DefaultRingCapacity is the number of job slots.
const DefaultRingCapacity = 500

type slotState uint8

const (
	slotFree slotState = iota
	slotReady
	slotConsumed
)

type ringSlot struct {
	state slotState
	job   Job
}

// Ring is a bounded FIFO of jobs.
type Ring struct {
	mu     sync.Mutex
	slots  []ringSlot
	head   int
	count  int
	closed bool
}

// NewRing creates an open ring with capacity slots.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &Ring{slots: make([]ringSlot, capacity)}
}

// Push appends a ready job.
func (r *Ring) Push(job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errcode.RingBufferNotInitialized
	}
	if r.count == len(r.slots) {
		return errcode.RingBufferFull
	}
	s := &r.slots[(r.head+r.count)%len(r.slots)]
	s.state = slotReady
	s.job = job
	r.count++
	return nil
}

// Front returns a copy of the oldest job and whether it was already consumed.
func (r *Ring) Front() (job Job, consumed bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return Job{}, false, false
	}
	s := &r.slots[r.head]
	return s.job, s.state == slotConsumed, true
}

// MarkConsumed moves the oldest job from ready to consumed.
func (r *Ring) MarkConsumed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 || r.slots[r.head].state != slotReady {
		return false
	}
	r.slots[r.head].state = slotConsumed
	return true
}

// PopFront frees the oldest slot if its job was consumed.
func (r *Ring) PopFront() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 || r.slots[r.head].state != slotConsumed {
		return false
	}
	r.slots[r.head] = ringSlot{}
	r.head = (r.head + 1) % len(r.slots)
	r.count--
	return true
}

// Len returns the number of queued jobs.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the slot count.
func (r *Ring) Cap() int {
	return len(r.slots)
}

// Free returns the number of free slots, zero once closed.
func (r *Ring) Free() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0
	}
	return len(r.slots) - r.count
}

// Drain removes every queued job and returns them oldest first.
func (r *Ring) Drain() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobs := make([]Job, 0, r.count)
	for i := 0; i < r.count; i++ {
		jobs = append(jobs, r.slots[(r.head+i)%len(r.slots)].job)
	}
	r.clearLocked()
	return jobs
}

// Close drops every queued job and rejects further pushes.
func (r *Ring) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearLocked()
	r.closed = true
}

// Closed reports whether Close was called.
func (r *Ring) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Ring) clearLocked() {
	for i := range r.slots {
		r.slots[i] = ringSlot{}
	}
	r.head, r.count = 0, 0
}
