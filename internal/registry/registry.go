package registry

import (
	"sync"
	"sync/atomic"

	"github.com/GriffinCanCode/AgentOS/tracelib/internal/errcode"
)

// Identifier is the set of integer kinds used for local and remote ids.
type Identifier interface {
	~uint8 | ~uint16 | ~uint32 | ~int32
}

// Entry is one registered object. The pointer returned by the registry stays
// valid for the registry's lifetime.
type Entry[L Identifier, K comparable, R comparable] struct {
	bindMu    sync.Mutex
	mu        sync.RWMutex
	local     L
	key       K
	remote    R
	hasRemote bool
	pending   errcode.Code
}

// View is a consistent copy of an entry's fields.
type View[L Identifier, K comparable, R comparable] struct {
	Local     L
	Key       K
	Remote    R
	HasRemote bool
	Pending   errcode.Code
}

// Local returns the locally issued id.
func (e *Entry[L, K, R]) Local() L {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.local
}

// Key returns the registration key.
func (e *Entry[L, K, R]) Key() K {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.key
}

// Remote returns the daemon issued id, if any.
func (e *Entry[L, K, R]) Remote() (R, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.remote, e.hasRemote
}

// PendingError returns the stored registration failure or nil.
func (e *Entry[L, K, R]) PendingError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.pending == errcode.None {
		return nil
	}
	return e.pending
}

// View returns all fields under a single lock acquisition.
func (e *Entry[L, K, R]) View() View[L, K, R] {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return View[L, K, R]{
		Local:     e.local,
		Key:       e.key,
		Remote:    e.remote,
		HasRemote: e.hasRemote,
		Pending:   e.pending,
	}
}

// SetRemote records the daemon issued id and clears any pending error.
func (e *Entry[L, K, R]) SetRemote(remote R) {
	e.mu.Lock()
	e.remote = remote
	e.hasRemote = true
	e.pending = errcode.None
	e.mu.Unlock()
}

// Bind returns the daemon issued id, calling register to obtain one when the
// entry has none. Concurrent calls are serialized so register runs at most
// once per successful binding.
func (e *Entry[L, K, R]) Bind(register func() (R, error)) (R, error) {
	e.bindMu.Lock()
	defer e.bindMu.Unlock()

	if remote, ok := e.Remote(); ok {
		return remote, nil
	}
	remote, err := register()
	if err != nil {
		var zero R
		return zero, err
	}
	e.SetRemote(remote)
	return remote, nil
}

// ClearRemote forgets the daemon issued id.
func (e *Entry[L, K, R]) ClearRemote() {
	var zero R
	e.mu.Lock()
	e.remote = zero
	e.hasRemote = false
	e.mu.Unlock()
}

// SetError stores code as the entry's pending error.
func (e *Entry[L, K, R]) SetError(code errcode.Code) {
	e.mu.Lock()
	e.pending = code
	e.mu.Unlock()
}

func (e *Entry[L, K, R]) reset(local L, key K) {
	var zero R
	e.mu.Lock()
	e.local = local
	e.key = key
	e.remote = zero
	e.hasRemote = false
	e.pending = errcode.None
	e.mu.Unlock()
}

type slot[L Identifier, K comparable, R comparable] struct {
	// id holds the live local id, 0 when the slot is free.
	id    atomic.Int64
	entry Entry[L, K, R]
}

// Registry maps local ids to entries in a fixed set of slots allocated at
// construction.
type Registry[L Identifier, K comparable, R comparable] struct {
	slots []slot[L, K, R]
	full  errcode.Code

	// insertMu serializes Register and Release.
	insertMu sync.Mutex
	next     uint64
	count    atomic.Int32
}

// New creates a registry holding at most capacity entries. full is returned
// by Register once every slot is taken or the id space is exhausted.
func New[L Identifier, K comparable, R comparable](capacity int, full errcode.Code) *Registry[L, K, R] {
	if capacity < 0 {
		capacity = 0
	}
	return &Registry[L, K, R]{
		slots: make([]slot[L, K, R], capacity),
		full:  full,
	}
}

// Register returns the entry for key, creating it if needed. existed reports
// whether key was already registered.
func (r *Registry[L, K, R]) Register(key K) (entry *Entry[L, K, R], existed bool, err error) {
	r.insertMu.Lock()
	defer r.insertMu.Unlock()

	if e := r.findByKeyLocked(key); e != nil {
		return e, true, nil
	}

	s := r.freeSlotLocked()
	if s == nil {
		return nil, false, r.full
	}

	n := r.next + 1
	local := L(n)
	if uint64(local) != n {
		return nil, false, r.full
	}
	r.next = n

	s.entry.reset(local, key)
	s.id.Store(int64(n))
	r.count.Add(1)
	return &s.entry, false, nil
}

// Find returns the live entry with the given local id.
func (r *Registry[L, K, R]) Find(local L) (*Entry[L, K, R], bool) {
	want := int64(local)
	if want <= 0 {
		return nil, false
	}
	for i := range r.slots {
		if r.slots[i].id.Load() == want {
			return &r.slots[i].entry, true
		}
	}
	return nil, false
}

// FindByKey returns the live entry registered under key.
func (r *Registry[L, K, R]) FindByKey(key K) (*Entry[L, K, R], bool) {
	r.insertMu.Lock()
	defer r.insertMu.Unlock()
	e := r.findByKeyLocked(key)
	return e, e != nil
}

// FindByRemote returns the live entry currently mapped to remote.
func (r *Registry[L, K, R]) FindByRemote(remote R) (*Entry[L, K, R], bool) {
	var found *Entry[L, K, R]
	r.Range(func(e *Entry[L, K, R]) bool {
		if got, ok := e.Remote(); ok && got == remote {
			found = e
			return false
		}
		return true
	})
	return found, found != nil
}

// LocalOf resolves a daemon issued id to its local id.
func (r *Registry[L, K, R]) LocalOf(remote R) (L, bool) {
	e, ok := r.FindByRemote(remote)
	if !ok {
		var zero L
		return zero, false
	}
	return e.Local(), true
}

// Remote resolves a local id to its daemon issued id.
func (r *Registry[L, K, R]) Remote(local L) (R, bool) {
	e, ok := r.Find(local)
	if !ok {
		var zero R
		return zero, false
	}
	return e.Remote()
}

// Release frees the slot of local. The id is never issued again.
func (r *Registry[L, K, R]) Release(local L) bool {
	r.insertMu.Lock()
	defer r.insertMu.Unlock()

	want := int64(local)
	for i := range r.slots {
		s := &r.slots[i]
		if want > 0 && s.id.Load() == want {
			s.id.Store(0)
			s.entry.ClearRemote()
			s.entry.SetError(errcode.None)
			r.count.Add(-1)
			return true
		}
	}
	return false
}

// InvalidateAllRemote clears the remote id of every live entry.
func (r *Registry[L, K, R]) InvalidateAllRemote() {
	r.Range(func(e *Entry[L, K, R]) bool {
		e.ClearRemote()
		return true
	})
}

// Range calls fn for each live entry in slot order until fn returns false.
func (r *Registry[L, K, R]) Range(fn func(*Entry[L, K, R]) bool) {
	for i := range r.slots {
		if r.slots[i].id.Load() == 0 {
			continue
		}
		if !fn(&r.slots[i].entry) {
			return
		}
	}
}

// Len returns the number of live entries.
func (r *Registry[L, K, R]) Len() int {
	return int(r.count.Load())
}

// Cap returns the fixed capacity.
func (r *Registry[L, K, R]) Cap() int {
	return len(r.slots)
}

func (r *Registry[L, K, R]) findByKeyLocked(key K) *Entry[L, K, R] {
	for i := range r.slots {
		s := &r.slots[i]
		if s.id.Load() != 0 && s.entry.Key() == key {
			return &s.entry
		}
	}
	return nil
}

func (r *Registry[L, K, R]) freeSlotLocked() *slot[L, K, R] {
	for i := range r.slots {
		if r.slots[i].id.Load() == 0 {
			return &r.slots[i]
		}
	}
	return nil
}
