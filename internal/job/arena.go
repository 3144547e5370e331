package job

import (
	"fmt"
	"sync"

	"github.com/GriffinCanCode/AgentOS/tracelib/internal/errcode"
)

const arenaAlign = 8

type block struct {
	off  uint64
	size uint64
}

// Arena hands out contiguous blocks of a fixed buffer in circular order.
// Blocks must be freed in allocation order.
type Arena struct {
	mu   sync.Mutex
	buf  []byte
	live []block
}

// NewArena manages buf.
func NewArena(buf []byte) *Arena {
	return &Arena{buf: buf}
}

func align(n uint64) uint64 {
	return (n + arenaAlign - 1) &^ (arenaAlign - 1)
}

// Alloc reserves n bytes and returns their offset.
func (a *Arena) Alloc(n int) (uint64, error) {
	if n <= 0 {
		return 0, errcode.InvalidArgument
	}
	size := align(uint64(n))
	capacity := uint64(len(a.buf))

	a.mu.Lock()
	defer a.mu.Unlock()

	if size > capacity {
		return 0, errcode.NotEnoughMemory
	}

	var off uint64
	if len(a.live) > 0 {
		tail := a.live[0].off
		last := a.live[len(a.live)-1]
		head := last.off + last.size

		switch {
		case head > tail && capacity-head >= size:
			off = head
		case head > tail && tail >= size:
			off = 0
		case head <= tail && tail-head >= size:
			off = head
		default:
			return 0, errcode.NotEnoughMemory
		}
	}

	a.live = append(a.live, block{off: off, size: size})
	return off, nil
}

// Bytes returns the n bytes at off.
func (a *Arena) Bytes(off uint64, n int) []byte {
	return a.buf[off : off+uint64(n)]
}

// Free releases the oldest block, which must start at off.
func (a *Arena) Free(off uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.live) == 0 || a.live[0].off != off {
		return fmt.Errorf("free offset %d out of order: %w", off, errcode.InvalidArgument)
	}
	a.live = a.live[1:]
	if len(a.live) == 0 {
		a.live = nil
	}
	return nil
}

// Rollback releases the newest block, which must start at off.
func (a *Arena) Rollback(off uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.live); n > 0 && a.live[n-1].off == off {
		a.live = a.live[:n-1]
	}
}

// Used returns the number of live bytes, excluding wrap padding.
func (a *Arena) Used() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	var used uint64
	for _, b := range a.live {
		used += b.size
	}
	return used
}

// Reset frees every block.
func (a *Arena) Reset() {
	a.mu.Lock()
	a.live = nil
	a.mu.Unlock()
}
