// Package physmem implements the kernel's physical page allocator: a single
// monotonically advancing cursor over a linker-provided free region. There
// is no free list and no reclamation — once handed out, a frame is owned by
// its caller for the lifetime of the kernel.
package physmem

import (
	"fmt"
	"sync"

	"github.com/tews-code/operating-system-in-1000-lines/internal/addr"
)

// PageSize is the Sv32 frame size.
const PageSize = 4096

// Allocator bump-allocates page-aligned physical frames from
// [base, limit) against a backing byte slice that stands in for the
// "physical memory" region named __free_ram/__free_ram_end by the linker
// script in the original boot contract.
type Allocator struct {
	mu     sync.Mutex
	ram    []byte // backing store, indexed by (pa - base)
	base   addr.Pa
	limit  addr.Pa
	cursor addr.Pa
}

// New creates an allocator over a freshly zeroed region of size bytes,
// treating base as the physical address of the region's first byte. size
// must be a multiple of PageSize.
func New(base addr.Pa, size uint32) *Allocator {
	if !addr.IsAligned(size, PageSize) {
		panic("physmem: region size must be page aligned")
	}

	return &Allocator{
		ram:    make([]byte, size),
		base:   base,
		limit:  base + addr.Pa(size),
		cursor: base,
	}
}

// Alloc returns size bytes (rounded up to a whole number of pages) of
// zero-filled, page-aligned physical memory. It panics — the kernel-level
// equivalent of a fatal boot-time OOM — if the region is exhausted.
func (a *Allocator) Alloc(size uint32) addr.Pa {
	a.mu.Lock()
	defer a.mu.Unlock()

	aligned := addr.AlignUp(size, PageSize)

	next := a.cursor + addr.Pa(aligned)
	if next > a.limit {
		panic(fmt.Sprintf("physmem: out of memory: requested %d bytes, cursor %s, limit %s",
			size, a.cursor, a.limit))
	}

	frame := a.cursor
	a.cursor = next

	off := uint32(frame - a.base)
	clear(a.ram[off : off+aligned])

	return frame
}

// AllocPage allocates exactly one page.
func (a *Allocator) AllocPage() addr.Pa {
	return a.Alloc(PageSize)
}

// Bytes returns a mutable view of the count bytes backing pa. It panics if
// the range falls outside the region this allocator owns.
func (a *Allocator) Bytes(pa addr.Pa, count uint32) []byte {
	if pa < a.base || pa+addr.Pa(count) > a.limit {
		panic(fmt.Sprintf("physmem: address range [%s,+%d) outside region [%s,%s)", pa, count, a.base, a.limit))
	}

	off := uint32(pa - a.base)

	return a.ram[off : off+count]
}

// Cursor returns the current allocation cursor, exposed for the monotonicity
// invariant test in §8.
func (a *Allocator) Cursor() addr.Pa {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.cursor
}

// Base returns the start of the managed region (the simulated __free_ram).
func (a *Allocator) Base() addr.Pa { return a.base }

// Limit returns the end of the managed region (the simulated __free_ram_end).
func (a *Allocator) Limit() addr.Pa { return a.limit }
