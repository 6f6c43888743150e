// Package sv32 implements the two-level RISC-V Sv32 page table used for
// every process address space: a root table indexed by the high 10 bits of
// the virtual address (VPN1), each entry pointing to a leaf table indexed by
// the next 10 bits (VPN0), each leaf entry pointing to a 4 KiB frame.
package sv32

import (
	"fmt"
	"unsafe"

	"github.com/tews-code/operating-system-in-1000-lines/internal/addr"
	"github.com/tews-code/operating-system-in-1000-lines/internal/physmem"
)

// PTEFlags are the permission bits of a page table entry.
type PTEFlags uint32

const (
	V PTEFlags = 1 << 0 // Valid
	R PTEFlags = 1 << 1 // Readable
	W PTEFlags = 1 << 2 // Writable
	X PTEFlags = 1 << 3 // Executable
	U PTEFlags = 1 << 4 // User accessible

	RWX = R | W | X
)

const entriesPerTable = 1024

// PageTable is a single level of the two-level Sv32 page table, 1024
// 32-bit entries.
type PageTable struct {
	Entries [entriesPerTable]uint32
}

func vpn1(va addr.Va) uint32 { return uint32(va) >> 22 & 0x3FF }
func vpn0(va addr.Va) uint32 { return uint32(va) >> 12 & 0x3FF }

func ppn(pa addr.Pa) uint32 { return uint32(pa) / physmem.PageSize }

func ptePa(pte uint32) addr.Pa { return addr.Pa((pte >> 10) * physmem.PageSize) }

// MapPage installs a mapping from va to pa with the given flags, allocating
// a leaf table from alloc if the root entry for va's VPN1 is absent. Both
// addresses must be page aligned.
func MapPage(alloc *physmem.Allocator, root *PageTable, va addr.Va, pa addr.Pa, flags PTEFlags) {
	if !addr.IsAligned(uint32(va), physmem.PageSize) {
		panic(fmt.Sprintf("sv32: unaligned vaddr %s", va))
	}

	if !addr.IsAligned(uint32(pa), physmem.PageSize) {
		panic(fmt.Sprintf("sv32: unaligned paddr %s", pa))
	}

	i1 := vpn1(va)

	if root.Entries[i1]&uint32(V) == 0 {
		leafPa := alloc.AllocPage()
		root.Entries[i1] = ppn(leafPa)<<10 | uint32(V)
	}

	leaf := leafTable(alloc, root.Entries[i1])
	leaf.Entries[vpn0(va)] = ppn(pa)<<10 | uint32(flags) | uint32(V)
}

// leafTable resolves the leaf PageTable referenced by a root entry, viewing
// the allocator's backing bytes as a *PageTable the same way the physical
// frame is directly addressable in the real kernel (identity-mapped
// kernel memory).
func leafTable(alloc *physmem.Allocator, rootEntry uint32) *PageTable {
	leafPa := ptePa(rootEntry)
	bytes := alloc.Bytes(leafPa, uint32(physmem.PageSize))

	return (*PageTable)(unsafe.Pointer(&bytes[0]))
}

// Walk translates va through root, returning the mapped physical address
// and the entry's flags. ok is false if no mapping exists.
func Walk(alloc *physmem.Allocator, root *PageTable, va addr.Va) (pa addr.Pa, flags PTEFlags, ok bool) {
	i1 := vpn1(va)
	if root.Entries[i1]&uint32(V) == 0 {
		return 0, 0, false
	}

	leaf := leafTable(alloc, root.Entries[i1])
	entry := leaf.Entries[vpn0(va)]

	if entry&uint32(V) == 0 {
		return 0, 0, false
	}

	off := addr.Pa(uint32(va) & uint32(physmem.PageSize-1))

	return ptePa(entry) + off, PTEFlags(entry&0x3FF) &^ V, true
}
