// Package userland implements the user-mode runtime every simulated
// process links against: thin syscall stubs expressed as Go closures over
// an injected Syscall function, the software-model stand-in for the
// original's ecall-based sys_call trap stub. A simulated process is a Go
// closure rather than compiled RISC-V code, so there is no real `ecall` —
// Syscall plays that role.
package userland

import (
	"fmt"

	"github.com/tews-code/operating-system-in-1000-lines/internal/addr"
	"github.com/tews-code/operating-system-in-1000-lines/internal/physmem"
	"github.com/tews-code/operating-system-in-1000-lines/internal/proc"
	"github.com/tews-code/operating-system-in-1000-lines/internal/sv32"
)

// Syscall issues one trap with the given syscall number and arguments and
// returns the value the kernel wrote back into a0.
type Syscall func(num, a0, a1, a2, a3 uint32) uint32

const (
	sysPutByte   = 1
	sysGetChar   = 2
	sysExit      = 3
	sysReadFile  = 4
	sysWriteFile = 5
)

const notFound = ^uint32(0)

const nameFieldSize = 100

// Runtime is the per-process handle a simulated user program runs
// against. It stages name/buffer syscall arguments into the process's
// scratch page the way a real user program would use stack-local arrays,
// since ReadFile/WriteFile pass pointers, not values, across the syscall
// boundary.
type Runtime struct {
	syscall Syscall
	pt      *sv32.PageTable
	alloc   *physmem.Allocator
}

// New returns a Runtime that issues syscalls via sc, staging pointer
// arguments through pcb's scratch page.
func New(sc Syscall, pcb *proc.PCB, alloc *physmem.Allocator) *Runtime {
	return &Runtime{syscall: sc, pt: pcb.PageTable, alloc: alloc}
}

// PutByte writes a single byte to the console.
func (r *Runtime) PutByte(b byte) {
	r.syscall(sysPutByte, uint32(b), 0, 0, 0)
}

// GetChar blocks (yielding inside the kernel) until a byte is available.
func (r *Runtime) GetChar() byte {
	return byte(r.syscall(sysGetChar, 0, 0, 0, 0))
}

// Exit terminates the calling process. It never returns.
func (r *Runtime) Exit() {
	r.syscall(sysExit, 0, 0, 0, 0)
	panic("userland: Exit returned")
}

// ReadFile returns a 1024-byte buffer holding the contents of name followed
// by zero padding, and true, or nil and false if no such file exists.
func (r *Runtime) ReadFile(name string) ([]byte, bool) {
	r.writeScratch(0, []byte(name))

	bufVA := proc.ScratchBase + nameFieldSize
	const bufCap = 1024

	n := r.syscall(sysReadFile, uint32(proc.ScratchBase), uint32(len(name)), uint32(bufVA), bufCap)
	if n == notFound {
		return nil, false
	}

	return r.readScratch(nameFieldSize, n), true
}

// WriteFile overwrites (or creates) name with data.
func (r *Runtime) WriteFile(name string, data []byte) {
	r.writeScratch(0, []byte(name))
	r.writeScratch(nameFieldSize, data)

	r.syscall(sysWriteFile, uint32(proc.ScratchBase), uint32(len(name)), uint32(proc.ScratchBase)+nameFieldSize, uint32(len(data)))
}

func (r *Runtime) writeScratch(off uint32, data []byte) {
	va := proc.ScratchBase + addr.Va(off)

	pa, _, ok := sv32.Walk(r.alloc, r.pt, va)
	if !ok {
		panic(fmt.Sprintf("userland: scratch page unmapped at %s", va))
	}

	copy(r.alloc.Bytes(pa, uint32(len(data))), data)
}

func (r *Runtime) readScratch(off, n uint32) []byte {
	va := proc.ScratchBase + addr.Va(off)

	pa, _, ok := sv32.Walk(r.alloc, r.pt, va)
	if !ok {
		panic(fmt.Sprintf("userland: scratch page unmapped at %s", va))
	}

	out := make([]byte, n)
	copy(out, r.alloc.Bytes(pa, n))

	return out
}
