// Package trap implements the trap entry point and syscall dispatch table:
// the software model of the single assembly trap vector every guest trap
// funnels through, and the handler it calls into.
package trap

import (
	"fmt"
	"log/slog"

	"golang.org/x/arch/riscv64/riscv64asm"

	"github.com/tews-code/operating-system-in-1000-lines/internal/addr"
	"github.com/tews-code/operating-system-in-1000-lines/internal/fsimg"
	"github.com/tews-code/operating-system-in-1000-lines/internal/kernel"
	"github.com/tews-code/operating-system-in-1000-lines/internal/physmem"
	"github.com/tews-code/operating-system-in-1000-lines/internal/proc"
	"github.com/tews-code/operating-system-in-1000-lines/internal/sbi"
	"github.com/tews-code/operating-system-in-1000-lines/internal/sched"
	"github.com/tews-code/operating-system-in-1000-lines/internal/sv32"
	"github.com/tews-code/operating-system-in-1000-lines/internal/virtioblk"
)

// Frame is the 31-word trap frame spilled onto the kernel stack in the
// declared register order: ra, gp, tp, t0-t6, a0-a7, s0-s11, then the
// user sp at word index 30.
type Frame struct {
	RA, GP, TP                                     uint32
	T0, T1, T2, T3, T4, T5, T6                      uint32
	A0, A1, A2, A3, A4, A5, A6, A7                  uint32
	S0, S1, S2, S3, S4, S5, S6, S7, S8, S9, S10, S11 uint32
	SP                                              uint32
}

// Syscall numbers recognized by HandleSyscall.
const (
	SysPutByte   = 1
	SysGetChar   = 2
	SysExit      = 3
	SysReadFile  = 4
	SysWriteFile = 5
)

const notFound = ^uint32(0)

// Hart bundles everything a trap handler needs to service a syscall: the
// process table and scheduler it mutates, the firmware console it can
// ecall into, the file store and block driver READFILE/WRITEFILE talk to,
// and the allocator used to translate user pointers.
type Hart struct {
	Log   *slog.Logger
	Procs *proc.Table
	Sched *sched.Scheduler
	FW    *sbi.Firmware
	FS    *fsimg.Store
	Dev   *virtioblk.Driver
	Alloc *physmem.Allocator

	// Image is the raw instruction bytes at the faulting sepc, when known,
	// used only to enrich an unrecognized-trap panic message.
	Image []byte
}

// HandleTrap is the software model of handle_trap: scause==8 (ecall from
// U-mode) dispatches to HandleSyscall and advances sepc by 4; anything
// else is an unrecoverable fault.
func (h *Hart) HandleTrap(scause, stval, sepc uint32, f *Frame) (nextSepc uint32) {
	if scause == 8 {
		h.HandleSyscall(f)
		return sepc + 4
	}

	kernel.Panic(h.Log, &kernel.Fault{
		Cause:   scause,
		Value:   stval,
		PC:      sepc,
		Message: h.describeFault(sepc),
	})

	panic("unreachable")
}

// describeFault disassembles the faulting instruction when the image bytes
// cover sepc, falling back to a raw hex dump of the word when it does not
// decode. Without image bytes, or with sepc outside them, the message
// carries no instruction detail.
func (h *Hart) describeFault(sepc uint32) string {
	if h.Image == nil {
		return "unexpected trap"
	}

	off := int(sepc) - int(proc.UserBase)
	if off < 0 || off+4 > len(h.Image) {
		return "unexpected trap (sepc outside known image)"
	}

	inst, err := riscv64asm.Decode(h.Image[off : off+4])
	if err != nil {
		return fmt.Sprintf("unexpected trap (undecodable instruction word %x)", h.Image[off:off+4])
	}

	return fmt.Sprintf("unexpected trap at instruction %q", inst.String())
}

// HandleSyscall implements the 5-entry syscall table, reading the syscall
// number from A4 and arguments from A0..A3, and writing the return value
// back into A0.
func (h *Hart) HandleSyscall(f *Frame) {
	switch f.A4 {
	case SysPutByte:
		f.A0 = uint32(int32(h.FW.PutChar(byte(f.A0))))

	case SysGetChar:
		for {
			if b, ok := h.FW.GetChar(); ok {
				f.A0 = uint32(b)
				return
			}
			h.Sched.Yield()
		}

	case SysExit:
		cur := h.Procs.Get(h.Sched.Current())
		cur.State = proc.Exited
		h.Sched.Yield()
		panic("trap: exited process was resumed")

	case SysReadFile:
		h.handleReadFile(f)

	case SysWriteFile:
		h.handleWriteFile(f)

	default:
		kernel.Panic(h.Log, &kernel.Fault{
			Cause:   8,
			Value:   f.A4,
			Message: fmt.Sprintf("unknown syscall number %d", f.A4),
		})
	}
}

func (h *Hart) handleReadFile(f *Frame) {
	name := h.readUserString(addr.Va(f.A0), f.A1)

	file := h.FS.Lookup(name)
	if file == nil {
		f.A0 = notFound
		return
	}

	n := file.Size
	if uint32(n) > f.A3 {
		n = int(f.A3)
	}

	// buf is the full buf_len, zero-filled, with only the real file bytes
	// overwritten: the destination may be a reused scratch page still
	// holding a previous operation's bytes past file.Size, and a0 reports
	// buf_len regardless of how much of it is real data (spec.md §4.1), so
	// the tail written back must be zero, not whatever was left there.
	buf := make([]byte, f.A3)
	copy(buf, file.Data[:n])

	h.writeUser(addr.Va(f.A2), buf)
	f.A0 = f.A3
}

func (h *Hart) handleWriteFile(f *Frame) {
	name := h.readUserString(addr.Va(f.A0), f.A1)
	data := h.readUser(addr.Va(f.A2), f.A3)

	if _, err := h.FS.Create(name, data); err != nil {
		kernel.Panic(h.Log, &kernel.Fault{Message: err.Error()})
	}

	if err := h.FS.Flush(h.Dev); err != nil {
		kernel.Panic(h.Log, &kernel.Fault{Message: err.Error()})
	}

	f.A0 = f.A3
}

func (h *Hart) readUserString(va addr.Va, n uint32) string {
	return string(h.readUser(va, n))
}

// readUser resolves n bytes starting at the current process's va through
// its page table, walking across page boundaries as needed. sstatus.SUM
// is assumed set, as it is by user_entry in the real boot sequence, so
// these accesses are permitted by construction here.
func (h *Hart) readUser(va addr.Va, n uint32) []byte {
	p := h.Procs.Get(h.Sched.Current())
	out := make([]byte, 0, n)

	remaining := n
	cur := va

	for remaining > 0 {
		pa, _, ok := sv32.Walk(h.Alloc, p.PageTable, cur)
		if !ok {
			kernel.Panic(h.Log, &kernel.Fault{Message: fmt.Sprintf("unmapped user address %s", cur)})
		}

		pageOff := uint32(cur) % physmem.PageSize
		chunk := uint32(physmem.PageSize) - pageOff
		if chunk > remaining {
			chunk = remaining
		}

		out = append(out, h.Alloc.Bytes(pa, chunk)...)
		cur += addr.Va(chunk)
		remaining -= chunk
	}

	return out
}

func (h *Hart) writeUser(va addr.Va, data []byte) {
	p := h.Procs.Get(h.Sched.Current())

	remaining := uint32(len(data))
	cur := va
	written := uint32(0)

	for remaining > 0 {
		pa, _, ok := sv32.Walk(h.Alloc, p.PageTable, cur)
		if !ok {
			kernel.Panic(h.Log, &kernel.Fault{Message: fmt.Sprintf("unmapped user address %s", cur)})
		}

		pageOff := uint32(cur) % physmem.PageSize
		chunk := uint32(physmem.PageSize) - pageOff
		if chunk > remaining {
			chunk = remaining
		}

		copy(h.Alloc.Bytes(pa, chunk), data[written:written+chunk])
		cur += addr.Va(chunk)
		written += chunk
		remaining -= chunk
	}
}
