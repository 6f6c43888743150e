// Package proc implements the process table: fixed-capacity process control
// blocks, per-process Sv32 address spaces, and the callee-saved-register
// context switch that resumes a process on its own kernel stack.
package proc

import (
	"fmt"

	"github.com/tews-code/operating-system-in-1000-lines/internal/addr"
	"github.com/tews-code/operating-system-in-1000-lines/internal/physmem"
	"github.com/tews-code/operating-system-in-1000-lines/internal/sv32"
)

// ProcsMax is the fixed process table capacity.
const ProcsMax = 8

// StackSize is the size in bytes of each PCB's kernel stack.
const StackSize = 8192

// UserBase is the fixed virtual base address of every user image.
const UserBase addr.Va = 0x01000000

// ScratchBase is a fixed one-page scratch region mapped U|R|W (not X) in
// every process, used by internal/userland to stage syscall name/buffer
// arguments the way a real user program would use stack-local arrays.
const ScratchBase addr.Va = 0x01100000

// calleeSavedWords is the register count spilled across a context switch:
// ra, s0..s11.
const calleeSavedWords = 13

// State is the lifecycle state of a process control block.
type State int

const (
	Unused State = iota
	Runnable
	Exited
)

func (s State) String() string {
	switch s {
	case Unused:
		return "unused"
	case Runnable:
		return "runnable"
	case Exited:
		return "exited"
	default:
		return "invalid"
	}
}

// PCB is a process control block. Stack holds the kernel stack; when the
// process is Runnable, SP points inside Stack at the saved callee-saved
// register frame a context switch will resume from.
type PCB struct {
	PID       int
	State     State
	SP        addr.Va
	PageTable *sv32.PageTable
	Stack     [StackSize]byte

	stackBase addr.Va // host-simulated address of Stack[0], for SP arithmetic
}

// Table is the fixed array of process control blocks.
type Table struct {
	procs [ProcsMax]PCB
	alloc *physmem.Allocator

	kernelBase addr.Pa
	freeRAMEnd addr.Pa

	// stackBase assigns each PCB's simulated kernel-stack base address;
	// real kernels get this for free from the PCB's own memory layout,
	// here the host allocator doesn't own Go-heap stacks, so each PCB is
	// assigned a disjoint simulated VA range to index into for SP math.
	nextStackBase addr.Va
}

// NewTable creates an empty process table. alloc is the physical allocator
// used to build per-process page tables and copy in user images; kernelBase
// and freeRAMEnd bound the identity-mapped kernel region every process's
// address space must contain (spec.md §4.2, §8).
func NewTable(alloc *physmem.Allocator, kernelBase, freeRAMEnd addr.Pa) *Table {
	return &Table{
		alloc:         alloc,
		kernelBase:    kernelBase,
		freeRAMEnd:    freeRAMEnd,
		nextStackBase: 0x90000000,
	}
}

// Get returns the PCB for pid, or nil if no PCB in the table currently has
// that PID.
func (t *Table) Get(pid int) *PCB {
	for i := range t.procs {
		if t.procs[i].State != Unused && t.procs[i].PID == pid {
			return &t.procs[i]
		}
	}

	return nil
}

// Index returns the slot index of the PCB for pid.
func (t *Table) Index(pid int) (int, bool) {
	for i := range t.procs {
		if t.procs[i].State != Unused && t.procs[i].PID == pid {
			return i, true
		}
	}

	return 0, false
}

// Slot returns a pointer to the PCB at the given table slot, regardless of
// state. Used by the scheduler's cyclic scan.
func (t *Table) Slot(i int) *PCB { return &t.procs[i] }

// UserEntryFn is the kernel thunk a freshly created process resumes into —
// the Go stand-in for the naked assembly `user_entry` that drops to U-mode.
// It is supplied so tests can observe exactly when a created process would
// first run, without a real CPU to fetch instructions from USER_BASE.
type UserEntryFn = uintptr

// CreateProcess allocates an unused PCB, builds its address space, and
// readies its kernel stack to be resumed by ContextSwitch. userEntry is the
// simulated resume address stored as `ra` in the callee-saved frame (in a
// real RISC-V boot this is the address of the `user_entry` thunk; here it is
// an opaque token the caller's scheduler associates with "run user code").
func (t *Table) CreateProcess(image []byte, userEntry UserEntryFn) (*PCB, error) {
	slot := -1

	for i := range t.procs {
		if t.procs[i].State == Unused {
			slot = i
			break
		}
	}

	if slot == -1 {
		panic(fmt.Sprintf("proc: no free process slots (max %d)", ProcsMax))
	}

	p := &t.procs[slot]
	*p = PCB{}
	p.stackBase = t.nextStackBase
	t.nextStackBase += addr.Va(StackSize)

	root := &sv32.PageTable{}
	t.identityMapKernel(root)
	t.mapUserImage(root, image)
	t.mapScratch(root)

	frameStart := StackSize - calleeSavedWords*4
	frame := CalleeSavedFrame{RA: uint32(userEntry)}
	frame.storeInto(p.Stack[frameStart:])

	p.PID = slot + 1
	p.State = Runnable
	p.PageTable = root
	p.SP = p.stackBase + addr.Va(frameStart)

	return p, nil
}

// identityMapKernel maps every 4 KiB page in [kernelBase, freeRAMEnd) to
// itself with R|W|X, so kernel code and data remain addressable once this
// process's satp is installed (spec.md §4.2 step 3, §8 kernel-mapping
// invariant).
func (t *Table) identityMapKernel(root *sv32.PageTable) {
	for pa := t.kernelBase; pa < t.freeRAMEnd; pa += physmem.PageSize {
		sv32.MapPage(t.alloc, root, addr.Va(pa), pa, sv32.RWX)
	}
}

// mapUserImage copies image into a freshly allocated, zero-padded region
// and maps it U|R|W|X starting at UserBase (spec.md §4.2 step 4, §8
// user-mapping invariant).
func (t *Table) mapUserImage(root *sv32.PageTable, image []byte) {
	size := addr.AlignUp(uint32(len(image)), physmem.PageSize)
	if size == 0 {
		return
	}

	base := t.alloc.Alloc(size)
	copy(t.alloc.Bytes(base, size), image)

	for off := uint32(0); off < size; off += physmem.PageSize {
		va := UserBase + addr.Va(off)
		pa := base + addr.Pa(off)
		sv32.MapPage(t.alloc, root, va, pa, sv32.U|sv32.RWX)
	}
}

// mapScratch maps one fresh zero-filled page at ScratchBase, U|R|W, for
// internal/userland to stage syscall arguments into.
func (t *Table) mapScratch(root *sv32.PageTable) {
	pa := t.alloc.AllocPage()
	sv32.MapPage(t.alloc, root, ScratchBase, pa, sv32.U|sv32.R|sv32.W)
}

// CalleeSavedFrame is the 13-word register image saved and restored across
// a context switch: ra, then s0 through s11.
type CalleeSavedFrame struct {
	RA                                                uint32
	S0, S1, S2, S3, S4, S5, S6, S7, S8, S9, S10, S11 uint32
}

func (f CalleeSavedFrame) storeInto(stack []byte) {
	words := f.words()
	for i, w := range words {
		putWord(stack[i*4:], w)
	}
}

func loadFrame(stack []byte) CalleeSavedFrame {
	var words [calleeSavedWords]uint32
	for i := range words {
		words[i] = getWord(stack[i*4:])
	}

	return CalleeSavedFrame{
		RA: words[0],
		S0: words[1], S1: words[2], S2: words[3], S3: words[4],
		S4: words[5], S5: words[6], S6: words[7], S7: words[8],
		S8: words[9], S9: words[10], S10: words[11], S11: words[12],
	}
}

func (f CalleeSavedFrame) words() [calleeSavedWords]uint32 {
	return [calleeSavedWords]uint32{
		f.RA, f.S0, f.S1, f.S2, f.S3, f.S4, f.S5, f.S6, f.S7, f.S8, f.S9, f.S10, f.S11,
	}
}

func putWord(b []byte, w uint32) {
	b[0] = byte(w)
	b[1] = byte(w >> 8)
	b[2] = byte(w >> 16)
	b[3] = byte(w >> 24)
}

func getWord(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// ContextSwitch is the software model of the naked `switch_context`
// assembly routine (spec.md §4.2). There is no live register file to save:
// cur's stack and SP are left as they are, and nothing is pushed for it.
// The callee-saved frame stored at next.SP is read and returned so a caller
// without a real CPU (i.e. every caller here) can observe what the process
// resumes with; next.SP is not changed and there is no program counter to
// update.
func ContextSwitch(cur, next *PCB) CalleeSavedFrame {
	frameStart := int(cur.SP - cur.stackBase)
	cur.SP = cur.stackBase + addr.Va(frameStart)

	nextStart := int(next.SP - next.stackBase)

	return loadFrame(next.Stack[nextStart : nextStart+calleeSavedWords*4])
}
