package main

import (
	"sync"

	"github.com/tews-code/operating-system-in-1000-lines/internal/proc"
	"github.com/tews-code/operating-system-in-1000-lines/internal/trap"
)

// Runner gives every created process a real goroutine and hands control
// between them on each scheduler switch. Go has no raw stack-switching
// primitive, so this is the software model's substitute for the naked
// context-switch routine's register-level resume: an unbuffered "baton"
// channel per PID plays the role satp/sscratch installation plays on real
// hardware, and internal/sched's OnSwitch hook is the single point where
// control actually changes hands.
type Runner struct {
	hart  *trap.Hart
	procs *proc.Table

	mu    sync.Mutex
	baton map[int]chan struct{}
}

// NewRunner wires itself into hart.Sched as the switch hook.
func NewRunner(hart *trap.Hart, procs *proc.Table) *Runner {
	r := &Runner{
		hart:  hart,
		procs: procs,
		baton: make(map[int]chan struct{}),
	}
	hart.Sched.SetOnSwitch(r.onSwitch)

	return r
}

func (r *Runner) batonFor(pid int) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.baton[pid]
	if !ok {
		ch = make(chan struct{})
		r.baton[pid] = ch
	}

	return ch
}

// onSwitch runs on the yielding process's own goroutine: it wakes the newly
// current process and parks the caller until it is scheduled again. Because
// it runs synchronously inside sched.Yield, every process's own call to
// Yield (direct, or via the GETCHAR retry loop in internal/trap) chains
// naturally into the next hand-off without a separate driver loop.
func (r *Runner) onSwitch(prevPID, nextPID int) {
	r.batonFor(nextPID) <- struct{}{}
	<-r.batonFor(prevPID)
}

// Spawn starts body on its own goroutine, parked until pid is first
// scheduled. body is expected to run forever, or to mark its PCB Exited
// and then yield once more (through the EXIT syscall for a user process,
// or directly for a kernel-resident one, as kernelDemoProgram does); that
// final yield leaves its goroutine parked forever, the goroutine-level
// mirror of the leaked page table and frames an Exited PCB carries
// (spec.md §9).
func (r *Runner) Spawn(pid int, body func()) {
	baton := r.batonFor(pid)

	go func() {
		<-baton
		body()
	}()
}

// Boot starts idle (PID 0) on a fresh goroutine. Every other process must
// already be Spawn'd (and so already parked waiting for its first baton)
// before Boot runs: idle's first Yield call only lazily creates PID 0 and
// returns without switching; its next Yield call is the first real switch,
// at which point onSwitch needs a goroutine already running to park — idle's
// own, running directly here rather than through Spawn, since idle didn't
// exist a moment before and so has no prior goroutine to wait on a baton.
func (r *Runner) Boot(idle func()) {
	go idle()
}
