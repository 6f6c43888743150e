// Package sched implements the cooperative round-robin scheduler: a single
// hart, no preemption, no interrupts. A process keeps the CPU until it
// explicitly yields, directly or through a blocking syscall.
package sched

import (
	"fmt"

	"github.com/tews-code/operating-system-in-1000-lines/internal/proc"
)

// Scheduler tracks which PID is currently running and lazily creates the
// idle process (PID 0) on the first Yield; that first call makes idle
// current and returns without selecting another process.
type Scheduler struct {
	procs    *proc.Table
	idlePID  int
	current  int
	hasIdle  bool
	onSwitch func(prevPID, nextPID int)
}

// New creates a scheduler over procs. No process is current until the
// first Yield.
func New(procs *proc.Table) *Scheduler {
	return &Scheduler{procs: procs, current: -1}
}

// Current returns the PID of the presently running process.
func (s *Scheduler) Current() int { return s.current }

// SetOnSwitch registers fn to be called immediately after every real switch
// (never on a no-op yield), with the previous and newly current PIDs. A boot
// harness that gives each process a real goroutine uses this as the hand-off
// point a naked context switch would otherwise be: fn runs on the yielding
// goroutine's stack and is expected to park it until it is scheduled again.
func (s *Scheduler) SetOnSwitch(fn func(prevPID, nextPID int)) {
	s.onSwitch = fn
}

// Yield hands the CPU to the next runnable process, cycling through the
// table starting just after the current slot and skipping the idle PID
// unless nothing else is runnable. If the selected process is already
// current, Yield is a no-op.
func (s *Scheduler) Yield() {
	if !s.hasIdle {
		idle, err := s.procs.CreateProcess(nil, 0)
		if err != nil {
			panic(fmt.Sprintf("sched: failed to create idle process: %v", err))
		}

		idx, ok := s.procs.Index(idle.PID)
		if !ok {
			panic("sched: idle process vanished immediately after creation")
		}
		s.procs.Slot(idx).PID = 0

		s.idlePID = 0
		s.hasIdle = true
		s.current = 0

		return
	}

	curIdx, ok := s.procs.Index(s.current)
	if !ok {
		panic(fmt.Sprintf("sched: current pid %d missing from process table", s.current))
	}

	next := s.idlePID
	for i := 1; i <= proc.ProcsMax; i++ {
		idx := (curIdx + i) % proc.ProcsMax
		p := s.procs.Slot(idx)

		if p.State == proc.Runnable && p.PID != s.idlePID {
			next = p.PID
			break
		}
	}

	if next == s.current {
		return
	}

	cur := s.procs.Get(s.current)
	nxt := s.procs.Get(next)

	// sfence.vma, satp = SATP_SV32|root_pa, sfence.vma, sscratch = next
	// stack top: all no-ops in this software model, since there is no
	// real MMU or trap vector to point at nxt.PageTable/nxt.Stack — the
	// invariant they enforce (the running process's page table and
	// kernel stack match CURRENT_PROC) holds by construction here.
	proc.ContextSwitch(cur, nxt)
	prev := s.current
	s.current = next

	if s.onSwitch != nil {
		s.onSwitch(prev, next)
	}
}
