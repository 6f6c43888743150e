package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/tews-code/operating-system-in-1000-lines/internal/proc"
	"github.com/tews-code/operating-system-in-1000-lines/internal/sbi"
	"github.com/tews-code/operating-system-in-1000-lines/internal/sched"
	"github.com/tews-code/operating-system-in-1000-lines/internal/userland"
)

// idleBody is the kernel's PID-0 process: it never has real work, so it
// just keeps handing the CPU back, the software-model stand-in for `wfi`.
// The sleep keeps a fully idle system from pegging a host CPU core; real
// hardware would actually halt instead of spinning.
func idleBody(s *sched.Scheduler) func() {
	return func() {
		for {
			time.Sleep(time.Millisecond)
			s.Yield()
		}
	}
}

// kernelDemoProgram is the software-model equivalent of proc_a_entry /
// proc_b_entry in the original: code that runs kernel-resident rather than
// through a user-mode trap, so it calls the firmware console and the
// scheduler directly instead of issuing ecalls. label is written a full
// UTF-8 rune at a time, one PutChar per byte, matching the original's
// emoji banners. Unlike the original's infinite loop, this one marks its
// own PCB Exited after iterations rounds so a scripted run terminates;
// done is called once that happens, before the terminal Yield that parks
// this goroutine forever (the scheduler will never select an Exited PCB
// again, spec.md §9).
func kernelDemoProgram(pcb *proc.PCB, label string, iterations int, fw *sbi.Firmware, s *sched.Scheduler, done func()) func() {
	return func() {
		for i := 0; i < iterations; i++ {
			for _, b := range []byte(label) {
				fw.PutChar(b)
			}
			s.Yield()
		}

		pcb.State = proc.Exited
		done()
		s.Yield()
	}
}

// shellProgram is the embedded shell every kernel boots by default,
// grounded line-for-line on user/src/bin/shell.rs: it reads a command line
// byte by byte via GETCHAR (echoing each byte as it arrives), and dispatches
// on the trimmed line. "hello" is the original's only recognized command;
// "read <name>" and "write <name> <text...>" are added, per spec.md's
// supplementary file-syscall exercise, to drive READFILE/WRITEFILE.
func shellProgram(rt *userland.Runtime) {
	for {
		rt.PutByte('>')
		rt.PutByte(' ')

		line := readLine(rt)
		dispatch(rt, strings.TrimSpace(line))
	}
}

func readLine(rt *userland.Runtime) string {
	var b strings.Builder

	for {
		ch := rt.GetChar()
		if ch == '\r' {
			rt.PutByte('\r')
			rt.PutByte('\n')

			return b.String()
		}

		rt.PutByte(ch)
		b.WriteByte(ch)
	}
}

func dispatch(rt *userland.Runtime, line string) {
	switch {
	case line == "hello":
		writeLine(rt, "Hello world from the shell!")

	case strings.HasPrefix(line, "read "):
		name := strings.TrimSpace(strings.TrimPrefix(line, "read "))

		data, ok := rt.ReadFile(name)
		if !ok {
			writeLine(rt, fmt.Sprintf("read: no such file: %s", name))
			return
		}

		writeLine(rt, trimTrailingNUL(data))

	case strings.HasPrefix(line, "write "):
		rest := strings.TrimSpace(strings.TrimPrefix(line, "write "))

		name, text, ok := strings.Cut(rest, " ")
		if !ok {
			writeLine(rt, "write: usage: write <name> <text>")
			return
		}

		rt.WriteFile(name, []byte(text))
		writeLine(rt, fmt.Sprintf("wrote %d bytes to %s", len(text), name))

	default:
		writeLine(rt, fmt.Sprintf("unknown command: %s", line))
	}
}

func writeLine(rt *userland.Runtime, s string) {
	for _, b := range []byte(s) {
		rt.PutByte(b)
	}
	rt.PutByte('\r')
	rt.PutByte('\n')
}

func trimTrailingNUL(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}

	return string(b)
}
