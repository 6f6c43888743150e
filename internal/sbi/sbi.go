// Package sbi models the M-mode firmware boundary the kernel ecalls into:
// the legacy SBI console extension, reduced to the two calls this kernel
// actually issues. There is no real M-mode here; SBI is a Go interface so
// the trap handler can ecall into either a hosted terminal or a scripted
// test double without caring which.
package sbi

import "github.com/tews-code/operating-system-in-1000-lines/internal/console"

// Firmware is the simulated SBI console extension (legacy EIDs 0x01/0x02).
type Firmware struct {
	con console.Console
}

// ErrFailure is the legacy SBI error code returned by PutChar when the
// underlying console reports a write failure.
const ErrFailure = -1

// New wraps con as the SBI firmware backing a kernel's ecalls.
func New(con console.Console) *Firmware {
	return &Firmware{con: con}
}

// PutChar is the legacy console_putchar SBI call: it returns 0 on success
// or the SBI error code on failure, the convention spec.md §4.1/§6 requires
// HandleSyscall to surface in a0 verbatim.
func (f *Firmware) PutChar(b byte) int {
	if err := f.con.PutChar(b); err != nil {
		return ErrFailure
	}

	return 0
}

// GetChar is the legacy console_getchar SBI call. ok is false exactly when
// the real firmware would have returned -1 (no byte ready).
func (f *Firmware) GetChar() (b byte, ok bool) {
	return f.con.GetChar()
}
