// Package kernel provides the fatal-error path every other package calls
// into when it hits a condition the real firmware would halt on: an
// unrecognized trap cause, an unknown syscall number, a disk handshake
// that doesn't match the expected device.
package kernel

import (
	"fmt"
	"log/slog"
)

// Fault describes an unrecoverable kernel condition.
type Fault struct {
	Cause   uint32
	Value   uint32
	PC      uint32
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("kernel panic: %s (scause=%#x stval=%#x sepc=%#x)", f.Message, f.Cause, f.Value, f.PC)
}

// Panic logs the fault at the Error level and panics with it, the software
// model's stand-in for halting the hart. It never returns.
func Panic(log *slog.Logger, f *Fault) {
	log.Error("unrecoverable fault", "cause", f.Cause, "stval", f.Value, "sepc", f.PC, "message", f.Message)
	panic(f)
}
