package kernel_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tews-code/operating-system-in-1000-lines/internal/kernel"
)

func TestPanicLogsThenPanicsWithTheFault(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	f := &kernel.Fault{Cause: 13, Value: 0x1234, PC: 0x8000, Message: "bad access"}

	defer func() {
		r := recover()
		require.Equal(t, f, r)
		require.Contains(t, buf.String(), "bad access")
	}()

	kernel.Panic(log, f)
}

func TestFaultErrorIncludesAllThreeRegisters(t *testing.T) {
	f := &kernel.Fault{Cause: 8, Value: 1, PC: 2, Message: "unknown syscall"}

	require.Contains(t, f.Error(), "unknown syscall")
	require.Contains(t, f.Error(), "scause=0x8")
	require.Contains(t, f.Error(), "stval=0x1")
	require.Contains(t, f.Error(), "sepc=0x2")
}
