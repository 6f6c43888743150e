package sbi_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tews-code/operating-system-in-1000-lines/internal/console"
	"github.com/tews-code/operating-system-in-1000-lines/internal/sbi"
)

// failingConsole always reports a write failure, to exercise PutChar's
// recoverable-error path (spec.md §4.1/§6/§7: the SBI error code must be
// returned verbatim, never swallowed).
type failingConsole struct{}

func (failingConsole) PutChar(b byte) error  { return errors.New("write failed") }
func (failingConsole) GetChar() (byte, bool) { return 0, false }
func (failingConsole) Close() error          { return nil }

func TestPutCharForwardsToConsole(t *testing.T) {
	con := console.NewFake()
	fw := sbi.New(con)

	require.Equal(t, 0, fw.PutChar('x'))
	require.Equal(t, []byte("x"), con.Out)
}

func TestPutCharReturnsErrorCodeOnConsoleFailure(t *testing.T) {
	fw := sbi.New(failingConsole{})

	require.Equal(t, sbi.ErrFailure, fw.PutChar('x'))
}

func TestGetCharForwardsToConsole(t *testing.T) {
	con := console.NewFake('q')
	fw := sbi.New(con)

	b, ok := fw.GetChar()
	require.True(t, ok)
	require.Equal(t, byte('q'), b)

	_, ok = fw.GetChar()
	require.False(t, ok)
}
