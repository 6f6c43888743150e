// Package console implements the hosted backend behind the simulated SBI
// debug console: a byte-at-a-time reader/writer that, on a real terminal,
// puts the host tty into raw mode so polling reads observe one byte at a
// time the same way the guest's legacy SBI console would.
package console

import (
	"bufio"
	"io"
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// Console is anything the SBI console shim can put a byte to or poll a byte
// from.
type Console interface {
	PutChar(b byte) error
	GetChar() (b byte, ok bool)
	Close() error
}

// Terminal is a Console backed by a real file descriptor, typically stdin
// and stdout of the hosting process. It switches the input fd to raw mode
// so reads are unbuffered and unechoed, matching the bare-metal UART the
// guest expects to be polling.
type Terminal struct {
	in     *os.File
	out    io.Writer
	reader *bufio.Reader
	state  *term.State
}

// NewTerminal puts in into raw mode and returns a Console that reads from in
// and writes to out. Callers must call Close to restore the terminal.
func NewTerminal(in *os.File, out io.Writer) (*Terminal, error) {
	state, err := term.MakeRaw(int(in.Fd()))
	if err != nil {
		return nil, err
	}

	return &Terminal{
		in:     in,
		out:    out,
		reader: bufio.NewReaderSize(in, 1),
		state:  state,
	}, nil
}

// PutChar writes a single byte to the console.
func (t *Terminal) PutChar(b byte) error {
	_, err := t.out.Write([]byte{b})
	return err
}

// GetChar polls for a single available byte without blocking. ok is false
// if no byte is currently available, matching the legacy SBI getchar
// convention of returning -1 on an empty console.
func (t *Terminal) GetChar() (byte, bool) {
	if t.reader.Buffered() == 0 {
		var pfd unix.PollFd
		pfd.Fd = int32(t.in.Fd())
		pfd.Events = unix.POLLIN

		n, err := unix.Poll([]unix.PollFd{pfd}, 0)
		if err != nil || n == 0 {
			return 0, false
		}
	}

	b, err := t.reader.ReadByte()
	if err != nil {
		return 0, false
	}

	return b, true
}

// Close restores the terminal to its original mode.
func (t *Terminal) Close() error {
	return term.Restore(int(t.in.Fd()), t.state)
}

// Fake is a buffer-backed Console for tests and scripted scenarios: writes
// accumulate in Out, and GetChar drains bytes queued into In in order.
type Fake struct {
	Out []byte
	In  []byte

	pos int
}

// NewFake returns a Fake preloaded with the bytes a test wants GetChar to
// return, in order.
func NewFake(in ...byte) *Fake {
	return &Fake{In: in}
}

func (f *Fake) PutChar(b byte) error {
	f.Out = append(f.Out, b)
	return nil
}

func (f *Fake) GetChar() (byte, bool) {
	if f.pos >= len(f.In) {
		return 0, false
	}

	b := f.In[f.pos]
	f.pos++

	return b, true
}

func (f *Fake) Close() error { return nil }
