// Package klog provides the kernel's structured logging output.
//
// It wraps log/slog the same way a real kernel wraps a ring-buffer console:
// one writer, one format, one place to change verbosity.
package klog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Level controls the minimum severity written by the default logger. It can
// be changed at runtime, e.g. by a debug command.
var Level = &slog.LevelVar{}

// Default returns the package-wide logger, writing to w in the kernel's
// block format.
func Default(w io.Writer) *slog.Logger {
	return slog.New(NewHandler(w))
}

// Handler formats records as a sequence of "KEY : VALUE" lines, one record
// per block, trailing a blank line.
type Handler struct {
	mut *sync.Mutex
	out io.Writer
	lvl *slog.LevelVar
}

// NewHandler builds a Handler writing to w, gated by the package Level.
func NewHandler(w io.Writer) *Handler {
	return &Handler{mut: new(sync.Mutex), out: w, lvl: Level}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.lvl.Level()
}

func (h *Handler) Handle(_ context.Context, rec slog.Record) error {
	buf := bytes.NewBuffer(make([]byte, 0, 256))

	fmt.Fprintf(buf, "%6s : %s\n", "LEVEL", rec.Level.String())
	fmt.Fprintf(buf, "%6s : %s\n", "MSG", rec.Message)

	rec.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(buf, "%6s : %v\n", a.Key, a.Value.Any())
		return true
	})

	fmt.Fprintln(buf)

	h.mut.Lock()
	defer h.mut.Unlock()

	_, err := h.out.Write(buf.Bytes())

	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return h
}
