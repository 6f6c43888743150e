package klog_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tews-code/operating-system-in-1000-lines/internal/klog"
)

func TestDefaultFormatsLevelMessageAndAttrsAsBlocks(t *testing.T) {
	var buf bytes.Buffer
	log := klog.Default(&buf)

	log.Error("unrecoverable fault", "cause", 8, "sepc", "0x1000")

	out := buf.String()
	require.Contains(t, out, "LEVEL : ERROR")
	require.Contains(t, out, "MSG : unrecoverable fault")
	require.Contains(t, out, "cause : 8")
	require.Contains(t, out, "sepc : 0x1000")
}

func TestLevelGatesRecordsBelowThreshold(t *testing.T) {
	prev := klog.Level.Level()
	defer klog.Level.Set(prev)

	var buf bytes.Buffer
	log := klog.Default(&buf)

	klog.Level.Set(1) // above Info, below Warn
	log.Info("should not appear")
	require.Empty(t, buf.String())

	log.Warn("should appear")
	require.Contains(t, buf.String(), "should appear")
}
