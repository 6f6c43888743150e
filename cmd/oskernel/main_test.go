package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tews-code/operating-system-in-1000-lines/internal/bootcfg"
)

const bootTimeout = 5 * time.Second

func writeManifest(t *testing.T, diskPath string, processes ...string) string {
	t.Helper()

	body := "free_ram_pages: 64\nkernel_base: 0x80000000\ndisk_image_path: \"" + diskPath +
		"\"\ndisk_image_sectors: 32\nprocesses:\n"
	for _, p := range processes {
		body += "  - " + p + "\n"
	}

	path := filepath.Join(t.TempDir(), "boot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	return path
}

// TestRunTerminatesOnceBothDemoProcessesExit boots the two-process,
// byte-printing demonstration from spec.md §8 scenario 2 and asserts the
// whole run reaches completion on its own — i.e. the scheduler keeps
// cycling both processes through to their bounded exit, the idle process
// never gets stuck holding the only runnable slot, and the boot harness's
// wait-for-completion goroutine unblocks once they're both Exited.
func TestRunTerminatesOnceBothDemoProcessesExit(t *testing.T) {
	diskPath := filepath.Join(t.TempDir(), "disk.img")
	manifest := writeManifest(t, diskPath, "echo-a", "echo-b")

	cfg, err := bootcfg.Load(manifest)
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	done := make(chan error, 1)
	go func() { done <- run(cfg, log) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(bootTimeout):
		t.Fatal("run did not complete within timeout")
	}

	_, err = os.Stat(diskPath)
	require.NoError(t, err, "run should persist the disk image on a clean exit")
}

// TestRunWithOnlyShellBlocksUntilInterrupted exercises the design
// documented for a shell-only boot (DESIGN.md): the shell's GETCHAR loop
// never sees input from a scripted, empty console and never exits, so
// run must not return on its own — it would be a bug for the kernel to
// exit as soon as the shell yields waiting on its first keystroke.
func TestRunWithOnlyShellBlocksUntilInterrupted(t *testing.T) {
	diskPath := filepath.Join(t.TempDir(), "disk.img")
	manifest := writeManifest(t, diskPath, "shell")

	cfg, err := bootcfg.Load(manifest)
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	done := make(chan error, 1)
	go func() { done <- run(cfg, log) }()

	select {
	case err := <-done:
		t.Fatalf("run returned early with err=%v; a shell with no queued input should block", err)
	case <-time.After(200 * time.Millisecond):
		// still running, as expected; the goroutine is abandoned when the
		// test process exits.
	}
}
