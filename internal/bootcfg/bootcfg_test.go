package bootcfg_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tews-code/operating-system-in-1000-lines/internal/bootcfg"
)

func writeManifest(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "boot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	return path
}

func TestLoadFillsDefaultsWhenManifestOmitsFields(t *testing.T) {
	path := writeManifest(t, "kernel_base: 0x80000000\n")

	cfg, err := bootcfg.Load(path)
	require.NoError(t, err)
	require.Equal(t, 1024, cfg.FreeRAMPages)
	require.Equal(t, []string{"shell"}, cfg.Processes)
	require.Equal(t, "disk.img", cfg.DiskImagePath)
	require.Equal(t, 128, cfg.DiskImageSectors)
	require.False(t, cfg.Interactive)
}

func TestLoadHonorsExplicitFields(t *testing.T) {
	path := writeManifest(t, `
free_ram_pages: 256
disk_image_path: "test-disk.img"
disk_image_sectors: 32
processes:
  - shell
  - echo-a
  - echo-b
interactive: true
`)

	cfg, err := bootcfg.Load(path)
	require.NoError(t, err)
	require.Equal(t, 256, cfg.FreeRAMPages)
	require.Equal(t, "test-disk.img", cfg.DiskImagePath)
	require.Equal(t, 32, cfg.DiskImageSectors)
	require.Equal(t, []string{"shell", "echo-a", "echo-b"}, cfg.Processes)
	require.True(t, cfg.Interactive)
}

func TestLoadRejectsInvalidManifest(t *testing.T) {
	path := writeManifest(t, "free_ram_pages: -1\n")

	_, err := bootcfg.Load(path)
	require.Error(t, err)
}

func TestLoadReturnsErrorForMissingFile(t *testing.T) {
	_, err := bootcfg.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
