// Package bootcfg loads the boot manifest cmd/oskernel reads in place of the
// linker-provided __free_ram/__free_ram_end/__kernel_base symbols the real
// firmware supplies: the simulated memory layout, the backing disk image
// path, and the set of processes to create on boot.
package bootcfg

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the parsed boot manifest.
type Config struct {
	// FreeRAMPages sizes the simulated __free_ram region, in 4 KiB pages.
	FreeRAMPages int `yaml:"free_ram_pages"`

	// KernelBase is the low end of the identity-mapped kernel region every
	// process's page table carries (spec.md §4.2 step 3).
	KernelBase uint32 `yaml:"kernel_base"`

	// DiskImagePath is the host file backing the VirtIO block device. It is
	// created, zero-filled to DiskImageSectors sectors, if it doesn't exist.
	DiskImagePath string `yaml:"disk_image_path"`

	// DiskImageSectors is the capacity of the simulated disk, in sectors. An
	// existing image file is truncated or zero-extended to this size.
	DiskImageSectors int `yaml:"disk_image_sectors"`

	// Processes lists the programs to create on boot, in order. Each name
	// must be one the boot harness's program registry recognizes.
	Processes []string `yaml:"processes"`

	// Interactive selects a real raw-mode terminal console instead of the
	// scripted buffer-backed one tests and unattended runs use.
	Interactive bool `yaml:"interactive"`
}

const (
	defaultFreeRAMPages     = 1024 // 4 MiB; the original's 64 MiB region is not needed here
	defaultKernelBase       = 0x80000000
	defaultDiskImageSectors = 128
)

// Load reads and parses the manifest at path, filling in defaults for any
// field the file omits.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bootcfg: %w", err)
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("bootcfg: %s: %w", path, err)
	}

	return cfg, nil
}

func parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.FreeRAMPages == 0 {
		c.FreeRAMPages = defaultFreeRAMPages
	}
	if c.KernelBase == 0 {
		c.KernelBase = defaultKernelBase
	}
	if c.DiskImagePath == "" {
		c.DiskImagePath = "disk.img"
	}
	if c.DiskImageSectors == 0 {
		c.DiskImageSectors = defaultDiskImageSectors
	}
	if len(c.Processes) == 0 {
		c.Processes = []string{"shell"}
	}
}

func (c *Config) validate() error {
	if c.FreeRAMPages <= 0 {
		return fmt.Errorf("free_ram_pages must be positive, got %d", c.FreeRAMPages)
	}
	if c.DiskImageSectors <= 0 {
		return fmt.Errorf("disk_image_sectors must be positive, got %d", c.DiskImageSectors)
	}
	return nil
}
