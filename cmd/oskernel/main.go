// Command oskernel boots the software-model kernel: it reads a boot
// manifest in place of linker-provided symbols, wires the physical
// allocator, the VirtIO block device and driver, the tar file store, the
// process table and scheduler, and the firmware console together, then
// creates the configured processes and drives them to completion (or,
// for an interactive shell, until interrupted).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tews-code/operating-system-in-1000-lines/internal/addr"
	"github.com/tews-code/operating-system-in-1000-lines/internal/bootcfg"
	"github.com/tews-code/operating-system-in-1000-lines/internal/console"
	"github.com/tews-code/operating-system-in-1000-lines/internal/fsimg"
	"github.com/tews-code/operating-system-in-1000-lines/internal/klog"
	"github.com/tews-code/operating-system-in-1000-lines/internal/physmem"
	"github.com/tews-code/operating-system-in-1000-lines/internal/proc"
	"github.com/tews-code/operating-system-in-1000-lines/internal/sbi"
	"github.com/tews-code/operating-system-in-1000-lines/internal/sched"
	"github.com/tews-code/operating-system-in-1000-lines/internal/trap"
	"github.com/tews-code/operating-system-in-1000-lines/internal/userland"
	"github.com/tews-code/operating-system-in-1000-lines/internal/virtioblk"
)

// demoIterations bounds the kernel-resident byte-printing demo processes
// (spec.md §8 scenario 2) so a non-interactive run terminates.
const demoIterations = 5

func main() {
	manifest := flag.String("boot", "boot.yaml", "path to the boot manifest")
	flag.Parse()

	log := klog.Default(os.Stderr)

	cfg, err := bootcfg.Load(*manifest)
	if err != nil {
		log.Error("failed to load boot manifest", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Error("kernel halted", "error", err)
		os.Exit(1)
	}
}

func run(cfg *bootcfg.Config, log *slog.Logger) error {
	const kernelSize = 64 * physmem.PageSize // bookkeeping region only; there is no compiled kernel image to identity-map here

	kernelBase := addr.Pa(cfg.KernelBase)
	freeRAMBase := kernelBase + kernelSize
	freeRAMEnd := freeRAMBase + addr.Pa(cfg.FreeRAMPages)*physmem.PageSize

	alloc := physmem.New(freeRAMBase, uint32(cfg.FreeRAMPages)*physmem.PageSize)
	procs := proc.NewTable(alloc, kernelBase, freeRAMEnd)
	s := sched.New(procs)

	disk, err := loadDiskImage(cfg)
	if err != nil {
		return err
	}

	dev := virtioblk.NewDevice(alloc, disk)

	drv := virtioblk.Init(dev, alloc, log)

	fs, err := fsimg.Init(drv, log)
	if err != nil {
		return fmt.Errorf("fsimg: init: %w", err)
	}

	con, closeConsole, err := openConsole(cfg)
	if err != nil {
		return err
	}
	defer closeConsole()

	hart := &trap.Hart{
		Log:   log,
		Procs: procs,
		Sched: s,
		FW:    sbi.New(con),
		FS:    fs,
		Dev:   drv,
		Alloc: alloc,
	}

	runner := NewRunner(hart, procs)

	var wg sync.WaitGroup

	// The shell never exits on its own, so its presence holds wg open for
	// the lifetime of the run the same way a real kernel's shell session
	// keeps the machine "up" until it is powered off (Ctrl-C below, or an
	// external signal outside interactive mode). A boot manifest with only
	// the demo processes has no such permanent holder and terminates once
	// they both exit.
	if containsString(cfg.Processes, "shell") {
		wg.Add(1)
	}

	if err := spawnProcesses(cfg, hart, runner, alloc, &wg); err != nil {
		return err
	}

	runner.Boot(idleBody(s))

	// persistDiskImage must run even on an interrupted supervise (the disk
	// buffer is already up to date from every WRITEFILE's synchronous
	// fsimg.Flush; only the host-file mirror of it would otherwise be
	// lost), so the interrupt error is returned only after the write.
	superviseErr := supervise(cfg, &wg)

	if err := persistDiskImage(cfg, disk); err != nil {
		return err
	}

	return superviseErr
}

// supervise runs the wait-for-completion goroutine alongside an optional
// interrupt-handling goroutine (active only for a real, interactive
// terminal console), propagating whichever returns first.
func supervise(cfg *bootcfg.Config, wg *sync.WaitGroup) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			return nil
		case <-ctx.Done():
			// an interrupt (or another goroutine's error) cancelled the
			// run; the shell's goroutine, if any, is left parked and
			// dies with the process.
			return nil
		}
	})

	g.Go(func() error {
		if !cfg.Interactive {
			return nil
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt)
		defer signal.Stop(sigCh)

		select {
		case <-sigCh:
			return fmt.Errorf("interrupted")
		case <-ctx.Done():
			return nil
		}
	})

	return g.Wait()
}

func openConsole(cfg *bootcfg.Config) (console.Console, func() error, error) {
	if !cfg.Interactive {
		return console.NewFake(), func() error { return nil }, nil
	}

	term, err := console.NewTerminal(os.Stdin, os.Stdout)
	if err != nil {
		return nil, nil, fmt.Errorf("console: %w", err)
	}

	return term, term.Close, nil
}

func loadDiskImage(cfg *bootcfg.Config) ([]byte, error) {
	disk := make([]byte, cfg.DiskImageSectors*virtioblk.SectorSize)

	data, err := os.ReadFile(cfg.DiskImagePath)
	switch {
	case err == nil:
		copy(disk, data)
	case os.IsNotExist(err):
		// fresh, all-zero image: fsimg.Init sees an all-zero ustar
		// terminator and starts with every File.InUse false.
	default:
		return nil, fmt.Errorf("disk image: %w", err)
	}

	return disk, nil
}

// persistDiskImage writes the in-memory disk image back to its backing
// file, the host-side stand-in for the block device retaining its state
// across a simulated reboot (spec.md §8 scenario 3).
func persistDiskImage(cfg *bootcfg.Config, disk []byte) error {
	if err := os.WriteFile(cfg.DiskImagePath, disk, 0o644); err != nil {
		return fmt.Errorf("disk image: persist: %w", err)
	}

	return nil
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}

	return false
}

func spawnProcesses(cfg *bootcfg.Config, hart *trap.Hart, runner *Runner, alloc *physmem.Allocator, wg *sync.WaitGroup) error {
	for _, name := range cfg.Processes {
		switch name {
		case "shell":
			if err := spawnShell(hart, runner, alloc); err != nil {
				return err
			}

		case "echo-a":
			if err := spawnDemo(hart, runner, "echo-a", "\U0001F408", wg); err != nil {
				return err
			}

		case "echo-b":
			if err := spawnDemo(hart, runner, "echo-b", "\U0001F415", wg); err != nil {
				return err
			}

		default:
			return fmt.Errorf("boot manifest: unknown process %q", name)
		}
	}

	return nil
}

// spawnShell creates the embedded shell as a genuine user-mode process: its
// program issues real syscalls through internal/userland, the software
// model's stand-in for ecall.
func spawnShell(hart *trap.Hart, runner *Runner, alloc *physmem.Allocator) error {
	pcb, err := hart.Procs.CreateProcess([]byte("shell"), 0)
	if err != nil {
		return fmt.Errorf("create shell process: %w", err)
	}

	rt := userland.New(syscallFor(hart), pcb, alloc)
	runner.Spawn(pcb.PID, func() { shellProgram(rt) })

	return nil
}

// spawnDemo creates one of the two byte-printing processes from spec.md §8
// scenario 2. These run kernel-resident, grounded on proc_a_entry /
// proc_b_entry in the original, which call the SBI console and yield_now
// directly rather than trapping through ecall.
func spawnDemo(hart *trap.Hart, runner *Runner, imageName, glyph string, wg *sync.WaitGroup) error {
	pcb, err := hart.Procs.CreateProcess([]byte(imageName), 0)
	if err != nil {
		return fmt.Errorf("create %s process: %w", imageName, err)
	}

	wg.Add(1)
	runner.Spawn(pcb.PID, kernelDemoProgram(pcb, glyph, demoIterations, hart.FW, hart.Sched, wg.Done))

	return nil
}

// syscallFor returns the Syscall function a shell process's Runtime issues
// ecalls through: a direct call into HandleSyscall, since this process's
// own goroutine is, by the Runner's baton protocol, the only one running
// kernel code at the moment it's invoked.
func syscallFor(hart *trap.Hart) userland.Syscall {
	return func(num, a0, a1, a2, a3 uint32) uint32 {
		f := &trap.Frame{A0: a0, A1: a1, A2: a2, A3: a3, A4: num}
		hart.HandleSyscall(f)

		return f.A0
	}
}
