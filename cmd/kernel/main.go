// Command kernel is AtomicOS's entry point: parse the Multiboot2 info
// structure GRUB leaves in %rbx, assemble a BootConfig, wire C1-C4
// together, mount RAMFS at "/", spawn init, and fall into the idle
// loop. Grounded on mazboot's
// kernel.go/scheduler_bootstrap.go split between "parse what the
// loader handed us" and "hand off to the scheduler."
package main

import (
	"os"

	"go.uber.org/zap"

	"github.com/atomicos/atomicos/internal/arch"
	"github.com/atomicos/atomicos/internal/console"
	"github.com/atomicos/atomicos/internal/klog"
	"github.com/atomicos/atomicos/internal/memory"
	"github.com/atomicos/atomicos/internal/proc"
	"github.com/atomicos/atomicos/internal/ramfs"
	"github.com/atomicos/atomicos/internal/sched"
	"github.com/atomicos/atomicos/internal/syscalls"
	"github.com/atomicos/atomicos/internal/vfs"
)

// multibootInfoPtr is filled in by the boot trampoline (outside this
// tree, same as mazboot's entry assembly) before jump into main.
// It is a var rather than a main argument because the real
// calling convention hands it in %rbx, not on the Go call stack.
var multibootInfoPtr []byte

func main() {
	vga := console.NewVGAWriter()
	serial := console.NewSerialWriter(os.Stdout)
	out := console.NewMultiWriter(vga, serial)
	logger := klog.NewFromConsole(out)
	defer logger.Sync() //nolint:errcheck

	cfg := DefaultBootConfig()
	if multibootInfoPtr != nil {
		if err := parseMultiboot2(multibootInfoPtr, &cfg); err != nil {
			logger.Warn("multiboot2 parse failed, using fallback memory map")
			cfg.Regions = []memory.Region{{Base: 1 << 20, Length: 64 * 1024 * 1024}}
		}
	} else {
		// No real loader handed off control (this binary was invoked
		// directly, e.g. under go test's build tooling): fall back to a
		// fixed-size simulated arena so the rest of boot still runs.
		cfg.Regions = []memory.Region{{Base: 1 << 20, Length: 64 * 1024 * 1024}}
	}

	m, fa := bootMemory(cfg)
	ic, mmu, sw := arch.NewNullInterrupts(), &arch.NullMMU{}, &arch.NullSwitcher{}
	tss := &arch.TSS{}

	idleRoot, err := fa.AllocZeroedFrame(m)
	if err != nil {
		logger.Fatal("failed to allocate idle address space", zap.Error(err))
	}
	scheduler := sched.New(ic, mmu, sw, tss, m, fa, idleRoot)

	rfs := ramfs.New()
	if err := rfs.Seed(); err != nil {
		logger.Fatal("failed to seed ramfs", zap.Error(err))
	}
	fs := vfs.New()
	fs.Mount("/", rfs)

	dispatcher := syscalls.NewDispatcher(scheduler, fs, m)
	klog.WireUnknownSyscallLogging()

	initRoot, err := memory.CreateNewPageTable(m, fa, idleRoot)
	if err != nil {
		logger.Fatal("failed to build init's address space", zap.Error(err))
	}
	initProc := scheduler.Spawn("init", initRoot)
	installConsoleFD(initProc, out)

	logger.Info("boot complete, handing off to scheduler")
	idleLoop(scheduler, dispatcher)
}

// bootMemory builds the simulated physical RAM arena and frame
// allocator from the regions BootConfig collected. On real hardware
// the Machine's backing array would instead be a view over actual
// physical memory; internal/memory's Machine abstraction exists
// precisely so C1's algorithms don't know the difference (see its
// package doc).
func bootMemory(cfg BootConfig) (*memory.Machine, *memory.FrameAllocator) {
	var top uintptr
	for _, r := range cfg.Regions {
		if end := uintptr(r.Base) + r.Length; end > top {
			top = end
		}
	}
	m := memory.NewMachine(top)
	fa := memory.NewFrameAllocator(cfg.Regions)
	return m, fa
}

// installConsoleFD wires fd 0/1/2 (stdin/stdout/stderr, by convention)
// to the same Console open-file so init's earliest writes reach the
// boot console before it has had a chance to open anything itself.
func installConsoleFD(p *proc.Process, out console.Writer) {
	c := console.New(out, os.Stdin)
	for i := 0; i < 3; i++ {
		if _, err := p.FDs.Install(proc.NewHandle(proc.NewConsoleFile(c))); err != nil {
			break
		}
	}
}

// idleLoop is pid 0's body: yield to whatever is runnable, halt when
// nothing is (spec.md §4.3 "Suspension points": "hlt in idle paths").
// dispatcher itself is invoked from the int 0x80 trap gate, which lives
// in the out-of-tree assembly alongside asmHalt below, not from here;
// it's threaded through so that gate has something to call into.
func idleLoop(s *sched.Scheduler, _ *syscalls.Dispatcher) {
	for {
		s.Yield()
		asmHalt()
	}
}

//go:noescape
func asmHalt()
