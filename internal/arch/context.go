// Package arch is the thin freestanding boundary beneath the core
// components: the saved CPU Context, the TSS RSP0 slot, and the MMU
// (CR3 load, TLB invalidation), InterruptController and Switcher
// interfaces, each with a software stand-in (NullMMU, NullInterrupts,
// NullSwitcher) for tests and host tools. Grounded on mazboot's mmu.go
// and exceptions.go, the hardware implementations of these interfaces
// live in cmd/kernel/hwarch.go as //go:nosplit Go wrappers around
// hand-written assembly that is not shipped in this tree (same as
// mazboot's own mmu.go and page.go, which call into an "asm" package
// whose .s sources live outside the retrieved tree). This package has
// no port I/O or int 0x80 gate code. Everything that can be expressed as
// plain data manipulation lives one layer up, in internal/memory and
// internal/sched, and is ordinary testable Go.
package arch

import "github.com/atomicos/atomicos/internal/memory"

// Context is the callee-saved register snapshot a context switch saves
// and restores: stack pointer, base pointer, the callee-saved
// general-purpose registers, and the instruction pointer to resume at.
// Matches spec.md §3's "CPU context" field and §4.3's context-switch
// primitive, which never touches caller-saved registers (the compiler
// already spilled those at the call site into yield_now, the same
// reasoning mazboot's goroutine.go gives for only saving what a Go
// function call wouldn't already have spilled).
type Context struct {
	RSP uint64
	RBP uint64
	RBX uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64
	RIP uint64
}

// TSS models the fields of the Task State Segment the scheduler
// actually touches: RSP0, the kernel stack pointer loaded on every
// Ring-3 -> Ring-0 transition. Must be refreshed before every dispatch
// (spec.md §4.3 Yield step 4; GLOSSARY "TSS RSP0").
type TSS struct {
	RSP0 uint64
}

// SetRSP0 updates the kernel stack pointer the CPU will load on the
// next privilege-level transition.
func (t *TSS) SetRSP0(top uint64) { t.RSP0 = top }

// MMU is the hardware boundary internal/sched drives once it has
// computed a new address-space root with internal/memory: load CR3,
// and flush the TLB for an unmapped/remapped page. Production code in
// cmd/kernel satisfies this with //go:nosplit asm-linked primitives;
// tests and host tooling satisfy it with a software fake (see
// NullMMU) so C1/C3's algorithms stay free of any real hardware
// dependency.
type MMU interface {
	LoadCR3(root memory.PhysAddr)
	ReadCR3() memory.PhysAddr
	FlushTLB(v memory.VirtAddr)
}

// NullMMU is a software MMU that just remembers the last loaded root.
// It performs no actual TLB invalidation (there is no real TLB to
// invalidate outside hardware or an emulator) and exists so
// internal/sched's process-lifecycle logic (fork/exec/exit) can be
// unit tested without any hardware or emulator in the loop.
type NullMMU struct {
	root memory.PhysAddr
}

func (n *NullMMU) LoadCR3(root memory.PhysAddr)     { n.root = root }
func (n *NullMMU) ReadCR3() memory.PhysAddr         { return n.root }
func (n *NullMMU) FlushTLB(memory.VirtAddr)         {}
