package main

import (
	"github.com/atomicos/atomicos/internal/arch"
	"github.com/atomicos/atomicos/internal/memory"
)

// hwMMU, hwSwitcher, and hwInterrupts are the real (non-Null)
// arch.MMU/Switcher/InterruptController implementations: every method
// is a thin, //go:nosplit wrapper that falls straight through to
// assembly, the same division of labor mazboot's mmu.go and
// exceptions.go use (a tiny Go method per primitive, the actual
// CR3/port-I/O/IRET instructions in a .s file outside this tree —
// mazboot's own "asm" package is likewise never present in the
// retrieved source, per internal/arch's package doc).
//
// These forward declarations have no Go body: the linker resolves them
// against hwarch_amd64.s, which is not part of this tree for the same
// reason mazboot's is not.
type hwMMU struct{}

//go:nosplit
func (hwMMU) LoadCR3(root memory.PhysAddr) { asmLoadCR3(uint64(root)) }

//go:nosplit
func (hwMMU) ReadCR3() memory.PhysAddr { return memory.PhysAddr(asmReadCR3()) }

//go:nosplit
func (hwMMU) FlushTLB(v memory.VirtAddr) { asmInvlpg(uint64(v)) }

type hwSwitcher struct{}

//go:nosplit
func (hwSwitcher) Switch(old, next *arch.Context) { asmContextSwitch(old, next) }

//go:nosplit
func (hwSwitcher) SwitchRestoreOnly(next *arch.Context) { asmContextRestore(next) }

type hwInterrupts struct{}

//go:nosplit
func (hwInterrupts) DisableInterrupts() arch.Flags { return arch.Flags(asmDisableInterrupts()) }

//go:nosplit
func (hwInterrupts) RestoreInterrupts(f arch.Flags) { asmRestoreInterrupts(uint64(f)) }

//go:noescape
func asmLoadCR3(root uint64)

//go:noescape
func asmReadCR3() uint64

//go:noescape
func asmInvlpg(v uint64)

//go:noescape
func asmContextSwitch(old, next *arch.Context)

//go:noescape
func asmContextRestore(next *arch.Context)

//go:noescape
func asmDisableInterrupts() uint64

//go:noescape
func asmRestoreInterrupts(f uint64)
