package sched

import (
	"path"

	"github.com/atomicos/atomicos/internal/arch"
	"github.com/atomicos/atomicos/internal/elf"
	"github.com/atomicos/atomicos/internal/memory"
)

// usermodeTrampolineRIP is the symbolic counterpart to
// forkTrampolineRIP: a real kernel resolves it to the assembly stub
// that sets user segment selectors and iretqs into Ring 3 with the
// entry point and stack top this package stashes in the saved
// context's callee-saved registers.
const usermodeTrampolineRIP = ^uint64(0) - 1

// Exec implements spec.md §4.3's Exec: parse and map the new image
// into a fresh address space before touching anything belonging to
// the old one, so a failure (bad ELF, out of frames) leaves the
// process exactly as it was.
func (s *Scheduler) Exec(pid uint64, filePath string, fileData []byte) error {
	s.mu.Lock()
	p, ok := s.processes[pid]
	s.mu.Unlock()
	if !ok {
		return errNoSuchProcess
	}

	img, err := elf.Parse(fileData)
	if err != nil {
		return err
	}

	newRoot, err := memory.CreateNewPageTable(s.m, s.fa, p.AddressSpaceRoot)
	if err != nil {
		return err
	}

	top, regions, err := elf.Load(s.m, s.fa, newRoot, fileData, img, s.flush)
	if err != nil {
		return err
	}

	stack := elf.StackRegion(top)
	if err := memory.AllocateProcessMemory(s.m, s.fa, newRoot, stack.Base, stack.Size, s.flush); err != nil {
		return err
	}
	regions = append(regions, stack)

	// Only now, with the new image fully built, tear down the old one.
	for _, r := range p.UserRegions {
		memory.FreeUserMemory(s.m, s.fa, p.AddressSpaceRoot, r, s.flush)
	}

	p.AddressSpaceRoot = newRoot
	p.UserRegions = regions
	p.Name = path.Base(filePath)

	p.KernelStackTop = uint64(uintptr(len(p.KernelStack))) &^ 0xF
	// R12/R13 are this kernel's convention for "entry point" and "user
	// stack top", the values the (unshipped) usermode trampoline reads
	// before its iretq.
	p.Context = arch.Context{
		RIP: usermodeTrampolineRIP,
		R12: uint64(img.Entry),
		R13: uint64(stack.Base) + uint64(stack.Size),
	}

	s.mmu.LoadCR3(newRoot)
	s.sw.SwitchRestoreOnly(&p.Context)
	return nil
}
