package sched

import (
	"github.com/atomicos/atomicos/internal/memory"
	"github.com/atomicos/atomicos/internal/proc"
)

// forkTrampolineRIP is a symbolic instruction pointer: a real kernel
// resolves this to the fork trampoline's linked address (the
// assembly stub that zeroes the return register, pops the copied
// trap frame, and iretqs to Ring 3). internal/arch's hardware side is
// out of scope for this tree (see arch/context.go's package doc), so
// this package only records that the child's saved context is meant
// to enter it.
const forkTrampolineRIP = ^uint64(0)

// Fork implements spec.md §4.3's Fork: snapshot the parent, build and
// populate a fresh address space, clone the FD table, and enqueue the
// child Ready. The parent's own saved context and state are left
// untouched — it keeps running and, through the syscall dispatcher,
// observes the child's pid as fork's return value.
func (s *Scheduler) Fork(parentPID uint64) (*proc.Process, error) {
	s.mu.Lock()
	parent, ok := s.processes[parentPID]
	if !ok {
		s.mu.Unlock()
		return nil, errNoSuchProcess
	}
	s.mu.Unlock()

	childRoot, err := memory.CreateNewPageTable(s.m, s.fa, parent.AddressSpaceRoot)
	if err != nil {
		return nil, err
	}
	if err := memory.DeepCloneProcessMemory(s.m, s.fa, childRoot, parent.AddressSpaceRoot, parent.UserRegions, s.flush); err != nil {
		return nil, err
	}

	s.mu.Lock()
	id := s.nextPID
	s.nextPID++
	s.mu.Unlock()

	child := proc.NewProcess(id, parent.Name, childRoot)
	child.ParentID = parentPID
	child.HasParent = true
	for _, r := range parent.UserRegions {
		child.AddUserRegion(r)
	}

	// Copy the parent's trap frame byte-for-byte: in this model the
	// entire kernel stack buffer stands in for "the trap frame at its
	// equivalent position", since both stacks are the same fixed size
	// and the trap frame always lands at the same offset from the top.
	copy(child.KernelStack, parent.KernelStack)

	// The child's first dispatch must land in the fork trampoline with
	// the return-value register pre-zeroed (spec.md §4.3 step 5); RBX is
	// this kernel's convention for that slot (arch.Context has no
	// dedicated field, since the real ABI lives in the unshipped
	// assembly).
	child.Context = parent.Context
	child.Context.RIP = forkTrampolineRIP
	child.Context.RBX = 0

	child.FDs = parent.FDs.Clone()

	s.mu.Lock()
	parent.AddChild(id)
	s.processes[id] = child
	s.ready = append(s.ready, id)
	s.mu.Unlock()

	return child, nil
}
