package proc

import (
	"github.com/atomicos/atomicos/internal/arch"
	"github.com/atomicos/atomicos/internal/memory"
)

// State is one of the four process states spec.md §3 names.
type State int

const (
	Ready State = iota
	Running
	Blocked
	Zombie
)

func (s State) String() string {
	switch s {
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Blocked:
		return "Blocked"
	case Zombie:
		return "Zombie"
	default:
		return "Unknown"
	}
}

// KernelStackSize is the privately-owned kernel stack every process
// gets (spec.md §3).
const KernelStackSize = 16 * 1024

// Process is the kernel's process-table entry (spec.md §3).
type Process struct {
	ID       uint64
	ParentID uint64 // 0 == no parent (spawned, not forked)
	HasParent bool

	Name  string
	State State

	ExitStatus   uint32
	HasExited    bool

	Children []uint64

	Context arch.Context

	AddressSpaceRoot memory.PhysAddr
	UserRegions      []memory.UserRegion

	KernelStack    []byte // backing storage; real hardware's is a dedicated physical region
	KernelStackTop uint64

	FDs *FDTable
}

// NewProcess builds a fresh process table entry with an empty FD
// table and no children, ready for the caller to populate its address
// space and context.
func NewProcess(id uint64, name string, root memory.PhysAddr) *Process {
	stack := make([]byte, KernelStackSize)
	return &Process{
		ID:               id,
		Name:             name,
		State:            Ready,
		AddressSpaceRoot: root,
		KernelStack:      stack,
		// 16-byte aligned top of stack, matching spec.md §4.3 Yield step 4.
		KernelStackTop: uint64(uintptr(len(stack))) &^ 0xF,
		FDs:            &FDTable{},
	}
}

// AddChild appends a newly spawned/forked process id, preserving
// spawn/fork order (spec.md §3: "children: ordered sequence").
func (p *Process) AddChild(childID uint64) {
	p.Children = append(p.Children, childID)
}

// RemoveChild removes a reaped child id from the children list.
func (p *Process) RemoveChild(childID uint64) {
	for i, c := range p.Children {
		if c == childID {
			p.Children = append(p.Children[:i], p.Children[i+1:]...)
			return
		}
	}
}

// AddUserRegion records a new (base, size) user allocation so exit can
// release it later (spec.md §3).
func (p *Process) AddUserRegion(r memory.UserRegion) {
	p.UserRegions = append(p.UserRegions, r)
}
