// Package sched implements C3: the process table, the FIFO
// round-robin ready queue, and the cooperative yield/fork/exec/wait/exit
// lifecycle (spec.md §4.3). Grounded on mazboot's goroutine.go, which
// drives its own cooperative scheduler the same way — pick next,
// swap bookkeeping, then perform the one real side effect (a context
// switch) outside the lock.
package sched

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/atomicos/atomicos/internal/arch"
	"github.com/atomicos/atomicos/internal/memory"
	"github.com/atomicos/atomicos/internal/proc"
)

// idlePID is the scheduler's bootstrap process: it starts as the
// current process rather than in the ready queue, Yield rotates it into
// the queue like any other process once another one is dispatched, and
// it never exits.
const idlePID = 0

// Scheduler owns the process table, the ready queue, and the
// hardware collaborators (arch.MMU/arch.Switcher/arch.TSS) that yield,
// fork, exec, and exit drive.
type Scheduler struct {
	irq *arch.IRQLock
	mmu arch.MMU
	sw  arch.Switcher
	tss *arch.TSS

	m  *memory.Machine
	fa *memory.FrameAllocator

	mu        sync.Mutex // guards processes/ready/current/nextPID outside the IRQLock-held critical sections
	processes map[uint64]*proc.Process
	ready     []uint64
	current   uint64
	nextPID   uint64
}

// New builds a scheduler with only the idle process (pid 0) in the
// table, Running, and an empty ready queue. idleRoot is the address
// space the idle process (and, by extension, every freshly spawned
// kernel process before its own address space exists) shares.
func New(ic arch.InterruptController, mmu arch.MMU, sw arch.Switcher, tss *arch.TSS, m *memory.Machine, fa *memory.FrameAllocator, idleRoot memory.PhysAddr) *Scheduler {
	idle := proc.NewProcess(idlePID, "idle", idleRoot)
	idle.State = proc.Running
	return &Scheduler{
		irq:       arch.NewIRQLock(ic),
		mmu:       mmu,
		sw:        sw,
		tss:       tss,
		m:         m,
		fa:        fa,
		processes: map[uint64]*proc.Process{idlePID: idle},
		current:   idlePID,
		nextPID:   idlePID + 1,
	}
}

// flush is the per-page TLB-invalidation hook internal/memory's
// allocation/clone/free helpers call; it is just mmu.FlushTLB, wired
// in one place so every call site shares the same hardware side
// effect.
func (s *Scheduler) flush(v memory.VirtAddr) { s.mmu.FlushTLB(v) }

// Current returns the pid of the process the scheduler considers
// presently running.
func (s *Scheduler) Current() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Process looks up a process-table entry by pid.
func (s *Scheduler) Process(pid uint64) (*proc.Process, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processes[pid]
	return p, ok
}

// Spawn creates a brand-new (not forked) process sharing root as its
// address space, enqueues it Ready, and returns it.
func (s *Scheduler) Spawn(name string, root memory.PhysAddr) *proc.Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextPID
	s.nextPID++
	p := proc.NewProcess(id, name, root)
	s.processes[id] = p
	s.ready = append(s.ready, id)
	return p
}

// popNextRunnable pops from the front of the ready queue, rotating
// Blocked/Zombie entries to the back, until a Ready candidate is
// found or a full rotation finds none (spec.md §4.3 Yield step 2).
// Must be called with s.mu held.
func (s *Scheduler) popNextRunnable() (uint64, bool) {
	n := len(s.ready)
	for i := 0; i < n; i++ {
		pid := s.ready[0]
		s.ready = s.ready[1:]
		p := s.processes[pid]
		if p.State == proc.Blocked || p.State == proc.Zombie {
			s.ready = append(s.ready, pid)
			continue
		}
		return pid, true
	}
	return 0, false
}

// Yield implements spec.md §4.3's Yield: find the next runnable
// process, rotate the current one to the back of the queue Ready, flip
// TSS/CR3 bookkeeping for the incoming process, then drop the
// scheduler lock before performing the one real side effect — the
// context switch itself.
func (s *Scheduler) Yield() {
	flags := s.irq.Lock()

	s.mu.Lock()
	next, ok := s.popNextRunnable()
	if !ok {
		// No runnable candidate found after a full rotation: keep running
		// the current process.
		s.mu.Unlock()
		s.irq.Unlock(flags)
		return
	}

	oldPID := s.current
	old := s.processes[oldPID]
	// Only a voluntarily-yielding Running process goes back to Ready
	// here; a caller that already transitioned itself to Blocked (Wait's
	// retry loop) or Zombie (Exit, which uses its own restore-only path
	// instead of this one) keeps that state across the switch.
	if old.State == proc.Running {
		old.State = proc.Ready
	}
	s.ready = append(s.ready, oldPID)

	nextProc := s.processes[next]
	nextProc.State = proc.Running
	s.current = next
	s.mu.Unlock()

	s.tss.SetRSP0(nextProc.KernelStackTop)
	s.mmu.LoadCR3(nextProc.AddressSpaceRoot)

	s.irq.Unlock(flags)
	s.sw.Switch(&old.Context, &nextProc.Context)
}

// WakeAllBlocked flips every Blocked process table entry to Ready
// (spec.md §4.3 "Wake-all-blocked"). Coarse but correct on a single
// CPU, same as the original.
func (s *Scheduler) WakeAllBlocked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.processes {
		if p.State == proc.Blocked {
			p.State = proc.Ready
		}
	}
}

// Block marks pid Blocked in place (used by the pipe I/O retry loop
// and by Wait). It does not touch the ready queue: a Blocked process
// already in the queue is simply skipped and rotated by
// popNextRunnable until it is woken.
func (s *Scheduler) Block(pid uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.processes[pid]; ok {
		p.State = proc.Blocked
	}
}

// errNoSuchProcess is returned by internal lookups against a stale or
// unknown pid; callers translate it into their own sentinel.
var errNoSuchProcess = errors.New("sched: no such process")
