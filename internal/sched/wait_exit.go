package sched

import (
	"github.com/pkg/errors"

	"github.com/atomicos/atomicos/internal/memory"
	"github.com/atomicos/atomicos/internal/proc"
)

// WaitAny is the "any child" sentinel pid a caller passes to Wait
// (SPEC_FULL.md supplemented feature #6, spec.md §6's "all-ones"
// wait/syscall-return sentinel convention extended to pid selection).
const WaitAny = ^uint64(0)

// ErrNoSuchChild is Wait's sentinel error: no process in the caller's
// children list matches the requested pid (spec.md §4.3 Wait step 4).
var ErrNoSuchChild = errors.New("sched: no matching child")

// findMatchingChild returns the first of parent's children matching
// target (or, for WaitAny, the first child at all), preferring an
// already-Zombie one so a pending reap is never skipped in favor of a
// later-listed live child. Must be called with s.mu held.
func (s *Scheduler) findMatchingChild(parent *proc.Process, target uint64) (*proc.Process, bool) {
	var firstMatch *proc.Process
	for _, cid := range parent.Children {
		if target != WaitAny && cid != target {
			continue
		}
		c := s.processes[cid]
		if c == nil {
			continue
		}
		if c.State == proc.Zombie {
			return c, true
		}
		if firstMatch == nil {
			firstMatch = c
		}
	}
	return firstMatch, firstMatch != nil
}

// Wait implements spec.md §4.3's Wait. It blocks and retries (via
// Yield) internally, so callers only see it return once the child is
// reaped or no match exists at all.
func (s *Scheduler) Wait(callerPID, target uint64) (childPID uint64, status uint32, err error) {
	for {
		s.mu.Lock()
		caller, ok := s.processes[callerPID]
		if !ok {
			s.mu.Unlock()
			return 0, 0, errNoSuchProcess
		}
		child, found := s.findMatchingChild(caller, target)
		if !found {
			s.mu.Unlock()
			return 0, 0, ErrNoSuchChild
		}
		if child.State == proc.Zombie {
			caller.RemoveChild(child.ID)
			delete(s.processes, child.ID)
			kept := s.ready[:0]
			for _, id := range s.ready {
				if id != child.ID {
					kept = append(kept, id)
				}
			}
			s.ready = kept
			s.mu.Unlock()
			return child.ID, child.ExitStatus, nil
		}
		caller.State = proc.Blocked
		s.mu.Unlock()

		s.Yield()
	}
}

// Exit implements spec.md §4.3's Exit: release resources, wake a
// Blocked parent, and leave the caller as a reapable Zombie in the
// table rather than removing it (spec.md §9 "Zombies are not
// discarded").
func (s *Scheduler) Exit(pid uint64, status uint32) {
	s.mu.Lock()
	p, ok := s.processes[pid]
	s.mu.Unlock()
	if !ok {
		return
	}

	for _, r := range p.UserRegions {
		memory.FreeUserMemory(s.m, s.fa, p.AddressSpaceRoot, r, s.flush)
	}
	p.UserRegions = nil
	p.FDs.CloseAll()

	flags := s.irq.Lock()
	s.mu.Lock()
	p.State = proc.Zombie
	p.ExitStatus = status
	p.HasExited = true
	if p.HasParent {
		if parent, ok := s.processes[p.ParentID]; ok && parent.State == proc.Blocked {
			parent.State = proc.Ready
		}
	}
	// Zombies stay in the table and in the ready queue (spec.md §9:
	// wait, not exit, removes them) but popNextRunnable always rotates
	// them back out without ever selecting one to run.
	s.ready = append(s.ready, pid)

	next, ok := s.popNextRunnable()
	if !ok {
		s.mu.Unlock()
		s.irq.Unlock(flags)
		return
	}
	nextProc := s.processes[next]
	nextProc.State = proc.Running
	s.current = next
	s.mu.Unlock()

	s.tss.SetRSP0(nextProc.KernelStackTop)
	s.mmu.LoadCR3(nextProc.AddressSpaceRoot)

	s.irq.Unlock(flags)
	s.sw.SwitchRestoreOnly(&nextProc.Context)
}
