package arch

import "sync"

// Flags is the saved interrupt-enable state returned by
// DisableInterrupts, to be handed back to RestoreInterrupts. On real
// hardware this is the IF bit out of RFLAGS (push/popf in the
// assembly this links to); NullInterrupts below tracks it in a plain
// bool for tests.
type Flags uint64

// InterruptController is the hardware boundary for the "interrupts
// masked" discipline spec.md §5 requires around every scheduler
// mutation: DisableInterrupts returns the prior state so the matching
// RestoreInterrupts can put it back exactly, supporting nesting the
// way a save/disable/restore wrapper must.
type InterruptController interface {
	DisableInterrupts() Flags
	RestoreInterrupts(Flags)
}

// NullInterrupts is a software stand-in used by tests and host
// tooling, where there are no real interrupts to mask.
type NullInterrupts struct {
	enabled bool
}

func NewNullInterrupts() *NullInterrupts { return &NullInterrupts{enabled: true} }

func (n *NullInterrupts) DisableInterrupts() Flags {
	var f Flags
	if n.enabled {
		f = 1
	}
	n.enabled = false
	return f
}

func (n *NullInterrupts) RestoreInterrupts(f Flags) {
	n.enabled = f != 0
}

// IRQLock is the scheduler's single mutex (spec.md §5: "The scheduler
// is a single mutex; it is held only for the structural operation,
// never across a context switch"). It composes an ordinary mutex with
// the interrupt-disable discipline: Lock masks interrupts before
// taking the mutex and Unlock restores them after releasing it, so a
// lock holder is never preempted mid-structural-change and a nested
// disable/enable from a caller further up the stack still unwinds
// correctly.
type IRQLock struct {
	ic InterruptController
	mu sync.Mutex
}

// NewIRQLock builds a scheduler-style lock backed by the given
// interrupt controller (production: the real CLI/STI pair; tests:
// NullInterrupts).
func NewIRQLock(ic InterruptController) *IRQLock {
	return &IRQLock{ic: ic}
}

// Lock disables interrupts and acquires the mutex, returning the saved
// flags the matching Unlock call must be given.
func (l *IRQLock) Lock() Flags {
	f := l.ic.DisableInterrupts()
	l.mu.Lock()
	return f
}

// Unlock releases the mutex and restores interrupts to the state Lock
// observed.
func (l *IRQLock) Unlock(f Flags) {
	l.mu.Unlock()
	l.ic.RestoreInterrupts(f)
}
