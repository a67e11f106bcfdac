package arch

// Switcher performs the actual register-level control transfer of a
// context switch. internal/sched decides *which* process runs next and
// updates the TSS/CR3 bookkeeping; this interface is the one hardware
// (or, in tests, software) side effect of actually jumping there.
//
// Switch saves the caller's callee-saved registers into old and
// restores them from new, the way mazboot's goroutine.go switches
// between goroutine stacks by hand. SwitchRestoreOnly is the
// restore-only variant spec.md §4.3 calls for from exit: the outgoing
// stack is being abandoned, so there is nothing to save.
type Switcher interface {
	Switch(old, new *Context)
	SwitchRestoreOnly(new *Context)
}

// NullSwitcher is a software stand-in for tests: it cannot actually
// transfer control between two different Go call stacks (that is
// exactly the hardware primitive being modeled), so it only records
// that a switch was requested and into/out of which contexts, which is
// enough for internal/sched's ready-queue and state-machine logic to
// be exercised and asserted against without real hardware.
type NullSwitcher struct {
	Switches        int
	RestoreOnlies   int
	LastOld, LastNew *Context
}

func (n *NullSwitcher) Switch(old, newCtx *Context) {
	n.Switches++
	n.LastOld, n.LastNew = old, newCtx
}

func (n *NullSwitcher) SwitchRestoreOnly(newCtx *Context) {
	n.RestoreOnlies++
	n.LastNew = newCtx
}
