// Package syscalls implements C4: the syscall dispatcher, argument
// length validation, and the FD operations (open/close/dup/dup2/pipe)
// layered over internal/sched and internal/proc (spec.md §4.4).
package syscalls

// Number identifies one of the thirteen syscalls this kernel exposes
// through int 0x80 (spec.md §6's ABI table).
type Number int

const (
	Exit   Number = 0
	Write  Number = 1
	Yield  Number = 2
	Getpid Number = 3
	Fork   Number = 4
	Exec   Number = 5
	Wait   Number = 6
	Open   Number = 7
	Close  Number = 8
	Read   Number = 9
	Dup    Number = 10
	Dup2   Number = 11
	Pipe   Number = 12
)

// Sentinel is the all-ones value every failing syscall returns
// (spec.md §4.4: "A sentinel value (all-ones) signals error; specific
// kinds are logged but not returned").
const Sentinel = ^uint64(0)

// Length caps on user-pointer arguments (spec.md §4.4 "Arguments").
const (
	MaxReadWriteLen = 1 << 20 // 1 MiB
	MaxPathLen      = 4096    // 4 KiB
)
