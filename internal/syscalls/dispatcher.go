package syscalls

import (
	"bytes"
	"encoding/binary"

	"github.com/atomicos/atomicos/internal/memory"
	"github.com/atomicos/atomicos/internal/proc"
	"github.com/atomicos/atomicos/internal/sched"
	"github.com/atomicos/atomicos/internal/vfs"
)

// maxExecFileBytes caps how much of an executable's contents exec()
// will read out of the VFS before handing it to the ELF loader. A real
// exec would stat the file first; this kernel reads up to the cap and
// trusts the VFS's reported length instead (spec.md §4.4's pedagogical
// stance on validation).
const maxExecFileBytes = 4 * 1024 * 1024

// UnknownSyscallLogger is called with a syscall number the dispatcher
// doesn't recognize (spec.md §4.4: "the kernel logs a warning for
// unknown numbers"). internal/klog overrides this once wired in at
// boot; tests and the zero-value case leave it a no-op.
var UnknownSyscallLogger = func(num Number) {}

// Dispatcher implements C4: it wires C3's scheduler, C2's VFS, and the
// user-memory copy helpers together into the thirteen syscalls
// spec.md §6 tabulates, all funneled through Dispatch.
type Dispatcher struct {
	s   *sched.Scheduler
	vfs *vfs.VFS
	m   *memory.Machine
}

// NewDispatcher builds a Dispatcher over the already-constructed
// scheduler, VFS, and physical memory the rest of boot assembles.
func NewDispatcher(s *sched.Scheduler, v *vfs.VFS, m *memory.Machine) *Dispatcher {
	return &Dispatcher{s: s, vfs: v, m: m}
}

// Dispatch routes one trapped syscall to its handler, collapsing every
// failure to Sentinel and never panicking (spec.md §7 policy). callerPID
// is the process that trapped; a0-a2 are its argument registers in the
// order spec.md §6's ABI table lists them.
func (d *Dispatcher) Dispatch(callerPID uint64, num Number, a0, a1, a2 uint64) uint64 {
	switch num {
	case Exit:
		d.Exit(callerPID, uint32(a0))
		return 0
	case Write:
		return d.Write(callerPID, int(a0), memory.VirtAddr(a1), a2)
	case Yield:
		d.s.Yield()
		return 0
	case Getpid:
		return callerPID
	case Fork:
		return d.Fork(callerPID)
	case Exec:
		return d.Exec(callerPID, memory.VirtAddr(a0), a1)
	case Wait:
		return d.Wait(callerPID, a0)
	case Open:
		return d.Open(callerPID, memory.VirtAddr(a0), a1)
	case Close:
		return d.Close(callerPID, int(a0))
	case Read:
		return d.Read(callerPID, int(a0), memory.VirtAddr(a1), a2)
	case Dup:
		return d.Dup(callerPID, int(a0))
	case Dup2:
		return d.Dup2(callerPID, int(a0), int(a1))
	case Pipe:
		return d.Pipe(callerPID, memory.VirtAddr(a0))
	default:
		UnknownSyscallLogger(num)
		return Sentinel
	}
}

// process looks up the caller's process-table entry; every handler
// below bails to Sentinel if the pid has gone away (should not happen
// on a real trap, but keeps the dispatcher defensive against stale
// callers in tests).
func (d *Dispatcher) process(pid uint64) (*proc.Process, bool) {
	return d.s.Process(pid)
}

// Exit implements the exit syscall: spec.md §4.3's Exit never returns
// to its caller on real hardware, so Dispatch always reports 0 here
// regardless of what happens inside.
func (d *Dispatcher) Exit(pid uint64, status uint32) {
	d.s.Exit(pid, status)
}

// Write implements the write syscall over all three Open-file kinds
// (spec.md §4.4's "read/write over a pipe" protocol plus the plain
// Console/Regular cases).
func (d *Dispatcher) Write(pid uint64, fd int, ptr memory.VirtAddr, length uint64) uint64 {
	if length > MaxReadWriteLen {
		return Sentinel
	}
	p, ok := d.process(pid)
	if !ok {
		return Sentinel
	}
	h, err := p.FDs.Get(fd)
	if err != nil {
		return Sentinel
	}
	data, err := copyFromUser(d.m, p.AddressSpaceRoot, ptr, length)
	if err != nil {
		return Sentinel
	}

	switch h.File.Kind {
	case proc.KindConsole:
		n, err := h.File.Console.Broadcast(data)
		if err != nil {
			return Sentinel
		}
		return uint64(n)

	case proc.KindRegular:
		if !h.File.Writable {
			return Sentinel
		}
		n, err := d.vfs.Write(h.File.Path, h.File.Offset, data)
		if err != nil {
			return Sentinel
		}
		h.File.Offset += uint64(n)
		return uint64(n)

	case proc.KindPipeWrite:
		for {
			n, broken := h.File.Pipe.TryWrite(data)
			if n > 0 {
				d.s.WakeAllBlocked()
				return uint64(n)
			}
			if broken {
				return Sentinel
			}
			d.s.Block(pid)
			d.s.Yield()
		}

	default:
		return Sentinel
	}
}

// Read implements the read syscall, symmetric with Write: a pipe read
// on an empty-but-still-written buffer blocks and retries; on an
// empty buffer with zero writers it returns 0 (EOF), matching
// spec.md §4.4 exactly.
func (d *Dispatcher) Read(pid uint64, fd int, ptr memory.VirtAddr, length uint64) uint64 {
	if length > MaxReadWriteLen {
		return Sentinel
	}
	p, ok := d.process(pid)
	if !ok {
		return Sentinel
	}
	h, err := p.FDs.Get(fd)
	if err != nil {
		return Sentinel
	}

	buf := make([]byte, length)
	switch h.File.Kind {
	case proc.KindConsole:
		n, err := h.File.Console.ReadLine(buf)
		if err != nil {
			return Sentinel
		}
		if err := copyToUser(d.m, p.AddressSpaceRoot, ptr, buf[:n]); err != nil {
			return Sentinel
		}
		return uint64(n)

	case proc.KindRegular:
		if !h.File.Readable {
			return Sentinel
		}
		n, err := d.vfs.Read(h.File.Path, h.File.Offset, buf)
		if err != nil {
			return Sentinel
		}
		h.File.Offset += uint64(n)
		if err := copyToUser(d.m, p.AddressSpaceRoot, ptr, buf[:n]); err != nil {
			return Sentinel
		}
		return uint64(n)

	case proc.KindPipeRead:
		for {
			n, eof := h.File.Pipe.TryRead(buf)
			if n > 0 {
				if err := copyToUser(d.m, p.AddressSpaceRoot, ptr, buf[:n]); err != nil {
					return Sentinel
				}
				d.s.WakeAllBlocked()
				return uint64(n)
			}
			if eof {
				return 0
			}
			d.s.Block(pid)
			d.s.Yield()
		}

	default:
		return Sentinel
	}
}

// Fork implements the fork syscall; the parent's return value is the
// child's pid (the child itself observes 0 via its cloned register
// context, per internal/sched.Fork's RBX convention — this Dispatch
// call only ever executes on the parent's behalf).
func (d *Dispatcher) Fork(pid uint64) uint64 {
	child, err := d.s.Fork(pid)
	if err != nil {
		return Sentinel
	}
	return child.ID
}

// Exec implements the exec syscall: read the path out of user memory,
// load the whole file out of the VFS, and hand it to
// internal/sched.Exec. On success the calling process's context is
// replaced and control never returns to this Go call's caller in the
// way a real trap frame would expect; Dispatch still reports 0 so
// tests can observe "exec accepted."
func (d *Dispatcher) Exec(pid uint64, pathPtr memory.VirtAddr, pathLen uint64) uint64 {
	if pathLen > MaxPathLen {
		return Sentinel
	}
	p, ok := d.process(pid)
	if !ok {
		return Sentinel
	}
	rawPath, err := copyFromUser(d.m, p.AddressSpaceRoot, pathPtr, pathLen)
	if err != nil {
		return Sentinel
	}
	path := string(bytes.TrimRight(rawPath, "\x00"))

	data := make([]byte, maxExecFileBytes)
	n, err := d.vfs.Read(path, 0, data)
	if err != nil {
		return Sentinel
	}
	if err := d.s.Exec(pid, path, data[:n]); err != nil {
		return Sentinel
	}
	return 0
}

// Wait implements the wait syscall. target is either a specific pid or
// sched.WaitAny (spec.md §6's "all-ones" row, extended to pid
// selection per SPEC_FULL.md supplemented feature #6).
func (d *Dispatcher) Wait(pid uint64, target uint64) uint64 {
	_, status, err := d.s.Wait(pid, target)
	if err != nil {
		return Sentinel
	}
	return uint64(status)
}

// Open implements the open syscall. There are no flags in spec.md's
// ABI table: a successful open always yields a readable+writable
// Regular file descriptor, and directories are rejected (readdir is
// the only supported way to inspect one).
func (d *Dispatcher) Open(pid uint64, pathPtr memory.VirtAddr, pathLen uint64) uint64 {
	if pathLen > MaxPathLen {
		return Sentinel
	}
	p, ok := d.process(pid)
	if !ok {
		return Sentinel
	}
	rawPath, err := copyFromUser(d.m, p.AddressSpaceRoot, pathPtr, pathLen)
	if err != nil {
		return Sentinel
	}
	path := string(bytes.TrimRight(rawPath, "\x00"))

	isDir, err := d.vfs.Lookup(path)
	if err != nil {
		return Sentinel
	}
	if isDir {
		return Sentinel
	}

	fd, err := p.FDs.Install(proc.NewHandle(proc.NewRegularFile(path, true, true)))
	if err != nil {
		return Sentinel
	}
	return uint64(fd)
}

// Close implements the close syscall.
func (d *Dispatcher) Close(pid uint64, fd int) uint64 {
	p, ok := d.process(pid)
	if !ok {
		return Sentinel
	}
	if err := p.FDs.Close(fd); err != nil {
		return Sentinel
	}
	return 0
}

// Dup implements the dup syscall.
func (d *Dispatcher) Dup(pid uint64, oldfd int) uint64 {
	p, ok := d.process(pid)
	if !ok {
		return Sentinel
	}
	newfd, err := p.FDs.Dup(oldfd)
	if err != nil {
		return Sentinel
	}
	return uint64(newfd)
}

// Dup2 implements the dup2 syscall.
func (d *Dispatcher) Dup2(pid uint64, oldfd, newfd int) uint64 {
	p, ok := d.process(pid)
	if !ok {
		return Sentinel
	}
	if err := p.FDs.Dup2(oldfd, newfd); err != nil {
		return Sentinel
	}
	return uint64(newfd)
}

// Pipe implements the pipe syscall: allocate two FD slots, construct a
// shared Pipe, and write the {read_fd, write_fd} pair into the
// user-supplied output location as two little-endian uint64s
// (spec.md §4.4's pipe description).
func (d *Dispatcher) Pipe(pid uint64, outPtr memory.VirtAddr) uint64 {
	p, ok := d.process(pid)
	if !ok {
		return Sentinel
	}

	pipe := proc.NewPipe()
	readEnd, writeEnd := proc.NewPipeEndpoints(pipe)

	rfd, err := p.FDs.Install(proc.NewHandle(readEnd))
	if err != nil {
		return Sentinel
	}
	wfd, err := p.FDs.Install(proc.NewHandle(writeEnd))
	if err != nil {
		_ = p.FDs.Close(rfd)
		return Sentinel
	}

	out := make([]byte, 16)
	binary.LittleEndian.PutUint64(out[0:8], uint64(rfd))
	binary.LittleEndian.PutUint64(out[8:16], uint64(wfd))
	if err := copyToUser(d.m, p.AddressSpaceRoot, outPtr, out); err != nil {
		_ = p.FDs.Close(rfd)
		_ = p.FDs.Close(wfd)
		return Sentinel
	}
	return 0
}
