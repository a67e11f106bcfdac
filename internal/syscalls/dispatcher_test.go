package syscalls

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atomicos/atomicos/internal/arch"
	"github.com/atomicos/atomicos/internal/memory"
	"github.com/atomicos/atomicos/internal/proc"
	"github.com/atomicos/atomicos/internal/ramfs"
	"github.com/atomicos/atomicos/internal/sched"
	"github.com/atomicos/atomicos/internal/vfs"
)

// testEnv wires a scheduler, a VFS mounted with a seeded RAMFS, and a
// Dispatcher over a shared Machine, mirroring how cmd/kernel assembles
// these at boot.
type testEnv struct {
	s  *sched.Scheduler
	m  *memory.Machine
	fa *memory.FrameAllocator
	v  *vfs.VFS
	d  *Dispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	m := memory.NewMachine(8 * 1024 * 1024)
	fa := memory.NewFrameAllocator([]memory.Region{{Base: 0, Length: m.Size()}})
	idleRoot, err := fa.AllocZeroedFrame(m)
	require.NoError(t, err)
	s := sched.New(arch.NewNullInterrupts(), &arch.NullMMU{}, &arch.NullSwitcher{}, &arch.TSS{}, m, fa, idleRoot)

	rfs := ramfs.New()
	require.NoError(t, rfs.Seed())
	v := vfs.New()
	v.Mount("/", rfs)

	return &testEnv{s: s, m: m, fa: fa, v: v, d: NewDispatcher(s, v, m)}
}

// spawnWithUserPage spawns a fresh process with its own address space
// and one mapped page at userBase, for tests to stage syscall
// arguments (paths, buffers, output pointers) in "user memory."
func (e *testEnv) spawnWithUserPage(t *testing.T, name string, userBase memory.VirtAddr) *proc.Process {
	t.Helper()
	root, err := memory.CreateNewPageTable(e.m, e.fa, 0)
	require.NoError(t, err)
	p := e.s.Spawn(name, root)
	require.NoError(t, memory.AllocateProcessMemory(e.m, e.fa, root, userBase, memory.PageSize, nil))
	p.AddUserRegion(memory.UserRegion{Base: userBase, Size: memory.PageSize})
	return p
}

func (e *testEnv) writeUserBytes(t *testing.T, p *proc.Process, v memory.VirtAddr, data []byte) {
	t.Helper()
	require.NoError(t, copyToUser(e.m, p.AddressSpaceRoot, v, data))
}

func (e *testEnv) readUserBytes(t *testing.T, p *proc.Process, v memory.VirtAddr, n int) []byte {
	t.Helper()
	data, err := copyFromUser(e.m, p.AddressSpaceRoot, v, uint64(n))
	require.NoError(t, err)
	return data
}

const userBase = memory.VirtAddr(0x40000)

func TestOpenReadWriteRoundTripThroughSyscalls(t *testing.T) {
	e := newTestEnv(t)
	p := e.spawnWithUserPage(t, "prog", userBase)

	pathPtr := userBase
	path := "/README.md"
	e.writeUserBytes(t, p, pathPtr, []byte(path+"\x00"))

	fd := e.d.Open(p.ID, pathPtr, uint64(len(path)))
	require.NotEqual(t, Sentinel, fd)

	payload := []byte("hello atomicos")
	bufPtr := userBase + 64
	e.writeUserBytes(t, p, bufPtr, payload)

	n := e.d.Write(p.ID, int(fd), bufPtr, uint64(len(payload)))
	require.Equal(t, uint64(len(payload)), n)

	// Re-open at offset 0 to read back what was just written.
	e.writeUserBytes(t, p, pathPtr, []byte(path+"\x00"))
	fd2 := e.d.Open(p.ID, pathPtr, uint64(len(path)))
	require.NotEqual(t, Sentinel, fd2)

	readBufPtr := userBase + 256
	n = e.d.Read(p.ID, int(fd2), readBufPtr, uint64(len(payload)))
	require.Equal(t, uint64(len(payload)), n)
	require.Equal(t, payload, e.readUserBytes(t, p, readBufPtr, len(payload)))
}

func TestOpenRejectsDirectoryAndMissingPath(t *testing.T) {
	e := newTestEnv(t)
	p := e.spawnWithUserPage(t, "prog", userBase)

	e.writeUserBytes(t, p, userBase, []byte("/etc\x00"))
	require.Equal(t, Sentinel, e.d.Open(p.ID, userBase, 4))

	e.writeUserBytes(t, p, userBase, []byte("/nope\x00"))
	require.Equal(t, Sentinel, e.d.Open(p.ID, userBase, 5))
}

func TestWriteRejectsOversizeLength(t *testing.T) {
	e := newTestEnv(t)
	p := e.spawnWithUserPage(t, "prog", userBase)
	require.Equal(t, Sentinel, e.d.Write(p.ID, 0, userBase, MaxReadWriteLen+1))
}

func TestOpenRejectsOversizePath(t *testing.T) {
	e := newTestEnv(t)
	p := e.spawnWithUserPage(t, "prog", userBase)
	require.Equal(t, Sentinel, e.d.Open(p.ID, userBase, MaxPathLen+1))
}

func TestDupAndDup2ShareTheUnderlyingFile(t *testing.T) {
	e := newTestEnv(t)
	p := e.spawnWithUserPage(t, "prog", userBase)

	e.writeUserBytes(t, p, userBase, []byte("/README.md\x00"))
	fd := e.d.Open(p.ID, userBase, 10)
	require.NotEqual(t, Sentinel, fd)

	dupFd := e.d.Dup(p.ID, int(fd))
	require.NotEqual(t, Sentinel, dupFd)
	require.NotEqual(t, fd, dupFd)

	newFd := e.d.Dup2(p.ID, int(fd), 9)
	require.Equal(t, uint64(9), newFd)

	require.Equal(t, uint64(0), e.d.Close(p.ID, int(fd)))
	require.Equal(t, uint64(0), e.d.Close(p.ID, int(dupFd)))
	require.Equal(t, uint64(0), e.d.Close(p.ID, 9))
	require.Equal(t, Sentinel, e.d.Close(p.ID, int(fd)), "double close must fail")
}

// TestPipeEchoScenario reproduces spec.md §8's concrete pipe-echo
// scenario: pipe, fork, child writes "hi" to the write end and exits,
// parent reads "hi" off the read end and reaps the child with status 0.
func TestPipeEchoScenario(t *testing.T) {
	e := newTestEnv(t)
	parent := e.spawnWithUserPage(t, "parent", userBase)

	pipeOutPtr := userBase
	require.Equal(t, uint64(0), e.d.Pipe(parent.ID, pipeOutPtr))
	raw := e.readUserBytes(t, parent, pipeOutPtr, 16)
	readFd := int(binary.LittleEndian.Uint64(raw[0:8]))
	writeFd := int(binary.LittleEndian.Uint64(raw[8:16]))

	childPID := e.d.Fork(parent.ID)
	require.NotEqual(t, Sentinel, childPID)
	child, ok := e.s.Process(childPID)
	require.True(t, ok)

	go func() {
		require.Equal(t, uint64(0), e.d.Close(child.ID, readFd))
		msgPtr := userBase + 512
		e.writeUserBytes(t, child, msgPtr, []byte("hi"))
		n := e.d.Write(child.ID, writeFd, msgPtr, 2)
		require.Equal(t, uint64(2), n)
		e.d.Exit(child.ID, 0)
	}()

	require.Equal(t, uint64(0), e.d.Close(parent.ID, writeFd))
	readBufPtr := userBase + 1024
	n := e.d.Read(parent.ID, readFd, readBufPtr, 2)
	require.Equal(t, uint64(2), n)
	require.Equal(t, []byte("hi"), e.readUserBytes(t, parent, readBufPtr, 2))

	status := e.d.Wait(parent.ID, sched.WaitAny)
	require.Equal(t, uint64(0), status)
}

func TestPipeReadReturnsEOFWhenWriterCountDropsToZero(t *testing.T) {
	e := newTestEnv(t)
	p := e.spawnWithUserPage(t, "prog", userBase)

	require.Equal(t, uint64(0), e.d.Pipe(p.ID, userBase))
	raw := e.readUserBytes(t, p, userBase, 16)
	readFd := int(binary.LittleEndian.Uint64(raw[0:8]))
	writeFd := int(binary.LittleEndian.Uint64(raw[8:16]))

	require.Equal(t, uint64(0), e.d.Close(p.ID, writeFd))
	n := e.d.Read(p.ID, readFd, userBase+256, 8)
	require.Equal(t, uint64(0), n, "empty buffer with zero writers must read EOF")
}

// TestForkWaitScenario reproduces spec.md §8's fork+wait scenario:
// child exits 42, parent's wait(-1) returns 42, and a
// second wait for the same target returns Sentinel.
func TestForkWaitScenario(t *testing.T) {
	e := newTestEnv(t)
	parent := e.spawnWithUserPage(t, "parent", userBase)

	childPID := e.d.Fork(parent.ID)
	require.NotEqual(t, Sentinel, childPID)

	e.d.Exit(childPID, 42)

	status := e.d.Wait(parent.ID, sched.WaitAny)
	require.Equal(t, uint64(42), status)

	status = e.d.Wait(parent.ID, childPID)
	require.Equal(t, Sentinel, status, "a reaped child must not be found twice")
}
