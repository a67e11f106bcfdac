package sched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/atomicos/atomicos/internal/arch"
	"github.com/atomicos/atomicos/internal/memory"
	"github.com/atomicos/atomicos/internal/proc"
)

func newTestScheduler(t *testing.T) (*Scheduler, *memory.Machine, *memory.FrameAllocator) {
	t.Helper()
	m := memory.NewMachine(4 * 1024 * 1024)
	fa := memory.NewFrameAllocator([]memory.Region{{Base: 0, Length: m.Size()}})
	idleRoot, err := fa.AllocZeroedFrame(m)
	require.NoError(t, err)
	s := New(arch.NewNullInterrupts(), &arch.NullMMU{}, &arch.NullSwitcher{}, &arch.TSS{}, m, fa, idleRoot)
	return s, m, fa
}

func TestYieldDispatchesReadyProcessesFIFO(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	p1 := s.Spawn("p1", 0)
	p2 := s.Spawn("p2", 0)
	p3 := s.Spawn("p3", 0)

	var order []uint64
	for i := 0; i < 3; i++ {
		s.Yield()
		order = append(order, s.Current())
	}
	require.Equal(t, []uint64{p1.ID, p2.ID, p3.ID}, order)
}

func TestYieldSkipsBlockedAndRotatesToBack(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	blocked := s.Spawn("blocked", 0)
	runnable := s.Spawn("runnable", 0)
	s.Block(blocked.ID)

	s.Yield()
	require.Equal(t, runnable.ID, s.Current(), "blocked process must be skipped")
}

func TestYieldWithNothingRunnableKeepsCurrent(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	require.Equal(t, uint64(idlePID), s.Current())
	s.Yield()
	require.Equal(t, uint64(idlePID), s.Current())
}

func TestForkDeepClonesMemoryAndIsolatesFDTable(t *testing.T) {
	s, m, fa := newTestScheduler(t)
	parentRoot, err := memory.CreateNewPageTable(m, fa, 0)
	require.NoError(t, err)
	parent := s.Spawn("parent", parentRoot)

	region := memory.UserRegion{Base: 0x10000, Size: memory.PageSize}
	require.NoError(t, memory.AllocateProcessMemory(m, fa, parent.AddressSpaceRoot, region.Base, region.Size, nil))
	parent.AddUserRegion(region)

	payload := []byte("hello from parent")
	phys, err := memory.Translate(m, parent.AddressSpaceRoot, region.Base)
	require.NoError(t, err)
	m.Write(phys, payload)

	child, err := s.Fork(parent.ID)
	require.NoError(t, err)

	childPhys, err := memory.Translate(m, child.AddressSpaceRoot, region.Base)
	require.NoError(t, err)
	got := make([]byte, len(payload))
	m.Read(childPhys, got)
	require.Equal(t, payload, got, "child memory must equal parent's at fork time")

	// Mutating the parent afterward must not affect the child's copy.
	m.Write(phys, []byte("mutated!!!!!!!!!!"))
	got2 := make([]byte, len(payload))
	m.Read(childPhys, got2)
	require.Equal(t, payload, got2)

	require.Contains(t, parent.Children, child.ID)
	require.Equal(t, parent.ID, child.ParentID)

	// Closing an fd in the child's table must not affect the parent's.
	fd, err := parent.FDs.Install(proc.NewHandle(proc.NewConsoleFile(nil)))
	require.NoError(t, err)
	child2, err := s.Fork(parent.ID)
	require.NoError(t, err)
	require.NoError(t, child2.FDs.Close(fd))
	_, err = parent.FDs.Get(fd)
	require.NoError(t, err, "closing the child's fd must not close the parent's")
}

func TestWaitReturnsImmediatelyWhenChildAlreadyExited(t *testing.T) {
	s, m, fa := newTestScheduler(t)
	parentRoot, err := memory.CreateNewPageTable(m, fa, 0)
	require.NoError(t, err)
	parent := s.Spawn("parent", parentRoot)
	child, err := s.Fork(parent.ID)
	require.NoError(t, err)

	s.Exit(child.ID, 42)

	gotPID, status, err := s.Wait(parent.ID, child.ID)
	require.NoError(t, err)
	require.Equal(t, child.ID, gotPID)
	require.Equal(t, uint32(42), status)

	_, _, err = s.Wait(parent.ID, child.ID)
	require.ErrorIs(t, err, ErrNoSuchChild, "a reaped child must not be found twice")
}

func TestWaitBlocksUntilChildExits(t *testing.T) {
	s, m, fa := newTestScheduler(t)
	parentRoot, err := memory.CreateNewPageTable(m, fa, 0)
	require.NoError(t, err)
	parent := s.Spawn("parent", parentRoot)
	child, err := s.Fork(parent.ID)
	require.NoError(t, err)

	var g errgroup.Group
	g.Go(func() error {
		time.Sleep(5 * time.Millisecond)
		s.Exit(child.ID, 7)
		return nil
	})

	gotPID, status, err := s.Wait(parent.ID, WaitAny)
	require.NoError(t, g.Wait())
	require.NoError(t, err)
	require.Equal(t, child.ID, gotPID)
	require.Equal(t, uint32(7), status)
}

func TestExitCleanupRemovesMappingsFromOtherAddressSpaces(t *testing.T) {
	s, m, fa := newTestScheduler(t)
	root1, err := memory.CreateNewPageTable(m, fa, 0)
	require.NoError(t, err)
	p1 := s.Spawn("p1", root1)

	region := memory.UserRegion{Base: 0x20000, Size: memory.PageSize}
	require.NoError(t, memory.AllocateProcessMemory(m, fa, p1.AddressSpaceRoot, region.Base, region.Size, nil))
	p1.AddUserRegion(region)

	root2, err := memory.CreateNewPageTable(m, fa, 0)
	require.NoError(t, err)
	p2 := s.Spawn("p2", root2)
	_ = p2

	s.Exit(p1.ID, 0)

	_, err = memory.Translate(m, p1.AddressSpaceRoot, region.Base)
	require.ErrorIs(t, err, memory.ErrNoMapping)

	_, err = memory.Translate(m, root2, region.Base)
	require.ErrorIs(t, err, memory.ErrNoMapping, "an unrelated process must never have seen this mapping")
}
