package memory

import (
	"github.com/pkg/errors"

	"github.com/atomicos/atomicos/internal/bitfield"
)

// ErrNoMapping is returned by Translate/Unmap when no mapping exists for
// the requested virtual address.
var ErrNoMapping = errors.New("memory: no mapping for virtual address")

const presentBit = 1

func readEntry(m *Machine, table PhysAddr, index int) uint64 {
	return m.Uint64At(PhysAddr(uintptr(table) + uintptr(index)*8))
}

func writeEntry(m *Machine, table PhysAddr, index int, entry uint64) {
	m.SetUint64At(PhysAddr(uintptr(table)+uintptr(index)*8), entry)
}

func entryAddr(entry uint64) PhysAddr { return PhysAddr(entry &^ 0xFFF) }

func entryFlags(entry uint64) bitfield.PTEFlags {
	return bitfield.UnpackPTEFlags(uint32(entry & 0xFFF))
}

func makePTE(addr PhysAddr, flags bitfield.PTEFlags) uint64 {
	packed, _ := bitfield.PackPTEFlags(flags)
	return uint64(addr&^0xFFF) | uint64(packed&0xFFF)
}

// ensureNextLevel returns the physical address of the next-level table
// linked from table[index], allocating and zeroing a fresh one (and
// linking it Present+Writable+User) if none exists yet.
func ensureNextLevel(m *Machine, fa *FrameAllocator, table PhysAddr, index int) (PhysAddr, error) {
	entry := readEntry(m, table, index)
	if entryFlags(entry).Present {
		return entryAddr(entry), nil
	}
	next, err := fa.AllocZeroedFrame(m)
	if err != nil {
		return 0, err
	}
	writeEntry(m, table, index, makePTE(next, bitfield.PTEFlags{Present: true, Writable: true, User: true}))
	return next, nil
}

// walkExisting descends the hierarchy without creating missing levels,
// returning the deepest (PT) table address reached, or false if any
// level along the way is absent.
func walkExisting(m *Machine, root PhysAddr, v VirtAddr) (PhysAddr, bool) {
	table := root
	for level := levelPML4; level > levelPT; level-- {
		entry := readEntry(m, table, v.pageIndex(level))
		if !entryFlags(entry).Present {
			return 0, false
		}
		table = entryAddr(entry)
	}
	return table, true
}

// MapPage installs a single 4KiB mapping from v to the physical frame,
// creating any missing intermediate page-table levels. It implements
// the per-page step of allocate_process_memory (spec.md §4.1): callers
// needing the "fails atomically-per-page, no unwind" semantics call
// this once per page and stop at the first error, exactly as the
// original does.
func MapPage(m *Machine, fa *FrameAllocator, root PhysAddr, v VirtAddr, frame PhysAddr, flags bitfield.PTEFlags) error {
	table := root
	for level := levelPML4; level > levelPT; level-- {
		next, err := ensureNextLevel(m, fa, table, v.pageIndex(level))
		if err != nil {
			return err
		}
		table = next
	}
	writeEntry(m, table, v.pageIndex(levelPT), makePTE(frame, flags))
	return nil
}

// UnmapPage clears the PT entry for v, if one exists, and returns the
// physical frame it pointed at so the caller can mark it freed in the
// allocator's bookkeeping (spec.md §4.1 teardown: "the physical frame
// is not returned to the allocator" — only its flags change).
func UnmapPage(m *Machine, root PhysAddr, v VirtAddr) (PhysAddr, error) {
	pt, ok := walkExisting(m, root, v)
	if !ok {
		return 0, ErrNoMapping
	}
	entry := readEntry(m, pt, v.pageIndex(levelPT))
	if !entryFlags(entry).Present {
		return 0, ErrNoMapping
	}
	frame := entryAddr(entry)
	writeEntry(m, pt, v.pageIndex(levelPT), 0)
	return frame, nil
}

// Translate returns the physical frame a virtual address currently
// maps to, the way a deep-clone data copy needs to resolve both the
// parent's and the child's views of the same user allocation.
func Translate(m *Machine, root PhysAddr, v VirtAddr) (PhysAddr, error) {
	pt, ok := walkExisting(m, root, v)
	if !ok {
		return 0, ErrNoMapping
	}
	entry := readEntry(m, pt, v.pageIndex(levelPT))
	if !entryFlags(entry).Present {
		return 0, ErrNoMapping
	}
	return entryAddr(entry), nil
}

// CreateNewPageTable builds a fresh top-level (PML4) table for a new
// process: the upper half (kernel share) is cloned entry-by-entry from
// activeRoot so kernel code and heap stay reachable from every CR3; the
// first lower-half slot gets its own fresh second-level table holding
// only the kernel's identity-mapped region, User-Accessible on the
// link, so user mappings populated later remain isolated from every
// other process's lower half. This is spec.md §4.1 step for step.
func CreateNewPageTable(m *Machine, fa *FrameAllocator, activeRoot PhysAddr) (PhysAddr, error) {
	newRoot, err := fa.AllocZeroedFrame(m)
	if err != nil {
		return 0, err
	}

	// Step 2: share the kernel's upper half verbatim.
	for i := KernelShareBoundaryIndex; i < EntriesPerTable; i++ {
		writeEntry(m, newRoot, i, readEntry(m, activeRoot, i))
	}

	// Step 3: re-create (don't share) the first lower-half link, copying
	// only the identity-mapped kernel subentries of the active table's
	// equivalent second-level table.
	activeEntry0 := readEntry(m, activeRoot, 0)
	if entryFlags(activeEntry0).Present {
		oldSecondLevel := entryAddr(activeEntry0)
		newSecondLevel, err := fa.AllocZeroedFrame(m)
		if err != nil {
			return 0, err
		}
		for i := 0; i < EntriesPerTable; i++ {
			e := readEntry(m, oldSecondLevel, i)
			if entryFlags(e).Present {
				writeEntry(m, newSecondLevel, i, e)
			}
		}
		writeEntry(m, newRoot, 0, makePTE(newSecondLevel, bitfield.PTEFlags{Present: true, Writable: true, User: true}))
	}

	return newRoot, nil
}

// UserRegion is a (virtual base, length) pair tracked on a process so
// exit (or a failed fork) can release exactly what it allocated.
// Mirrors spec.md §3's "user allocations" field.
type UserRegion struct {
	Base VirtAddr
	Size uintptr
}

// AllocateProcessMemory maps size bytes of fresh, zeroed user memory at
// base into root, one page at a time, Present+Writable+User. On the
// first per-page failure it stops and returns the error without
// unwinding prior pages in this call — the known weakness spec.md
// §4.1 documents; cleanup is the caller's (exit's) job via the
// process's recorded UserRegions. flush, if non-nil, is invoked once
// per newly-mapped page so the caller can issue the matching TLB
// invalidation (a hardware side effect this package never performs
// itself).
func AllocateProcessMemory(m *Machine, fa *FrameAllocator, root PhysAddr, base VirtAddr, size uintptr, flush func(VirtAddr)) error {
	pages := PageCount(size)
	flags := bitfield.PTEFlags{Present: true, Writable: true, User: true}
	for i := uintptr(0); i < pages; i++ {
		v := VirtAddr(uintptr(base) + i*PageSize)
		frame, err := fa.AllocZeroedFrame(m)
		if err != nil {
			return err
		}
		if err := MapPage(m, fa, root, v, frame, flags); err != nil {
			return err
		}
		if flush != nil {
			flush(v)
		}
	}
	return nil
}

// FreeUserMemory unmaps every page of region from root and marks each
// backing frame Zombie in fa's bookkeeping. The physical frames are
// not returned to the bump cursor (forward-bump caveat, spec.md §4.1
// Teardown) — fa may be nil, in which case the frames are unmapped but
// left unmarked, for callers that only care about the page-table side
// effect (e.g. tests exercising unmap in isolation). flush is invoked
// per page for the same reason as in AllocateProcessMemory.
func FreeUserMemory(m *Machine, fa *FrameAllocator, root PhysAddr, region UserRegion, flush func(VirtAddr)) {
	pages := PageCount(region.Size)
	for i := uintptr(0); i < pages; i++ {
		v := VirtAddr(uintptr(region.Base) + i*PageSize)
		frame, err := UnmapPage(m, root, v)
		if err == nil && fa != nil {
			fa.FreeFrame(frame)
		}
		if flush != nil {
			flush(v)
		}
	}
}

// DeepCloneProcessMemory copies the byte contents of every parent
// UserRegion into freshly allocated frames mapped at the same virtual
// addresses under childRoot. Per spec.md §4.1, ordering matters: every
// region's page tables and backing frames are populated under the
// child root first (so the child's own translator can resolve them),
// then data is copied by reading through parentRoot's translation and
// writing through childRoot's — never the other way around, and never
// with both roots "active" at once, since this implementation never
// touches CR3 at all: both translations are plain Translate() calls
// against explicit PhysAddr roots.
//
// The known precondition from spec.md §9 applies: every region's Size
// must already be a whole multiple of PageSize, since a partial final
// page is copied in full (a short region reads past its own end into
// whatever follows it in the parent's frame).
func DeepCloneProcessMemory(m *Machine, fa *FrameAllocator, childRoot, parentRoot PhysAddr, regions []UserRegion, flush func(VirtAddr)) error {
	// Pass 1: populate the child's page tables with fresh frames.
	for _, r := range regions {
		if err := AllocateProcessMemory(m, fa, childRoot, r.Base, r.Size, flush); err != nil {
			return err
		}
	}

	// Pass 2: copy parent bytes into the child's frames.
	var page [PageSize]byte
	for _, r := range regions {
		pages := PageCount(r.Size)
		for i := uintptr(0); i < pages; i++ {
			v := VirtAddr(uintptr(r.Base) + i*PageSize)
			parentFrame, err := Translate(m, parentRoot, v)
			if err != nil {
				return errors.Wrapf(err, "deep clone: parent mapping missing for %#x", v)
			}
			childFrame, err := Translate(m, childRoot, v)
			if err != nil {
				return errors.Wrapf(err, "deep clone: child mapping missing for %#x", v)
			}
			m.Read(parentFrame, page[:])
			m.Write(childFrame, page[:])
		}
	}
	return nil
}
