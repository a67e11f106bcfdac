package memory

import (
	"github.com/pkg/errors"

	"github.com/atomicos/atomicos/internal/bitfield"
)

// ErrOutOfFrames is returned when the frame allocator's free supply
// (in this bump design: the untouched remainder of the arena) is
// exhausted.
var ErrOutOfFrames = errors.New("memory: out of physical frames")

// Region describes one Multiboot2 "Available" memory-map entry: a
// physically-addressed, page-aligned span the frame allocator may hand
// out.
type Region struct {
	Base   PhysAddr
	Length uintptr
}

// Machine owns the simulated physical RAM arena that every page table
// and frame in this package is built over. On real hardware the
// equivalent is simply "physical memory"; in tests and host tooling it
// is this byte slice, addressed by PhysAddr as a plain offset.
type Machine struct {
	phys []byte
}

// NewMachine allocates a simulated physical arena of the given size
// (rounded up to a page boundary).
func NewMachine(size uintptr) *Machine {
	return &Machine{phys: make([]byte, AlignUp(size))}
}

// Size returns the arena's total length in bytes.
func (m *Machine) Size() uintptr { return uintptr(len(m.phys)) }

// Read copies len(dst) bytes starting at PhysAddr p into dst.
func (m *Machine) Read(p PhysAddr, dst []byte) {
	copy(dst, m.phys[p:])
}

// Write copies src into the arena starting at PhysAddr p.
func (m *Machine) Write(p PhysAddr, src []byte) {
	copy(m.phys[p:], src)
}

// ZeroPage zeroes the page at physical address p.
func (m *Machine) ZeroPage(p PhysAddr) {
	clear(m.phys[p : uintptr(p)+PageSize])
}

// Uint64At reads a little-endian uint64 from physical address p.
func (m *Machine) Uint64At(p PhysAddr) uint64 {
	b := m.phys[p : p+8]
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
}

// SetUint64At writes a little-endian uint64 to physical address p.
func (m *Machine) SetUint64At(p PhysAddr, v uint64) {
	b := m.phys[p : p+8]
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	b[4] = byte(v >> 32)
	b[5] = byte(v >> 40)
	b[6] = byte(v >> 48)
	b[7] = byte(v >> 56)
}

// FrameAllocator is a forward-bump allocator initialized from the
// Multiboot2 "Available" region list. It never reuses a frame freed by
// FreeUserMemory or an FS unlink — an acknowledged limitation carried
// over unchanged from spec.md §4.1 and the open questions in §9. It
// does keep a bookkeeping record of each frame it has ever handed out,
// in bitfield.FrameFlags form, so the never-reuse invariant is
// checkable rather than just asserted: FreeFrame marks a frame Zombie
// instead of returning it to the bump cursor.
type FrameAllocator struct {
	regions []Region
	region  int      // index of the region currently being handed out
	next    PhysAddr // next frame to hand out within regions[region]
	flags   map[PhysAddr]bitfield.FrameFlags
}

// NewFrameAllocator builds an allocator over the given Multiboot2
// regions, in the order supplied (the bootloader is expected to have
// already sorted them by base address).
func NewFrameAllocator(regions []Region) *FrameAllocator {
	fa := &FrameAllocator{regions: regions, flags: make(map[PhysAddr]bitfield.FrameFlags)}
	if len(regions) > 0 {
		fa.next = PhysAddr(AlignUp(uintptr(regions[0].Base)))
	}
	return fa
}

// AllocFrame returns the physical address of a fresh, unzeroed 4KiB
// frame, or ErrOutOfFrames if the region list is exhausted.
func (fa *FrameAllocator) AllocFrame() (PhysAddr, error) {
	for fa.region < len(fa.regions) {
		r := fa.regions[fa.region]
		end := PhysAddr(uintptr(r.Base) + r.Length)
		if fa.next+PageSize <= end {
			frame := fa.next
			fa.next += PageSize
			fa.flags[frame] = bitfield.FrameFlags{Allocated: true}
			return frame, nil
		}
		fa.region++
		if fa.region < len(fa.regions) {
			fa.next = PhysAddr(AlignUp(uintptr(fa.regions[fa.region].Base)))
		}
	}
	return 0, ErrOutOfFrames
}

// AllocZeroedFrame allocates a frame and zeroes it in m before returning.
func (fa *FrameAllocator) AllocZeroedFrame(m *Machine) (PhysAddr, error) {
	f, err := fa.AllocFrame()
	if err != nil {
		return 0, err
	}
	m.ZeroPage(f)
	return f, nil
}

// FreeFrame marks frame as freed in the bookkeeping map: Allocated
// clears and Zombie sets. The bump cursor never rewinds (see the
// forward-bump limitation above), so the frame itself is never handed
// out again; this only makes that fact checkable via FrameState
// instead of silently true. Freeing an address this allocator never
// handed out is a no-op.
func (fa *FrameAllocator) FreeFrame(frame PhysAddr) {
	f, ok := fa.flags[frame]
	if !ok {
		return
	}
	f.Allocated = false
	f.Zombie = true
	fa.flags[frame] = f
}

// FrameState reports the bookkeeping flags for a frame this allocator
// has handed out. ok is false for an address it never allocated.
func (fa *FrameAllocator) FrameState(frame PhysAddr) (bitfield.FrameFlags, bool) {
	f, ok := fa.flags[frame]
	return f, ok
}
