// Package blockdev defines the 512-byte sector block-device interface
// FAT32 is layered on (spec.md §6), plus an in-memory implementation
// used by tests and by cmd/mkfatimg to build disk-image fixtures
// without touching the host filesystem. The real ATA PIO driver is an
// out-of-scope collaborator (spec.md §1): it would implement this same
// interface, but its register-level implementation belongs to the
// driver, not to this kernel's core.
package blockdev

import "github.com/pkg/errors"

// SectorSize is fixed at 512 bytes (spec.md §6).
const SectorSize = 512

// Error taxonomy for the block-device boundary (spec.md §7).
var (
	ErrDeviceNotFound = errors.New("blockdev: device not found")
	ErrDeviceFault    = errors.New("blockdev: device fault")
	ErrBusyTimeout    = errors.New("blockdev: busy timeout")
	ErrDRQTimeout     = errors.New("blockdev: drq timeout")
	ErrIO             = errors.New("blockdev: io error")
)

// Device is the block device FAT32 consumes.
type Device interface {
	ReadSector(lba uint64, buf *[SectorSize]byte) error
	WriteSector(lba uint64, buf *[SectorSize]byte) error
}

// Memory is an in-memory Device, useful for tests and for
// cmd/mkfatimg's image-building pipeline before it is flushed to a
// file.
type Memory struct {
	sectors [][SectorSize]byte
}

// NewMemory allocates a zeroed device of the given sector count.
func NewMemory(sectorCount uint64) *Memory {
	return &Memory{sectors: make([][SectorSize]byte, sectorCount)}
}

// NewMemoryFromBytes builds a Device from an existing byte slice (e.g.
// a disk image read off the host filesystem by cmd/diskctl), copying
// data into freshly allocated sectors; later writes to the Device do
// not touch data. data's length must be a multiple of SectorSize.
func NewMemoryFromBytes(data []byte) (*Memory, error) {
	if len(data)%SectorSize != 0 {
		return nil, ErrIO
	}
	count := len(data) / SectorSize
	sectors := make([][SectorSize]byte, count)
	for i := 0; i < count; i++ {
		copy(sectors[i][:], data[i*SectorSize:(i+1)*SectorSize])
	}
	return &Memory{sectors: sectors}, nil
}

func (m *Memory) ReadSector(lba uint64, buf *[SectorSize]byte) error {
	if lba >= uint64(len(m.sectors)) {
		return ErrDeviceFault
	}
	*buf = m.sectors[lba]
	return nil
}

func (m *Memory) WriteSector(lba uint64, buf *[SectorSize]byte) error {
	if lba >= uint64(len(m.sectors)) {
		return ErrDeviceFault
	}
	m.sectors[lba] = *buf
	return nil
}

// SectorCount reports the device's total sector count.
func (m *Memory) SectorCount() uint64 { return uint64(len(m.sectors)) }

// Bytes returns the raw backing bytes, for cmd/mkfatimg to persist to
// a file after building an image in memory.
func (m *Memory) Bytes() []byte {
	out := make([]byte, 0, len(m.sectors)*SectorSize)
	for _, s := range m.sectors {
		out = append(out, s[:]...)
	}
	return out
}
