// Package fat32 implements the read/write FAT32 driver layered over a
// 512-byte block device (spec.md §4.2, §6). Offsets, the EOC
// threshold, and the 8.3 directory-entry layout all follow the
// standard FAT32 on-disk format spec.md §6 cites.
package fat32

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/atomicos/atomicos/internal/blockdev"
)

// Error taxonomy (spec.md §7). FS's path operations return the vfs
// sentinels (vfs.ErrNotFound, vfs.ErrInvalidPath, ...) so callers above
// the mount boundary see one consistent set regardless of which
// filesystem served the request; of the path-level values below, only
// ErrInvalidPath is returned, by encode83. ErrIO, ErrNoSpace and
// ErrBadSignature are this package's own.
var (
	ErrNotFound      = errors.New("fat32: not found")
	ErrAlreadyExists = errors.New("fat32: already exists")
	ErrNotADirectory = errors.New("fat32: not a directory")
	ErrIsADirectory  = errors.New("fat32: is a directory")
	ErrInvalidPath   = errors.New("fat32: invalid path")
	ErrIO            = errors.New("fat32: io error")
	ErrNoSpace       = errors.New("fat32: no space")
	ErrBadSignature  = errors.New("fat32: bad boot sector signature")
)

// eocThreshold: a FAT entry value at or above this marks end-of-chain
// (spec.md §3; only the low 28 bits are significant).
const eocThreshold = 0x0FFFFFF8

// eocMarker is written when terminating a chain.
const eocMarker = 0x0FFFFFFF

const maxFileReadBytes = 16 * 1024 * 1024 // safety cap, spec.md §4.2 "Read"

// Standard 8.3 directory-entry attribute bits.
const (
	attrReadOnly  = 0x01
	attrHidden    = 0x02
	attrSystem    = 0x04
	attrVolumeID  = 0x08
	attrDirectory = 0x10
	attrArchive   = 0x20
	attrLongName  = attrReadOnly | attrHidden | attrSystem | attrVolumeID
)

const dirEntrySize = 32

// bpb holds the fields of the BIOS Parameter Block this driver
// actually uses (spec.md §6's offset table).
type bpb struct {
	bytesPerSector    uint16
	sectorsPerCluster uint8
	reservedSectors   uint16
	numFATs           uint8
	fatSize           uint32
	rootCluster       uint32
	totalSectors      uint32
}

func parseBPB(sector []byte) (*bpb, error) {
	if len(sector) < 512 {
		return nil, ErrIO
	}
	if sector[510] != 0x55 || sector[511] != 0xAA {
		return nil, ErrBadSignature
	}

	b := &bpb{
		bytesPerSector:    binary.LittleEndian.Uint16(sector[11:13]),
		sectorsPerCluster: sector[13],
		reservedSectors:   binary.LittleEndian.Uint16(sector[14:16]),
		numFATs:           sector[16],
		rootCluster:       binary.LittleEndian.Uint32(sector[44:48]),
	}

	total16 := binary.LittleEndian.Uint16(sector[19:21])
	if total16 != 0 {
		b.totalSectors = uint32(total16)
	} else {
		b.totalSectors = binary.LittleEndian.Uint32(sector[32:36])
	}

	fatSz16 := binary.LittleEndian.Uint16(sector[22:24])
	if fatSz16 != 0 {
		b.fatSize = uint32(fatSz16)
	} else {
		b.fatSize = binary.LittleEndian.Uint32(sector[36:40])
	}

	if b.bytesPerSector != blockdev.SectorSize {
		return nil, ErrIO
	}
	return b, nil
}

func (b *bpb) fatStart() uint64 { return uint64(b.reservedSectors) }
func (b *bpb) dataStart() uint64 {
	return b.fatStart() + uint64(b.numFATs)*uint64(b.fatSize)
}
func (b *bpb) clusterToSector(c uint32) uint64 {
	return b.dataStart() + uint64(c-2)*uint64(b.sectorsPerCluster)
}
func (b *bpb) clusterSize() int { return int(b.sectorsPerCluster) * blockdev.SectorSize }
