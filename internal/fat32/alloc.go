package fat32

import (
	"encoding/binary"

	"github.com/atomicos/atomicos/internal/blockdev"
)

func (f *FS) readSector(lba uint64) ([blockdev.SectorSize]byte, error) {
	var buf [blockdev.SectorSize]byte
	if err := f.dev.ReadSector(lba, &buf); err != nil {
		return buf, ErrIO
	}
	return buf, nil
}

func (f *FS) writeSector(lba uint64, buf [blockdev.SectorSize]byte) error {
	if err := f.dev.WriteSector(lba, &buf); err != nil {
		return ErrIO
	}
	return nil
}

// readFATEntry returns cluster's 28-bit FAT entry value (spec.md §6).
func (f *FS) readFATEntry(cluster uint32) (uint32, error) {
	byteOff := uint64(cluster) * 4
	sector, err := f.readSector(f.bpb.fatStart() + byteOff/blockdev.SectorSize)
	if err != nil {
		return 0, err
	}
	off := byteOff % blockdev.SectorSize
	return binary.LittleEndian.Uint32(sector[off:off+4]) & 0x0FFFFFFF, nil
}

// writeFATEntry writes value (masked to 28 bits) to cluster's entry in
// every FAT copy, preserving each copy's reserved top 4 bits.
func (f *FS) writeFATEntry(cluster uint32, value uint32) error {
	value &= 0x0FFFFFFF
	byteOff := uint64(cluster) * 4
	sectorInFAT := byteOff / blockdev.SectorSize
	off := byteOff % blockdev.SectorSize

	for copyIdx := uint32(0); copyIdx < uint32(f.bpb.numFATs); copyIdx++ {
		lba := f.bpb.fatStart() + uint64(f.bpb.fatSize)*uint64(copyIdx) + sectorInFAT
		sector, err := f.readSector(lba)
		if err != nil {
			return err
		}
		old := binary.LittleEndian.Uint32(sector[off : off+4])
		binary.LittleEndian.PutUint32(sector[off:off+4], (old&0xF0000000)|value)
		if err := f.writeSector(lba, sector); err != nil {
			return err
		}
	}
	return nil
}

func (f *FS) totalClusters() uint32 {
	dataSectors := f.bpb.totalSectors - uint32(f.bpb.dataStart())
	return dataSectors/uint32(f.bpb.sectorsPerCluster) + 2
}

// allocateCluster linear-scans the FAT for the first free (zero)
// entry, marks it end-of-chain, zeroes its backing sectors, and — if
// prev is non-zero — links prev's entry to point at it (spec.md §6).
func (f *FS) allocateCluster(prev uint32) (uint32, error) {
	total := f.totalClusters()
	for c := uint32(2); c < total; c++ {
		entry, err := f.readFATEntry(c)
		if err != nil {
			return 0, err
		}
		if entry != 0 {
			continue
		}
		if err := f.writeFATEntry(c, eocMarker); err != nil {
			return 0, err
		}
		if prev != 0 {
			if err := f.writeFATEntry(prev, c); err != nil {
				return 0, err
			}
		}
		var zero [blockdev.SectorSize]byte
		base := f.bpb.clusterToSector(c)
		for s := uint64(0); s < uint64(f.bpb.sectorsPerCluster); s++ {
			if err := f.writeSector(base+s, zero); err != nil {
				return 0, err
			}
		}
		return c, nil
	}
	return 0, ErrNoSpace
}

// freeClusterChain walks start's chain, resetting every entry to 0.
func (f *FS) freeClusterChain(start uint32) error {
	c := start
	for c != 0 && c < eocThreshold {
		next, err := f.readFATEntry(c)
		if err != nil {
			return err
		}
		if err := f.writeFATEntry(c, 0); err != nil {
			return err
		}
		c = next
	}
	return nil
}
