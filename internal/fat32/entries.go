package fat32

import (
	"encoding/binary"

	"github.com/atomicos/atomicos/internal/blockdev"
)

// entryLoc identifies one 32-byte directory entry's on-disk slot, so
// callers can write it back (size updates, delete marking) without
// re-walking the directory chain.
type entryLoc struct {
	cluster uint32
	sector  int // index of the containing sector within the cluster
	offset  int // byte offset of the entry within that sector
}

func rawName(raw []byte) [11]byte {
	var n [11]byte
	copy(n[:], raw[0:11])
	return n
}

func rawAttr(raw []byte) byte { return raw[11] }

func rawFirstCluster(raw []byte) uint32 {
	hi := binary.LittleEndian.Uint16(raw[20:22])
	lo := binary.LittleEndian.Uint16(raw[26:28])
	return uint32(hi)<<16 | uint32(lo)
}

func setRawFirstCluster(raw []byte, cluster uint32) {
	binary.LittleEndian.PutUint16(raw[20:22], uint16(cluster>>16))
	binary.LittleEndian.PutUint16(raw[26:28], uint16(cluster&0xFFFF))
}

func rawFileSize(raw []byte) uint32 { return binary.LittleEndian.Uint32(raw[28:32]) }

func setRawFileSize(raw []byte, size uint32) {
	binary.LittleEndian.PutUint32(raw[28:32], size)
}

func makeRawEntry(name83 [11]byte, attr byte, firstCluster, size uint32) [32]byte {
	var raw [32]byte
	copy(raw[0:11], name83[:])
	raw[11] = attr
	setRawFirstCluster(raw[:], firstCluster)
	setRawFileSize(raw[:], size)
	return raw
}

// walkDir visits every live directory entry in cluster chain start, in
// on-disk order, stopping at the first 0x00 terminator byte (the FAT
// end-of-directory convention) or at visit's request.
func (f *FS) walkDir(start uint32, visit func(loc entryLoc, raw []byte) (stop bool, err error)) error {
	c := start
	for c != 0 && c < eocThreshold {
		for s := 0; s < int(f.bpb.sectorsPerCluster); s++ {
			sector, err := f.readSector(f.bpb.clusterToSector(c) + uint64(s))
			if err != nil {
				return err
			}
			for off := 0; off+dirEntrySize <= blockdev.SectorSize; off += dirEntrySize {
				raw := sector[off : off+dirEntrySize]
				if raw[0] == 0x00 {
					return nil
				}
				if raw[0] == 0xE5 || rawAttr(raw) == attrLongName || rawAttr(raw)&attrVolumeID != 0 {
					continue
				}
				stop, err := visit(entryLoc{cluster: c, sector: s, offset: off}, raw)
				if err != nil {
					return err
				}
				if stop {
					return nil
				}
			}
		}
		next, err := f.readFATEntry(c)
		if err != nil {
			return err
		}
		c = next
	}
	return nil
}

func (f *FS) setEntryRaw(loc entryLoc, raw [32]byte) error {
	sector, err := f.readSector(f.bpb.clusterToSector(loc.cluster) + uint64(loc.sector))
	if err != nil {
		return err
	}
	copy(sector[loc.offset:loc.offset+dirEntrySize], raw[:])
	return f.writeSector(f.bpb.clusterToSector(loc.cluster)+uint64(loc.sector), sector)
}

// findInDir locates the entry named name83 directly inside directory
// cluster chain dirCluster.
func (f *FS) findInDir(dirCluster uint32, name83 [11]byte) (raw [32]byte, loc entryLoc, found bool, err error) {
	err = f.walkDir(dirCluster, func(l entryLoc, r []byte) (bool, error) {
		if rawName(r) == name83 {
			copy(raw[:], r)
			loc = l
			found = true
			return true, nil
		}
		return false, nil
	})
	return raw, loc, found, err
}

// appendEntryToDir writes raw into the first free (terminator or
// deleted) slot of directory cluster chain dirCluster, extending the
// chain with a freshly zeroed cluster if every existing cluster is
// full, and returns the slot it used.
func (f *FS) appendEntryToDir(dirCluster uint32, raw [32]byte) (entryLoc, error) {
	c := dirCluster
	var last uint32
	for c != 0 && c < eocThreshold {
		last = c
		for s := 0; s < int(f.bpb.sectorsPerCluster); s++ {
			sector, err := f.readSector(f.bpb.clusterToSector(c) + uint64(s))
			if err != nil {
				return entryLoc{}, err
			}
			for off := 0; off+dirEntrySize <= blockdev.SectorSize; off += dirEntrySize {
				if sector[off] == 0x00 || sector[off] == 0xE5 {
					loc := entryLoc{cluster: c, sector: s, offset: off}
					return loc, f.setEntryRaw(loc, raw)
				}
			}
		}
		next, err := f.readFATEntry(c)
		if err != nil {
			return entryLoc{}, err
		}
		c = next
	}
	newCluster, err := f.allocateCluster(last)
	if err != nil {
		return entryLoc{}, err
	}
	loc := entryLoc{cluster: newCluster, sector: 0, offset: 0}
	return loc, f.setEntryRaw(loc, raw)
}
