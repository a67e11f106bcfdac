package fat32

import (
	"encoding/binary"

	"github.com/atomicos/atomicos/internal/blockdev"
)

// FormatOptions are the handful of BPB fields a fresh image needs;
// everything else in the boot sector is either fixed by the standard
// or left zero (spec.md §6 only specifies the fields this driver
// reads, not a full BIOS-compatible boot sector).
type FormatOptions struct {
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
}

// DefaultFormatOptions matches what cmd/mkfatimg uses absent flags:
// one sector per cluster, two reserved boot sectors, a single FAT
// copy — the smallest layout this driver's own tests build against.
func DefaultFormatOptions() FormatOptions {
	return FormatOptions{SectorsPerCluster: 1, ReservedSectors: 2, NumFATs: 1}
}

// Format writes a fresh FAT32 boot sector, FAT region, and an empty
// root directory cluster onto dev, sized to its full sector count.
// dev must report that count through a SectorCount method (as
// blockdev.Memory does); any other device is rejected with ErrIO.
// Grounded on fat32_test.go's buildTestImage helper, generalized into
// the real on-disk write path cmd/mkfatimg drives instead of a test
// fixture builder.
func Format(dev blockdev.Device, opts FormatOptions) error {
	sized, ok := dev.(interface{ SectorCount() uint64 })
	if !ok {
		return ErrIO
	}
	totalSectors := sized.SectorCount()
	if totalSectors == 0 {
		return ErrIO
	}

	// One FAT copy covers totalClusters*4 bytes; size it generously
	// enough for every data-region cluster plus rounding, rather than
	// solving the circular cluster-count/FAT-size relationship exactly.
	dataSectorsGuess := totalSectors - uint64(opts.ReservedSectors)
	clusterGuess := dataSectorsGuess/uint64(opts.SectorsPerCluster) + 2
	fatSizeSectors := uint32((clusterGuess*4 + blockdev.SectorSize - 1) / blockdev.SectorSize)
	if fatSizeSectors == 0 {
		fatSizeSectors = 1
	}

	var boot [blockdev.SectorSize]byte
	binary.LittleEndian.PutUint16(boot[11:13], blockdev.SectorSize)
	boot[13] = opts.SectorsPerCluster
	binary.LittleEndian.PutUint16(boot[14:16], opts.ReservedSectors)
	boot[16] = opts.NumFATs
	binary.LittleEndian.PutUint32(boot[32:36], uint32(totalSectors))
	binary.LittleEndian.PutUint32(boot[36:40], fatSizeSectors)
	binary.LittleEndian.PutUint32(boot[44:48], 2) // root directory starts at cluster 2
	boot[510], boot[511] = 0x55, 0xAA
	if err := dev.WriteSector(0, &boot); err != nil {
		return ErrIO
	}

	b, err := parseBPB(boot[:])
	if err != nil {
		return err
	}

	var zero [blockdev.SectorSize]byte
	for fatCopy := uint32(0); fatCopy < uint32(b.numFATs); fatCopy++ {
		base := b.fatStart() + uint64(fatCopy)*uint64(fatSizeSectors)
		for s := uint64(0); s < uint64(fatSizeSectors); s++ {
			if err := dev.WriteSector(base+s, &zero); err != nil {
				return ErrIO
			}
		}
	}

	fs := &FS{dev: dev, bpb: b}
	if err := fs.writeFATEntry(2, eocMarker); err != nil {
		return err
	}
	rootSector := b.clusterToSector(2)
	for s := uint64(0); s < uint64(b.sectorsPerCluster); s++ {
		if err := dev.WriteSector(rootSector+s, &zero); err != nil {
			return ErrIO
		}
	}
	return nil
}
