package fat32

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atomicos/atomicos/internal/blockdev"
	"github.com/atomicos/atomicos/internal/vfs"
)

// buildTestImage lays down a minimal but structurally real FAT32 boot
// sector and an already-allocated, empty root directory cluster, the
// way cmd/mkfatimg's image builder would before handing a device to
// FS.New.
func buildTestImage(t *testing.T, totalClusters uint32) *blockdev.Memory {
	t.Helper()

	const (
		reservedSectors   = 2
		numFATs           = 1
		fatSizeSectors    = 1
		sectorsPerCluster = 1
		rootCluster       = 2
	)
	dataStart := reservedSectors + numFATs*fatSizeSectors
	totalSectors := uint32(dataStart) + totalClusters*sectorsPerCluster

	dev := blockdev.NewMemory(uint64(totalSectors))

	var boot [blockdev.SectorSize]byte
	binary.LittleEndian.PutUint16(boot[11:13], blockdev.SectorSize)
	boot[13] = sectorsPerCluster
	binary.LittleEndian.PutUint16(boot[14:16], reservedSectors)
	boot[16] = numFATs
	binary.LittleEndian.PutUint16(boot[19:21], 0) // force 32-bit total-sectors field
	binary.LittleEndian.PutUint32(boot[32:36], totalSectors)
	binary.LittleEndian.PutUint16(boot[22:24], 0) // force 32-bit fat-size field
	binary.LittleEndian.PutUint32(boot[36:40], fatSizeSectors)
	binary.LittleEndian.PutUint32(boot[44:48], rootCluster)
	boot[510] = 0x55
	boot[511] = 0xAA
	require.NoError(t, dev.WriteSector(0, &boot))

	// Mark the root directory's own cluster allocated (EOC) in the FAT.
	var fatSector [blockdev.SectorSize]byte
	binary.LittleEndian.PutUint32(fatSector[rootCluster*4:rootCluster*4+4], eocMarker)
	require.NoError(t, dev.WriteSector(reservedSectors, &fatSector))

	var zero [blockdev.SectorSize]byte
	rootLBA := uint64(dataStart) + uint64(rootCluster-2)*sectorsPerCluster
	require.NoError(t, dev.WriteSector(rootLBA, &zero))

	return dev
}

func mustFS(t *testing.T, totalClusters uint32) *FS {
	t.Helper()
	dev := buildTestImage(t, totalClusters)
	fs, err := New(dev)
	require.NoError(t, err)
	return fs
}

func TestNewRejectsBadSignature(t *testing.T) {
	dev := blockdev.NewMemory(4)
	_, err := New(dev)
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestCreateWriteReadRoundTrip(t *testing.T) {
	fs := mustFS(t, 20)
	require.NoError(t, fs.Create("/hello.txt"))

	payload := []byte("atomicos on disk")
	n, err := fs.Write("/hello.txt", 0, payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	buf := make([]byte, len(payload))
	n, err = fs.Read("/hello.txt", 0, buf)
	require.NoError(t, err)
	require.Equal(t, payload, buf[:n])
}

func TestWriteAcrossMultipleClustersPreservesChain(t *testing.T) {
	fs := mustFS(t, 20)
	require.NoError(t, fs.Create("/big"))

	// One sector per cluster in this geometry, so writing more than a
	// sector forces the chain to grow across clusters (spec.md §8
	// chain-integrity property).
	payload := make([]byte, blockdev.SectorSize*3+17)
	for i := range payload {
		payload[i] = byte(i)
	}
	_, err := fs.Write("/big", 0, payload)
	require.NoError(t, err)

	buf := make([]byte, len(payload))
	n, err := fs.Read("/big", 0, buf)
	require.NoError(t, err)
	require.Equal(t, payload, buf[:n])
}

func TestWriteWithOffsetGapZeroFills(t *testing.T) {
	fs := mustFS(t, 20)
	require.NoError(t, fs.Create("/gap"))
	_, err := fs.Write("/gap", 4, []byte("end"))
	require.NoError(t, err)

	buf := make([]byte, 7)
	n, err := fs.Read("/gap", 0, buf)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0, 0, 'e', 'n', 'd'}, buf[:n])
}

func TestReadPastEOFReturnsZero(t *testing.T) {
	fs := mustFS(t, 20)
	require.NoError(t, fs.Create("/x"))
	_, err := fs.Write("/x", 0, []byte("ab"))
	require.NoError(t, err)

	n, err := fs.Read("/x", 100, make([]byte, 4))
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestMkdirLookupReaddirUnlink(t *testing.T) {
	fs := mustFS(t, 20)
	require.NoError(t, fs.Mkdir("/d"))

	isDir, err := fs.Lookup("/d")
	require.NoError(t, err)
	require.True(t, isDir)

	require.NoError(t, fs.Create("/d/child.txt"))
	entries, err := fs.Readdir("/d")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "CHILD.TXT", entries[0].Name)

	err = fs.Unlink("/d")
	require.ErrorIs(t, err, vfs.ErrInvalidPath, "non-empty directory must refuse unlink")

	require.NoError(t, fs.Unlink("/d/child.txt"))
	require.NoError(t, fs.Unlink("/d"))
	_, err = fs.Lookup("/d")
	require.ErrorIs(t, err, vfs.ErrNotFound)
}

func TestUnlinkFreesClusterChainForReuse(t *testing.T) {
	fs := mustFS(t, 3) // exactly: root + 2 data clusters available
	require.NoError(t, fs.Create("/a"))
	_, err := fs.Write("/a", 0, make([]byte, blockdev.SectorSize+1)) // spans 2 clusters
	require.NoError(t, err)

	require.NoError(t, fs.Unlink("/a"))

	// With the geometry exhausted by /a's chain, a second file can only
	// succeed if Unlink actually returned those clusters to the free
	// pool (spec.md §8 chain-integrity property).
	require.NoError(t, fs.Create("/b"))
	_, err = fs.Write("/b", 0, make([]byte, blockdev.SectorSize+1))
	require.NoError(t, err)
}

func TestCreateDuplicateFails(t *testing.T) {
	fs := mustFS(t, 20)
	require.NoError(t, fs.Create("/x"))
	err := fs.Create("/x")
	require.ErrorIs(t, err, vfs.ErrAlreadyExists)
}

func TestWriteRejectsDirectory(t *testing.T) {
	fs := mustFS(t, 20)
	require.NoError(t, fs.Mkdir("/d"))
	_, err := fs.Write("/d", 0, []byte("x"))
	require.ErrorIs(t, err, vfs.ErrIsADirectory)
}

func TestEncodeDecode83RoundTrip(t *testing.T) {
	raw, err := encode83("readme.md")
	require.NoError(t, err)
	require.Equal(t, "README.MD", decode83(raw))

	raw, err = encode83("boot")
	require.NoError(t, err)
	require.Equal(t, "BOOT", decode83(raw))
}

func TestEncode83RejectsOverlongNames(t *testing.T) {
	_, err := encode83("toolongname.txt")
	require.ErrorIs(t, err, ErrInvalidPath)
}
