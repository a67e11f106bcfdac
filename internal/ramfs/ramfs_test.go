package ramfs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atomicos/atomicos/internal/vfs"
)

func TestSeedMatchesBootScenario(t *testing.T) {
	f := New()
	require.NoError(t, f.Seed())

	entries, err := f.Readdir("/")
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, e := range entries {
		names[e.Name] = true
	}
	for _, want := range []string{"boot", "etc", "home", "README.md", "BUILD.md"} {
		require.True(t, names[want], "missing %q in root listing", want)
	}

	buf := make([]byte, 16)
	n, err := f.Read("/etc/hostname", 0, buf)
	require.NoError(t, err)
	require.Equal(t, "atomicos\n", string(buf[:n]))
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	f := New()
	require.NoError(t, f.Create("/x"))
	payload := []byte("hello world")
	n, err := f.Write("/x", 0, payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	buf := make([]byte, len(payload))
	n, err = f.Read("/x", 0, buf)
	require.NoError(t, err)
	require.Equal(t, payload, buf[:n])
}

func TestWriteWithGapZeroFills(t *testing.T) {
	f := New()
	require.NoError(t, f.Create("/x"))
	_, err := f.Write("/x", 4, []byte("end"))
	require.NoError(t, err)

	buf := make([]byte, 7)
	n, err := f.Read("/x", 0, buf)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0, 0, 'e', 'n', 'd'}, buf[:n])
}

func TestReadPastEOFReturnsZero(t *testing.T) {
	f := New()
	require.NoError(t, f.Create("/x"))
	_, err := f.Write("/x", 0, []byte("ab"))
	require.NoError(t, err)

	n, err := f.Read("/x", 100, make([]byte, 4))
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestMkdirLookupReaddirUnlink(t *testing.T) {
	f := New()
	require.NoError(t, f.Mkdir("/d"))

	isDir, err := f.Lookup("/d")
	require.NoError(t, err)
	require.True(t, isDir)

	require.NoError(t, f.Create("/d/child"))
	entries, err := f.Readdir("/d")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "child", entries[0].Name)

	err = f.Unlink("/d")
	require.ErrorIs(t, err, vfs.ErrInvalidPath, "non-empty directory must refuse unlink")

	require.NoError(t, f.Unlink("/d/child"))
	require.NoError(t, f.Unlink("/d"))
	_, err = f.Lookup("/d")
	require.ErrorIs(t, err, vfs.ErrNotFound)
}

func TestRootCannotBeRemoved(t *testing.T) {
	f := New()
	err := f.Unlink("/")
	require.ErrorIs(t, err, vfs.ErrInvalidPath)
}

func TestCreateDuplicateFails(t *testing.T) {
	f := New()
	require.NoError(t, f.Create("/x"))
	err := f.Create("/x")
	require.ErrorIs(t, err, vfs.ErrAlreadyExists)
}

func TestCreateUnderFileParentIsNotADirectory(t *testing.T) {
	f := New()
	require.NoError(t, f.Create("/x"))
	err := f.Create("/x/y")
	require.ErrorIs(t, err, vfs.ErrNotADirectory)
}
