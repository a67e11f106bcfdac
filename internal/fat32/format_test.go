package fat32

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atomicos/atomicos/internal/blockdev"
)

func TestFormatProducesAMountableFilesystem(t *testing.T) {
	dev := blockdev.NewMemory(256)
	require.NoError(t, Format(dev, DefaultFormatOptions()))

	fs, err := New(dev)
	require.NoError(t, err)
	require.Equal(t, "fat32", fs.Name())

	entries, err := fs.Readdir("/")
	require.NoError(t, err)
	require.Empty(t, entries)

	require.NoError(t, fs.Create("/hello.txt"))
	n, err := fs.Write("/hello.txt", 0, []byte("hi"))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	buf := make([]byte, 2)
	n, err = fs.Read("/hello.txt", 0, buf)
	require.NoError(t, err)
	require.Equal(t, "hi", string(buf[:n]))
}
