package console

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMultiWriterFansOutToEveryBackend(t *testing.T) {
	vga := NewVGAWriter()
	var serialBuf bytes.Buffer
	serial := NewSerialWriter(&serialBuf)
	mw := NewMultiWriter(vga, serial)

	n, err := mw.WriteBytes([]byte("booting\n"))
	require.NoError(t, err)
	require.Equal(t, 8, n)
	require.Equal(t, []byte("booting\n"), vga.Snapshot())
	require.Equal(t, "booting\n", serialBuf.String())
}

func TestConsoleBroadcastAndReadLine(t *testing.T) {
	vga := NewVGAWriter()
	c := New(vga, strings.NewReader("hello\nworld"))

	n, err := c.Broadcast([]byte("hi"))
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []byte("hi"), vga.Snapshot())

	buf := make([]byte, 32)
	n, err = c.ReadLine(buf)
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(buf[:n]))

	n, err = c.ReadLine(buf)
	require.NoError(t, err)
	require.Equal(t, "world", string(buf[:n]))
}

func TestReadLineTruncatesAtBufferLength(t *testing.T) {
	c := New(NewVGAWriter(), strings.NewReader("abcdefgh\n"))
	buf := make([]byte, 4)
	n, err := c.ReadLine(buf)
	require.NoError(t, err)
	require.Equal(t, "abcd", string(buf[:n]))
}
