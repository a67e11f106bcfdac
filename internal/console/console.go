// Package console is the out-of-scope collaborator proc.ConsoleIO
// delegates to: a host-side stand-in for the kernel's VGA text buffer
// and serial port. Grounded on mazboot's uart_qemu.go/uart_stub.go
// pattern of a small Writer behind a build-tag-selected backend, and
// on its habit of fanning the same boot trace out to more than one
// sink at once.
package console

import (
	"bufio"
	"io"
	"sync"
)

// Writer is the minimal sink every console backend implements: raw
// byte output, with no framing or line discipline imposed.
type Writer interface {
	WriteBytes(data []byte) (int, error)
}

// VGAWriter stands in for the kernel's memory-mapped VGA text buffer.
// On real hardware this writes directly to 0xB8000; here it appends to
// an in-memory backing buffer so tests can assert on what the kernel
// "displayed."
type VGAWriter struct {
	mu  sync.Mutex
	buf []byte
}

// NewVGAWriter returns an empty VGA stand-in.
func NewVGAWriter() *VGAWriter { return &VGAWriter{} }

func (w *VGAWriter) WriteBytes(data []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, data...)
	return len(data), nil
}

// Snapshot returns a copy of everything written so far.
func (w *VGAWriter) Snapshot() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]byte, len(w.buf))
	copy(out, w.buf)
	return out
}

// SerialWriter stands in for the kernel's 16550 UART: it forwards
// every byte to an underlying io.Writer (os.Stdout at boot, a
// bytes.Buffer in tests).
type SerialWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewSerialWriter wraps w as a console backend.
func NewSerialWriter(w io.Writer) *SerialWriter { return &SerialWriter{w: w} }

func (s *SerialWriter) WriteBytes(data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(data)
}

// MultiWriter fans one write out to every backend it holds, the same
// way mazboot's boot trace reaches both the framebuffer and the UART.
// A backend failure doesn't stop the others from seeing the bytes;
// the first error encountered is returned after every backend has run.
type MultiWriter struct {
	backends []Writer
}

// NewMultiWriter builds a MultiWriter over the given backends, in the
// order they should receive each write.
func NewMultiWriter(backends ...Writer) *MultiWriter {
	return &MultiWriter{backends: backends}
}

func (m *MultiWriter) WriteBytes(data []byte) (int, error) {
	var firstErr error
	for _, b := range m.backends {
		if _, err := b.WriteBytes(data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return len(data), firstErr
}

// Console implements proc.ConsoleIO: Broadcast fans a write syscall's
// payload out to every backend, and ReadLine serves the keyboard-input
// side from a buffered reader (a host stdin in a real boot, a
// strings.Reader in tests).
type Console struct {
	out Writer
	in  *bufio.Reader
}

// New builds a Console over the given output fan-out and input source.
func New(out Writer, in io.Reader) *Console {
	return &Console{out: out, in: bufio.NewReader(in)}
}

// Broadcast writes data to every console backend (spec.md §4.4's write
// syscall, Console open-file kind).
func (c *Console) Broadcast(data []byte) (int, error) {
	return c.out.WriteBytes(data)
}

// ReadLine fills buf with one line (including its trailing newline, if
// any, but never more than len(buf) bytes) from the input source
// (spec.md §4.4's read syscall, Console open-file kind).
func (c *Console) ReadLine(buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		b, err := c.in.ReadByte()
		if err != nil {
			if n > 0 {
				return n, nil
			}
			return 0, err
		}
		buf[n] = b
		n++
		if b == '\n' {
			break
		}
	}
	return n, nil
}
