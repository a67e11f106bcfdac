package syscalls

import (
	"github.com/pkg/errors"

	"github.com/atomicos/atomicos/internal/memory"
)

// ErrBadUserPointer reports a user-supplied address that does not
// translate in the caller's address space. Length caps are checked by
// the syscall handlers themselves, which return Sentinel directly.
var ErrBadUserPointer = errors.New("syscalls: bad user pointer")

// copyFromUser reads length bytes starting at the user virtual
// address v out of root's address space, crossing page boundaries as
// needed.
func copyFromUser(m *memory.Machine, root memory.PhysAddr, v memory.VirtAddr, length uint64) ([]byte, error) {
	out := make([]byte, length)
	if err := walkUserRange(m, root, v, out, false); err != nil {
		return nil, err
	}
	return out, nil
}

// copyToUser writes data into root's address space starting at v.
func copyToUser(m *memory.Machine, root memory.PhysAddr, v memory.VirtAddr, data []byte) error {
	return walkUserRange(m, root, v, data, true)
}

// walkUserRange copies buf to/from the user range [v, v+len(buf)),
// one physical page at a time, since a multi-page buffer need not be
// physically contiguous.
func walkUserRange(m *memory.Machine, root memory.PhysAddr, v memory.VirtAddr, buf []byte, toUser bool) error {
	off := 0
	for off < len(buf) {
		cur := v + memory.VirtAddr(off)
		pageOff := uintptr(cur) % memory.PageSize
		n := int(memory.PageSize - pageOff)
		if remaining := len(buf) - off; n > remaining {
			n = remaining
		}

		frame, err := memory.Translate(m, root, cur)
		if err != nil {
			return ErrBadUserPointer
		}
		phys := memory.PhysAddr(uintptr(frame) + pageOff)
		if toUser {
			m.Write(phys, buf[off:off+n])
		} else {
			m.Read(phys, buf[off:off+n])
		}
		off += n
	}
	return nil
}
