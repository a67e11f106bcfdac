// Package elf implements the minimal ELF64 loader C3's Exec uses:
// validate a 64-bit little-endian ET_EXEC/x86_64 image, map its
// PT_LOAD segments, and report where a user stack should land
// (spec.md §4.2 "ELF loading").
package elf

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/atomicos/atomicos/internal/memory"
)

// Error taxonomy (spec.md §7's ELF group).
var (
	ErrFileNotFound    = errors.New("elf: file not found")
	ErrInvalidFormat   = errors.New("elf: invalid format")
	ErrUnsupportedArch = errors.New("elf: unsupported architecture")
	ErrUnsupportedType = errors.New("elf: unsupported object type")
	ErrMemoryError     = errors.New("elf: memory error")
	ErrReadError       = errors.New("elf: read error")
)

const (
	etExec     = 2
	emX86_64   = 62
	ptLoad     = 1
	ehdrSize   = 64
	phdrSize   = 56
	classELF64 = 2
	dataLSB    = 1
)

// UserStackSize is the fixed user stack allocation (spec.md §4.2).
const UserStackSize = 16 * 1024

// Segment is one PT_LOAD program header, already validated.
type Segment struct {
	VAddr    memory.VirtAddr
	FileOff  uint64
	FileSize uint64
	MemSize  uint64
}

// Image is a parsed, not-yet-mapped ELF64 executable.
type Image struct {
	Entry    memory.VirtAddr
	Segments []Segment
}

// Parse validates the ELF64/ET_EXEC/EM_X86_64 header and extracts
// every PT_LOAD program header. Non-PT_LOAD headers are ignored
// (spec.md §4.2).
func Parse(data []byte) (*Image, error) {
	if len(data) < ehdrSize {
		return nil, ErrInvalidFormat
	}
	if data[0] != 0x7F || data[1] != 'E' || data[2] != 'L' || data[3] != 'F' {
		return nil, ErrInvalidFormat
	}
	if data[4] != classELF64 || data[5] != dataLSB {
		return nil, ErrUnsupportedArch
	}

	typ := binary.LittleEndian.Uint16(data[16:18])
	machine := binary.LittleEndian.Uint16(data[18:20])
	if machine != emX86_64 {
		return nil, ErrUnsupportedArch
	}
	if typ != etExec {
		return nil, ErrUnsupportedType
	}

	entry := binary.LittleEndian.Uint64(data[24:32])
	phoff := binary.LittleEndian.Uint64(data[32:40])
	phnum := binary.LittleEndian.Uint16(data[56:58])

	img := &Image{Entry: memory.VirtAddr(entry)}
	for i := uint16(0); i < phnum; i++ {
		base := phoff + uint64(i)*phdrSize
		if base+phdrSize > uint64(len(data)) {
			return nil, ErrReadError
		}
		ph := data[base : base+phdrSize]
		if binary.LittleEndian.Uint32(ph[0:4]) != ptLoad {
			continue
		}
		seg := Segment{
			FileOff:  binary.LittleEndian.Uint64(ph[8:16]),
			VAddr:    memory.VirtAddr(binary.LittleEndian.Uint64(ph[16:24])),
			FileSize: binary.LittleEndian.Uint64(ph[32:40]),
			MemSize:  binary.LittleEndian.Uint64(ph[40:48]),
		}
		if seg.FileOff+seg.FileSize > uint64(len(data)) {
			return nil, ErrReadError
		}
		img.Segments = append(img.Segments, seg)
	}
	return img, nil
}

// Load maps every PT_LOAD segment of img into root's address space,
// copies its file bytes, and zero-fills the BSS tail. It returns the
// page-aligned address immediately above the highest byte loaded,
// where the caller should place the user stack (spec.md §4.2).
func Load(m *memory.Machine, fa *memory.FrameAllocator, root memory.PhysAddr, data []byte, img *Image, flush func(memory.VirtAddr)) (memory.VirtAddr, []memory.UserRegion, error) {
	var regions []memory.UserRegion
	var highest memory.VirtAddr

	for _, seg := range img.Segments {
		base := memory.VirtAddr(memory.AlignDown(uintptr(seg.VAddr)))
		end := memory.VirtAddr(memory.AlignUp(uintptr(seg.VAddr) + uintptr(seg.MemSize)))
		size := uintptr(end - base)

		region := memory.UserRegion{Base: base, Size: size}
		if err := memory.AllocateProcessMemory(m, fa, root, base, size, flush); err != nil {
			return 0, nil, ErrMemoryError
		}
		regions = append(regions, region)

		fileEnd := seg.FileOff + seg.FileSize
		if fileEnd > uint64(len(data)) {
			return 0, nil, ErrReadError
		}
		for off := uint64(0); off < seg.MemSize; off++ {
			addr := seg.VAddr + memory.VirtAddr(off)
			phys, err := memory.Translate(m, root, addr)
			if err != nil {
				return 0, nil, ErrMemoryError
			}
			var b byte
			if off < seg.FileSize {
				b = data[seg.FileOff+off]
			}
			m.Write(phys, []byte{b})
		}

		if end > highest {
			highest = end
		}
	}

	return highest, regions, nil
}

// StackRegion returns the 16 KiB user-stack region placed immediately
// above topOfImage (spec.md §4.2).
func StackRegion(topOfImage memory.VirtAddr) memory.UserRegion {
	return memory.UserRegion{Base: topOfImage, Size: UserStackSize}
}
