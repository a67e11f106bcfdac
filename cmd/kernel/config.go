package main

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/atomicos/atomicos/internal/memory"
)

// Multiboot2 tag types this kernel reads out of the information
// structure GRUB hands off in %rbx (Multiboot2 spec §3.4). Only the
// two tags boot actually consumes are named; everything else is
// skipped by its declared size.
const (
	mbTagEnd        = 0
	mbTagMemoryMap  = 6
	mbTagBootLoader = 2
)

// ErrBadMultiboot is returned when the tag stream doesn't start with a
// valid Multiboot2 info header.
var ErrBadMultiboot = errors.New("kernel: bad multiboot2 info structure")

// BootConfig is every boot-time tunable the rest of the kernel needs,
// assembled once from Multiboot2 tag data before any component exists
// (SPEC_FULL.md's Configuration section: "there is no file-based
// configuration inside the freestanding binary").
type BootConfig struct {
	Regions []memory.Region

	ReadyQueueCapacity int
	KernelStackSize    int
	BootLoaderName     string
}

// DefaultBootConfig holds the tunables that aren't derived from
// Multiboot2 tags.
func DefaultBootConfig() BootConfig {
	return BootConfig{
		ReadyQueueCapacity: 256,
		KernelStackSize:    16 * 1024,
	}
}

// parseMultiboot2 walks the tag stream starting at info (as laid out
// by a Multiboot2-compliant loader: a 8-byte header of {total_size,
// reserved} followed by 8-byte-aligned tags, each {type, size,
// data...}) and folds the tags this kernel cares about into cfg.
func parseMultiboot2(info []byte, cfg *BootConfig) error {
	if len(info) < 8 {
		return ErrBadMultiboot
	}
	totalSize := binary.LittleEndian.Uint32(info[0:4])
	if int(totalSize) > len(info) {
		return ErrBadMultiboot
	}

	off := 8
	for off+8 <= int(totalSize) {
		tagType := binary.LittleEndian.Uint32(info[off : off+4])
		tagSize := binary.LittleEndian.Uint32(info[off+4 : off+8])
		if tagSize < 8 || off+int(tagSize) > int(totalSize) {
			return ErrBadMultiboot
		}
		body := info[off+8 : off+int(tagSize)]

		switch tagType {
		case mbTagEnd:
			return nil
		case mbTagMemoryMap:
			regions, err := parseMemoryMapTag(body)
			if err != nil {
				return err
			}
			cfg.Regions = append(cfg.Regions, regions...)
		case mbTagBootLoader:
			cfg.BootLoaderName = cStringFromBytes(body)
		}

		// Tags are 8-byte aligned (Multiboot2 spec §3.4).
		off += (int(tagSize) + 7) &^ 7
	}
	return nil
}

// parseMemoryMapTag decodes a type-6 tag body: {entry_size, entry_version}
// followed by entry_size-sized {base_addr, length, type, reserved}
// records. Only type==1 (available RAM) entries become usable regions.
func parseMemoryMapTag(body []byte) ([]memory.Region, error) {
	if len(body) < 8 {
		return nil, ErrBadMultiboot
	}
	entrySize := binary.LittleEndian.Uint32(body[0:4])
	if entrySize < 24 {
		return nil, ErrBadMultiboot
	}
	var regions []memory.Region
	for off := 8; off+int(entrySize) <= len(body); off += int(entrySize) {
		entry := body[off : off+int(entrySize)]
		base := binary.LittleEndian.Uint64(entry[0:8])
		length := binary.LittleEndian.Uint64(entry[8:16])
		kind := binary.LittleEndian.Uint32(entry[16:20])
		const mbMemoryAvailable = 1
		if kind == mbMemoryAvailable {
			regions = append(regions, memory.Region{Base: memory.PhysAddr(base), Length: uintptr(length)})
		}
	}
	return regions, nil
}

func cStringFromBytes(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
