package bitfield

// FrameFlags tracks the allocation state of a physical frame in the
// frame allocator's bookkeeping map (FrameAllocator.flags in
// internal/memory/phys.go). Adapted from the teacher's PageFlags
// (mazboot's page.go), generalized with a Zombie bit so a frame freed
// by FreeUserMemory can be distinguished from one that was never
// handed out (the frame allocator never reuses either, per the
// forward-bump design, but the bit keeps the invariant checkable:
// Allocated&&!Zombie is "live", !Allocated&&Zombie is "freed,
// unreachable", and neither set is "never touched").
type FrameFlags struct {
	Allocated bool   `bitfield:",1"`
	KernelUse bool   `bitfield:",1"`
	Zombie    bool   `bitfield:",1"`
	Reserved  uint32 `bitfield:",29"`
}

// PackFrameFlags packs f into its 32-bit on-disk/in-memory form.
func PackFrameFlags(f FrameFlags) (uint32, error) {
	packed, err := Pack(f, &Config{NumBits: 32})
	if err != nil {
		return 0, err
	}
	return uint32(packed), nil
}

// UnpackFrameFlags is the inverse of PackFrameFlags.
func UnpackFrameFlags(packed uint32) FrameFlags {
	var f FrameFlags
	_ = Unpack(uint64(packed), &f, &Config{NumBits: 32})
	return f
}

// PTEFlags mirrors the low flag bits of an x86_64 page-table entry that
// the address-space manager actually inspects: Present, Writable, and
// User-Accessible (the rest of a real PTE — PWT, PCD, accessed, dirty,
// NX — is out of scope for this pedagogical kernel and is carried as
// Reserved so round-tripping through Pack/Unpack never drops bits).
type PTEFlags struct {
	Present  bool   `bitfield:",1"`
	Writable bool   `bitfield:",1"`
	User     bool   `bitfield:",1"`
	Reserved uint32 `bitfield:",29"`
}

// PackPTEFlags packs the flag bits of a page-table entry.
func PackPTEFlags(f PTEFlags) (uint32, error) {
	packed, err := Pack(f, &Config{NumBits: 32})
	if err != nil {
		return 0, err
	}
	return uint32(packed), nil
}

// UnpackPTEFlags is the inverse of PackPTEFlags.
func UnpackPTEFlags(packed uint32) PTEFlags {
	var f PTEFlags
	_ = Unpack(uint64(packed), &f, &Config{NumBits: 32})
	return f
}
