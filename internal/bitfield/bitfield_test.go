package bitfield

import "testing"

func TestPackFrameFlags(t *testing.T) {
	tests := []struct {
		name     string
		flags    FrameFlags
		expected uint32
	}{
		{"all false", FrameFlags{}, 0x00000000},
		{"only allocated", FrameFlags{Allocated: true}, 0x00000001},
		{"only kernel use", FrameFlags{KernelUse: true}, 0x00000002},
		{"both", FrameFlags{Allocated: true, KernelUse: true}, 0x00000003},
		{"only zombie", FrameFlags{Zombie: true}, 0x00000004},
		{"with reserved", FrameFlags{Allocated: true, Reserved: 0x12345678}, 0x91A2B3C1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packed, err := PackFrameFlags(tt.flags)
			if err != nil {
				t.Fatalf("PackFrameFlags() error = %v", err)
			}
			if packed != tt.expected {
				t.Errorf("PackFrameFlags() = 0x%08x, want 0x%08x", packed, tt.expected)
			}
		})
	}
}

func TestPackUnpackFrameFlagsRoundTrip(t *testing.T) {
	cases := []FrameFlags{
		{Allocated: false, KernelUse: false, Reserved: 0},
		{Allocated: true, KernelUse: false, Reserved: 0},
		{Allocated: false, KernelUse: true, Reserved: 0},
		{Allocated: false, KernelUse: false, Zombie: true, Reserved: 0},
		{Allocated: true, KernelUse: true, Zombie: true, Reserved: 0x1FFFFFFF},
	}
	for i, c := range cases {
		packed, err := PackFrameFlags(c)
		if err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
		got := UnpackFrameFlags(packed)
		if got != c {
			t.Errorf("case %d: round trip = %+v, want %+v", i, got, c)
		}
	}
}

func TestPackPTEFlags(t *testing.T) {
	packed, err := PackPTEFlags(PTEFlags{Present: true, Writable: true, User: true})
	if err != nil {
		t.Fatalf("PackPTEFlags() error = %v", err)
	}
	if packed != 0x7 {
		t.Errorf("PackPTEFlags() = 0x%x, want 0x7", packed)
	}
	got := UnpackPTEFlags(packed)
	if !got.Present || !got.Writable || !got.User {
		t.Errorf("UnpackPTEFlags() = %+v, want all set", got)
	}
}

func TestPackOverflow(t *testing.T) {
	_, err := Pack(struct {
		X uint32 `bitfield:",1"`
	}{X: 2}, &Config{NumBits: 32})
	if err == nil {
		t.Fatal("expected overflow error for value exceeding bit width")
	}
}
