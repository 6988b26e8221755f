package bitutil

import "testing"

func TestAlign(t *testing.T) {
	cases := []struct {
		v, a     uint64
		up       bool
		expected uint64
	}{
		{0, 16, true, 0},
		{1, 16, true, 16},
		{15, 16, true, 16},
		{16, 16, true, 16},
		{17, 16, true, 32},
		{17, 16, false, 16},
		{32, 16, false, 32},
	}

	for _, c := range cases {
		if got := Align(c.v, c.a, c.up); got != c.expected {
			t.Errorf("Align(%d, %d, %v) = %d, want %d", c.v, c.a, c.up, got, c.expected)
		}
	}
}

func TestAlignPanicsOnNonPowerOfTwo(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected Align to panic on a non-power-of-two alignment")
		}
	}()
	Align(10, 3, true)
}

func TestBit(t *testing.T) {
	if got, want := Bit(0), uint32(1); got != want {
		t.Errorf("Bit(0) = %d, want %d", got, want)
	}
	if got, want := Bit(0, 1, 3), uint32(0b1011); got != want {
		t.Errorf("Bit(0,1,3) = %b, want %b", got, want)
	}
}

func TestBits(t *testing.T) {
	v := uint64(0b1101_0110)
	if got, want := Bits(v, 0, 4), uint64(0b0110); got != want {
		t.Errorf("Bits(lo0,hi4) = %b, want %b", got, want)
	}
	if got, want := Bits(v, 4, 8), uint64(0b1101); got != want {
		t.Errorf("Bits(lo4,hi8) = %b, want %b", got, want)
	}
}

func TestBufferExtendToIsIdempotentAndZeroFilled(t *testing.T) {
	b := NewBuffer()
	b.ExtendTo(4)
	if b.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", b.Len())
	}
	for i, c := range b.Bytes() {
		if c != 0 {
			t.Fatalf("byte %d = %d, want 0", i, c)
		}
	}

	// extending to a smaller offset is a no-op
	b.ExtendTo(2)
	if b.Len() != 4 {
		t.Fatalf("Len() after shrink-extend = %d, want 4", b.Len())
	}
}

func TestBufferSpliceOverwritesInPlace(t *testing.T) {
	b := NewBuffer()
	b.Splice(4, []byte{0xaa, 0xbb})
	if got, want := b.Len(), 6; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}
	if got := b.Bytes()[:4]; got[0] != 0 || got[3] != 0 {
		t.Fatalf("leading bytes were not zero-padded: %x", got)
	}
	if got, want := b.Bytes()[4:6], []byte{0xaa, 0xbb}; got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("spliced bytes = %x, want %x", got, want)
	}
}

func TestBufferSpliceNilIsNoop(t *testing.T) {
	b := NewBuffer()
	b.Append([]byte{1, 2, 3})
	b.Splice(10, nil)
	if b.Len() != 3 {
		t.Fatalf("Splice(nil) grew the buffer: Len() = %d", b.Len())
	}
}

func TestBufferSpliceLittleEndianWord(t *testing.T) {
	b := NewBuffer()
	b.Splice(0, uint32(0x04030201))
	want := []byte{0x01, 0x02, 0x03, 0x04}
	got := b.Bytes()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Bytes() = %x, want %x", got, want)
		}
	}
}
