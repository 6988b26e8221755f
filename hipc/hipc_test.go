package hipc

import (
	"testing"

	"github.com/switchipc/hipc/bitutil"
)

// fakeBuf is a minimal AddrSize for descriptor round-trip tests.
type fakeBuf struct {
	addr uint64
	size uint64
}

func (f fakeBuf) Address() uint64 { return f.addr }
func (f fakeBuf) Size() uint64    { return f.size }

// Property 1: encoding then decoding a HIPC header yields the same
// counts as the metadata it was built from.
func TestHeaderRoundTripsCounts(t *testing.T) {
	meta := Metadata{
		Type:           CommandTypeRequest,
		NumSendStatics: 3,
		NumSendBuffers: 1,
		NumRecvBuffers: 2,
		NumExchBuffers: 1,
		NumDataWords:   9,
		NumRecvStatics: 0,
	}

	base := bitutil.NewBuffer()
	NewRequest(base, meta)

	var hdr Header
	if err := hdr.UnmarshalBinary(base.Bytes()); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}

	if hdr.Type != meta.Type ||
		hdr.NumSendStatics != meta.NumSendStatics ||
		hdr.NumSendBuffers != meta.NumSendBuffers ||
		hdr.NumRecvBuffers != meta.NumRecvBuffers ||
		hdr.NumExchBuffers != meta.NumExchBuffers ||
		hdr.NumDataWords != meta.NumDataWords {
		t.Fatalf("decoded header %+v does not match metadata %+v", hdr, meta)
	}
}

// Property 2: address/size decomposition round-trips for every field
// width the wire format defines.
func TestStaticDescriptorAddressRoundTrip(t *testing.T) {
	addrs := []uint64{0, 1, 0xdeadbeef, (1 << 42) - 1}
	for _, addr := range addrs {
		d := NewStaticDescriptor(fakeBuf{addr: addr, size: 0x40}, 2)
		enc, err := d.MarshalBinary()
		if err != nil {
			t.Fatalf("MarshalBinary: %v", err)
		}
		var got StaticDescriptor
		if err := got.UnmarshalBinary(enc); err != nil {
			t.Fatalf("UnmarshalBinary: %v", err)
		}
		if got.Address != addr {
			t.Errorf("address %#x round-tripped as %#x", addr, got.Address)
		}
		if got.Index != 2 || got.Size != 0x40 {
			t.Errorf("index/size round-tripped as %d/%d", got.Index, got.Size)
		}
	}
}

func TestBufferDescriptorAddressAndSizeRoundTrip(t *testing.T) {
	cases := []struct {
		addr, size uint64
	}{
		{0, 0},
		{1, 1},
		{(1 << 58) - 1, (1 << 36) - 1},
		{0x1_0000_0000, 0x1_0000},
	}

	for _, c := range cases {
		d := NewBufferDescriptor(fakeBuf{addr: c.addr, size: c.size}, BufferModeNonSecure)
		enc, err := d.MarshalBinary()
		if err != nil {
			t.Fatalf("MarshalBinary: %v", err)
		}
		var got BufferDescriptor
		if err := got.UnmarshalBinary(enc); err != nil {
			t.Fatalf("UnmarshalBinary: %v", err)
		}
		if got.Address != c.addr {
			t.Errorf("address %#x round-tripped as %#x", c.addr, got.Address)
		}
		if got.Size != c.size {
			t.Errorf("size %#x round-tripped as %#x", c.size, got.Size)
		}
		if got.Mode != BufferModeNonSecure {
			t.Errorf("mode round-tripped as %v", got.Mode)
		}
	}
}

func TestRecvListEntryAddressRoundTrip(t *testing.T) {
	addrs := []uint64{0, 1, (1 << 48) - 1}
	for _, addr := range addrs {
		e := NewRecvListEntry(fakeBuf{addr: addr, size: 0x1234})
		enc, err := e.MarshalBinary()
		if err != nil {
			t.Fatalf("MarshalBinary: %v", err)
		}
		var got RecvListEntry
		if err := got.UnmarshalBinary(enc); err != nil {
			t.Fatalf("UnmarshalBinary: %v", err)
		}
		if got.Address != addr || got.Size != 0x1234 {
			t.Errorf("round-tripped as addr=%#x size=%#x", got.Address, got.Size)
		}
	}
}

// Property 5: has_special_header equals send_pid || copy>0 || move>0.
func TestHasSpecialHeaderPredicate(t *testing.T) {
	cases := []struct {
		sendPID          bool
		copy, move       uint8
		wantSpecial      bool
	}{
		{false, 0, 0, false},
		{true, 0, 0, true},
		{false, 1, 0, true},
		{false, 0, 1, true},
		{true, 2, 3, true},
	}

	for _, c := range cases {
		base := bitutil.NewBuffer()
		NewRequest(base, Metadata{
			Type:           CommandTypeRequest,
			SendPID:        c.sendPID,
			NumCopyHandles: c.copy,
			NumMoveHandles: c.move,
		})

		var hdr Header
		if err := hdr.UnmarshalBinary(base.Bytes()); err != nil {
			t.Fatalf("UnmarshalBinary: %v", err)
		}
		if hdr.HasSpecialHeader != c.wantSpecial {
			t.Errorf("case %+v: HasSpecialHeader = %v, want %v", c, hdr.HasSpecialHeader, c.wantSpecial)
		}
	}
}

// Property 6: recv_static_mode encoding table.
func TestRecvStaticModeEncoding(t *testing.T) {
	cases := []struct {
		n    uint8
		mode uint8
	}{
		{0, 0},
		{AutoRecvStatic, 2},
		{1, 3},
		{5, 7},
	}

	for _, c := range cases {
		if got := recvStaticMode(c.n); got != c.mode {
			t.Errorf("recvStaticMode(%d) = %d, want %d", c.n, got, c.mode)
		}
	}
}

// S1 — empty ping on a plain session: type=Request(4), all counts 0,
// num_data_words=5, no special header.
func TestScenarioS1EmptyPingHeader(t *testing.T) {
	base := bitutil.NewBuffer()
	NewRequest(base, Metadata{
		Type:         CommandTypeRequest,
		NumDataWords: 5,
	})

	want := []byte{
		0x04, 0x00, 0x00, 0x00, // type=4, statics/buffers counts = 0
		0x05, 0x00, 0x00, 0x00, // num_data_words=5, recv_static_mode=0, no special header
	}

	got := base.Bytes()
	if len(got) != len(want) {
		t.Fatalf("encoded header length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %#x, want %#x (full: % x)", i, got[i], want[i], got)
		}
	}
}
