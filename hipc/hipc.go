// Package hipc implements the outer Horizon IPC frame: the bit-packed
// header and special header, the static/buffer/recv-list descriptor
// arrays, and the data-words region CMIF frames inside.
//
// Byte sizes below follow the field bit-widths derived in spec, not
// the (inconsistent) summary byte-counts also present there: a
// StaticDescriptor's four bitfields (index, address_high, address_mid,
// size) sum to exactly 32 bits and share one storage word, followed by
// a full 32-bit address_low word, for 8 bytes total; a
// BufferDescriptor is size_low + address_low + one packed word, for 12
// bytes. This matches the reference ctypes implementation's actual
// sizeof() and the documented Horizon wire format; see DESIGN.md.
package hipc

import (
	"encoding/binary"
	"fmt"

	"github.com/switchipc/hipc/bitutil"
	"github.com/switchipc/hipc/htypes"
	"github.com/switchipc/hipc/internal/minilog"
)

// CommandType is the HIPC frame's type field.
type CommandType uint16

const (
	CommandTypeInvalid             CommandType = 0
	CommandTypeLegacyRequest       CommandType = 1
	CommandTypeClose               CommandType = 2
	CommandTypeLegacyControl       CommandType = 3
	CommandTypeRequest             CommandType = 4
	CommandTypeControl             CommandType = 5
	CommandTypeRequestWithContext  CommandType = 6
	CommandTypeControlWithContext  CommandType = 7
)

// BufferMode is the two-bit transfer mode carried by a BufferDescriptor.
type BufferMode uint8

const (
	BufferModeNormal    BufferMode = 0
	BufferModeNonSecure BufferMode = 1
	BufferModeInvalid   BufferMode = 2
	BufferModeNonDevice BufferMode = 3
)

// AutoRecvStatic is the sentinel recv-static count meaning "server
// picks the mode automatically" (recv_static_mode 2).
const AutoRecvStatic = 0xff

// AddrSize is the minimal shape a descriptor constructor needs from a
// caller-owned buffer: its address and size. ipc.Buffer implements
// this; hipc does not otherwise know about buffer ownership.
type AddrSize interface {
	Address() uint64
	Size() uint64
}

// Header is the first 8 bytes of every HIPC frame.
type Header struct {
	Type             CommandType
	NumSendStatics   uint8 // 4 bits
	NumSendBuffers   uint8 // 4 bits
	NumRecvBuffers   uint8 // 4 bits
	NumExchBuffers   uint8 // 4 bits
	NumDataWords     uint16 // 10 bits
	RecvStaticMode   uint8  // 4 bits
	RecvListOffset   uint16 // 11 bits
	HasSpecialHeader bool
}

const HeaderSize = 8

// MarshalBinary packs Header into its 8-byte little-endian wire form.
func (h Header) MarshalBinary() ([]byte, error) {
	word1 := uint32(h.Type) |
		uint32(h.NumSendStatics&0xf)<<16 |
		uint32(h.NumSendBuffers&0xf)<<20 |
		uint32(h.NumRecvBuffers&0xf)<<24 |
		uint32(h.NumExchBuffers&0xf)<<28

	var special uint32
	if h.HasSpecialHeader {
		special = 1
	}

	word2 := uint32(h.NumDataWords&0x3ff) |
		uint32(h.RecvStaticMode&0xf)<<10 |
		uint32(h.RecvListOffset&0x7ff)<<20 |
		special<<31

	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], word1)
	binary.LittleEndian.PutUint32(buf[4:8], word2)
	return buf, nil
}

// UnmarshalBinary reads a Header from its 8-byte wire form.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("hipc: Header needs %d bytes, got %d", HeaderSize, len(data))
	}

	word1 := binary.LittleEndian.Uint32(data[0:4])
	word2 := binary.LittleEndian.Uint32(data[4:8])

	h.Type = CommandType(bitutil.Bits(uint64(word1), 0, 16))
	h.NumSendStatics = uint8(bitutil.Bits(uint64(word1), 16, 20))
	h.NumSendBuffers = uint8(bitutil.Bits(uint64(word1), 20, 24))
	h.NumRecvBuffers = uint8(bitutil.Bits(uint64(word1), 24, 28))
	h.NumExchBuffers = uint8(bitutil.Bits(uint64(word1), 28, 32))

	h.NumDataWords = uint16(bitutil.Bits(uint64(word2), 0, 10))
	h.RecvStaticMode = uint8(bitutil.Bits(uint64(word2), 10, 14))
	h.RecvListOffset = uint16(bitutil.Bits(uint64(word2), 20, 31))
	h.HasSpecialHeader = bitutil.Bits(uint64(word2), 31, 32) != 0

	return nil
}

// SpecialHeader is the optional 4-byte word following Header that
// describes PID transmission and copy/move handle counts.
type SpecialHeader struct {
	SendPID         bool
	NumCopyHandles  uint8 // 4 bits
	NumMoveHandles  uint8 // 4 bits
}

const SpecialHeaderSize = 4

func (s SpecialHeader) MarshalBinary() ([]byte, error) {
	var pid uint32
	if s.SendPID {
		pid = 1
	}
	word := pid | uint32(s.NumCopyHandles&0xf)<<1 | uint32(s.NumMoveHandles&0xf)<<5

	buf := make([]byte, SpecialHeaderSize)
	binary.LittleEndian.PutUint32(buf, word)
	return buf, nil
}

func (s *SpecialHeader) UnmarshalBinary(data []byte) error {
	if len(data) < SpecialHeaderSize {
		return fmt.Errorf("hipc: SpecialHeader needs %d bytes, got %d", SpecialHeaderSize, len(data))
	}
	word := binary.LittleEndian.Uint32(data)
	s.SendPID = bitutil.Bits(uint64(word), 0, 1) != 0
	s.NumCopyHandles = uint8(bitutil.Bits(uint64(word), 1, 5))
	s.NumMoveHandles = uint8(bitutil.Bits(uint64(word), 5, 9))
	return nil
}

// StaticDescriptor is a pointer-transfer (send-static) slot entry, 8
// bytes: a 32-bit word packing index/address-high/address-mid/size,
// followed by the full 32-bit address-low word.
type StaticDescriptor struct {
	Index   uint8 // 6 bits
	Size    uint16
	Address uint64 // 42 bits
}

const StaticDescriptorSize = 8

// NewStaticDescriptor builds a descriptor pointing at buf, numbered
// index among the in-pointer slots of one request.
func NewStaticDescriptor(buf AddrSize, index uint8) StaticDescriptor {
	return StaticDescriptor{Index: index, Size: uint16(buf.Size()), Address: buf.Address()}
}

func (d StaticDescriptor) MarshalBinary() ([]byte, error) {
	addrHigh := bitutil.Bits(d.Address, 36, 42)
	addrMid := bitutil.Bits(d.Address, 32, 36)
	addrLow := uint32(bitutil.Bits(d.Address, 0, 32))

	word1 := uint32(d.Index&0x3f) | uint32(addrHigh&0x3f)<<6 | uint32(addrMid&0xf)<<12 | uint32(d.Size)<<16

	buf := make([]byte, StaticDescriptorSize)
	binary.LittleEndian.PutUint32(buf[0:4], word1)
	binary.LittleEndian.PutUint32(buf[4:8], addrLow)
	return buf, nil
}

func (d *StaticDescriptor) UnmarshalBinary(data []byte) error {
	if len(data) < StaticDescriptorSize {
		return fmt.Errorf("hipc: StaticDescriptor needs %d bytes, got %d", StaticDescriptorSize, len(data))
	}
	word1 := binary.LittleEndian.Uint32(data[0:4])
	addrLow := uint64(binary.LittleEndian.Uint32(data[4:8]))

	d.Index = uint8(bitutil.Bits(uint64(word1), 0, 6))
	addrHigh := bitutil.Bits(uint64(word1), 6, 12)
	addrMid := bitutil.Bits(uint64(word1), 12, 16)
	d.Size = uint16(bitutil.Bits(uint64(word1), 16, 32))
	d.Address = addrLow | addrMid<<32 | addrHigh<<36
	return nil
}

// BufferDescriptor is a map-alias transfer slot entry (send, recv or
// exch), 12 bytes: size-low word, address-low word, then a packed
// word of mode/address-high/size-high/address-mid.
type BufferDescriptor struct {
	Mode    BufferMode
	Size    uint64 // 36 bits
	Address uint64 // 58 bits
}

const BufferDescriptorSize = 12

// NewBufferDescriptor builds a descriptor over buf with the given
// transfer mode.
func NewBufferDescriptor(buf AddrSize, mode BufferMode) BufferDescriptor {
	return BufferDescriptor{Mode: mode, Size: buf.Size(), Address: buf.Address()}
}

func (d BufferDescriptor) MarshalBinary() ([]byte, error) {
	sizeLow := uint32(bitutil.Bits(d.Size, 0, 32))
	sizeHigh := bitutil.Bits(d.Size, 32, 36)
	addrLow := uint32(bitutil.Bits(d.Address, 0, 32))
	addrMid := bitutil.Bits(d.Address, 32, 36)
	addrHigh := bitutil.Bits(d.Address, 36, 58)

	word3 := uint32(d.Mode&0x3) | uint32(addrHigh&0x3fffff)<<2 | uint32(sizeHigh&0xf)<<24 | uint32(addrMid&0xf)<<28

	buf := make([]byte, BufferDescriptorSize)
	binary.LittleEndian.PutUint32(buf[0:4], sizeLow)
	binary.LittleEndian.PutUint32(buf[4:8], addrLow)
	binary.LittleEndian.PutUint32(buf[8:12], word3)
	return buf, nil
}

func (d *BufferDescriptor) UnmarshalBinary(data []byte) error {
	if len(data) < BufferDescriptorSize {
		return fmt.Errorf("hipc: BufferDescriptor needs %d bytes, got %d", BufferDescriptorSize, len(data))
	}
	sizeLow := uint64(binary.LittleEndian.Uint32(data[0:4]))
	addrLow := uint64(binary.LittleEndian.Uint32(data[4:8]))
	word3 := binary.LittleEndian.Uint32(data[8:12])

	d.Mode = BufferMode(bitutil.Bits(uint64(word3), 0, 2))
	addrHigh := bitutil.Bits(uint64(word3), 2, 24)
	sizeHigh := bitutil.Bits(uint64(word3), 24, 28)
	addrMid := bitutil.Bits(uint64(word3), 28, 32)

	d.Size = sizeLow | sizeHigh<<32
	d.Address = addrLow | addrMid<<32 | addrHigh<<36
	return nil
}

// RecvListEntry is a receiver-side pointer-transfer slot, 8 bytes.
type RecvListEntry struct {
	Size    uint16
	Address uint64 // 48 bits
}

const RecvListEntrySize = 8

// NewRecvListEntry builds a recv-list entry pointing at buf.
func NewRecvListEntry(buf AddrSize) RecvListEntry {
	return RecvListEntry{Size: uint16(buf.Size()), Address: buf.Address()}
}

func (e RecvListEntry) MarshalBinary() ([]byte, error) {
	addrLow := uint32(bitutil.Bits(e.Address, 0, 32))
	addrHigh := bitutil.Bits(e.Address, 32, 48)
	word2 := uint32(addrHigh&0xffff) | uint32(e.Size)<<16

	buf := make([]byte, RecvListEntrySize)
	binary.LittleEndian.PutUint32(buf[0:4], addrLow)
	binary.LittleEndian.PutUint32(buf[4:8], word2)
	return buf, nil
}

func (e *RecvListEntry) UnmarshalBinary(data []byte) error {
	if len(data) < RecvListEntrySize {
		return fmt.Errorf("hipc: RecvListEntry needs %d bytes, got %d", RecvListEntrySize, len(data))
	}
	addrLow := uint64(binary.LittleEndian.Uint32(data[0:4]))
	word2 := binary.LittleEndian.Uint32(data[4:8])

	addrHigh := bitutil.Bits(uint64(word2), 0, 16)
	e.Size = uint16(bitutil.Bits(uint64(word2), 16, 32))
	e.Address = addrLow | addrHigh<<32
	return nil
}

// Metadata describes the section counts a Request needs before any
// payload bytes exist, mirroring the Python Metadata dataclass.
type Metadata struct {
	Type             CommandType
	NumSendStatics   uint8
	NumSendBuffers   uint8
	NumRecvBuffers   uint8
	NumExchBuffers   uint8
	NumDataWords     uint16
	NumRecvStatics   uint8
	SendPID          bool
	NumCopyHandles   uint8
	NumMoveHandles   uint8
}

// Request lays out a HIPC frame's header, optional special header and
// PID slot into base, then reserves offsets ("anchors") for every
// later section in declaration order. Each anchor is -1 if the
// section is empty, matching the reference implementation.
type Request struct {
	CopyHandles  int
	MoveHandles  int
	SendStatics  int
	SendBuffers  int
	RecvBuffers  int
	ExchBuffers  int
	DataWords    int
	RecvList     int
}

// recvStaticMode computes the packed recv_static_mode field per
// spec.md §4.2's table: 0 with no recv-statics, the sentinel 0xff
// (auto) maps to mode 2, otherwise 2+count.
func recvStaticMode(numRecvStatics uint8) uint8 {
	if numRecvStatics == 0 {
		return 0
	}
	mode := uint8(2)
	if numRecvStatics != AutoRecvStatic {
		mode += numRecvStatics
	}
	return mode
}

// NewRequest encodes meta's header (and special header/PID slot, if
// needed) into base and returns the anchors for every subsequent
// section.
func NewRequest(base *bitutil.Buffer, meta Metadata) *Request {
	hasSpecial := meta.SendPID || meta.NumCopyHandles > 0 || meta.NumMoveHandles > 0

	hdr := Header{
		Type:             meta.Type,
		NumSendStatics:   meta.NumSendStatics,
		NumSendBuffers:   meta.NumSendBuffers,
		NumRecvBuffers:   meta.NumRecvBuffers,
		NumExchBuffers:   meta.NumExchBuffers,
		NumDataWords:     meta.NumDataWords,
		RecvStaticMode:   recvStaticMode(meta.NumRecvStatics),
		RecvListOffset:   0,
		HasSpecialHeader: hasSpecial,
	}

	base.Splice(0, hdr)
	offset := HeaderSize

	if hasSpecial {
		sp := SpecialHeader{
			SendPID:        meta.SendPID,
			NumCopyHandles: meta.NumCopyHandles,
			NumMoveHandles: meta.NumMoveHandles,
		}
		base.Splice(offset, sp)
		offset += SpecialHeaderSize

		if meta.SendPID {
			base.Splice(offset, uint64(0))
			offset += 8
		}
	}

	req := &Request{}

	if meta.NumCopyHandles > 0 {
		req.CopyHandles = offset
		offset += 4 * int(meta.NumCopyHandles)
	} else {
		req.CopyHandles = -1
	}

	if meta.NumMoveHandles > 0 {
		req.MoveHandles = offset
		offset += 4 * int(meta.NumMoveHandles)
	} else {
		req.MoveHandles = -1
	}

	if meta.NumSendStatics > 0 {
		req.SendStatics = offset
		offset += StaticDescriptorSize * int(meta.NumSendStatics)
	} else {
		req.SendStatics = -1
	}

	if meta.NumSendBuffers > 0 {
		req.SendBuffers = offset
		offset += BufferDescriptorSize * int(meta.NumSendBuffers)
	} else {
		req.SendBuffers = -1
	}

	if meta.NumRecvBuffers > 0 {
		req.RecvBuffers = offset
		offset += BufferDescriptorSize * int(meta.NumRecvBuffers)
	} else {
		req.RecvBuffers = -1
	}

	if meta.NumExchBuffers > 0 {
		req.ExchBuffers = offset
		offset += BufferDescriptorSize * int(meta.NumExchBuffers)
	} else {
		req.ExchBuffers = -1
	}

	if meta.NumDataWords > 0 {
		req.DataWords = offset
		offset += 4 * int(meta.NumDataWords)
	} else {
		req.DataWords = -1
	}

	if meta.NumRecvStatics > 0 {
		req.RecvList = offset
		offset += RecvListEntrySize * int(meta.NumRecvStatics)
	} else {
		req.RecvList = -1
	}

	minilog.Debug("hipc: encoded header type=%d statics=%d/%d/%d/%d words=%d special=%v",
		meta.Type, meta.NumSendStatics, meta.NumSendBuffers, meta.NumRecvBuffers, meta.NumExchBuffers,
		meta.NumDataWords, hasSpecial)

	return req
}

// Response decodes a HIPC frame's header (and optional special
// header/PID) from base and exposes the copy-handle, move-handle and
// data-words anchors over an already-populated reply buffer. Descriptor
// sections are not located.
type Response struct {
	NumStatics     uint8
	NumDataWords   uint16
	NumCopyHandles uint8
	NumMoveHandles uint8
	PID            uint64

	CopyHandles int
	MoveHandles int
	DataWords   int
}

// DecodeResponse parses a reply frame previously written into base by
// the kernel transport.
func DecodeResponse(base []byte) (*Response, error) {
	var hdr Header
	if err := hdr.UnmarshalBinary(base); err != nil {
		return nil, fmt.Errorf("hipc: decoding header: %w", err)
	}

	offset := HeaderSize

	resp := &Response{
		NumStatics:   hdr.NumSendStatics,
		NumDataWords: hdr.NumDataWords,
		PID:          0xffffffff,
	}

	if hdr.HasSpecialHeader {
		var sp SpecialHeader
		if err := sp.UnmarshalBinary(base[offset:]); err != nil {
			return nil, fmt.Errorf("hipc: decoding special header: %w", err)
		}
		offset += SpecialHeaderSize

		resp.NumCopyHandles = sp.NumCopyHandles
		resp.NumMoveHandles = sp.NumMoveHandles

		if sp.SendPID {
			if offset+8 > len(base) {
				return nil, fmt.Errorf("hipc: reply truncated before PID slot")
			}
			resp.PID = binary.LittleEndian.Uint64(base[offset : offset+8])
			offset += 8
		}
	}

	resp.CopyHandles = offset
	offset += 4 * int(resp.NumCopyHandles)

	resp.MoveHandles = offset
	offset += 4 * int(resp.NumMoveHandles)

	resp.DataWords = offset

	return resp, nil
}

// ReadHandle reads a 32-bit Handle at offset within base.
func ReadHandle(base []byte, offset int) htypes.Handle {
	return htypes.Handle(binary.LittleEndian.Uint32(base[offset : offset+4]))
}

// WriteHandle writes h as a 32-bit value at offset within base.
func WriteHandle(base *bitutil.Buffer, offset int, h htypes.Handle) {
	base.Splice(offset, uint32(h))
}
