// Package bitutil provides the alignment, bitfield and byte-buffer
// primitives the HIPC/CMIF framing layers build on. Go has no bitfield
// language feature, so Align/Bit/Bits carry the weight that ctypes
// LittleEndianStructure bitfields carried in the reference
// implementation, and Buffer's ExtendTo/Splice replace scattered
// pointer arithmetic with a single growable-byte-vector idiom.
package bitutil

import (
	"bytes"
	"encoding"
	"encoding/binary"
	"fmt"
)

// Align rounds v up (or down) to the nearest multiple of a, which must
// be a power of two.
func Align(v, a uint64, up bool) uint64 {
	if a == 0 || a&(a-1) != 0 {
		panic(fmt.Sprintf("bitutil: alignment %d is not a power of two", a))
	}

	if up {
		return (v + a - 1) &^ (a - 1)
	}
	return v &^ (a - 1)
}

// Bit ORs together 1<<i for every bit index given.
func Bit(idx ...uint) uint32 {
	var ret uint32
	for _, i := range idx {
		ret |= 1 << i
	}
	return ret
}

// Bits extracts the inclusive-low, exclusive-high bit range [lo, hi)
// from v, right-justified in the result.
func Bits(v uint64, lo, hi uint) uint64 {
	return (v & ((uint64(1) << hi) - 1)) >> lo
}

// Buffer is a growable little-endian byte vector with the
// "extend-to-offset then splice" idiom used throughout HIPC/CMIF
// encoding: frame sections are reserved by offset before their
// contents are known, then overwritten in place once they are.
type Buffer struct {
	buf []byte
}

// NewBuffer returns an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Len returns the number of bytes currently in the buffer.
func (b *Buffer) Len() int {
	return len(b.buf)
}

// Bytes returns the buffer's current contents. The slice is valid
// until the next call that grows the buffer.
func (b *Buffer) Bytes() []byte {
	return b.buf
}

// Append grows the buffer by appending p verbatim, returning the
// offset at which p now starts.
func (b *Buffer) Append(p []byte) int {
	off := len(b.buf)
	b.buf = append(b.buf, p...)
	return off
}

// ExtendTo zero-pads the buffer until its length is at least offset.
func (b *Buffer) ExtendTo(offset int) {
	if len(b.buf) < offset {
		b.buf = append(b.buf, make([]byte, offset-len(b.buf))...)
	}
}

// Splice extends the buffer to offset, then overwrites
// offset..offset+len(encoded) with the wire bytes of obj. obj may be
// nil (no-op, matching buf_insert(buf, off, None)), a []byte, an
// encoding.BinaryMarshaler, or any value accepted by
// encoding/binary.Write (fixed-size numeric types and structs of
// them) — always little-endian, as the wire format requires.
func (b *Buffer) Splice(offset int, obj interface{}) {
	if obj == nil {
		return
	}

	var p []byte
	switch v := obj.(type) {
	case []byte:
		p = v
	case encoding.BinaryMarshaler:
		enc, err := v.MarshalBinary()
		if err != nil {
			panic(fmt.Sprintf("bitutil: marshal at offset %d: %v", offset, err))
		}
		p = enc
	default:
		var buf bytes.Buffer
		if err := binary.Write(&buf, binary.LittleEndian, obj); err != nil {
			panic(fmt.Sprintf("bitutil: splice at offset %d: %v", offset, err))
		}
		p = buf.Bytes()
	}

	b.ExtendTo(offset + len(p))
	copy(b.buf[offset:offset+len(p)], p)
}
