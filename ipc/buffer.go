package ipc

import (
	"unsafe"

	"github.com/switchipc/hipc/cmif"
)

// Buffer pairs a region of caller memory with the attribute flags
// describing how the dispatch engine should transfer it: in/out role,
// pointer vs map-alias transfer, auto-select, fixed size. It
// implements hipc.AddrSize directly off its backing slice, so the
// kernel (real or simulated) reads and writes the same memory the
// caller holds — there is no separate "surface the filled contents"
// step once the round trip completes; Bytes() is always current.
type Buffer struct {
	data []byte
	attr cmif.BufferAttr
}

// NewBuffer wraps an existing slice for transfer with attr. The slice
// is the storage the kernel will read from and/or write into; its
// address and length go directly into the descriptor.
func NewBuffer(data []byte, attr cmif.BufferAttr) *Buffer {
	return &Buffer{data: data, attr: attr}
}

// NewInBuffer wraps data for a map-alias In transfer.
func NewInBuffer(data []byte) *Buffer {
	return NewBuffer(data, cmif.BufferAttrIn|cmif.BufferAttrHipcMapAlias)
}

// NewOutBuffer allocates size zero-filled bytes for a map-alias Out
// transfer; the caller reads the reply through the returned Buffer's
// Bytes().
func NewOutBuffer(size int) *Buffer {
	return NewBuffer(make([]byte, size), cmif.BufferAttrOut|cmif.BufferAttrHipcMapAlias)
}

// NewInoutBuffer wraps data for a map-alias In+Out transfer.
func NewInoutBuffer(data []byte) *Buffer {
	return NewBuffer(data, cmif.BufferAttrIn|cmif.BufferAttrOut|cmif.BufferAttrHipcMapAlias)
}

func (b *Buffer) Address() uint64 {
	if len(b.data) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&b.data[0])))
}

func (b *Buffer) Size() uint64 { return uint64(len(b.data)) }

// Attr reports the attribute flags this Buffer was constructed with.
func (b *Buffer) Attr() cmif.BufferAttr { return b.attr }

// Bytes exposes the backing storage. After Send returns, this
// reflects whatever the server wrote for an Out or In+Out transfer.
func (b *Buffer) Bytes() []byte { return b.data }

// emptyBuffer is the zero-sized placeholder the auto-select heuristic
// writes into whichever slot (pointer or map) a buffer did not use.
type emptyBuffer struct{}

func (emptyBuffer) Address() uint64 { return 0 }
func (emptyBuffer) Size() uint64    { return 0 }
