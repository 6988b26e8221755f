// Package cmif implements the command framing dialect that sits
// inside a HIPC frame's data words: the SFCI/SFCO in/out headers, the
// domain in/out headers, the request-size planner and the request
// emitter and response reader built on top of package hipc.
package cmif

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/switchipc/hipc/bitutil"
	"github.com/switchipc/hipc/hipc"
	"github.com/switchipc/hipc/htypes"
	"github.com/switchipc/hipc/internal/minilog"
)

var (
	magicIn  = [4]byte{'S', 'F', 'C', 'I'}
	magicOut = [4]byte{'S', 'F', 'C', 'O'}
)

// DomainRequestType is the DomainInHeader's Type field.
type DomainRequestType uint8

const (
	DomainRequestInvalid     DomainRequestType = 0
	DomainRequestSendMessage DomainRequestType = 1
	DomainRequestClose       DomainRequestType = 2
)

// InHeader is the 16-byte CMIF command header prefixed to every
// request's payload.
type InHeader struct {
	Version   uint32
	CommandID uint32
	Token     uint32
}

const InHeaderSize = 16

func (h InHeader) MarshalBinary() ([]byte, error) {
	buf := make([]byte, InHeaderSize)
	copy(buf[0:4], magicIn[:])
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint32(buf[8:12], h.CommandID)
	binary.LittleEndian.PutUint32(buf[12:16], h.Token)
	return buf, nil
}

func (h *InHeader) UnmarshalBinary(data []byte) error {
	if len(data) < InHeaderSize {
		return fmt.Errorf("cmif: InHeader needs %d bytes, got %d", InHeaderSize, len(data))
	}
	if [4]byte(data[0:4]) != magicIn {
		return &DecodeError{Reason: fmt.Sprintf("bad in-header magic: %q", data[0:4])}
	}
	h.Version = binary.LittleEndian.Uint32(data[4:8])
	h.CommandID = binary.LittleEndian.Uint32(data[8:12])
	h.Token = binary.LittleEndian.Uint32(data[12:16])
	return nil
}

// OutHeader is the 16-byte CMIF reply header: magic, version, embedded
// Result, and the context token echoed back.
type OutHeader struct {
	Version uint32
	Result  htypes.Result
	Token   uint32
}

const OutHeaderSize = 16

func (h OutHeader) MarshalBinary() ([]byte, error) {
	buf := make([]byte, OutHeaderSize)
	copy(buf[0:4], magicOut[:])
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.Result))
	binary.LittleEndian.PutUint32(buf[12:16], h.Token)
	return buf, nil
}

// decodeOutHeader reads an OutHeader, validating its magic. Per
// spec.md §4.3 the caller may normalize "SFCI"->"SFCO" before calling;
// this implementation instead accepts "SFCO" directly, which the spec
// explicitly allows ("the implementation may skip this and check SFCO
// directly").
func decodeOutHeader(data []byte) (OutHeader, error) {
	var h OutHeader
	if len(data) < OutHeaderSize {
		return h, fmt.Errorf("cmif: OutHeader needs %d bytes, got %d", OutHeaderSize, len(data))
	}
	if [4]byte(data[0:4]) != magicOut {
		return h, &DecodeError{Reason: fmt.Sprintf("bad out-header magic: %q", data[0:4])}
	}
	h.Version = binary.LittleEndian.Uint32(data[4:8])
	h.Result = htypes.Result(binary.LittleEndian.Uint32(data[8:12]))
	h.Token = binary.LittleEndian.Uint32(data[12:16])
	return h, nil
}

// DomainInHeader is the 16-byte header prefixed to a domain request's
// payload, multiplexing it onto one of the session's sub-objects.
type DomainInHeader struct {
	Type          DomainRequestType
	NumInObjects  uint8
	DataSize      uint16
	ObjectID      uint32
	Token         uint32
}

const DomainInHeaderSize = 16

func (h DomainInHeader) MarshalBinary() ([]byte, error) {
	buf := make([]byte, DomainInHeaderSize)
	buf[0] = byte(h.Type)
	buf[1] = h.NumInObjects
	binary.LittleEndian.PutUint16(buf[2:4], h.DataSize)
	binary.LittleEndian.PutUint32(buf[4:8], h.ObjectID)
	// buf[8:12] is padding, left zero
	binary.LittleEndian.PutUint32(buf[12:16], h.Token)
	return buf, nil
}

func (h *DomainInHeader) UnmarshalBinary(data []byte) error {
	if len(data) < DomainInHeaderSize {
		return fmt.Errorf("cmif: DomainInHeader needs %d bytes, got %d", DomainInHeaderSize, len(data))
	}
	h.Type = DomainRequestType(data[0])
	h.NumInObjects = data[1]
	h.DataSize = binary.LittleEndian.Uint16(data[2:4])
	h.ObjectID = binary.LittleEndian.Uint32(data[4:8])
	h.Token = binary.LittleEndian.Uint32(data[12:16])
	return nil
}

// DomainOutHeader is the 16-byte header prefixed to a domain reply's
// payload.
type DomainOutHeader struct {
	NumOutObjects uint32
}

const DomainOutHeaderSize = 16

func decodeDomainOutHeader(data []byte) (DomainOutHeader, error) {
	var h DomainOutHeader
	if len(data) < DomainOutHeaderSize {
		return h, fmt.Errorf("cmif: DomainOutHeader needs %d bytes, got %d", DomainOutHeaderSize, len(data))
	}
	h.NumOutObjects = binary.LittleEndian.Uint32(data[0:4])
	return h, nil
}

// DecodeError reports a malformed reply: bad magic or a structurally
// impossible frame.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return "cmif: " + e.Reason }

// BufferAttr is the set of bit flags describing how one Buffer should
// be transferred.
type BufferAttr uint32

const (
	BufferAttrIn                             BufferAttr = 1 << 0
	BufferAttrOut                            BufferAttr = 1 << 1
	BufferAttrHipcMapAlias                   BufferAttr = 1 << 2
	BufferAttrHipcPointer                    BufferAttr = 1 << 3
	BufferAttrFixedSize                      BufferAttr = 1 << 4
	BufferAttrHipcAutoSelect                 BufferAttr = 1 << 5
	BufferAttrHipcMapTransferAllowsNonSecure BufferAttr = 1 << 6
	BufferAttrHipcMapTransferAllowsNonDevice BufferAttr = 1 << 7
)

// OutHandleAttr says whether an expected out-handle is a copy or a
// move handle.
type OutHandleAttr uint8

const (
	OutHandleAttrCopy OutHandleAttr = 1
	OutHandleAttrMove OutHandleAttr = 2
)

// BufferLike is the minimal shape the planner and emitter need from a
// caller's buffer: its address and size, via hipc.AddrSize. Attribute
// flags are not part of it; they are passed separately.
type BufferLike interface {
	hipc.AddrSize
}

// RequestFormat is the logical intent behind one dispatch call: the
// planner derives every HIPC section count and the data-words
// footprint from it, without knowing any wire-layout offsets yet.
type RequestFormat struct {
	ObjectID           uint32
	RequestID          uint32
	Context            uint32
	DataSize           int
	ServerPointerSize  int
	NumObjects         int
	NumHandles         int
	SendPID            bool

	NumInAutoBuffers    int
	NumOutAutoBuffers   int
	NumInBuffers        int
	NumOutBuffers       int
	NumInoutBuffers     int
	NumInPointers       int
	NumOutPointers      int
	NumOutFixedPointers int
}

// ProcessBuffer updates the planner's tallies for one buffer's
// attribute flags, per the table in spec.md §4.3.
func (f *RequestFormat) ProcessBuffer(attr BufferAttr) {
	if attr == 0 {
		return
	}

	isIn := attr&BufferAttrIn != 0
	isOut := attr&BufferAttrOut != 0

	switch {
	case attr&BufferAttrHipcAutoSelect != 0:
		if isIn {
			f.NumInAutoBuffers++
		}
		if isOut {
			f.NumOutAutoBuffers++
		}
	case attr&BufferAttrHipcPointer != 0:
		if isIn {
			f.NumInPointers++
		}
		if isOut {
			if attr&BufferAttrFixedSize != 0 {
				f.NumOutFixedPointers++
			} else {
				f.NumOutPointers++
			}
		}
	case attr&BufferAttrHipcMapAlias != 0:
		switch {
		case isIn && isOut:
			f.NumInoutBuffers++
		case isIn:
			f.NumInBuffers++
		case isOut:
			f.NumOutBuffers++
		}
	}
}

// Request lays a CMIF request out inside a HIPC frame it builds via
// package hipc, then exposes write cursors (Objects, CopyHandles, the
// buffer-descriptor anchors borrowed from the underlying hipc.Request)
// for the dispatch engine to fill in.
type Request struct {
	base *bitutil.Buffer
	hipc *hipc.Request

	// Data is the offset of the payload immediately following the CMIF
	// in-header (and, for a domain request, the domain in-header).
	Data int

	objects     int
	copyHandles int

	sendBuffers int
	recvBuffers int
	exchBuffers int
	sendStatics int
	recvList    int

	outPointerSizes   int
	serverPointerSize int
	curInPtrID        int
}

// NewRequest computes format's footprint (spec.md §4.3 "Footprint
// computation"), builds the underlying HIPC frame, and writes the
// domain in-header (if any) and the CMIF in-header.
func NewRequest(base *bitutil.Buffer, format RequestFormat) *Request {
	actualSize := 16

	if format.ObjectID != 0 {
		actualSize += DomainInHeaderSize + format.NumObjects*4
	}

	actualSize += InHeaderSize + format.DataSize
	actualSize = int(bitutil.Align(uint64(actualSize), 2, true))

	outPointerSizeTableOffset := actualSize
	outPointerSizeTableSize := format.NumOutAutoBuffers + format.NumOutPointers

	actualSize += 2 * outPointerSizeTableSize

	numDataWords := (actualSize + 3) / 4

	cmdType := hipc.CommandTypeRequest
	if format.Context != 0 {
		cmdType = hipc.CommandTypeRequestWithContext
	}

	h := hipc.NewRequest(base, hipc.Metadata{
		Type:           cmdType,
		NumSendStatics: uint8(format.NumInAutoBuffers + format.NumInPointers),
		NumSendBuffers: uint8(format.NumInAutoBuffers + format.NumInBuffers),
		NumRecvBuffers: uint8(format.NumOutAutoBuffers + format.NumOutBuffers),
		NumExchBuffers: uint8(format.NumInoutBuffers),
		NumDataWords:   uint16(numDataWords),
		NumRecvStatics: uint8(outPointerSizeTableSize + format.NumOutFixedPointers),
		SendPID:        format.SendPID,
		NumCopyHandles: uint8(format.NumHandles),
		NumMoveHandles: 0,
	})

	req := &Request{base: base, hipc: h}
	req.sendStatics = h.SendStatics
	req.sendBuffers = h.SendBuffers
	req.recvBuffers = h.RecvBuffers
	req.exchBuffers = h.ExchBuffers
	req.copyHandles = h.CopyHandles
	req.recvList = h.RecvList

	data := int(bitutil.Align(uint64(h.DataWords), 16, true))

	if format.ObjectID != 0 {
		payloadSize := InHeaderSize + format.DataSize

		domainHdr := DomainInHeader{
			Type:         DomainRequestSendMessage,
			NumInObjects: uint8(format.NumObjects),
			DataSize:     uint16(payloadSize),
			ObjectID:     format.ObjectID,
			Token:        format.Context,
		}

		base.Splice(data, domainHdr)
		data += DomainInHeaderSize
		req.objects = data + payloadSize
	}

	inHdr := InHeader{
		Version:   boolToU32(format.Context != 0),
		CommandID: format.RequestID,
	}
	if format.ObjectID == 0 {
		inHdr.Token = format.Context
	}

	base.Splice(data, inHdr)
	data += InHeaderSize

	req.Data = data
	req.outPointerSizes = h.DataWords + outPointerSizeTableOffset
	req.serverPointerSize = format.ServerPointerSize
	req.curInPtrID = 0

	minilog.Debug("cmif: planned request id=%d domain=%v objects=%d handles=%d data_words=%d",
		format.RequestID, format.ObjectID != 0, format.NumObjects, format.NumHandles, numDataWords)

	return req
}

func boolToU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// AddObject appends a domain sub-object id to the request's in-object
// list.
func (r *Request) AddObject(objectID uint32) {
	r.base.Splice(r.objects, objectID)
	r.objects += 4
}

// AddHandle appends a copy handle to the request.
func (r *Request) AddHandle(h htypes.Handle) {
	hipc.WriteHandle(r.base, r.copyHandles, h)
	r.copyHandles += 4
}

func (r *Request) AddInBuffer(buf hipc.AddrSize, mode hipc.BufferMode) {
	r.base.Splice(r.sendBuffers, hipc.NewBufferDescriptor(buf, mode))
	r.sendBuffers += hipc.BufferDescriptorSize
}

func (r *Request) AddOutBuffer(buf hipc.AddrSize, mode hipc.BufferMode) {
	r.base.Splice(r.recvBuffers, hipc.NewBufferDescriptor(buf, mode))
	r.recvBuffers += hipc.BufferDescriptorSize
}

func (r *Request) AddInoutBuffer(buf hipc.AddrSize, mode hipc.BufferMode) {
	r.base.Splice(r.exchBuffers, hipc.NewBufferDescriptor(buf, mode))
	r.exchBuffers += hipc.BufferDescriptorSize
}

func (r *Request) AddInPointer(buf hipc.AddrSize) {
	r.base.Splice(r.sendStatics, hipc.NewStaticDescriptor(buf, uint8(r.curInPtrID)))
	r.curInPtrID++
	r.sendStatics += hipc.StaticDescriptorSize
	r.serverPointerSize -= int(buf.Size())
}

func (r *Request) AddOutFixedPointer(buf hipc.AddrSize) {
	r.base.Splice(r.recvList, hipc.NewRecvListEntry(buf))
	r.recvList += hipc.RecvListEntrySize
	r.serverPointerSize -= int(buf.Size())
}

func (r *Request) AddOutPointer(buf hipc.AddrSize) {
	r.AddOutFixedPointer(buf)
	r.base.Splice(r.outPointerSizes, uint16(buf.Size()))
	r.outPointerSizes += 2
}

// AddInAutoBuffer picks between a pointer and a map-alias transfer for
// buf, per spec.md §4.3's auto-select heuristic: if there is server
// pointer-buffer budget and buf fits, send it as an in-pointer with a
// zero-sized placeholder occupying the paired map slot; otherwise swap
// the roles. Both slots are always consumed so section counts match
// the header, as the planner already assumed.
func (r *Request) AddInAutoBuffer(buf hipc.AddrSize, empty hipc.AddrSize) {
	if r.serverPointerSize > 0 && int(buf.Size()) <= r.serverPointerSize {
		r.AddInPointer(buf)
		r.AddInBuffer(empty, hipc.BufferModeNormal)
	} else {
		r.AddInPointer(empty)
		r.AddInBuffer(buf, hipc.BufferModeNormal)
	}
}

// AddOutAutoBuffer is AddInAutoBuffer's out-direction counterpart.
func (r *Request) AddOutAutoBuffer(buf hipc.AddrSize, empty hipc.AddrSize) {
	if r.serverPointerSize > 0 && int(buf.Size()) <= r.serverPointerSize {
		r.AddOutPointer(buf)
		r.AddOutBuffer(empty, hipc.BufferModeNormal)
	} else {
		r.AddOutPointer(empty)
		r.AddOutBuffer(buf, hipc.BufferModeNormal)
	}
}

// Response parses a CMIF reply previously decoded at the HIPC layer:
// the optional domain out-header, then the CMIF out-header, then
// cursors over out-objects/copy-handles/move-handles.
type Response struct {
	base []byte

	objects     int
	copyHandles int
	moveHandles int

	Data   int
	Header OutHeader
}

// DecodeResponse parses base (already sliced to one reply frame) as a
// domain or plain-session CMIF response. size is the caller's declared
// out-data size, needed to locate the object-id list in a domain
// reply.
func DecodeResponse(base []byte, isDomain bool, size int) (*Response, error) {
	h, err := hipc.DecodeResponse(base)
	if err != nil {
		return nil, err
	}

	resp := &Response{
		base:        base,
		copyHandles: h.CopyHandles,
		moveHandles: h.MoveHandles,
	}

	data := int(bitutil.Align(uint64(h.DataWords), 16, true))

	resp.objects = -1
	if isDomain {
		if _, err := decodeDomainOutHeader(base[data:]); err != nil {
			return nil, fmt.Errorf("cmif: decoding domain out header: %w", err)
		}
		data += DomainOutHeaderSize
		resp.objects = data + OutHeaderSize + size
	}

	outHdr, err := decodeOutHeader(base[data:])
	if err != nil {
		return nil, err
	}
	data += OutHeaderSize

	if outHdr.Result.Failed() {
		minilog.Error("cmif: reply carried a failing result: %v", outHdr.Result)
		return nil, outHdr.Result
	}

	resp.Data = data
	resp.Header = outHdr

	return resp, nil
}

// NumOutObjects re-reads the domain out-header's object count. Only
// valid when the response was decoded with isDomain=true.
func NumOutObjects(base []byte) (uint32, error) {
	h, err := hipc.DecodeResponse(base)
	if err != nil {
		return 0, err
	}
	data := int(bitutil.Align(uint64(h.DataWords), 16, true))
	domainHdr, err := decodeDomainOutHeader(base[data:])
	if err != nil {
		return 0, err
	}
	return domainHdr.NumOutObjects, nil
}

// GetObject reads the next domain sub-object id from the response's
// object cursor.
func (r *Response) GetObject() uint32 {
	v := binary.LittleEndian.Uint32(r.base[r.objects : r.objects+4])
	r.objects += 4
	return v
}

// GetCopyHandle reads the next copy handle from the response.
func (r *Response) GetCopyHandle() htypes.Handle {
	h := hipc.ReadHandle(r.base, r.copyHandles)
	r.copyHandles += 4
	return h
}

// GetMoveHandle reads the next move handle from the response.
func (r *Response) GetMoveHandle() htypes.Handle {
	h := hipc.ReadHandle(r.base, r.moveHandles)
	r.moveHandles += 4
	return h
}

// MakeControlRequest builds a Control-type HIPC frame carrying a CMIF
// in-header for requestID with size bytes of (already-appended)
// payload, and returns the offset the payload should be written at.
// Used for control command 3 (query pointer-buffer size) and for
// ConvertToDomain.
func MakeControlRequest(base *bitutil.Buffer, requestID uint32, size int) int {
	actualSize := 16 + InHeaderSize + size

	h := hipc.NewRequest(base, hipc.Metadata{
		Type:         hipc.CommandTypeControl,
		NumDataWords: uint16((actualSize + 3) / 4),
	})

	dataOffset := int(bitutil.Align(uint64(h.DataWords), 16, true))

	hdr := InHeader{CommandID: requestID}
	base.Splice(dataOffset, hdr)

	return dataOffset + InHeaderSize
}

// MakeCloseRequest builds the Close frame for a session: a domain
// sub-object emits a minimal Request frame carrying a
// DomainInHeader{Type: Close}, while a root session emits a bare
// Close-type frame with no payload.
func MakeCloseRequest(base *bitutil.Buffer, objectID uint32) {
	if objectID != 0 {
		h := hipc.NewRequest(base, hipc.Metadata{
			Type:         hipc.CommandTypeRequest,
			NumDataWords: uint16((16 + DomainInHeaderSize) / 4),
		})

		dataOffset := int(bitutil.Align(uint64(h.DataWords), 16, true))

		domainHdr := DomainInHeader{Type: DomainRequestClose, ObjectID: objectID}
		base.Splice(dataOffset, domainHdr)
		return
	}

	hipc.NewRequest(base, hipc.Metadata{Type: hipc.CommandTypeClose})
}

// ErrNoPointerBufferSize names a failed pointer-buffer size query. No
// function in this module returns it: package ipc reports a failed
// query as a pointer_buffer_size of 0, not as an error.
var ErrNoPointerBufferSize = errors.New("cmif: pointer buffer size query failed")
