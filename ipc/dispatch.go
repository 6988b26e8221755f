// Package ipc implements the session/dispatch engine: binding a typed
// call to a plain session or a domain sub-object, driving the cmif
// planner and emitter to build a frame, round-tripping it through a
// svc.Transport, and reconstructing typed outputs from the reply.
package ipc

import (
	"encoding"
	"fmt"

	"github.com/switchipc/hipc/bitutil"
	"github.com/switchipc/hipc/cmif"
	"github.com/switchipc/hipc/hipc"
	"github.com/switchipc/hipc/htypes"
	"github.com/switchipc/hipc/internal/minilog"
)

// ArgumentError is a programmer error caught before any transport
// call is attempted: a malformed out-type, an inconsistent buffer
// attribute, or any other call shape the engine cannot plan.
type ArgumentError struct {
	Reason string
}

func (e *ArgumentError) Error() string { return "ipc: " + e.Reason }

// Dispatch is the builder for one call: a mandatory request id set at
// construction, a chain of typed setters, terminated by Send.
type Dispatch struct {
	requestID uint32
	context   uint32
	sendPID   bool

	inData  []byte
	outType encoding.BinaryUnmarshaler
	outSize int

	buffers []*Buffer
	objects []uint32
	handles []htypes.Handle

	expectObjects int
	expectHandles []cmif.OutHandleAttr

	err error
}

// NewDispatch begins building a call for requestID.
func NewDispatch(requestID uint32) *Dispatch {
	return &Dispatch{requestID: requestID}
}

// WithContext sets the CMIF context token (default 0).
func (d *Dispatch) WithContext(ctx uint32) *Dispatch {
	d.context = ctx
	return d
}

// WithSendPID requests the kernel attach the caller's PID to the
// special header (used only by the service-manager's Initialize
// command).
func (d *Dispatch) WithSendPID(send bool) *Dispatch {
	d.sendPID = send
	return d
}

// WithInData marshals in as the request's in-line payload.
func (d *Dispatch) WithInData(in encoding.BinaryMarshaler) *Dispatch {
	enc, err := in.MarshalBinary()
	if err != nil {
		d.err = &ArgumentError{Reason: fmt.Sprintf("marshaling in-data: %v", err)}
		return d
	}
	d.inData = enc
	return d
}

// WithInBytes sets the request's in-line payload directly, for calls
// whose in-data is not itself a typed struct (e.g. a raw name field).
func (d *Dispatch) WithInBytes(b []byte) *Dispatch {
	d.inData = b
	return d
}

// WithOutType declares out as the destination for the reply's
// out-data bytes; size is the number of bytes to reinterpret (the
// caller knows this from the out type's wire layout, since Go has no
// generic sizeof for a BinaryUnmarshaler).
func (d *Dispatch) WithOutType(out encoding.BinaryUnmarshaler, size int) *Dispatch {
	if size < 0 {
		d.err = &ArgumentError{Reason: "out-type size must be non-negative"}
		return d
	}
	d.outType = out
	d.outSize = size
	return d
}

// AddBuffer attaches buf to the call; buf's own Attr() decides its
// transfer mode and direction.
func (d *Dispatch) AddBuffer(buf *Buffer) *Dispatch {
	d.buffers = append(d.buffers, buf)
	return d
}

// AddInObject appends a domain sub-object id to the call's in-object
// list. Only meaningful when Send's session is a domain.
func (d *Dispatch) AddInObject(objectID uint32) *Dispatch {
	d.objects = append(d.objects, objectID)
	return d
}

// AddInHandle appends a copy handle to the call.
func (d *Dispatch) AddInHandle(h htypes.Handle) *Dispatch {
	d.handles = append(d.handles, h)
	return d
}

// ExpectHandle declares one more expected out-handle, in order, with
// the given copy/move attribute.
func (d *Dispatch) ExpectHandle(attr cmif.OutHandleAttr) *Dispatch {
	d.expectHandles = append(d.expectHandles, attr)
	return d
}

// ExpectObjects declares that the reply carries n sub-service handles.
// For a domain session these are read as domain object ids and
// wrapped as non-owning sub-objects sharing the session's handle; for
// a plain session they are read as n additional move-handles and
// wrapped as new owning plain sessions.
func (d *Dispatch) ExpectObjects(n int) *Dispatch {
	d.expectObjects = n
	return d
}

// DispatchResult is the reconstructed reply: sub-objects/sub-services,
// raw out-handles in declared order, and the subset of buffers whose
// attribute included Out. The typed out-data is not held here; Send
// decodes it into the value passed to WithOutType.
type DispatchResult struct {
	Objects []*Session
	Handles []htypes.Handle
	Buffers []*Buffer
}

// modeOf translates a Buffer's transfer-modifier attribute bits into
// the hipc wire enum.
func modeOf(attr cmif.BufferAttr) hipc.BufferMode {
	switch {
	case attr&cmif.BufferAttrHipcMapTransferAllowsNonSecure != 0:
		return hipc.BufferModeNonSecure
	case attr&cmif.BufferAttrHipcMapTransferAllowsNonDevice != 0:
		return hipc.BufferModeNonDevice
	default:
		return hipc.BufferModeNormal
	}
}

// Send builds the frame for this call against session, round-trips it
// through session's transport, and reconstructs the reply. Failure
// classes follow spec.md §4.4(a-d): argument errors never reach the
// transport.
func (d *Dispatch) Send(session *Session) (*DispatchResult, error) {
	if d.err != nil {
		return nil, d.err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.kind == kindClosed {
		return nil, &ArgumentError{Reason: "session is closed"}
	}

	isDomain := session.kind == kindDomainRoot || session.kind == kindDomainSubObject

	var format cmif.RequestFormat
	format.RequestID = d.requestID
	format.Context = d.context
	format.DataSize = len(d.inData)
	format.ServerPointerSize = session.ptrBufSz
	format.NumHandles = len(d.handles)
	format.SendPID = d.sendPID

	if isDomain {
		format.ObjectID = session.objectID
		format.NumObjects = len(d.objects)
	}

	for _, buf := range d.buffers {
		format.ProcessBuffer(buf.Attr())
	}

	base := bitutil.NewBuffer()
	req := cmif.NewRequest(base, format)

	base.Splice(req.Data, d.inData)

	for _, id := range d.objects {
		req.AddObject(id)
	}
	for _, h := range d.handles {
		req.AddHandle(h)
	}

	for _, buf := range d.buffers {
		attr := buf.Attr()
		mode := modeOf(attr)

		switch {
		case attr&cmif.BufferAttrHipcAutoSelect != 0:
			if attr&cmif.BufferAttrIn != 0 {
				req.AddInAutoBuffer(buf, emptyBuffer{})
			} else {
				req.AddOutAutoBuffer(buf, emptyBuffer{})
			}
		case attr&cmif.BufferAttrHipcPointer != 0:
			if attr&cmif.BufferAttrIn != 0 {
				req.AddInPointer(buf)
			} else if attr&cmif.BufferAttrFixedSize != 0 {
				req.AddOutFixedPointer(buf)
			} else {
				req.AddOutPointer(buf)
			}
		case attr&cmif.BufferAttrHipcMapAlias != 0:
			switch {
			case attr&cmif.BufferAttrIn != 0 && attr&cmif.BufferAttrOut != 0:
				req.AddInoutBuffer(buf, mode)
			case attr&cmif.BufferAttrIn != 0:
				req.AddInBuffer(buf, mode)
			case attr&cmif.BufferAttrOut != 0:
				req.AddOutBuffer(buf, mode)
			}
		}
	}

	tls := session.transport.TLS()
	frame := base.Bytes()
	if len(frame) > len(tls) {
		return nil, &ArgumentError{Reason: fmt.Sprintf("encoded frame (%d bytes) exceeds thread-local storage (%d bytes)", len(frame), len(tls))}
	}
	n := copy(tls, frame)
	for i := n; i < len(tls); i++ {
		tls[i] = 0
	}

	if res := session.transport.SendSyncRequest(session.handle); res.Failed() {
		minilog.Error("ipc: transport rejected request id=%d: %v", d.requestID, res)
		return nil, res
	}

	reply := append([]byte(nil), tls...)

	resp, err := cmif.DecodeResponse(reply, isDomain, d.outSize)
	if err != nil {
		return nil, err
	}

	result := &DispatchResult{}

	if d.outType != nil {
		if err := d.outType.UnmarshalBinary(reply[resp.Data:]); err != nil {
			return nil, &cmif.DecodeError{Reason: fmt.Sprintf("decoding out-data: %v", err)}
		}
	}

	for _, attr := range d.expectHandles {
		var h htypes.Handle
		if attr == cmif.OutHandleAttrMove {
			h = resp.GetMoveHandle()
		} else {
			h = resp.GetCopyHandle()
		}
		result.Handles = append(result.Handles, h)
	}

	for i := 0; i < d.expectObjects; i++ {
		if isDomain {
			id := resp.GetObject()
			result.Objects = append(result.Objects, newDomainSubObject(session, id))
		} else {
			h := resp.GetMoveHandle()
			result.Objects = append(result.Objects, NewSession(session.transport, h, true))
		}
	}

	for _, buf := range d.buffers {
		if buf.Attr()&cmif.BufferAttrOut != 0 {
			result.Buffers = append(result.Buffers, buf)
		}
	}

	return result, nil
}
