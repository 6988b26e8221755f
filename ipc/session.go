package ipc

import (
	"encoding/binary"
	"sync"

	"github.com/switchipc/hipc/bitutil"
	"github.com/switchipc/hipc/cmif"
	"github.com/switchipc/hipc/htypes"
	"github.com/switchipc/hipc/internal/minilog"
	"github.com/switchipc/hipc/svc"
)

// controlQueryPointerBufferSize is Horizon's session control command 3.
const controlQueryPointerBufferSize = 3

// controlConvertToDomain is control command 0. The reference
// implementation never finished this command; this module follows the
// documented libnx behavior instead (see DESIGN.md).
const controlConvertToDomain = 0

// kind tags which of the four observable states (spec.md §3's Session
// table) a Session is in, avoiding an inheritance chain in favor of a
// flat tagged variant with a shared method set.
type kind uint8

const (
	kindClosed kind = iota
	kindPlain
	kindDomainRoot
	kindDomainSubObject
)

// Session is a handle (or shared handle) bound to a transport, plus
// whatever domain-object state it has acquired. The zero value is not
// usable; construct with NewSession or via a domain conversion/reply.
type Session struct {
	mu sync.Mutex

	transport svc.Transport
	handle    htypes.Handle
	ownHandle bool
	objectID  uint32
	ptrBufSz  int
	kind      kind
}

// NewSession binds handle to transport; ownHandle says whether Close
// releases the handle through the transport. Per
// spec.md §3's invariant, the session's pointer_buffer_size is
// discovered once here via a control request, defaulting to 0 on any
// failure rather than propagating an error — an unusable pointer
// budget just means the auto-select heuristic always falls back to
// map-alias transfers.
func NewSession(transport svc.Transport, handle htypes.Handle, ownHandle bool) *Session {
	s := &Session{
		transport: transport,
		handle:    handle,
		ownHandle: ownHandle,
		kind:      kindPlain,
	}
	s.ptrBufSz = queryPointerBufferSize(s)
	return s
}

func queryPointerBufferSize(s *Session) int {
	base := bitutil.NewBuffer()
	cmif.MakeControlRequest(base, controlQueryPointerBufferSize, 0)

	tls := s.transport.TLS()
	n := copy(tls, base.Bytes())
	for i := n; i < len(tls); i++ {
		tls[i] = 0
	}

	if res := s.transport.SendSyncRequest(s.handle); res.Failed() {
		minilog.Debug("ipc: pointer buffer size query failed: %v", res)
		return 0
	}

	resp, err := cmif.DecodeResponse(append([]byte(nil), tls...), false, 0)
	if err != nil {
		minilog.Debug("ipc: pointer buffer size reply malformed: %v", err)
		return 0
	}

	return int(binary.LittleEndian.Uint16(tls[resp.Data : resp.Data+2]))
}

// newDomainSubObject wraps a reply-born object id as a non-owning
// sub-object sharing parent's handle and transport. Callers that
// already hold parent.mu (Dispatch.Send) call this directly; it must
// not itself lock parent.mu.
func newDomainSubObject(parent *Session, objectID uint32) *Session {
	return &Session{
		transport: parent.transport,
		handle:    parent.handle,
		ownHandle: false,
		objectID:  objectID,
		ptrBufSz:  parent.ptrBufSz,
		kind:      kindDomainSubObject,
	}
}

// IsClosed reports whether the session has already been closed.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kind == kindClosed
}

// Handle returns the session's (possibly shared) kernel handle. Zero
// once closed.
func (s *Session) Handle() htypes.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// ObjectID returns the domain object id, zero for a plain session.
func (s *Session) ObjectID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objectID
}

func (s *Session) isDomain() bool {
	return s.kind == kindDomainRoot || s.kind == kindDomainSubObject
}

// ConvertToDomain upgrades a plain, owning session into a domain root
// by issuing control command 0. On success the session's object_id
// becomes the returned value and subsequent Send calls automatically
// frame as domain requests. Failure leaves the session a plain
// session.
func (s *Session) ConvertToDomain() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.kind != kindPlain || !s.ownHandle {
		return &ArgumentError{Reason: "ConvertToDomain requires a plain, owning session"}
	}

	base := bitutil.NewBuffer()
	cmif.MakeControlRequest(base, controlConvertToDomain, 0)

	tls := s.transport.TLS()
	n := copy(tls, base.Bytes())
	for i := n; i < len(tls); i++ {
		tls[i] = 0
	}

	if res := s.transport.SendSyncRequest(s.handle); res.Failed() {
		return res
	}

	resp, err := cmif.DecodeResponse(append([]byte(nil), tls...), false, 0)
	if err != nil {
		return err
	}

	s.objectID = binary.LittleEndian.Uint32(tls[resp.Data : resp.Data+4])
	s.kind = kindDomainRoot

	minilog.Debug("ipc: session converted to domain, object_id=%d", s.objectID)
	return nil
}

// Close is idempotent: closing an already-closed session is a no-op
// and never touches the transport. A sub-object never closes the
// shared handle; only an owning plain session or domain root does.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.kind == kindClosed {
		return nil
	}

	// A session that neither owns its handle nor holds a domain
	// sub-object id is a shared, non-domain session (the sm override
	// path: ownHandle=false, objectID=0) — it never sent its own root
	// Close frame into existence, so closing it must not send one now
	// either; doing so would tear down the shared handle's server-side
	// session for every other sharer.
	if s.ownHandle || s.objectID != 0 {
		// An owning session (plain or domain root) closes with the bare
		// root Close frame; only a sub-object names its object id.
		closeID := s.objectID
		if s.ownHandle {
			closeID = 0
		}
		base := bitutil.NewBuffer()
		cmif.MakeCloseRequest(base, closeID)

		tls := s.transport.TLS()
		n := copy(tls, base.Bytes())
		for i := n; i < len(tls); i++ {
			tls[i] = 0
		}

		// Result is deliberately ignored: closing must never itself fail.
		s.transport.SendSyncRequest(s.handle)
	}

	if s.ownHandle {
		s.transport.CloseHandle(s.handle)
	}

	s.handle = htypes.InvalidHandle
	s.objectID = 0
	s.ownHandle = false
	s.kind = kindClosed

	return nil
}
