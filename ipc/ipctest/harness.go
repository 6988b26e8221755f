package ipctest

import (
	"github.com/switchipc/hipc/bitutil"
	"github.com/switchipc/hipc/cmif"
	"github.com/switchipc/hipc/hipc"
	"github.com/switchipc/hipc/htypes"
	"github.com/switchipc/hipc/ipc"
	"github.com/switchipc/hipc/svc"
)

// Harness is a thin, ergonomic wrapper over svc.SimTransport for
// building sessions and scripting per-command replies in tests,
// without every caller having to hand-decode the CMIF in-header just
// to branch on which command was sent.
type Harness struct {
	Transport *svc.SimTransport
}

// New returns an empty harness over a fresh simulated transport.
func New() *Harness {
	return &Harness{Transport: svc.NewSimTransport()}
}

// CommandID decodes the CMIF in-header's command id out of a request
// frame already sitting in tls. Returns 0xffffffff if the frame
// doesn't parse, so a type switch/comparison never panics.
func CommandID(tls []byte) uint32 {
	h, err := hipc.DecodeResponse(tls)
	if err != nil {
		return 0xffffffff
	}
	var in cmif.InHeader
	if err := in.UnmarshalBinary(tls[bitutil.Align(uint64(h.DataWords), 16, true):]); err != nil {
		return 0xffffffff
	}
	return in.CommandID
}

// WriteOkReply overwrites tls in place with a bare success reply: a
// CMIF out-header with Result 0, followed by payload.
func WriteOkReply(tls []byte, payload []byte) {
	h, _ := hipc.DecodeResponse(tls)
	data := int(bitutil.Align(uint64(h.DataWords), 16, true))
	out := cmif.OutHeader{Result: htypes.Result(0)}
	enc, _ := out.MarshalBinary()
	copy(tls[data:], enc)
	copy(tls[data+len(enc):], payload)
}

// WriteFailingReply overwrites tls with a reply carrying res as the
// embedded Result.
func WriteFailingReply(tls []byte, res htypes.Result) {
	h, _ := hipc.DecodeResponse(tls)
	out := cmif.OutHeader{Result: res}
	enc, _ := out.MarshalBinary()
	copy(tls[bitutil.Align(uint64(h.DataWords), 16, true):], enc)
}

// WriteMoveHandleReply overwrites tls with a reply whose special
// header carries exactly one move handle followed by payload — the
// shape sm's GetService and RegisterService replies take.
func WriteMoveHandleReply(tls []byte, handle htypes.Handle, payload []byte) {
	base := bitutil.NewBuffer()
	req := hipc.NewRequest(base, hipc.Metadata{NumMoveHandles: 1, NumDataWords: 4})
	hipc.WriteHandle(base, req.MoveHandles, handle)

	out := cmif.OutHeader{Result: htypes.Result(0)}
	enc, _ := out.MarshalBinary()
	base.Splice(req.DataWords, enc)
	base.Splice(req.DataWords+len(enc), payload)

	frame := base.Bytes()
	copy(tls, frame)
	for i := len(frame); i < len(tls); i++ {
		tls[i] = 0
	}
}

// NewPlainSession allocates a fresh handle on the harness's transport,
// registers resp as its responder, and wraps it as a plain, owning
// ipc.Session.
func (hs *Harness) NewPlainSession(resp svc.Responder) *ipc.Session {
	handle := hs.Transport.NewHandle()
	hs.Transport.SetResponder(handle, resp)
	return ipc.NewSession(hs.Transport, handle, true)
}
