package svc

import (
	"sync"

	"github.com/switchipc/hipc/htypes"
)

// Responder is a scripted per-handle reply: given the request bytes
// already written into the mailbox, it mutates them in place into a
// reply and returns the Result the kernel's send primitive would have
// returned.
type Responder func(tls []byte) htypes.Result

// SimTransport is an in-process fake Transport: a registry of named
// ports plus a scripted Responder per handle, with no real kernel
// underneath it. Used by ipc's own tests, ipc/ipctest, and host-side
// tools that want to drive the dispatch engine off real hardware.
type SimTransport struct {
	mu sync.Mutex

	tls [0x100]byte

	ports      map[string]htypes.Handle
	responders map[htypes.Handle]Responder
	closed     map[htypes.Handle]bool
	next       uint32
	sleeps     []int64
}

// NewSimTransport returns an empty simulated transport.
func NewSimTransport() *SimTransport {
	return &SimTransport{
		ports:      make(map[string]htypes.Handle),
		responders: make(map[htypes.Handle]Responder),
		closed:     make(map[htypes.Handle]bool),
		next:       1,
	}
}

// NewHandle allocates a fresh handle value for use with RegisterPort
// or SetResponder.
func (s *SimTransport) NewHandle() htypes.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := htypes.Handle(s.next)
	s.next++
	return h
}

// RegisterPort makes name resolve to h via ConnectToNamedPort.
func (s *SimTransport) RegisterPort(name string, h htypes.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ports[name] = h
}

// SetResponder installs fn as h's scripted reply generator.
func (s *SimTransport) SetResponder(h htypes.Handle, fn Responder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responders[h] = fn
}

// Closed reports whether CloseHandle has been called for h.
func (s *SimTransport) Closed(h htypes.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed[h]
}

// Sleeps returns every nanosecond duration passed to SleepThread, in
// call order — useful for asserting the sm bootstrap's retry cadence
// without actually waiting.
func (s *SimTransport) Sleeps() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.sleeps))
	copy(out, s.sleeps)
	return out
}

func (s *SimTransport) TLS() []byte {
	return s.tls[:]
}

func (s *SimTransport) SendSyncRequest(h htypes.Handle) htypes.Result {
	s.mu.Lock()
	fn, ok := s.responders[h]
	s.mu.Unlock()
	if !ok {
		return htypes.ResultNotFound
	}
	return fn(s.tls[:])
}

func (s *SimTransport) ConnectToNamedPort(name string) (htypes.Handle, htypes.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.ports[name]
	if !ok {
		return htypes.InvalidHandle, htypes.ResultNotFound
	}
	return h, htypes.Result(0)
}

func (s *SimTransport) SleepThread(ns int64) {
	s.mu.Lock()
	s.sleeps = append(s.sleeps, ns)
	s.mu.Unlock()
}

func (s *SimTransport) CloseHandle(h htypes.Handle) htypes.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.responders, h)
	s.closed[h] = true
	return htypes.Result(0)
}
