// Package svc defines the kernel transport boundary the dispatch
// engine consumes: one synchronous-send primitive, a handle-close
// primitive, a sleep primitive, a connect-to-named-port primitive, and
// the thread-local mailbox window they all share.
package svc

import "github.com/switchipc/hipc/htypes"

// Transport is the narrow interface package ipc depends on. Nothing in
// ipc or cmif knows how a request actually reaches the kernel; they
// only read and write through TLS() and call the four primitives.
type Transport interface {
	// SendSyncRequest issues the encoded frame already sitting in
	// TLS() against h and blocks until the server replies, overwriting
	// TLS() in place with the response.
	SendSyncRequest(h htypes.Handle) htypes.Result

	// ConnectToNamedPort resolves a port name (at most 8 bytes) to a
	// fresh, owned handle.
	ConnectToNamedPort(name string) (htypes.Handle, htypes.Result)

	// SleepThread suspends the calling thread for ns nanoseconds. Used
	// only by the service-manager bootstrap's connect retry loop.
	SleepThread(ns int64)

	// CloseHandle releases a kernel handle.
	CloseHandle(h htypes.Handle) htypes.Result

	// TLS returns the 0x100-byte thread-local mailbox window. The
	// returned slice aliases live storage; callers must not retain it
	// past the current dispatch.
	TLS() []byte
}
