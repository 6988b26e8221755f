//go:build nintendoswitch

package svc

import (
	"unsafe"

	"github.com/switchipc/hipc/htypes"
)

// SwitchTransport is the real Transport, issuing the four documented
// svc calls through ARM64 trampolines in transport_switch_arm64.s. The
// thread-local mailbox pointer comes from x28 per the Horizon ABI.
type SwitchTransport struct{}

// NewSwitchTransport returns the hardware transport. There is exactly
// one thread-local mailbox per OS thread; callers on different threads
// each get their own.
func NewSwitchTransport() *SwitchTransport {
	return &SwitchTransport{}
}

func (t *SwitchTransport) TLS() []byte {
	ptr := getTLSPointer()
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), 0x100)
}

func (t *SwitchTransport) SendSyncRequest(h htypes.Handle) htypes.Result {
	return htypes.Result(svcSendSyncRequest(uint32(h)))
}

func (t *SwitchTransport) ConnectToNamedPort(name string) (htypes.Handle, htypes.Result) {
	var nameBuf [8]byte
	copy(nameBuf[:], name)

	var handle uint32
	rc := svcConnectToNamedPort(&handle, &nameBuf[0])
	return htypes.Handle(handle), htypes.Result(rc)
}

func (t *SwitchTransport) SleepThread(ns int64) {
	svcSleepThread(ns)
}

func (t *SwitchTransport) CloseHandle(h htypes.Handle) htypes.Result {
	return htypes.Result(svcCloseHandle(uint32(h)))
}

// Declared here, defined in transport_switch_arm64.s.
func svcSendSyncRequest(handle uint32) uint32
func svcConnectToNamedPort(outHandle *uint32, name *byte) uint32
func svcSleepThread(ns int64)
func svcCloseHandle(handle uint32) uint32
func getTLSPointer() uintptr
