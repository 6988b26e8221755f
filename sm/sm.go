// Package sm implements the bootstrap session for Horizon's service
// manager: the one privileged port every other binding dials through
// to resolve a named service into a session.
package sm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/switchipc/hipc/cmif"
	"github.com/switchipc/hipc/htypes"
	"github.com/switchipc/hipc/internal/minilog"
	"github.com/switchipc/hipc/ipc"
	"github.com/switchipc/hipc/svc"
)

const (
	cmdInitialize           = 0
	cmdGetService           = 1
	cmdRegisterService      = 2
	cmdUnregisterService    = 3
	cmdIsServiceRegistered  = 65100
	sleepBetweenRetriesNsec = 50 * 1_000_000
)

// ServiceManager is a specialized session bound to the named port
// "sm:". It is the only binding in this stack that knows how to dial
// a port by name rather than receive an already-open handle.
type ServiceManager struct {
	transport svc.Transport
	session   *ipc.Session
}

// Connect dials "sm:", retrying while the kernel reports the port not
// yet registered, then completes the Initialize handshake. Any other
// connect failure, or an Initialize failure other than "already
// initialized", aborts construction.
func Connect(transport svc.Transport) (*ServiceManager, error) {
	handle, err := connectWithRetry(transport)
	if err != nil {
		return nil, err
	}

	sm := &ServiceManager{
		transport: transport,
		session:   ipc.NewSession(transport, handle, true),
	}

	if err := sm.initialize(); err != nil {
		sm.session.Close()
		return nil, err
	}

	return sm, nil
}

func connectWithRetry(transport svc.Transport) (htypes.Handle, error) {
	for {
		handle, res := transport.ConnectToNamedPort("sm:")
		if res.Succeeded() {
			return handle, nil
		}
		if !errors.Is(res, htypes.ResultNotFound) {
			return 0, res
		}
		minilog.Debug("sm: sm: port not registered yet, sleeping")
		transport.SleepThread(sleepBetweenRetriesNsec)
	}
}

func (sm *ServiceManager) initialize() error {
	_, err := ipc.NewDispatch(cmdInitialize).
		WithSendPID(true).
		WithInBytes(make([]byte, 8)).
		Send(sm.session)
	if err == nil {
		return nil
	}
	if res, ok := err.(htypes.Result); ok && res == htypes.ResultAlreadyInitialized {
		minilog.Debug("sm: already initialized, continuing")
		return nil
	}
	return err
}

// Close releases the bootstrap session.
func (sm *ServiceManager) Close() error { return sm.session.Close() }

func nameBytes(name string) ([]byte, error) {
	if len(name) > 8 {
		return nil, &ipc.ArgumentError{Reason: fmt.Sprintf("service name %q exceeds 8 bytes", name)}
	}
	b := make([]byte, 8)
	copy(b, name)
	return b, nil
}

// GetService resolves name into a session. If an override has been
// registered for name (via SetOverride) the override's handle is
// shared rather than acquired fresh, with ownership left false so
// Close on the returned session never closes the shared handle.
// Passing original forces the real round trip even when an override
// exists.
func (sm *ServiceManager) GetService(name string, original bool) (*ipc.Session, error) {
	if !original {
		if v, ok := overrides.Load(name); ok {
			return ipc.NewSession(sm.transport, v.(htypes.Handle), false), nil
		}
	}

	nb, err := nameBytes(name)
	if err != nil {
		return nil, err
	}

	result, err := ipc.NewDispatch(cmdGetService).
		WithInBytes(nb).
		ExpectHandle(cmif.OutHandleAttrMove).
		Send(sm.session)
	if err != nil {
		return nil, err
	}

	return ipc.NewSession(sm.transport, result.Handles[0], true), nil
}

// registerServiceIn mirrors the wire layout libnx and the reference
// binding agree on: an 8-byte name, a bool, 3 bytes of tail padding to
// align the trailing int32.
type registerServiceIn struct {
	name        [8]byte
	isLight     bool
	maxSessions int32
}

func (r registerServiceIn) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 16)
	copy(buf[0:8], r.name[:])
	if r.isLight {
		buf[8] = 1
	}
	binary.LittleEndian.PutUint32(buf[12:16], uint32(r.maxSessions))
	return buf, nil
}

// RegisterService registers name as a service, returning the port
// handle the caller accepts incoming sessions on.
func (sm *ServiceManager) RegisterService(name string, isLight bool, maxSessions int32) (htypes.Handle, error) {
	nb, err := nameBytes(name)
	if err != nil {
		return 0, err
	}
	var in registerServiceIn
	copy(in.name[:], nb)
	in.isLight = isLight
	in.maxSessions = maxSessions

	result, err := ipc.NewDispatch(cmdRegisterService).
		WithInData(in).
		ExpectHandle(cmif.OutHandleAttrMove).
		Send(sm.session)
	if err != nil {
		return 0, err
	}
	return result.Handles[0], nil
}

// UnregisterService releases a previously registered name.
func (sm *ServiceManager) UnregisterService(name string) error {
	nb, err := nameBytes(name)
	if err != nil {
		return err
	}
	_, err = ipc.NewDispatch(cmdUnregisterService).WithInBytes(nb).Send(sm.session)
	return err
}

// boolOut decodes a single-byte boolean out-data payload.
type boolOut struct{ v bool }

func (b *boolOut) UnmarshalBinary(data []byte) error {
	if len(data) < 1 {
		return io.ErrUnexpectedEOF
	}
	b.v = data[0] != 0
	return nil
}

// IsServiceRegistered is the Atmosphere extension (command 65100)
// reporting whether name currently has a registered port.
func (sm *ServiceManager) IsServiceRegistered(name string) (bool, error) {
	nb, err := nameBytes(name)
	if err != nil {
		return false, err
	}
	var out boolOut
	_, err = ipc.NewDispatch(cmdIsServiceRegistered).
		WithInBytes(nb).
		WithOutType(&out, 1).
		Send(sm.session)
	if err != nil {
		return false, err
	}
	return out.v, nil
}

// overrides is the process-wide, write-once-per-name registry tests
// and mocks use to substitute a handle for the real round trip to sm:.
var overrides sync.Map

// SetOverride installs handle as the override for name. Returns an
// error if name already has an override; callers must ClearOverride
// first to replace one.
func SetOverride(name string, handle htypes.Handle) error {
	if _, loaded := overrides.LoadOrStore(name, handle); loaded {
		return fmt.Errorf("sm: override for %q already set", name)
	}
	return nil
}

// ClearOverride removes name's override, if any.
func ClearOverride(name string) {
	overrides.Delete(name)
}
