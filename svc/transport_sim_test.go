package svc

import (
	"testing"

	"github.com/switchipc/hipc/htypes"
)

func TestSimTransportConnectToNamedPort(t *testing.T) {
	sim := NewSimTransport()
	h := sim.NewHandle()
	sim.RegisterPort("sm:", h)

	got, res := sim.ConnectToNamedPort("sm:")
	if res.Failed() {
		t.Fatalf("ConnectToNamedPort failed: %v", res)
	}
	if got != h {
		t.Fatalf("got handle %v, want %v", got, h)
	}

	if _, res := sim.ConnectToNamedPort("nope:"); res != htypes.ResultNotFound {
		t.Fatalf("expected ResultNotFound for an unregistered port, got %v", res)
	}
}

func TestSimTransportSendSyncRequestRunsResponder(t *testing.T) {
	sim := NewSimTransport()
	h := sim.NewHandle()
	sim.SetResponder(h, func(tls []byte) htypes.Result {
		tls[0] = 0x42
		return htypes.Result(0)
	})

	if res := sim.SendSyncRequest(h); res.Failed() {
		t.Fatalf("SendSyncRequest failed: %v", res)
	}
	if sim.TLS()[0] != 0x42 {
		t.Fatalf("responder did not mutate TLS in place")
	}
}

func TestSimTransportCloseHandleIsObservable(t *testing.T) {
	sim := NewSimTransport()
	h := sim.NewHandle()
	if sim.Closed(h) {
		t.Fatal("handle should not start closed")
	}
	sim.CloseHandle(h)
	if !sim.Closed(h) {
		t.Fatal("expected handle to be closed")
	}
}

func TestSimTransportSleepThreadRecordsDurations(t *testing.T) {
	sim := NewSimTransport()
	sim.SleepThread(50_000_000)
	sim.SleepThread(50_000_000)

	sleeps := sim.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 50_000_000 {
		t.Fatalf("sleeps = %v, want two 50ms entries", sleeps)
	}
}
