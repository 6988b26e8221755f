package main

import (
	"github.com/switchipc/hipc/htypes"
	"github.com/switchipc/hipc/ipc/ipctest"
	"github.com/switchipc/hipc/svc"
)

const (
	cmdInitialize      = 0
	cmdGetService      = 1
	cmdRegisterService = 2
)

// probeRespond is the sm: port's scripted reply generator: Initialize
// always succeeds, and GetService/RegisterService each mint a fresh
// handle on sim and hand it back as a move handle, so the probe has
// something real (if simulated) to report.
func probeRespond(sim *svc.SimTransport, tls []byte) {
	switch ipctest.CommandID(tls) {
	case cmdInitialize:
		ipctest.WriteOkReply(tls, nil)
	case cmdGetService, cmdRegisterService:
		ipctest.WriteMoveHandleReply(tls, sim.NewHandle(), nil)
	default:
		ipctest.WriteFailingReply(tls, htypes.ResultNotFound)
	}
}
