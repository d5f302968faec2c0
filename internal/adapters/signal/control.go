package signal

import "github.com/dkeye/Huddle/internal/core"

func (ctl *SignalWSController) handlePing(conn *WsSignalConn, requestID string) {
	ctl.sendEvent(conn, core.Event{Type: core.EventPong, RequestID: requestID})
}
