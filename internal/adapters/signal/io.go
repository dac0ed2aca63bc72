package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/teleconsult/arcsignal/internal/core"
)

func (ctl *Controller) writePump(ctx context.Context, c *WsSignalConn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.OnDisconnect(sid)
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				return
			}
			ctl.Dispatch(sid, c, data)
		}
	}
}

// Dispatch routes one inbound message by its type envelope. Every
// client-initiated request gets either a state-change push or an
// explicit error back, except the deliberately best-effort ICE path.
func (ctl *Controller) Dispatch(sid core.SessionID, c core.SignalConnection, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(c, "bad_payload", false)
		return
	}

	switch env.Type {
	case "join-room":
		ctl.handleJoinRoom(sid, c, data)
	case "leave-room":
		ctl.handleLeaveRoom(sid, c, data)
	case "get-room-info":
		ctl.handleGetRoomInfo(sid, c, data)
	case "chat":
		ctl.handleChat(sid, c, data)
	case "offer", "answer", "renegotiate":
		ctl.handleDescription(sid, c, env.Type, data)
	case "ice-candidate":
		ctl.handleCandidate(sid, c, data)
	case "start-call":
		ctl.handleStartCall(sid, c, data)
	case "end-call":
		ctl.handleEndCall(sid, c, data)
	case "call-status":
		ctl.handleCallStatus(sid, c, data)
	case "ar-session-create":
		ctl.handleSessionCreate(sid, c, data)
	case "ar-annotation-add":
		ctl.handleAnnotationAdd(sid, c, data)
	case "ar-annotations-clear":
		ctl.handleAnnotationsClear(sid, c, data)
	case "key-request":
		ctl.handleKeyRequest(sid, c)
	case "key-rotate":
		ctl.handleKeyRotate(sid, c)
	case "key-distribute":
		ctl.handleKeyDistribute(sid, c, data)
	case "key-revoke":
		ctl.handleKeyRevoke(sid, c, data)
	case "ping":
		ctl.handlePing(c)
	case "whoami":
		ctl.handleWhoAmI(sid, c)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		ctl.sendError(c, "unknown message type", false)
	}
}

func encode(v any) (core.Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("marshal")
		return nil, err
	}
	return b, nil
}

func (ctl *Controller) sendJSON(c core.SignalConnection, v any) {
	b, err := encode(v)
	if err != nil {
		return
	}
	_ = c.TrySend(b)
}

type errorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Retry   bool   `json:"retry,omitempty"`
}

func (ctl *Controller) sendError(c core.SignalConnection, msg string, retry bool) {
	ctl.sendJSON(c, errorEvent{Type: "error", Message: msg, Retry: retry})
}

func (ctl *Controller) sendARError(c core.SignalConnection, msg string, retry bool) {
	ctl.sendJSON(c, errorEvent{Type: "ar-error", Message: msg, Retry: retry})
}
