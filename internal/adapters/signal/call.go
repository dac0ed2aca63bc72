package signal

import (
	"encoding/json"
	"errors"

	"github.com/teleconsult/arcsignal/internal/core"
	"github.com/teleconsult/arcsignal/internal/domain"
)

type callEvent struct {
	Type string       `json:"type"`
	Call *domain.Call `json:"call"`
}

func (ctl *Controller) handleStartCall(sid core.SessionID, c core.SignalConnection, data []byte) {
	type startPayload struct {
		Type         string        `json:"type"`
		TargetUserID domain.UserID `json:"targetUserId"`
		CallType     string        `json:"callType,omitempty"`
		Priority     string        `json:"priority,omitempty"`
	}
	var p startPayload
	if err := json.Unmarshal(data, &p); err != nil || p.TargetUserID == "" {
		ctl.sendError(c, "bad_payload", false)
		return
	}

	roomID, sess, ok := ctl.Registry.RoomOf(sid)
	if !ok {
		ctl.sendError(c, "not in a room", false)
		return
	}
	meta := sess.Meta()
	if !meta.Capabilities.Has(domain.CapInitiateCall) {
		ctl.sendError(c, "role cannot initiate calls", false)
		return
	}

	call, err := ctl.Calls.StartCall(roomID, meta.UserID, p.TargetUserID, p.CallType, p.Priority)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrTargetUnavailable):
			ctl.sendError(c, "target user not in room: "+string(p.TargetUserID), true)
		default:
			ctl.sendError(c, err.Error(), false)
		}
		return
	}
	ctl.BroadcastRoom(roomID, callEvent{Type: "call-started", Call: call})
}

func (ctl *Controller) handleEndCall(sid core.SessionID, c core.SignalConnection, data []byte) {
	type endPayload struct {
		Type   string        `json:"type"`
		CallID domain.CallID `json:"callId"`
	}
	var p endPayload
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" {
		ctl.sendError(c, "bad_payload", false)
		return
	}

	sess, ok := ctl.Registry.GetSession(sid)
	if !ok {
		ctl.sendError(c, "no session", false)
		return
	}

	call, err := ctl.Calls.EndCall(p.CallID, sess.Meta().UserID)
	if errors.Is(err, domain.ErrCallNotFound) {
		// Already ended by a racing leave/disconnect; ack the sender
		// rather than erroring.
		ctl.sendJSON(c, struct {
			Type   string        `json:"type"`
			CallID domain.CallID `json:"callId"`
		}{Type: "call-ended", CallID: p.CallID})
		return
	}
	if err != nil {
		ctl.sendError(c, "not a participant of this call", false)
		return
	}
	ctl.BroadcastRoom(call.RoomID, callEvent{Type: "call-ended", Call: call})
}

func (ctl *Controller) handleCallStatus(sid core.SessionID, c core.SignalConnection, data []byte) {
	type statusPayload struct {
		Type   string            `json:"type"`
		CallID domain.CallID     `json:"callId"`
		Status domain.CallStatus `json:"status"`
	}
	var p statusPayload
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" {
		ctl.sendError(c, "bad_payload", false)
		return
	}

	sess, ok := ctl.Registry.GetSession(sid)
	if !ok {
		ctl.sendError(c, "no session", false)
		return
	}

	call, err := ctl.Calls.SetStatus(p.CallID, sess.Meta().UserID, p.Status)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrCallNotFound):
			ctl.sendError(c, "call not found: "+string(p.CallID), false)
		case errors.Is(err, domain.ErrUnauthorized):
			ctl.sendError(c, "not a participant of this call", false)
		default:
			ctl.sendError(c, "invalid call transition", false)
		}
		return
	}
	ctl.BroadcastRoom(call.RoomID, callEvent{Type: "call-status-update", Call: call})
}
