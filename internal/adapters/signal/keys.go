package signal

import (
	"encoding/json"
	"errors"

	"github.com/teleconsult/arcsignal/internal/core"
	"github.com/teleconsult/arcsignal/internal/domain"
)

type roomKeyEvent struct {
	Type string          `json:"type"`
	Key  *domain.KeyInfo `json:"key"`
}

func (ctl *Controller) currentRoomAndUser(sid core.SessionID, c core.SignalConnection) (domain.RoomID, domain.UserID, bool) {
	roomID, sess, ok := ctl.Registry.RoomOf(sid)
	if !ok {
		ctl.sendError(c, "not in a room", false)
		return "", "", false
	}
	return roomID, sess.Meta().UserID, true
}

func (ctl *Controller) handleKeyRequest(sid core.SessionID, c core.SignalConnection) {
	roomID, uid, ok := ctl.currentRoomAndUser(sid, c)
	if !ok {
		return
	}
	info, err := ctl.Vault.GetRoomKey(roomID, uid)
	if err != nil {
		ctl.sendKeyError(c, err)
		return
	}
	ctl.sendJSON(c, roomKeyEvent{Type: "room-key", Key: info})
}

func (ctl *Controller) handleKeyRotate(sid core.SessionID, c core.SignalConnection) {
	roomID, uid, ok := ctl.currentRoomAndUser(sid, c)
	if !ok {
		return
	}
	info, err := ctl.Vault.RotateKey(roomID, uid)
	if err != nil {
		ctl.sendKeyError(c, err)
		return
	}
	ctl.sendJSON(c, roomKeyEvent{Type: "room-key", Key: info})
}

func (ctl *Controller) handleKeyDistribute(sid core.SessionID, c core.SignalConnection, data []byte) {
	type distPayload struct {
		Type         string        `json:"type"`
		TargetUserID domain.UserID `json:"targetUserId"`
	}
	var p distPayload
	if err := json.Unmarshal(data, &p); err != nil || p.TargetUserID == "" {
		ctl.sendError(c, "bad_payload", false)
		return
	}
	roomID, uid, ok := ctl.currentRoomAndUser(sid, c)
	if !ok {
		return
	}
	info, err := ctl.Vault.DistributeKey(roomID, p.TargetUserID, uid)
	if err != nil {
		ctl.sendKeyError(c, err)
		return
	}
	ctl.sendJSON(c, roomKeyEvent{Type: "room-key", Key: info})
}

func (ctl *Controller) handleKeyRevoke(sid core.SessionID, c core.SignalConnection, data []byte) {
	type revokePayload struct {
		Type         string        `json:"type"`
		TargetUserID domain.UserID `json:"targetUserId"`
	}
	var p revokePayload
	if err := json.Unmarshal(data, &p); err != nil || p.TargetUserID == "" {
		ctl.sendError(c, "bad_payload", false)
		return
	}
	roomID, uid, ok := ctl.currentRoomAndUser(sid, c)
	if !ok {
		return
	}
	if err := ctl.Vault.RevokeAccess(roomID, p.TargetUserID, uid); err != nil {
		ctl.sendKeyError(c, err)
		return
	}
	ctl.sendJSON(c, struct {
		Type         string        `json:"type"`
		TargetUserID domain.UserID `json:"targetUserId"`
	}{Type: "key-revoked", TargetUserID: p.TargetUserID})
}

func (ctl *Controller) sendKeyError(c core.SignalConnection, err error) {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		ctl.sendError(c, "not authorized for room key", false)
	case errors.Is(err, domain.ErrKeyExpired):
		ctl.sendError(c, "room key expired", true)
	case errors.Is(err, domain.ErrKeyNotFound):
		ctl.sendError(c, "room key not found", false)
	default:
		ctl.sendError(c, err.Error(), false)
	}
}
