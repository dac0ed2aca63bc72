package signal

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/teleconsult/arcsignal/internal/core"
	"github.com/teleconsult/arcsignal/internal/domain"
)

type roomJoinedEvent struct {
	Type string               `json:"type"`
	Room *domain.RoomSnapshot `json:"room"`
}

type userEvent struct {
	Type        string              `json:"type"`
	RoomID      domain.RoomID       `json:"roomId"`
	Participant *domain.Participant `json:"participant"`
}

func (ctl *Controller) handleJoinRoom(sid core.SessionID, c core.SignalConnection, data []byte) {
	type joinPayload struct {
		Type     string          `json:"type"`
		RoomID   string          `json:"roomId"`
		RoomType domain.RoomType `json:"roomType,omitempty"`
		Capacity int             `json:"capacity,omitempty"`
		Private  bool            `json:"private,omitempty"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		ctl.sendError(c, "bad_payload", false)
		return
	}

	sess, ok := ctl.Registry.GetSession(sid)
	if !ok {
		ctl.sendError(c, "no session", false)
		return
	}
	meta := sess.Meta()
	if !ctl.joins.Allow(meta.UserID) {
		ctl.sendError(c, "too many join attempts", true)
		return
	}

	// One room per participant: converge through the same cleanup path
	// as an explicit leave before entering the next room.
	if prev, _, ok := ctl.Registry.RoomOf(sid); ok && prev != domain.RoomID(p.RoomID) {
		ctl.leaveCascade(sid, c)
	}

	roomID := domain.RoomID(p.RoomID)
	snap, err := ctl.Rooms.JoinRoom(roomID, meta, domain.RoomConfig{
		Type:     p.RoomType,
		Capacity: p.Capacity,
		Private:  p.Private,
	})
	if err != nil {
		if errors.Is(err, domain.ErrRoomFull) {
			ctl.sendError(c, "room is at capacity", false)
			return
		}
		ctl.sendError(c, err.Error(), false)
		return
	}
	ctl.Registry.UpdateRoom(sid, roomID)

	// First member bootstraps the room key; later members get it
	// distributed on behalf of the creator. Best-effort: a vault error
	// must not fail the join.
	if len(snap.Participants) == 1 && snap.CreatorID == meta.UserID {
		if _, err := ctl.Vault.GenerateRoomKey(roomID, meta.UserID); err != nil {
			log.Error().Err(err).Str("module", "signal").Str("room", string(roomID)).Msg("room key bootstrap failed")
		}
	} else {
		if _, err := ctl.Vault.DistributeKey(roomID, meta.UserID, snap.CreatorID); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("room", string(roomID)).Str("user", string(meta.UserID)).Msg("key distribution on join failed")
		}
	}

	// Attach to an existing annotation session, if any. No session is
	// not an error.
	ctl.Annotations.AddParticipant(roomID, sid, c)

	_ = ctl.Rooms.AppendHistory(roomID, domain.HistoryEntry{
		UserID:    meta.UserID,
		Kind:      "system",
		Body:      "joined",
		Timestamp: time.Now(),
	})

	ctl.sendJSON(c, roomJoinedEvent{Type: "room-joined", Room: snap})
	ctl.BroadcastFrom(sid, roomID, userEvent{Type: "user-joined", RoomID: roomID, Participant: meta})
}

func (ctl *Controller) handleLeaveRoom(sid core.SessionID, c core.SignalConnection, data []byte) {
	type leavePayload struct {
		Type   string `json:"type"`
		RoomID string `json:"roomId,omitempty"`
	}
	var p leavePayload
	_ = json.Unmarshal(data, &p)

	current, _, ok := ctl.Registry.RoomOf(sid)
	if !ok {
		ctl.sendError(c, "not in a room", false)
		return
	}
	if p.RoomID != "" && domain.RoomID(p.RoomID) != current {
		ctl.sendError(c, "not in that room", false)
		return
	}
	ctl.leaveCascade(sid, c)
}

// leaveCascade is the single cleanup path shared by explicit leaves and
// disconnects: end the user's calls, detach from the annotation session,
// remove from the room, then notify.
func (ctl *Controller) leaveCascade(sid core.SessionID, c core.SignalConnection) {
	roomID, sess, ok := ctl.Registry.RoomOf(sid)
	if !ok {
		return
	}
	meta := sess.Meta()

	for _, call := range ctl.Calls.EndCallsFor(roomID, meta.UserID) {
		ctl.BroadcastRoom(roomID, callEvent{Type: "call-ended", Call: call})
	}
	ctl.Annotations.RemoveParticipant(roomID, sid)

	left := ctl.Rooms.LeaveRoom(roomID, meta.UserID)
	ctl.Registry.RemoveRoom(sid)
	if !left {
		return
	}
	ev := userEvent{Type: "user-left", RoomID: roomID, Participant: meta}
	if c != nil {
		ctl.sendJSON(c, ev)
	}
	ctl.BroadcastRoom(roomID, ev)
}

// OnDisconnect converges on the same cleanup path as an explicit leave
// even when the client never sent one.
func (ctl *Controller) OnDisconnect(sid core.SessionID) {
	ctl.leaveCascade(sid, nil)
	ctl.Registry.Unbind(sid)
}

func (ctl *Controller) handleGetRoomInfo(sid core.SessionID, c core.SignalConnection, data []byte) {
	type infoPayload struct {
		Type   string `json:"type"`
		RoomID string `json:"roomId,omitempty"`
	}
	var p infoPayload
	_ = json.Unmarshal(data, &p)

	roomID := domain.RoomID(p.RoomID)
	if roomID == "" {
		current, _, ok := ctl.Registry.RoomOf(sid)
		if !ok {
			ctl.sendError(c, "not in a room", false)
			return
		}
		roomID = current
	}
	snap, err := ctl.Rooms.GetRoomInfo(roomID)
	if err != nil {
		ctl.sendError(c, "room not found: "+string(roomID), false)
		return
	}
	ctl.sendJSON(c, roomJoinedEvent{Type: "room-info", Room: snap})
}

func (ctl *Controller) handleChat(sid core.SessionID, c core.SignalConnection, data []byte) {
	type chatPayload struct {
		Type string `json:"type"`
		Body string `json:"body"`
	}
	var p chatPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Body == "" {
		ctl.sendError(c, "bad_payload", false)
		return
	}

	roomID, sess, ok := ctl.Registry.RoomOf(sid)
	if !ok {
		ctl.sendError(c, "not in a room", false)
		return
	}
	meta := sess.Meta()
	if !meta.Capabilities.Has(domain.CapChat) {
		ctl.sendError(c, "role cannot chat", false)
		return
	}
	entry := domain.HistoryEntry{
		UserID:    meta.UserID,
		Kind:      "chat",
		Body:      p.Body,
		Timestamp: time.Now(),
	}
	if err := ctl.Rooms.AppendHistory(roomID, entry); err != nil {
		ctl.sendError(c, err.Error(), false)
		return
	}
	ctl.BroadcastRoom(roomID, struct {
		Type   string              `json:"type"`
		RoomID domain.RoomID       `json:"roomId"`
		Entry  domain.HistoryEntry `json:"entry"`
	}{Type: "chat-message", RoomID: roomID, Entry: entry})
}

func (ctl *Controller) handlePing(c core.SignalConnection) {
	ctl.sendJSON(c, struct {
		Type string `json:"type"`
	}{Type: "pong"})
}

func (ctl *Controller) handleWhoAmI(sid core.SessionID, c core.SignalConnection) {
	sess, ok := ctl.Registry.GetSession(sid)
	if !ok {
		ctl.sendError(c, "no session", false)
		return
	}
	meta := sess.Meta()
	resp := struct {
		Type        string        `json:"type"`
		UserID      domain.UserID `json:"userId"`
		DisplayName string        `json:"displayName"`
		Role        domain.Role   `json:"role"`
		RoomID      domain.RoomID `json:"roomId,omitempty"`
	}{
		Type:        "whoami",
		UserID:      meta.UserID,
		DisplayName: meta.DisplayName,
		Role:        meta.Role,
	}
	if roomID, _, ok := ctl.Registry.RoomOf(sid); ok {
		resp.RoomID = roomID
	}
	ctl.sendJSON(c, resp)
}
