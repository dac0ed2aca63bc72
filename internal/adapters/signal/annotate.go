package signal

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/teleconsult/arcsignal/internal/app"
	"github.com/teleconsult/arcsignal/internal/core"
	"github.com/teleconsult/arcsignal/internal/domain"
)

func (ctl *Controller) handleSessionCreate(sid core.SessionID, c core.SignalConnection, data []byte) {
	type createPayload struct {
		Type           string `json:"type"`
		PrecisionLevel string `json:"precisionLevel,omitempty"`
		MaxAnnotations int    `json:"maxAnnotations,omitempty"`
		RetentionSec   int    `json:"retentionSec,omitempty"`
	}
	var p createPayload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendARError(c, "bad_payload", false)
		return
	}

	roomID, sess, ok := ctl.Registry.RoomOf(sid)
	if !ok {
		ctl.sendARError(c, "not in a room", false)
		return
	}
	meta := sess.Meta()
	if !meta.Capabilities.Has(domain.CapAnnotate) {
		ctl.sendARError(c, "role cannot annotate", false)
		return
	}

	snap := ctl.Annotations.CreateSession(roomID, meta.UserID, domain.SessionConfig{
		MaxAnnotations: p.MaxAnnotations,
		Retention:      time.Duration(p.RetentionSec) * time.Second,
		Precision:      p.PrecisionLevel,
	})

	// Everyone already in the room draws on the same surface: attach all
	// current connections so the session starts with a full fan-out set.
	for _, member := range ctl.Registry.MembersOfRoom(roomID) {
		if member.Session.Signal() == nil {
			continue
		}
		ctl.Annotations.AddParticipant(roomID, member.SID, member.Session.Signal())
	}

	type sessionEvent struct {
		Type      string               `json:"type"`
		SessionID domain.SessionID     `json:"sessionId"`
		CreatedBy domain.UserID        `json:"createdBy"`
		Config    domain.SessionConfig `json:"config"`
	}
	ctl.sendJSON(c, sessionEvent{Type: "ar-session-created", SessionID: snap.ID, CreatedBy: snap.CreatedBy, Config: snap.Config})
	ctl.BroadcastFrom(sid, roomID, sessionEvent{Type: "ar-session-available", SessionID: snap.ID, CreatedBy: snap.CreatedBy, Config: snap.Config})
}

func (ctl *Controller) handleAnnotationAdd(sid core.SessionID, c core.SignalConnection, data []byte) {
	type addPayload struct {
		Type string              `json:"type"`
		Data app.AnnotationInput `json:"data"`
	}
	var p addPayload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendARError(c, "bad_payload", false)
		return
	}

	roomID, sess, ok := ctl.Registry.RoomOf(sid)
	if !ok {
		ctl.sendARError(c, "not in a room", false)
		return
	}
	meta := sess.Meta()
	if !meta.Capabilities.Has(domain.CapAnnotate) {
		ctl.sendARError(c, "role cannot annotate", false)
		return
	}

	ann, err := ctl.Annotations.AddAnnotation(roomID, sid, meta.UserID, p.Data)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSessionNotFound):
			ctl.sendARError(c, "no active annotation session", true)
		case errors.Is(err, domain.ErrValidation):
			ctl.sendARError(c, "invalid annotation payload", false)
		default:
			ctl.sendARError(c, err.Error(), false)
		}
		return
	}

	// The author only ever sees this confirmation; the broadcaster
	// already fanned the annotation out to everyone else.
	ctl.sendJSON(c, struct {
		Type       string             `json:"type"`
		Annotation *domain.Annotation `json:"annotation"`
	}{Type: "ar-annotation-added", Annotation: ann})
}

func (ctl *Controller) handleAnnotationsClear(sid core.SessionID, c core.SignalConnection, data []byte) {
	type clearPayload struct {
		Type      string `json:"type"`
		ClearType string `json:"clearType"`
	}
	var p clearPayload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendARError(c, "bad_payload", false)
		return
	}
	if p.ClearType == "" {
		p.ClearType = "all"
	}

	roomID, sess, ok := ctl.Registry.RoomOf(sid)
	if !ok {
		ctl.sendARError(c, "not in a room", false)
		return
	}
	meta := sess.Meta()
	if !meta.Capabilities.Has(domain.CapAnnotate) {
		ctl.sendARError(c, "role cannot annotate", false)
		return
	}

	if _, err := ctl.Annotations.ClearAnnotations(roomID, sid, meta.UserID, p.ClearType); err != nil {
		switch {
		case errors.Is(err, domain.ErrSessionNotFound):
			ctl.sendARError(c, "no active annotation session", false)
		default:
			ctl.sendARError(c, "invalid clear type", false)
		}
	}
	// The broadcaster notifies every participant, the clearer included.
}
