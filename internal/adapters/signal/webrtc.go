package signal

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/teleconsult/arcsignal/internal/core"
	"github.com/teleconsult/arcsignal/internal/domain"
)

// handleDescription relays offer/answer/renegotiate to the target user.
// The media itself flows peer-to-peer; this only forwards SDP. A missing
// target surfaces an error to the sender.
func (ctl *Controller) handleDescription(sid core.SessionID, c core.SignalConnection, msgType string, data []byte) {
	type sdpPayload struct {
		Type         string                    `json:"type"`
		TargetUserID domain.UserID             `json:"targetUserId"`
		SDP          webrtc.SessionDescription `json:"sdp"`
		CallID       domain.CallID             `json:"callId,omitempty"`
	}
	var p sdpPayload
	if err := json.Unmarshal(data, &p); err != nil || p.TargetUserID == "" || p.SDP.SDP == "" {
		ctl.sendError(c, "bad_payload", false)
		return
	}

	sess, ok := ctl.Registry.GetSession(sid)
	if !ok {
		ctl.sendError(c, "no session", false)
		return
	}

	_, target, ok := ctl.Registry.SessionOfUser(p.TargetUserID)
	if !ok || target.Signal() == nil {
		ctl.sendError(c, "target user not connected: "+string(p.TargetUserID), true)
		return
	}

	ctl.sendJSON(target.Signal(), struct {
		Type       string                    `json:"type"`
		FromUserID domain.UserID             `json:"fromUserId"`
		SDP        webrtc.SessionDescription `json:"sdp"`
		CallID     domain.CallID             `json:"callId,omitempty"`
	}{
		Type:       msgType,
		FromUserID: sess.Meta().UserID,
		SDP:        p.SDP,
		CallID:     p.CallID,
	})
}

// handleCandidate relays an ICE candidate best-effort. Candidates are
// inherently racy and non-critical individually: a disconnected target
// drops the candidate silently instead of erroring.
func (ctl *Controller) handleCandidate(sid core.SessionID, c core.SignalConnection, data []byte) {
	type candidatePayload struct {
		Type         string                  `json:"type"`
		TargetUserID domain.UserID           `json:"targetUserId"`
		Candidate    webrtc.ICECandidateInit `json:"candidate"`
		CallID       domain.CallID           `json:"callId,omitempty"`
	}
	var p candidatePayload
	if err := json.Unmarshal(data, &p); err != nil || p.TargetUserID == "" {
		ctl.sendError(c, "bad_payload", false)
		return
	}

	sess, ok := ctl.Registry.GetSession(sid)
	if !ok {
		return
	}
	_, target, ok := ctl.Registry.SessionOfUser(p.TargetUserID)
	if !ok || target.Signal() == nil {
		log.Debug().Str("module", "signal").Str("target", string(p.TargetUserID)).Msg("dropping candidate for disconnected target")
		return
	}

	ctl.sendJSON(target.Signal(), struct {
		Type       string                  `json:"type"`
		FromUserID domain.UserID           `json:"fromUserId"`
		Candidate  webrtc.ICECandidateInit `json:"candidate"`
		CallID     domain.CallID           `json:"callId,omitempty"`
	}{
		Type:       "ice-candidate",
		FromUserID: sess.Meta().UserID,
		Candidate:  p.Candidate,
		CallID:     p.CallID,
	})
}
