package domain

import "time"

type CallID string

type CallStatus string

// Call state machine is linear: connecting -> active -> ended.
const (
	CallConnecting CallStatus = "connecting"
	CallActive     CallStatus = "active"
	CallEnded      CallStatus = "ended"
)

type CallEvent struct {
	Kind      string     `json:"kind"` // call_started | status_change | call_ended
	UserID    UserID     `json:"userId"`
	Status    CallStatus `json:"status,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

type Call struct {
	ID           CallID        `json:"id"`
	RoomID       RoomID        `json:"roomId"`
	Participants []UserID      `json:"participants"`
	InitiatorID  UserID        `json:"initiatorId"`
	Type         string        `json:"type"`
	Priority     string        `json:"priority"`
	Status       CallStatus    `json:"status"`
	StartedAt    time.Time     `json:"startedAt"`
	EndedAt      time.Time     `json:"endedAt,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	Events       []CallEvent   `json:"events,omitempty"`
}

func (c *Call) HasParticipant(userID UserID) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}
