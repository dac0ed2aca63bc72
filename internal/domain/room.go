package domain

import "time"

type (
	RoomID   string
	RoomType string
)

const (
	RoomConsultation   RoomType = "consultation"
	RoomARConsultation RoomType = "ar-consultation"
	RoomOther          RoomType = "other"
)

type RoomStatus string

const (
	RoomActive  RoomStatus = "active"
	RoomEmpty   RoomStatus = "empty"
	RoomExpired RoomStatus = "expired"
)

// HistoryEntry is one bounded chat / file-share record kept on the room.
type HistoryEntry struct {
	UserID    UserID    `json:"userId"`
	Kind      string    `json:"kind"` // chat | file | system
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

type Room struct {
	ID           RoomID
	Type         RoomType
	CreatorID    UserID
	CreatedAt    time.Time
	ExpiresAt    time.Time
	Capacity     int
	Private      bool
	Participants map[UserID]*Participant
	ActiveCalls  []CallID
	History      []HistoryEntry
	Status       RoomStatus
	EmptySince   time.Time
}

// RoomConfig drives room creation. An explicit ID gives create-or-join
// semantics for ad-hoc joins.
type RoomConfig struct {
	ID       RoomID
	Type     RoomType
	Capacity int
	Private  bool
	TTL      time.Duration
}

// RoomSnapshot is a read-only projection safe to hand to transports.
type RoomSnapshot struct {
	ID           RoomID         `json:"id"`
	Type         RoomType       `json:"type"`
	CreatorID    UserID         `json:"creatorId"`
	CreatedAt    time.Time      `json:"createdAt"`
	ExpiresAt    time.Time      `json:"expiresAt"`
	Capacity     int            `json:"capacity"`
	Private      bool           `json:"private"`
	Status       RoomStatus     `json:"status"`
	Participants []*Participant `json:"participants"`
	ActiveCalls  []CallID       `json:"activeCalls"`
	History      []HistoryEntry `json:"history,omitempty"`
}
