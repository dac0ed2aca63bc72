// Package domain contains entities without logic, just meta-data.
package domain

import (
	"errors"
	"time"
)

const MaxDisplayNameLen = 64

var (
	ErrDisplayNameEmpty   = errors.New("display name empty")
	ErrDisplayNameTooLong = errors.New("display name too long")
)

type UserID string

// Role is the clinical role an identity carries into a room.
type Role string

const (
	RoleSurgeon      Role = "surgeon"
	RoleDoctor       Role = "doctor"
	RoleNurse        Role = "nurse"
	RoleMedicalStaff Role = "medical-staff"
	RoleStudent      Role = "student"
	RoleObserver     Role = "observer"
)

// Capability is a bitmap representing a set of granted actions.
type Capability uint64

const (
	CapChat Capability = 1 << iota
	CapView
	CapInitiateCall
	CapAnnotate
	CapManageRoom
	CapAIFull
	CapAIConsult
)

func (c Capability) Has(flag Capability) bool {
	return c&flag == flag
}

// CapabilitiesFor maps a role onto its capability set. Unknown roles are
// treated as observers.
func CapabilitiesFor(role Role) Capability {
	switch role {
	case RoleSurgeon, RoleDoctor:
		return CapChat | CapView | CapInitiateCall | CapAnnotate | CapManageRoom | CapAIFull | CapAIConsult
	case RoleNurse, RoleMedicalStaff:
		return CapChat | CapView | CapInitiateCall | CapAnnotate | CapAIConsult
	case RoleStudent:
		return CapChat | CapView
	default:
		return CapView
	}
}

// Participant is a user's membership record inside one room.
// Owned exclusively by its Room.
type Participant struct {
	UserID       UserID     `json:"userId"`
	DisplayName  string     `json:"displayName"`
	Role         Role       `json:"role"`
	Capabilities Capability `json:"-"`
	JoinedAt     time.Time  `json:"joinedAt"`
	LastSeen     time.Time  `json:"lastSeen"`
	Online       bool       `json:"online"`
}

func NewParticipant(userID UserID, displayName string, role Role) (*Participant, error) {
	if displayName == "" {
		return nil, ErrDisplayNameEmpty
	}
	if len(displayName) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	now := time.Now()
	return &Participant{
		UserID:       userID,
		DisplayName:  displayName,
		Role:         role,
		Capabilities: CapabilitiesFor(role),
		JoinedAt:     now,
		LastSeen:     now,
		Online:       true,
	}, nil
}

func (p *Participant) Touch() {
	p.LastSeen = time.Now()
	p.Online = true
}
