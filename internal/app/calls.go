package app

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/teleconsult/arcsignal/internal/domain"
)

// CallCoordinator tracks active calls layered on top of rooms. Calls are
// indexed globally by id and attached to their room's active-call list.
type CallCoordinator struct {
	mu    sync.RWMutex
	calls map[domain.CallID]*domain.Call
	rooms *RoomRegistry
	now   func() time.Time
}

func NewCallCoordinator(rooms *RoomRegistry) *CallCoordinator {
	return &CallCoordinator{
		calls: make(map[domain.CallID]*domain.Call),
		rooms: rooms,
		now:   time.Now,
	}
}

// StartCall creates a call in connecting state between two current
// members of the room.
func (c *CallCoordinator) StartCall(roomID domain.RoomID, initiatorID, targetID domain.UserID, callType, priority string) (*domain.Call, error) {
	if _, ok := c.rooms.Participant(roomID, initiatorID); !ok {
		return nil, domain.ErrRoomNotFound
	}
	if _, ok := c.rooms.Participant(roomID, targetID); !ok {
		return nil, domain.ErrTargetUnavailable
	}

	now := c.now()
	call := &domain.Call{
		ID:           domain.CallID(uuid.NewString()),
		RoomID:       roomID,
		Participants: []domain.UserID{initiatorID, targetID},
		InitiatorID:  initiatorID,
		Type:         callType,
		Priority:     priority,
		Status:       domain.CallConnecting,
		StartedAt:    now,
		Events: []domain.CallEvent{{
			Kind:      "call_started",
			UserID:    initiatorID,
			Status:    domain.CallConnecting,
			Timestamp: now,
		}},
	}

	c.mu.Lock()
	c.calls[call.ID] = call
	c.mu.Unlock()
	c.rooms.attachCall(roomID, call.ID)

	log.Info().Str("module", "app.calls").Str("call", string(call.ID)).Str("room", string(roomID)).Str("initiator", string(initiatorID)).Msg("call started")
	return call, nil
}

// SetStatus moves a connecting call to active. Only a participant may
// drive the transition. The machine is linear; any other transition is
// rejected.
func (c *CallCoordinator) SetStatus(callID domain.CallID, userID domain.UserID, status domain.CallStatus) (*domain.Call, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok := c.calls[callID]
	if !ok {
		return nil, domain.ErrCallNotFound
	}
	if !call.HasParticipant(userID) {
		return nil, domain.ErrUnauthorized
	}
	if call.Status != domain.CallConnecting || status != domain.CallActive {
		return nil, domain.ErrValidation
	}
	call.Status = status
	call.Events = append(call.Events, domain.CallEvent{
		Kind:      "status_change",
		UserID:    userID,
		Status:    status,
		Timestamp: c.now(),
	})
	return call, nil
}

// EndCall transitions a call to ended and computes its duration. Only a
// participant may end a call. Ending a call that no longer exists
// reports ErrCallNotFound, which callers treat as benign: leave and
// disconnect paths race with explicit end requests.
func (c *CallCoordinator) EndCall(callID domain.CallID, userID domain.UserID) (*domain.Call, error) {
	c.mu.Lock()
	call, ok := c.calls[callID]
	if !ok {
		c.mu.Unlock()
		return nil, domain.ErrCallNotFound
	}
	if !call.HasParticipant(userID) {
		c.mu.Unlock()
		return nil, domain.ErrUnauthorized
	}
	delete(c.calls, callID)
	now := c.now()
	call.Status = domain.CallEnded
	call.EndedAt = now
	call.Duration = now.Sub(call.StartedAt)
	call.Events = append(call.Events, domain.CallEvent{
		Kind:      "call_ended",
		UserID:    userID,
		Status:    domain.CallEnded,
		Timestamp: now,
	})
	c.mu.Unlock()

	c.rooms.detachCall(call.RoomID, callID)
	log.Info().Str("module", "app.calls").Str("call", string(callID)).Dur("duration", call.Duration).Msg("call ended")
	return call, nil
}

func (c *CallCoordinator) Get(callID domain.CallID) (*domain.Call, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	call, ok := c.calls[callID]
	return call, ok
}

// EndCallsFor ends every active call the user takes part in within the
// room. Used by the leave/disconnect cascade.
func (c *CallCoordinator) EndCallsFor(roomID domain.RoomID, userID domain.UserID) []*domain.Call {
	c.mu.RLock()
	var ids []domain.CallID
	for id, call := range c.calls {
		if call.RoomID != roomID {
			continue
		}
		for _, pid := range call.Participants {
			if pid == userID {
				ids = append(ids, id)
				break
			}
		}
	}
	c.mu.RUnlock()

	ended := make([]*domain.Call, 0, len(ids))
	for _, id := range ids {
		if call, err := c.EndCall(id, userID); err == nil {
			ended = append(ended, call)
		}
	}
	return ended
}

// EndCallsInRoom ends every call attached to the room, whoever the
// participants are. Used when the room itself is destroyed.
func (c *CallCoordinator) EndCallsInRoom(roomID domain.RoomID) []*domain.Call {
	c.mu.RLock()
	var stale []*domain.Call
	for _, call := range c.calls {
		if call.RoomID == roomID {
			stale = append(stale, call)
		}
	}
	c.mu.RUnlock()

	ended := make([]*domain.Call, 0, len(stale))
	for _, call := range stale {
		if done, err := c.EndCall(call.ID, call.InitiatorID); err == nil {
			ended = append(ended, done)
		}
	}
	return ended
}

func (c *CallCoordinator) ActiveCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.calls)
}
