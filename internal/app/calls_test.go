package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teleconsult/arcsignal/internal/domain"
)

func callFixture(t *testing.T) (*RoomRegistry, *CallCoordinator) {
	t.Helper()
	rooms := NewRoomRegistry(RoomRegistryConfig{})
	_, err := rooms.JoinRoom("r1", newParticipant(t, "alice", domain.RoleSurgeon), domain.RoomConfig{})
	require.NoError(t, err)
	_, err = rooms.JoinRoom("r1", newParticipant(t, "bob", domain.RoleDoctor), domain.RoomConfig{})
	require.NoError(t, err)
	return rooms, NewCallCoordinator(rooms)
}

func TestCallLifecycle(t *testing.T) {
	rooms, calls := callFixture(t)
	base := time.Now()
	calls.now = func() time.Time { return base }

	call, err := calls.StartCall("r1", "alice", "bob", "video", "urgent")
	require.NoError(t, err)
	assert.Equal(t, domain.CallConnecting, call.Status)
	assert.Equal(t, domain.UserID("alice"), call.InitiatorID)
	assert.Equal(t, []domain.UserID{"alice", "bob"}, call.Participants)

	snap, err := rooms.GetRoomInfo("r1")
	require.NoError(t, err)
	assert.Equal(t, []domain.CallID{call.ID}, snap.ActiveCalls)

	_, err = calls.SetStatus(call.ID, "bob", domain.CallActive)
	require.NoError(t, err)

	calls.now = func() time.Time { return base.Add(90 * time.Second) }
	ended, err := calls.EndCall(call.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.CallEnded, ended.Status)
	assert.Equal(t, 90*time.Second, ended.Duration)

	snap, err = rooms.GetRoomInfo("r1")
	require.NoError(t, err)
	assert.Empty(t, snap.ActiveCalls)

	// Event log records the whole transition chain.
	require.Len(t, ended.Events, 3)
	assert.Equal(t, "call_started", ended.Events[0].Kind)
	assert.Equal(t, "status_change", ended.Events[1].Kind)
	assert.Equal(t, "call_ended", ended.Events[2].Kind)
}

func TestStartCallValidatesMembership(t *testing.T) {
	_, calls := callFixture(t)

	_, err := calls.StartCall("r1", "stranger", "bob", "video", "normal")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	_, err = calls.StartCall("r1", "alice", "ghost", "video", "normal")
	assert.ErrorIs(t, err, domain.ErrTargetUnavailable)

	assert.Equal(t, 0, calls.ActiveCount())
}

func TestSetStatusIsLinear(t *testing.T) {
	_, calls := callFixture(t)
	call, err := calls.StartCall("r1", "alice", "bob", "audio", "normal")
	require.NoError(t, err)

	_, err = calls.SetStatus(call.ID, "bob", domain.CallEnded)
	assert.ErrorIs(t, err, domain.ErrValidation, "connecting can only move to active")

	_, err = calls.SetStatus(call.ID, "bob", domain.CallActive)
	require.NoError(t, err)

	_, err = calls.SetStatus(call.ID, "bob", domain.CallActive)
	assert.ErrorIs(t, err, domain.ErrValidation, "active is terminal for SetStatus")

	_, err = calls.SetStatus("missing", "bob", domain.CallActive)
	assert.ErrorIs(t, err, domain.ErrCallNotFound)
}

func TestEndCallIsIdempotent(t *testing.T) {
	_, calls := callFixture(t)
	call, err := calls.StartCall("r1", "alice", "bob", "video", "normal")
	require.NoError(t, err)

	_, err = calls.EndCall(call.ID, "alice")
	assert.NoError(t, err)
	_, err = calls.EndCall(call.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrCallNotFound, "second end must be a benign no-op")
}

func TestCallControlRequiresParticipation(t *testing.T) {
	rooms, calls := callFixture(t)
	_, err := rooms.JoinRoom("r1", newParticipant(t, "carol", domain.RoleNurse), domain.RoomConfig{})
	require.NoError(t, err)

	call, err := calls.StartCall("r1", "alice", "bob", "video", "normal")
	require.NoError(t, err)

	// Carol shares the room but not the call.
	_, err = calls.SetStatus(call.ID, "carol", domain.CallActive)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = calls.EndCall(call.ID, "carol")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	got, ok := calls.Get(call.ID)
	require.True(t, ok)
	assert.Equal(t, domain.CallConnecting, got.Status, "outsider attempts leave the call untouched")
}

func TestEndCallsInRoom(t *testing.T) {
	rooms, calls := callFixture(t)
	_, err := rooms.JoinRoom("r2", newParticipant(t, "carol", domain.RoleDoctor), domain.RoomConfig{})
	require.NoError(t, err)
	_, err = rooms.JoinRoom("r2", newParticipant(t, "dave", domain.RoleDoctor), domain.RoomConfig{})
	require.NoError(t, err)

	_, err = calls.StartCall("r1", "alice", "bob", "video", "normal")
	require.NoError(t, err)
	other, err := calls.StartCall("r2", "carol", "dave", "audio", "normal")
	require.NoError(t, err)

	ended := calls.EndCallsInRoom("r1")
	require.Len(t, ended, 1)
	assert.Equal(t, domain.CallEnded, ended[0].Status)

	_, ok := calls.Get(other.ID)
	assert.True(t, ok, "other rooms' calls are untouched")
}

func TestEndCallsForCascade(t *testing.T) {
	rooms, calls := callFixture(t)
	_, err := rooms.JoinRoom("r1", newParticipant(t, "carol", domain.RoleNurse), domain.RoomConfig{})
	require.NoError(t, err)

	c1, err := calls.StartCall("r1", "alice", "bob", "video", "normal")
	require.NoError(t, err)
	_, err = calls.StartCall("r1", "alice", "carol", "audio", "normal")
	require.NoError(t, err)
	c3, err := calls.StartCall("r1", "bob", "carol", "audio", "normal")
	require.NoError(t, err)

	ended := calls.EndCallsFor("r1", "alice")
	assert.Len(t, ended, 2, "only alice's calls end")
	assert.Equal(t, 1, calls.ActiveCount())

	_, ok := calls.Get(c1.ID)
	assert.False(t, ok)
	_, ok = calls.Get(c3.ID)
	assert.True(t, ok, "bob-carol call survives alice's departure")
}
