package app

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teleconsult/arcsignal/internal/core"
	"github.com/teleconsult/arcsignal/internal/domain"
)

// fakeConn records every frame enqueued to it, in order.
type fakeConn struct {
	frames []core.Frame
	closed bool
}

func (f *fakeConn) TrySend(fr core.Frame) error {
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeConn) Close() { f.closed = true }

// events decodes the recorded frames into their type-tagged envelopes.
func (f *fakeConn) events(t *testing.T) []map[string]json.RawMessage {
	t.Helper()
	out := make([]map[string]json.RawMessage, 0, len(f.frames))
	for _, fr := range f.frames {
		var m map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(fr, &m))
		out = append(out, m)
	}
	return out
}

func eventType(t *testing.T, ev map[string]json.RawMessage) string {
	t.Helper()
	var typ string
	require.NoError(t, json.Unmarshal(ev["type"], &typ))
	return typ
}

func freeDraw(points ...domain.Point) AnnotationInput {
	return AnnotationInput{
		Type: domain.AnnotationFreeDraw,
		Data: domain.AnnotationData{Points: points, Color: "#ff0000", Thickness: 2},
	}
}

func TestCreateSessionAndAdd(t *testing.T) {
	b := NewAnnotationBroadcaster(domain.SessionConfig{})
	snap := b.CreateSession("r1", "alice", domain.SessionConfig{})
	assert.Equal(t, domain.RoomID("r1"), snap.RoomID)
	assert.Equal(t, domain.UserID("alice"), snap.CreatedBy)
	assert.Equal(t, DefaultMaxAnnotations, snap.Config.MaxAnnotations)

	author := &fakeConn{}
	_, ok := b.AddParticipant("r1", "c1", author)
	require.True(t, ok)

	ann, err := b.AddAnnotation("r1", "c1", "alice", freeDraw(domain.Point{X: 0.1, Y: 0.1}, domain.Point{X: 0.2, Y: 0.2}))
	require.NoError(t, err)
	assert.Equal(t, snap.ID, ann.SessionID)
	assert.Equal(t, domain.UserID("alice"), ann.AuthorID)
}

func TestAuthorDoesNotReceiveOwnBroadcast(t *testing.T) {
	b := NewAnnotationBroadcaster(domain.SessionConfig{})
	b.CreateSession("r1", "alice", domain.SessionConfig{})

	author, viewer := &fakeConn{}, &fakeConn{}
	b.AddParticipant("r1", "c-author", author)
	b.AddParticipant("r1", "c-viewer", viewer)

	_, err := b.AddAnnotation("r1", "c-author", "alice", freeDraw(domain.Point{}, domain.Point{X: 1, Y: 1}))
	require.NoError(t, err)

	// Author saw only the history replay from AddParticipant.
	require.Len(t, author.frames, 1)
	assert.Equal(t, "ar-annotation-history", eventType(t, author.events(t)[0]))

	viewerEvents := viewer.events(t)
	require.Len(t, viewerEvents, 2)
	assert.Equal(t, "ar-annotation", eventType(t, viewerEvents[1]))
}

func TestHistoryThenLiveOrdering(t *testing.T) {
	b := NewAnnotationBroadcaster(domain.SessionConfig{})
	b.CreateSession("r1", "alice", domain.SessionConfig{})

	author := &fakeConn{}
	b.AddParticipant("r1", "c-author", author)

	var want []domain.AnnotationID
	for i := 0; i < 3; i++ {
		ann, err := b.AddAnnotation("r1", "c-author", "alice",
			freeDraw(domain.Point{X: float64(i)}, domain.Point{X: float64(i) + 0.1}))
		require.NoError(t, err)
		want = append(want, ann.ID)
	}

	// A late joiner replays the full ordered history before anything live.
	late := &fakeConn{}
	_, ok := b.AddParticipant("r1", "c-late", late)
	require.True(t, ok)

	ann4, err := b.AddAnnotation("r1", "c-author", "alice", freeDraw(domain.Point{X: 0.9}, domain.Point{X: 1}))
	require.NoError(t, err)
	want = append(want, ann4.ID)

	events := late.events(t)
	require.Len(t, events, 2)
	require.Equal(t, "ar-annotation-history", eventType(t, events[0]))

	var history struct {
		Annotations []*domain.Annotation `json:"annotations"`
	}
	require.NoError(t, json.Unmarshal(late.frames[0], &history))
	require.Len(t, history.Annotations, 3)
	for i, ann := range history.Annotations {
		assert.Equal(t, want[i], ann.ID, "history preserves insertion order")
	}

	require.Equal(t, "ar-annotation", eventType(t, events[1]))
	var live struct {
		Annotation *domain.Annotation `json:"annotation"`
	}
	require.NoError(t, json.Unmarshal(late.frames[1], &live))
	assert.Equal(t, ann4.ID, live.Annotation.ID)
}

func TestAnnotationValidation(t *testing.T) {
	b := NewAnnotationBroadcaster(domain.SessionConfig{})
	b.CreateSession("r1", "alice", domain.SessionConfig{})
	b.AddParticipant("r1", "c1", &fakeConn{})

	cases := []struct {
		name string
		in   AnnotationInput
	}{
		{"unknown type", AnnotationInput{Type: "scribble"}},
		{"free-draw single point", freeDraw(domain.Point{X: 0.5, Y: 0.5})},
		{"arrow missing endpoints", AnnotationInput{Type: domain.AnnotationArrow}},
		{"circle zero radius", AnnotationInput{Type: domain.AnnotationCircle, Data: domain.AnnotationData{Center: &domain.Point{}}}},
		{"rectangle no size", AnnotationInput{Type: domain.AnnotationRectangle, Data: domain.AnnotationData{Position: &domain.Point{}}}},
		{"text without body", AnnotationInput{Type: domain.AnnotationText, Data: domain.AnnotationData{Position: &domain.Point{}}}},
		{"anchor without position", AnnotationInput{Type: domain.AnnotationAnchor}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := b.AddAnnotation("r1", "c1", "alice", tc.in)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	// Valid shapes for each remaining type.
	valid := []AnnotationInput{
		{Type: domain.AnnotationArrow, Data: domain.AnnotationData{From: &domain.Point{}, To: &domain.Point{X: 1}}},
		{Type: domain.AnnotationCircle, Data: domain.AnnotationData{Center: &domain.Point{X: 0.5}, Radius: 0.1}},
		{Type: domain.AnnotationRectangle, Data: domain.AnnotationData{Position: &domain.Point{}, Width: 0.2, Height: 0.1}},
		{Type: domain.AnnotationText, Data: domain.AnnotationData{Position: &domain.Point{}, Text: "lesion here"}},
		{Type: domain.AnnotationAnchor, Data: domain.AnnotationData{Position: &domain.Point{X: 0.3, Y: 0.7}}},
	}
	for _, in := range valid {
		_, err := b.AddAnnotation("r1", "c1", "alice", in)
		assert.NoError(t, err, "type %s", in.Type)
	}
}

func TestAddWithoutSession(t *testing.T) {
	b := NewAnnotationBroadcaster(domain.SessionConfig{})
	_, err := b.AddAnnotation("r1", "c1", "alice", freeDraw(domain.Point{}, domain.Point{X: 1}))
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, ok := b.AddParticipant("r1", "c1", &fakeConn{})
	assert.False(t, ok)
}

func TestAnnotationLogIsBounded(t *testing.T) {
	b := NewAnnotationBroadcaster(domain.SessionConfig{})
	b.CreateSession("r1", "alice", domain.SessionConfig{MaxAnnotations: 3})
	b.AddParticipant("r1", "c1", &fakeConn{})

	for i := 0; i < 5; i++ {
		_, err := b.AddAnnotation("r1", "c1", "alice", freeDraw(domain.Point{X: float64(i)}, domain.Point{X: float64(i) + 0.1}))
		require.NoError(t, err)
	}

	late := &fakeConn{}
	b.AddParticipant("r1", "c2", late)
	var history struct {
		Annotations []*domain.Annotation `json:"annotations"`
	}
	require.NoError(t, json.Unmarshal(late.frames[0], &history))
	assert.Len(t, history.Annotations, 3, "oldest entries are trimmed")

	snap, ok := b.Session("r1")
	require.True(t, ok)
	assert.Equal(t, 5, snap.Total, "total counts everything ever added")
}

func TestClearOwnScope(t *testing.T) {
	b := NewAnnotationBroadcaster(domain.SessionConfig{})
	b.CreateSession("r1", "alice", domain.SessionConfig{})

	c1, c2 := &fakeConn{}, &fakeConn{}
	b.AddParticipant("r1", "c1", c1)
	b.AddParticipant("r1", "c2", c2)

	for i := 0; i < 2; i++ {
		_, err := b.AddAnnotation("r1", "c1", "alice", freeDraw(domain.Point{X: float64(i)}, domain.Point{X: 1}))
		require.NoError(t, err)
	}
	_, err := b.AddAnnotation("r1", "c2", "bob", freeDraw(domain.Point{Y: 0.5}, domain.Point{Y: 1}))
	require.NoError(t, err)

	cleared, err := b.ClearAnnotations("r1", "c1", "alice", "own")
	require.NoError(t, err)
	assert.Equal(t, 2, cleared)

	// Everyone, the clearer included, gets the clear event.
	events := c1.events(t)
	assert.Equal(t, "ar-annotations-cleared", eventType(t, events[len(events)-1]))
	var cl struct {
		ClearType    string `json:"clearType"`
		ClearedCount int    `json:"clearedCount"`
	}
	require.NoError(t, json.Unmarshal(c1.frames[len(c1.frames)-1], &cl))
	assert.Equal(t, "own", cl.ClearType)
	assert.Equal(t, 2, cl.ClearedCount)

	// Bob's annotation survives and is still replayed.
	late := &fakeConn{}
	b.AddParticipant("r1", "c3", late)
	var history struct {
		Annotations []*domain.Annotation `json:"annotations"`
	}
	require.NoError(t, json.Unmarshal(late.frames[0], &history))
	require.Len(t, history.Annotations, 1)
	assert.Equal(t, domain.UserID("bob"), history.Annotations[0].AuthorID)
}

func TestClearAllAndBadScope(t *testing.T) {
	b := NewAnnotationBroadcaster(domain.SessionConfig{})
	b.CreateSession("r1", "alice", domain.SessionConfig{})
	b.AddParticipant("r1", "c1", &fakeConn{})
	_, err := b.AddAnnotation("r1", "c1", "alice", freeDraw(domain.Point{}, domain.Point{X: 1}))
	require.NoError(t, err)

	_, err = b.ClearAnnotations("r1", "c1", "alice", "everything")
	assert.ErrorIs(t, err, domain.ErrValidation)

	cleared, err := b.ClearAnnotations("r1", "c1", "alice", "all")
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)

	cleared, err = b.ClearAnnotations("r1", "c1", "alice", "all")
	require.NoError(t, err)
	assert.Equal(t, 0, cleared, "clearing an empty log is a no-op")
}

func TestSessionEndsWhenLastParticipantLeaves(t *testing.T) {
	b := NewAnnotationBroadcaster(domain.SessionConfig{})
	b.CreateSession("r1", "alice", domain.SessionConfig{})
	b.AddParticipant("r1", "c1", &fakeConn{})
	b.AddParticipant("r1", "c2", &fakeConn{})

	assert.False(t, b.RemoveParticipant("r1", "c1"))
	assert.True(t, b.RemoveParticipant("r1", "c2"), "last leave ends the session")
	assert.Equal(t, 0, b.ActiveSessions())

	_, ok := b.Session("r1")
	assert.False(t, ok)
}

func TestRecreateResetsSession(t *testing.T) {
	b := NewAnnotationBroadcaster(domain.SessionConfig{})
	first := b.CreateSession("r1", "alice", domain.SessionConfig{})

	viewer := &fakeConn{}
	b.AddParticipant("r1", "c1", viewer)
	_, err := b.AddAnnotation("r1", "c1", "alice", freeDraw(domain.Point{}, domain.Point{X: 1}))
	require.NoError(t, err)

	second := b.CreateSession("r1", "bob", domain.SessionConfig{})
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 0, second.Total, "recreate starts a fresh log")
	assert.Equal(t, 1, second.Participants, "attached connections survive the reset")
}

func TestSweepIdleSessions(t *testing.T) {
	b := NewAnnotationBroadcaster(domain.SessionConfig{Retention: 30 * time.Minute})
	base := time.Now()
	b.now = func() time.Time { return base }

	b.CreateSession("r1", "alice", domain.SessionConfig{})
	b.CreateSession("r2", "bob", domain.SessionConfig{})
	b.AddParticipant("r2", "c1", &fakeConn{})

	ended := b.SweepIdle(base.Add(time.Hour))
	require.Len(t, ended, 1, "sessions with live connections are never swept")
	assert.Equal(t, 1, b.ActiveSessions())
	_, ok := b.Session("r2")
	assert.True(t, ok)
}

func TestBoundedLogStressOrdering(t *testing.T) {
	b := NewAnnotationBroadcaster(domain.SessionConfig{})
	b.CreateSession("r1", "alice", domain.SessionConfig{})

	viewer := &fakeConn{}
	b.AddParticipant("r1", "c-author", &fakeConn{})
	b.AddParticipant("r1", "c-viewer", viewer)

	const n = 50
	for i := 0; i < n; i++ {
		_, err := b.AddAnnotation("r1", "c-author", "alice", AnnotationInput{
			Type: domain.AnnotationText,
			Data: domain.AnnotationData{Position: &domain.Point{}, Text: fmt.Sprintf("note %03d", i)},
		})
		require.NoError(t, err)
	}

	events := viewer.events(t)
	require.Len(t, events, n+1) // history replay plus n live events
	for i := 1; i <= n; i++ {
		var live struct {
			Annotation *domain.Annotation `json:"annotation"`
		}
		require.NoError(t, json.Unmarshal(viewer.frames[i], &live))
		assert.Equal(t, fmt.Sprintf("note %03d", i-1), live.Annotation.Data.Text, "delivery preserves publish order")
	}
}
