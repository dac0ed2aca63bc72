package app

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/teleconsult/arcsignal/internal/core"
	"github.com/teleconsult/arcsignal/internal/domain"
)

const (
	DefaultMaxAnnotations   = 500
	DefaultSessionRetention = 30 * time.Minute
)

// AnnotationInput is the wire payload for ar-annotation-add.
type AnnotationInput struct {
	Type            domain.AnnotationType `json:"type" validate:"required,oneof=free-draw arrow circle rectangle text anchor"`
	Data            domain.AnnotationData `json:"data"`
	Precision       string                `json:"precisionLevel,omitempty" validate:"max=32"`
	ClinicalContext string                `json:"clinicalContext,omitempty" validate:"max=256"`
}

type annotationSession struct {
	ID           domain.SessionID
	RoomID       domain.RoomID
	CreatorID    domain.UserID
	CreatedAt    time.Time
	Config       domain.SessionConfig
	conns        map[core.SessionID]core.SignalConnection
	entries      []*domain.Annotation
	total        int
	lastActivity time.Time
}

// SessionSnapshot is a read-only projection of one annotation session.
type SessionSnapshot struct {
	ID           domain.SessionID     `json:"sessionId"`
	RoomID       domain.RoomID        `json:"roomId"`
	CreatedBy    domain.UserID        `json:"createdBy"`
	CreatedAt    time.Time            `json:"createdAt"`
	Config       domain.SessionConfig `json:"config"`
	Participants int                  `json:"participants"`
	Total        int                  `json:"totalAnnotations"`
}

// AnnotationBroadcaster owns per-room annotation sessions: it validates
// and stores events, replays history to late joiners, and fans live
// events out to every connected participant except the author.
//
// One mutex is the single append point: an annotation is appended and
// enqueued to every subscriber before the next one is accepted, which is
// what gives the per-room FIFO and history-then-live guarantees.
type AnnotationBroadcaster struct {
	mu       sync.Mutex
	sessions map[domain.RoomID]*annotationSession
	validate *validator.Validate
	defaults domain.SessionConfig
	now      func() time.Time
}

func NewAnnotationBroadcaster(defaults domain.SessionConfig) *AnnotationBroadcaster {
	if defaults.MaxAnnotations <= 0 {
		defaults.MaxAnnotations = DefaultMaxAnnotations
	}
	if defaults.Retention <= 0 {
		defaults.Retention = DefaultSessionRetention
	}
	return &AnnotationBroadcaster{
		sessions: make(map[domain.RoomID]*annotationSession),
		validate: validator.New(),
		defaults: defaults,
		now:      time.Now,
	}
}

// CreateSession starts the room's annotation session. Creating over an
// active session resets it and returns the fresh one.
func (b *AnnotationBroadcaster) CreateSession(roomID domain.RoomID, creatorID domain.UserID, cfg domain.SessionConfig) *SessionSnapshot {
	if cfg.MaxAnnotations <= 0 {
		cfg.MaxAnnotations = b.defaults.MaxAnnotations
	}
	if cfg.Retention <= 0 {
		cfg.Retention = b.defaults.Retention
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	conns := make(map[core.SessionID]core.SignalConnection)
	if prev, ok := b.sessions[roomID]; ok {
		// Keep already-attached connections across the reset.
		conns = prev.conns
		log.Warn().Str("module", "app.annotations").Str("room", string(roomID)).Msg("active session reset by recreate")
	}
	s := &annotationSession{
		ID:           domain.SessionID(uuid.NewString()),
		RoomID:       roomID,
		CreatorID:    creatorID,
		CreatedAt:    b.now(),
		Config:       cfg,
		conns:        conns,
		lastActivity: b.now(),
	}
	b.sessions[roomID] = s
	log.Info().Str("module", "app.annotations").Str("room", string(roomID)).Str("session", string(s.ID)).Msg("annotation session created")
	return snapshotSession(s)
}

// AddParticipant registers the connection in the fan-out set and replays
// the full ordered history to it alone. Reports false when the room has
// no session.
func (b *AnnotationBroadcaster) AddParticipant(roomID domain.RoomID, connID core.SessionID, conn core.SignalConnection) (*SessionSnapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[roomID]
	if !ok {
		return nil, false
	}
	s.conns[connID] = conn
	history := make([]*domain.Annotation, len(s.entries))
	copy(history, s.entries)
	sendEvent(conn, arHistoryEvent{
		Type:        "ar-annotation-history",
		SessionID:   s.ID,
		Annotations: history,
	})
	return snapshotSession(s), true
}

// AddAnnotation validates, stores and broadcasts one annotation. The
// author only gets the returned confirmation, never the broadcast.
func (b *AnnotationBroadcaster) AddAnnotation(roomID domain.RoomID, connID core.SessionID, authorID domain.UserID, in AnnotationInput) (*domain.Annotation, error) {
	if err := b.validate.Struct(in); err != nil {
		return nil, domain.ErrValidation
	}
	if err := validateShape(in.Type, in.Data); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[roomID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	ann := &domain.Annotation{
		ID:              domain.AnnotationID(uuid.NewString()),
		SessionID:       s.ID,
		AuthorConn:      string(connID),
		AuthorID:        authorID,
		Timestamp:       b.now(),
		Type:            in.Type,
		Data:            in.Data,
		Precision:       in.Precision,
		ClinicalContext: in.ClinicalContext,
	}
	s.entries = append(s.entries, ann)
	if len(s.entries) > s.Config.MaxAnnotations {
		s.entries = s.entries[len(s.entries)-s.Config.MaxAnnotations:]
	}
	s.total++
	s.lastActivity = b.now()

	ev := arAnnotationEvent{Type: "ar-annotation", Annotation: ann}
	for cid, conn := range s.conns {
		if cid == connID {
			continue
		}
		sendEvent(conn, ev)
	}
	return ann, nil
}

// ClearAnnotations truncates the log (scope "all") or drops entries by
// the calling connection (scope "own"). The clear event goes to every
// participant, the clearer included.
func (b *AnnotationBroadcaster) ClearAnnotations(roomID domain.RoomID, connID core.SessionID, clearedBy domain.UserID, scope string) (int, error) {
	if scope != "all" && scope != "own" {
		return 0, domain.ErrValidation
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[roomID]
	if !ok {
		return 0, domain.ErrSessionNotFound
	}

	var cleared int
	if scope == "all" {
		cleared = len(s.entries)
		s.entries = nil
	} else {
		kept := s.entries[:0]
		for _, ann := range s.entries {
			if ann.AuthorConn == string(connID) {
				cleared++
				continue
			}
			kept = append(kept, ann)
		}
		s.entries = kept
	}
	s.lastActivity = b.now()

	ev := arClearedEvent{
		Type:         "ar-annotations-cleared",
		SessionID:    s.ID,
		ClearedBy:    clearedBy,
		ClearType:    scope,
		ClearedCount: cleared,
	}
	for _, conn := range s.conns {
		sendEvent(conn, ev)
	}
	log.Info().Str("module", "app.annotations").Str("room", string(roomID)).Str("scope", scope).Int("cleared", cleared).Msg("annotations cleared")
	return cleared, nil
}

// RemoveParticipant drops a connection from the fan-out set and ends the
// session when the set empties. Reports whether the session ended.
func (b *AnnotationBroadcaster) RemoveParticipant(roomID domain.RoomID, connID core.SessionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[roomID]
	if !ok {
		return false
	}
	delete(s.conns, connID)
	if len(s.conns) > 0 {
		return false
	}
	delete(b.sessions, roomID)
	log.Info().Str("module", "app.annotations").Str("room", string(roomID)).Str("session", string(s.ID)).Int("total", s.total).Msg("annotation session ended")
	return true
}

// DropRoom ends the room's annotation session outright, connected
// participants included. Used when the room itself is destroyed.
func (b *AnnotationBroadcaster) DropRoom(roomID domain.RoomID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[roomID]
	if !ok {
		return false
	}
	delete(b.sessions, roomID)
	log.Info().Str("module", "app.annotations").Str("room", string(roomID)).Str("session", string(s.ID)).Int("total", s.total).Msg("annotation session dropped with room")
	return true
}

func (b *AnnotationBroadcaster) Session(roomID domain.RoomID) (*SessionSnapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[roomID]
	if !ok {
		return nil, false
	}
	return snapshotSession(s), true
}

func (b *AnnotationBroadcaster) ActiveSessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// SweepIdle ends sessions with no connected participants whose last
// activity is older than the retention window.
func (b *AnnotationBroadcaster) SweepIdle(now time.Time) []domain.SessionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	var ended []domain.SessionID
	for roomID, s := range b.sessions {
		if len(s.conns) == 0 && now.Sub(s.lastActivity) > s.Config.Retention {
			delete(b.sessions, roomID)
			ended = append(ended, s.ID)
			log.Info().Str("module", "app.annotations").Str("room", string(roomID)).Msg("idle annotation session swept")
		}
	}
	return ended
}

// validateShape enforces the type-specific payload requirements that
// struct tags cannot express.
func validateShape(typ domain.AnnotationType, d domain.AnnotationData) error {
	switch typ {
	case domain.AnnotationFreeDraw:
		if len(d.Points) < 2 {
			return domain.ErrValidation
		}
	case domain.AnnotationArrow:
		if d.From == nil || d.To == nil {
			return domain.ErrValidation
		}
	case domain.AnnotationCircle:
		if d.Center == nil || d.Radius <= 0 {
			return domain.ErrValidation
		}
	case domain.AnnotationRectangle:
		if d.Position == nil || d.Width <= 0 || d.Height <= 0 {
			return domain.ErrValidation
		}
	case domain.AnnotationText:
		if d.Text == "" || d.Position == nil {
			return domain.ErrValidation
		}
	case domain.AnnotationAnchor:
		if d.Position == nil {
			return domain.ErrValidation
		}
	default:
		return domain.ErrValidation
	}
	return nil
}

type arAnnotationEvent struct {
	Type       string             `json:"type"`
	Annotation *domain.Annotation `json:"annotation"`
}

type arHistoryEvent struct {
	Type        string               `json:"type"`
	SessionID   domain.SessionID     `json:"sessionId"`
	Annotations []*domain.Annotation `json:"annotations"`
}

type arClearedEvent struct {
	Type         string           `json:"type"`
	SessionID    domain.SessionID `json:"sessionId"`
	ClearedBy    domain.UserID    `json:"clearedBy"`
	ClearType    string           `json:"clearType"`
	ClearedCount int              `json:"clearedCount"`
}

// sendEvent encodes and enqueues one event; a full or dead connection is
// skipped, never waited on.
func sendEvent(conn core.SignalConnection, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.annotations").Msg("event marshal")
		return
	}
	_ = conn.TrySend(b)
}

func snapshotSession(s *annotationSession) *SessionSnapshot {
	return &SessionSnapshot{
		ID:           s.ID,
		RoomID:       s.RoomID,
		CreatedBy:    s.CreatorID,
		CreatedAt:    s.CreatedAt,
		Config:       s.Config,
		Participants: len(s.conns),
		Total:        s.total,
	}
}
