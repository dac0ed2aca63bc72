package app

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/teleconsult/arcsignal/internal/domain"
)

const (
	DefaultRoomCapacity = 10
	DefaultRoomTTL      = 24 * time.Hour
	DefaultEmptyGrace   = 10 * time.Minute
	defaultHistoryLimit = 100
)

// RoomRegistryConfig tunes room defaults; zero values fall back to the
// package defaults above.
type RoomRegistryConfig struct {
	Capacity     int
	TTL          time.Duration
	EmptyGrace   time.Duration
	HistoryLimit int
}

// RoomRegistry owns room and participant lifecycle. It holds pure state:
// connections are tracked by the Registry, delivery is the relay's job.
type RoomRegistry struct {
	mu     sync.RWMutex
	rooms  map[domain.RoomID]*domain.Room
	byUser map[domain.UserID]domain.RoomID

	cfg RoomRegistryConfig
	now func() time.Time
}

func NewRoomRegistry(cfg RoomRegistryConfig) *RoomRegistry {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultRoomCapacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultRoomTTL
	}
	if cfg.EmptyGrace <= 0 {
		cfg.EmptyGrace = DefaultEmptyGrace
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	return &RoomRegistry{
		rooms:  make(map[domain.RoomID]*domain.Room),
		byUser: make(map[domain.UserID]domain.RoomID),
		cfg:    cfg,
		now:    time.Now,
	}
}

// CreateRoom creates a room and joins the creator. An explicit id that
// already exists degrades to a plain join (ad-hoc create-or-join).
func (r *RoomRegistry) CreateRoom(creator *domain.Participant, cfg domain.RoomConfig) (*domain.RoomSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := cfg.ID
	if id == "" {
		id = domain.RoomID(uuid.NewString())
	}
	if room, ok := r.rooms[id]; ok {
		return r.joinLocked(room, creator)
	}
	room := r.newRoomLocked(id, creator.UserID, cfg)
	return r.joinLocked(room, creator)
}

// JoinRoom adds a participant, creating the room on demand. A join by a
// user who already has a live entry is a reconnection, not a duplicate.
func (r *RoomRegistry) JoinRoom(roomID domain.RoomID, p *domain.Participant, cfg domain.RoomConfig) (*domain.RoomSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		room = r.newRoomLocked(roomID, p.UserID, cfg)
	}
	return r.joinLocked(room, p)
}

func (r *RoomRegistry) newRoomLocked(id domain.RoomID, creator domain.UserID, cfg domain.RoomConfig) *domain.Room {
	if cfg.Type == "" {
		cfg.Type = domain.RoomConsultation
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = r.cfg.Capacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = r.cfg.TTL
	}
	now := r.now()
	room := &domain.Room{
		ID:           id,
		Type:         cfg.Type,
		CreatorID:    creator,
		CreatedAt:    now,
		ExpiresAt:    now.Add(cfg.TTL),
		Capacity:     cfg.Capacity,
		Private:      cfg.Private,
		Participants: make(map[domain.UserID]*domain.Participant),
		Status:       domain.RoomActive,
	}
	r.rooms[id] = room
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Str("type", string(cfg.Type)).Int("capacity", cfg.Capacity).Msg("room created")
	return room
}

func (r *RoomRegistry) joinLocked(room *domain.Room, p *domain.Participant) (*domain.RoomSnapshot, error) {
	if existing, ok := room.Participants[p.UserID]; ok {
		existing.Touch()
		r.byUser[p.UserID] = room.ID
		log.Info().Str("module", "app.rooms").Str("room", string(room.ID)).Str("user", string(p.UserID)).Msg("participant reconnected")
		return snapshotRoom(room, true), nil
	}
	if len(room.Participants) >= room.Capacity {
		return nil, domain.ErrRoomFull
	}
	// A participant belongs to at most one room; drop any stale entry.
	if prev, ok := r.byUser[p.UserID]; ok && prev != room.ID {
		if prevRoom, ok := r.rooms[prev]; ok {
			r.removeLocked(prevRoom, p.UserID)
		}
	}
	room.Participants[p.UserID] = p
	room.Status = domain.RoomActive
	room.EmptySince = time.Time{}
	r.byUser[p.UserID] = room.ID
	log.Info().Str("module", "app.rooms").Str("room", string(room.ID)).Str("user", string(p.UserID)).Str("role", string(p.Role)).Msg("participant joined")
	return snapshotRoom(room, true), nil
}

// LeaveRoom removes a participant. A second leave for the same user is a
// benign no-op and reports false.
func (r *RoomRegistry) LeaveRoom(roomID domain.RoomID, userID domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	return r.removeLocked(room, userID)
}

func (r *RoomRegistry) removeLocked(room *domain.Room, userID domain.UserID) bool {
	if _, ok := room.Participants[userID]; !ok {
		return false
	}
	delete(room.Participants, userID)
	if r.byUser[userID] == room.ID {
		delete(r.byUser, userID)
	}
	if len(room.Participants) == 0 {
		room.Status = domain.RoomEmpty
		room.EmptySince = r.now()
	}
	log.Info().Str("module", "app.rooms").Str("room", string(room.ID)).Str("user", string(userID)).Msg("participant left")
	return true
}

func (r *RoomRegistry) GetRoomInfo(roomID domain.RoomID) (*domain.RoomSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return snapshotRoom(room, true), nil
}

// Participant returns the live membership record for a user in a room.
func (r *RoomRegistry) Participant(roomID domain.RoomID, userID domain.UserID) (*domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return nil, false
	}
	p, ok := room.Participants[userID]
	return p, ok
}

func (r *RoomRegistry) RoomOfUser(userID domain.UserID) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byUser[userID]
	return id, ok
}

func (r *RoomRegistry) ActiveRooms() []*domain.RoomSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.RoomSnapshot, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, snapshotRoom(room, false))
	}
	return out
}

// AppendHistory records a bounded chat/file-share entry on the room.
func (r *RoomRegistry) AppendHistory(roomID domain.RoomID, entry domain.HistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	room.History = append(room.History, entry)
	if len(room.History) > r.cfg.HistoryLimit {
		room.History = room.History[len(room.History)-r.cfg.HistoryLimit:]
	}
	return nil
}

func (r *RoomRegistry) attachCall(roomID domain.RoomID, callID domain.CallID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[roomID]; ok {
		room.ActiveCalls = append(room.ActiveCalls, callID)
	}
}

func (r *RoomRegistry) detachCall(roomID domain.RoomID, callID domain.CallID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return
	}
	for i, id := range room.ActiveCalls {
		if id == callID {
			room.ActiveCalls = append(room.ActiveCalls[:i], room.ActiveCalls[i+1:]...)
			return
		}
	}
}

// Sweep removes rooms past expiry (regardless of occupancy) and rooms
// that stayed empty beyond the grace period. Returns removed ids.
func (r *RoomRegistry) Sweep(now time.Time) []domain.RoomID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []domain.RoomID
	for id, room := range r.rooms {
		expired := now.After(room.ExpiresAt)
		stale := room.Status == domain.RoomEmpty && !room.EmptySince.IsZero() && now.Sub(room.EmptySince) > r.cfg.EmptyGrace
		if !expired && !stale {
			continue
		}
		for uid := range room.Participants {
			if r.byUser[uid] == id {
				delete(r.byUser, uid)
			}
		}
		delete(r.rooms, id)
		removed = append(removed, id)
		log.Info().Str("module", "app.rooms").Str("room", string(id)).Bool("expired", expired).Msg("room swept")
	}
	return removed
}

type RoomStats struct {
	Rooms        int `json:"rooms"`
	Participants int `json:"participants"`
	ActiveCalls  int `json:"activeCalls"`
}

func (r *RoomRegistry) Stats() RoomStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := RoomStats{Rooms: len(r.rooms)}
	for _, room := range r.rooms {
		s.Participants += len(room.Participants)
		s.ActiveCalls += len(room.ActiveCalls)
	}
	return s
}

func snapshotRoom(room *domain.Room, withHistory bool) *domain.RoomSnapshot {
	snap := &domain.RoomSnapshot{
		ID:          room.ID,
		Type:        room.Type,
		CreatorID:   room.CreatorID,
		CreatedAt:   room.CreatedAt,
		ExpiresAt:   room.ExpiresAt,
		Capacity:    room.Capacity,
		Private:     room.Private,
		Status:      room.Status,
		ActiveCalls: append([]domain.CallID(nil), room.ActiveCalls...),
	}
	snap.Participants = make([]*domain.Participant, 0, len(room.Participants))
	for _, p := range room.Participants {
		snap.Participants = append(snap.Participants, p)
	}
	if withHistory {
		snap.History = append([]domain.HistoryEntry(nil), room.History...)
	}
	return snap
}
