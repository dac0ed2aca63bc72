package app

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/teleconsult/arcsignal/internal/domain"
)

const (
	DefaultKeyTTL          = 24 * time.Hour
	DefaultKeyHistoryLimit = 5

	keyAlgorithm = "AES-256-GCM"
	keySize      = 32
)

// VaultConfig tunes key lifetime and rotation policy.
type VaultConfig struct {
	KeyTTL       time.Duration
	HistoryLimit int
	// AutoRotate gates the implicit rotation performed when an expired
	// key is requested. Disabled, the request fails with ErrKeyExpired.
	AutoRotate bool
}

type keyEntry struct {
	current *domain.RoomKey
	history []*domain.RoomKey // most recent first
}

// KeyVault generates, rotates, distributes and retires per-room
// symmetric keys, and provides encrypt/decrypt over opaque payloads.
// The placeholder symmetric scheme stands in for a real key exchange.
type KeyVault struct {
	mu      sync.Mutex
	entries map[domain.RoomID]*keyEntry

	cfg      VaultConfig
	now      func() time.Time
	randRead func([]byte) (int, error)
}

func NewKeyVault(cfg VaultConfig) *KeyVault {
	if cfg.KeyTTL <= 0 {
		cfg.KeyTTL = DefaultKeyTTL
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultKeyHistoryLimit
	}
	return &KeyVault{
		entries:  make(map[domain.RoomID]*keyEntry),
		cfg:      cfg,
		now:      time.Now,
		randRead: rand.Read,
	}
}

// GenerateRoomKey derives a fresh key for the room, pushing any current
// key into the bounded history, and authorizes the creator.
func (v *KeyVault) GenerateRoomKey(roomID domain.RoomID, creatorID domain.UserID) (*domain.KeyInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.entries[roomID]
	if !ok {
		e = &keyEntry{}
		v.entries[roomID] = e
	}
	dist := map[domain.UserID]struct{}{creatorID: {}}
	key, err := v.rotateLocked(e, roomID, dist)
	if err != nil {
		return nil, err
	}
	return keyInfo(key), nil
}

// GetRoomKey returns the current key for an authorized requester. An
// expired key triggers an implicit rotation when policy allows it,
// preserving the distribution set.
func (v *KeyVault) GetRoomKey(roomID domain.RoomID, requesterID domain.UserID) (*domain.KeyInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.entries[roomID]
	if !ok || e.current == nil {
		return nil, domain.ErrKeyNotFound
	}
	if !e.current.AuthorizedFor(requesterID) {
		return nil, domain.ErrUnauthorized
	}
	if e.current.Expired(v.now()) {
		if !v.cfg.AutoRotate {
			return nil, domain.ErrKeyExpired
		}
		key, err := v.rotateLocked(e, roomID, e.current.DistributedTo)
		if err != nil {
			return nil, err
		}
		log.Info().Str("module", "app.vault").Str("room", string(roomID)).Int("version", key.Version).Msg("implicit rotation on expired key")
		return keyInfo(key), nil
	}
	return keyInfo(e.current), nil
}

// DistributeKey authorizes newUserID for the room's key. The requester
// must already hold the key; distribution never self-escalates.
func (v *KeyVault) DistributeKey(roomID domain.RoomID, newUserID, requesterID domain.UserID) (*domain.KeyInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.entries[roomID]
	if !ok || e.current == nil {
		return nil, domain.ErrKeyNotFound
	}
	if !e.current.AuthorizedFor(requesterID) {
		return nil, domain.ErrUnauthorized
	}
	e.current.DistributedTo[newUserID] = struct{}{}
	log.Info().Str("module", "app.vault").Str("room", string(roomID)).Str("user", string(newUserID)).Str("by", string(requesterID)).Msg("key distributed")
	return keyInfo(e.current), nil
}

// RotateKey generates a new key version, preserving the distribution set.
func (v *KeyVault) RotateKey(roomID domain.RoomID, requesterID domain.UserID) (*domain.KeyInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.entries[roomID]
	if !ok || e.current == nil {
		return nil, domain.ErrKeyNotFound
	}
	if !e.current.AuthorizedFor(requesterID) {
		return nil, domain.ErrUnauthorized
	}
	key, err := v.rotateLocked(e, roomID, e.current.DistributedTo)
	if err != nil {
		return nil, err
	}
	return keyInfo(key), nil
}

// RevokeAccess removes a user from the distribution set. Material the
// revoked client already fetched stays decryptable until the key
// naturally rotates; callers wanting a hard cut must rotate explicitly.
func (v *KeyVault) RevokeAccess(roomID domain.RoomID, userID, requesterID domain.UserID) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.entries[roomID]
	if !ok || e.current == nil {
		return domain.ErrKeyNotFound
	}
	if !e.current.AuthorizedFor(requesterID) {
		return domain.ErrUnauthorized
	}
	delete(e.current.DistributedTo, userID)
	log.Info().Str("module", "app.vault").Str("room", string(roomID)).Str("user", string(userID)).Msg("key access revoked")
	return nil
}

// Encrypt seals the payload under the room's current key, tagging the
// envelope with the key id for post-rotation decryption.
func (v *KeyVault) Encrypt(roomID domain.RoomID, plaintext []byte, userID domain.UserID) (*domain.EncryptedPayload, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.entries[roomID]
	if !ok || e.current == nil {
		return nil, domain.ErrKeyNotFound
	}
	if !e.current.AuthorizedFor(userID) {
		return nil, domain.ErrUnauthorized
	}
	key := e.current
	if key.Expired(v.now()) {
		if !v.cfg.AutoRotate {
			return nil, domain.ErrKeyExpired
		}
		rotated, err := v.rotateLocked(e, roomID, key.DistributedTo)
		if err != nil {
			return nil, err
		}
		key = rotated
	}

	gcm, err := newGCM(key.Material)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := v.randRead(nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyGeneration, err)
	}
	key.UsageCount++
	return &domain.EncryptedPayload{
		KeyID:      key.ID,
		KeyVersion: key.Version,
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, plaintext, []byte(roomID)),
	}, nil
}

// Decrypt opens a payload under the current or a matching historical
// key. A key id that has been evicted from history fails with
// ErrKeyNotFound.
func (v *KeyVault) Decrypt(roomID domain.RoomID, payload *domain.EncryptedPayload, userID domain.UserID) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.entries[roomID]
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	key := e.lookup(payload.KeyID)
	if key == nil {
		return nil, domain.ErrKeyNotFound
	}
	if !key.AuthorizedFor(userID) {
		return nil, domain.ErrUnauthorized
	}
	gcm, err := newGCM(key.Material)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, payload.Nonce, payload.Ciphertext, []byte(roomID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	key.UsageCount++
	return plaintext, nil
}

// SweepExpired force-rotates every key past expiry, using an arbitrary
// authorized member as the rotation actor, so no room holds silently
// stale material. Returns the number of rotations performed.
func (v *KeyVault) SweepExpired(now time.Time) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	rotated := 0
	for roomID, e := range v.entries {
		if e.current == nil || !e.current.Expired(now) {
			continue
		}
		if len(e.current.DistributedTo) == 0 {
			continue
		}
		if _, err := v.rotateLocked(e, roomID, e.current.DistributedTo); err != nil {
			log.Error().Err(err).Str("module", "app.vault").Str("room", string(roomID)).Msg("sweep rotation failed")
			continue
		}
		rotated++
	}
	return rotated
}

// DropRoom retires all key material for a deleted room.
func (v *KeyVault) DropRoom(roomID domain.RoomID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.entries, roomID)
}

// KeyStats is a per-room projection for the stats endpoint.
type KeyStats struct {
	RoomID      domain.RoomID `json:"roomId"`
	Version     int           `json:"version"`
	Distributed int           `json:"distributed"`
	UsageCount  uint64        `json:"usageCount"`
	ExpiresAt   time.Time     `json:"expiresAt"`
}

func (v *KeyVault) Stats() []KeyStats {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]KeyStats, 0, len(v.entries))
	for roomID, e := range v.entries {
		if e.current == nil {
			continue
		}
		out = append(out, KeyStats{
			RoomID:      roomID,
			Version:     e.current.Version,
			Distributed: len(e.current.DistributedTo),
			UsageCount:  e.current.UsageCount,
			ExpiresAt:   e.current.ExpiresAt,
		})
	}
	return out
}

// rotateLocked installs a fresh key as current, pushing the previous
// current to the front of history and truncating to the limit. Versions
// are strictly increasing; the swap is atomic under the vault mutex so
// no caller ever observes an unset current.
func (v *KeyVault) rotateLocked(e *keyEntry, roomID domain.RoomID, dist map[domain.UserID]struct{}) (*domain.RoomKey, error) {
	material := make([]byte, keySize)
	if _, err := v.randRead(material); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyGeneration, err)
	}
	version := 1
	if e.current != nil {
		version = e.current.Version + 1
	}
	distCopy := make(map[domain.UserID]struct{}, len(dist))
	for uid := range dist {
		distCopy[uid] = struct{}{}
	}
	now := v.now()
	key := &domain.RoomKey{
		ID:            domain.KeyID(uuid.NewString()),
		RoomID:        roomID,
		Material:      material,
		Algorithm:     keyAlgorithm,
		Version:       version,
		CreatedAt:     now,
		ExpiresAt:     now.Add(v.cfg.KeyTTL),
		DistributedTo: distCopy,
	}
	if e.current != nil {
		e.history = append([]*domain.RoomKey{e.current}, e.history...)
		if len(e.history) > v.cfg.HistoryLimit {
			e.history = e.history[:v.cfg.HistoryLimit]
		}
	}
	e.current = key
	log.Info().Str("module", "app.vault").Str("room", string(roomID)).Int("version", version).Msg("room key rotated")
	return key, nil
}

func (e *keyEntry) lookup(id domain.KeyID) *domain.RoomKey {
	if e.current != nil && e.current.ID == id {
		return e.current
	}
	for _, k := range e.history {
		if k.ID == id {
			return k
		}
	}
	return nil
}

func newGCM(material []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(material)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyGeneration, err)
	}
	return cipher.NewGCM(block)
}

func keyInfo(k *domain.RoomKey) *domain.KeyInfo {
	return &domain.KeyInfo{
		KeyID:     k.ID,
		RoomID:    k.RoomID,
		Material:  append([]byte(nil), k.Material...),
		Algorithm: k.Algorithm,
		Version:   k.Version,
		ExpiresAt: k.ExpiresAt,
	}
}
