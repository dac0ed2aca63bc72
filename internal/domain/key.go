package domain

import "time"

type KeyID string

// RoomKey is one version of a room's symmetric key. Material never
// leaves the vault except through KeyInfo.
type RoomKey struct {
	ID            KeyID
	RoomID        RoomID
	Material      []byte
	Algorithm     string
	Version       int
	CreatedAt     time.Time
	ExpiresAt     time.Time
	DistributedTo map[UserID]struct{}
	UsageCount    uint64
}

func (k *RoomKey) Expired(now time.Time) bool {
	return now.After(k.ExpiresAt)
}

func (k *RoomKey) AuthorizedFor(userID UserID) bool {
	_, ok := k.DistributedTo[userID]
	return ok
}

// KeyInfo is the projection handed to authorized requesters.
type KeyInfo struct {
	KeyID     KeyID     `json:"keyId"`
	RoomID    RoomID    `json:"roomId"`
	Material  []byte    `json:"material"`
	Algorithm string    `json:"algorithm"`
	Version   int       `json:"version"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// EncryptedPayload tags ciphertext with the key version that sealed it so
// decryption can reach into key history after a rotation.
type EncryptedPayload struct {
	KeyID      KeyID  `json:"keyId"`
	KeyVersion int    `json:"keyVersion"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}
