package app

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teleconsult/arcsignal/internal/domain"
)

func TestGenerateAndGetRoomKey(t *testing.T) {
	v := NewKeyVault(VaultConfig{})

	info, err := v.GenerateRoomKey("r1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, info.Version)
	assert.Equal(t, "AES-256-GCM", info.Algorithm)
	assert.Len(t, info.Material, 32)

	got, err := v.GetRoomKey("r1", "alice")
	require.NoError(t, err)
	assert.Equal(t, info.KeyID, got.KeyID)

	_, err = v.GetRoomKey("r1", "bob")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = v.GetRoomKey("missing", "alice")
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)
}

func TestDistributeAndRevoke(t *testing.T) {
	v := NewKeyVault(VaultConfig{})
	_, err := v.GenerateRoomKey("r1", "alice")
	require.NoError(t, err)

	// Only current holders may distribute.
	_, err = v.DistributeKey("r1", "carol", "bob")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = v.DistributeKey("r1", "bob", "alice")
	require.NoError(t, err)
	_, err = v.GetRoomKey("r1", "bob")
	require.NoError(t, err)

	require.NoError(t, v.RevokeAccess("r1", "bob", "alice"))
	_, err = v.GetRoomKey("r1", "bob")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestRotationVersionsAreMonotonic(t *testing.T) {
	v := NewKeyVault(VaultConfig{})
	first, err := v.GenerateRoomKey("r1", "alice")
	require.NoError(t, err)
	_, err = v.DistributeKey("r1", "bob", "alice")
	require.NoError(t, err)

	second, err := v.RotateKey("r1", "alice")
	require.NoError(t, err)
	assert.Equal(t, first.Version+1, second.Version)
	assert.NotEqual(t, first.KeyID, second.KeyID)
	assert.NotEqual(t, first.Material, second.Material)

	// Rotation preserves the distribution set.
	_, err = v.GetRoomKey("r1", "bob")
	require.NoError(t, err)
}

func TestDecryptAfterRotation(t *testing.T) {
	v := NewKeyVault(VaultConfig{})
	_, err := v.GenerateRoomKey("r1", "alice")
	require.NoError(t, err)

	payload, err := v.Encrypt("r1", []byte("pre-rotation secret"), "alice")
	require.NoError(t, err)

	_, err = v.RotateKey("r1", "alice")
	require.NoError(t, err)

	plaintext, err := v.Decrypt("r1", payload, "alice")
	require.NoError(t, err)
	assert.Equal(t, []byte("pre-rotation secret"), plaintext)
}

func TestDecryptFailsAfterHistoryEviction(t *testing.T) {
	v := NewKeyVault(VaultConfig{HistoryLimit: 2})
	_, err := v.GenerateRoomKey("r1", "alice")
	require.NoError(t, err)

	payload, err := v.Encrypt("r1", []byte("old"), "alice")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = v.RotateKey("r1", "alice")
		require.NoError(t, err)
	}

	_, err = v.Decrypt("r1", payload, "alice")
	assert.ErrorIs(t, err, domain.ErrKeyNotFound, "key evicted from history is gone for good")
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v := NewKeyVault(VaultConfig{})
	_, err := v.GenerateRoomKey("r1", "alice")
	require.NoError(t, err)

	payload, err := v.Encrypt("r1", []byte("patient notes"), "alice")
	require.NoError(t, err)
	assert.NotEqual(t, []byte("patient notes"), payload.Ciphertext)

	plaintext, err := v.Decrypt("r1", payload, "alice")
	require.NoError(t, err)
	assert.Equal(t, []byte("patient notes"), plaintext)

	_, err = v.Decrypt("r1", payload, "eve")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestDecryptRejectsTampering(t *testing.T) {
	v := NewKeyVault(VaultConfig{})
	_, err := v.GenerateRoomKey("r1", "alice")
	require.NoError(t, err)

	payload, err := v.Encrypt("r1", []byte("x-ray ref"), "alice")
	require.NoError(t, err)
	payload.Ciphertext[0] ^= 0xff

	_, err = v.Decrypt("r1", payload, "alice")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestExpiredKeyAutoRotates(t *testing.T) {
	v := NewKeyVault(VaultConfig{KeyTTL: time.Hour, AutoRotate: true})
	base := time.Now()
	v.now = func() time.Time { return base }

	first, err := v.GenerateRoomKey("r1", "alice")
	require.NoError(t, err)

	v.now = func() time.Time { return base.Add(2 * time.Hour) }
	got, err := v.GetRoomKey("r1", "alice")
	require.NoError(t, err)
	assert.Equal(t, first.Version+1, got.Version, "expired key rotates implicitly")
}

func TestExpiredKeyWithoutAutoRotate(t *testing.T) {
	v := NewKeyVault(VaultConfig{KeyTTL: time.Hour, AutoRotate: false})
	base := time.Now()
	v.now = func() time.Time { return base }

	_, err := v.GenerateRoomKey("r1", "alice")
	require.NoError(t, err)

	v.now = func() time.Time { return base.Add(2 * time.Hour) }
	_, err = v.GetRoomKey("r1", "alice")
	assert.ErrorIs(t, err, domain.ErrKeyExpired)
	_, err = v.Encrypt("r1", []byte("data"), "alice")
	assert.ErrorIs(t, err, domain.ErrKeyExpired)
}

func TestSweepExpired(t *testing.T) {
	v := NewKeyVault(VaultConfig{KeyTTL: time.Hour})
	base := time.Now()
	v.now = func() time.Time { return base }

	_, err := v.GenerateRoomKey("r1", "alice")
	require.NoError(t, err)
	_, err = v.GenerateRoomKey("r2", "bob")
	require.NoError(t, err)

	assert.Equal(t, 0, v.SweepExpired(base.Add(30*time.Minute)))
	assert.Equal(t, 2, v.SweepExpired(base.Add(2*time.Hour)))

	for _, s := range v.Stats() {
		assert.Equal(t, 2, s.Version, "sweep rotated %s", s.RoomID)
	}
}

func TestRandFailureSurfacesAsKeyGeneration(t *testing.T) {
	v := NewKeyVault(VaultConfig{})
	_, err := v.GenerateRoomKey("r1", "alice")
	require.NoError(t, err)

	v.randRead = func([]byte) (int, error) { return 0, errors.New("entropy pool down") }

	_, err = v.Encrypt("r1", []byte("data"), "alice")
	assert.ErrorIs(t, err, domain.ErrKeyGeneration)

	_, err = v.RotateKey("r1", "alice")
	assert.ErrorIs(t, err, domain.ErrKeyGeneration)
}

func TestDropRoom(t *testing.T) {
	v := NewKeyVault(VaultConfig{})
	_, err := v.GenerateRoomKey("r1", "alice")
	require.NoError(t, err)

	v.DropRoom("r1")
	_, err = v.GetRoomKey("r1", "alice")
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)
	assert.Empty(t, v.Stats())
}
