package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_ENV", "absent")
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 10, cfg.RoomCapacity)
	assert.Equal(t, 24*time.Hour, cfg.RoomTTL)
	assert.Equal(t, 24*time.Hour, cfg.KeyTTL)
	assert.Equal(t, 5, cfg.KeyHistoryLimit)
	assert.True(t, cfg.KeyAutoRotate)
	assert.Equal(t, 500, cfg.MaxAnnotations)
	assert.Equal(t, 30*time.Minute, cfg.SessionRetention)
}

func TestLoadReadsFile(t *testing.T) {
	t.Setenv("CONFIG_ENV", "test")
	dir := t.TempDir()
	writeConfig(t, dir, "port: 9090\nroom_capacity: 4\nkey_auto_rotate: false\n")
	chdir(t, dir)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 4, cfg.RoomCapacity)
	assert.False(t, cfg.KeyAutoRotate)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("CONFIG_ENV", "test")
	dir := t.TempDir()
	writeConfig(t, dir, "port: not-a-number\n")
	chdir(t, dir)

	_, err := Load()
	assert.Error(t, err, "a value that cannot be parsed must fail loudly, not half-load")
}

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), []byte(body), 0o644))
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
