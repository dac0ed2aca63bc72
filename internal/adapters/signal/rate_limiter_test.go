package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRoomRateLimiter(t *testing.T) {
	rl := NewRoomRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("alice"), "attempt %d", i)
	}
	assert.False(t, rl.Allow("alice"), "limit reached")
	assert.True(t, rl.Allow("bob"), "limits are per user")
}

func TestRoomRateLimiterWindowSlides(t *testing.T) {
	rl := NewRoomRateLimiter(2, 10*time.Millisecond)

	assert.True(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("alice"))
	assert.False(t, rl.Allow("alice"))

	time.Sleep(15 * time.Millisecond)
	assert.True(t, rl.Allow("alice"), "old attempts age out")
}
