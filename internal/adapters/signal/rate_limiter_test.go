package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJoinRateLimiterWindow(t *testing.T) {
	rl := NewJoinRateLimiter(2, time.Minute)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("s1"))
	assert.True(t, rl.Allow("s1"))
	assert.False(t, rl.Allow("s1"))
	assert.True(t, rl.Allow("s2"), "limits are per session")

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("s1"))

	rl.Forget("s1")
	assert.True(t, rl.Allow("s1"))
	assert.True(t, rl.Allow("s1"))
	assert.False(t, rl.Allow("s1"))
}

func TestJoinRateLimiterDisabled(t *testing.T) {
	var rl *JoinRateLimiter
	assert.True(t, rl.Allow("s1"))
	assert.True(t, NewJoinRateLimiter(0, time.Second).Allow("s1"))
}
