package middleware

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllowPermitsUpToMaxCallsPerMinute(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxCallsPerMinute: 3, BurstSize: 3})

	require.True(t, rl.Allow("org-1:agent-1"))
	require.True(t, rl.Allow("org-1:agent-1"))
	require.True(t, rl.Allow("org-1:agent-1"))
	require.False(t, rl.Allow("org-1:agent-1"))
}

func TestAllowTracksKeysIndependently(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxCallsPerMinute: 1, BurstSize: 1})

	require.True(t, rl.Allow("org-1:agent-1"))
	require.False(t, rl.Allow("org-1:agent-1"))
	require.True(t, rl.Allow("org-1:agent-2"))
}

func TestNewRateLimiterAppliesDefaults(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{})
	require.Equal(t, 60, rl.defaults.MaxCallsPerMinute)
	require.Equal(t, 120, rl.defaults.BurstSize)
}
