package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquirePacesCalls(t *testing.T) {
	// 100 rps, burst 1: five sequential acquires need four replenish
	// intervals, so at least ~40ms end to end.
	limiter := New(100, 1)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.Acquire(ctx))
	}
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 35*time.Millisecond)
	assert.Equal(t, int64(5), limiter.Requests.Value())
}

func TestAcquireRespectsCancellation(t *testing.T) {
	// Replenishment is one token per 10s: the second acquire would block
	// far past the deadline.
	limiter := New(0.1, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, limiter.Acquire(ctx))
	err := limiter.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(1), limiter.Requests.Value())
}

func TestAllowDrainsBurst(t *testing.T) {
	limiter := New(0.1, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow())
	}
	assert.False(t, limiter.Allow(), "burst exhausted")
	assert.Equal(t, int64(3), limiter.Requests.Value())
}

func TestNewClampsBurst(t *testing.T) {
	limiter := New(20, 0)
	assert.True(t, limiter.Allow())
	assert.Equal(t, float64(20), limiter.Limit())
}
