package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-pipeline/internal/config"
)

func newTestBucket(t *testing.T, capacity int, refillPerSec float64) *TokenBucket {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewTokenBucket(client, config.Config{
		RateLimitCapacity: capacity,
		RateLimitRefill:   refillPerSec,
	})
}

func TestAllowDrainsCapacity(t *testing.T) {
	b := newTestBucket(t, 2, 1)
	ctx := context.Background()

	allowed, _, err := b.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, _, err = b.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, remaining, err := b.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Less(t, remaining, 1.0)
}

func TestRefillRestoresTokens(t *testing.T) {
	b := newTestBucket(t, 1, 2)
	base := time.Now()
	b.now = func() time.Time { return base }
	ctx := context.Background()

	allowed, _, err := b.Allow(ctx, "client-a")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, err = b.Allow(ctx, "client-a")
	require.NoError(t, err)
	require.False(t, allowed)

	// 500ms at 2 tokens/s refills one token.
	base = base.Add(500 * time.Millisecond)
	allowed, _, err = b.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestKeysAreIndependent(t *testing.T) {
	b := newTestBucket(t, 1, 1)
	ctx := context.Background()

	allowed, _, err := b.Allow(ctx, "client-a")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, err = b.Allow(ctx, "client-a")
	require.NoError(t, err)
	require.False(t, allowed)

	allowed, _, err = b.Allow(ctx, "client-b")
	require.NoError(t, err)
	assert.True(t, allowed)
}
