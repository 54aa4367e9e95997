package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterWindow(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLimiter()
	defer l.Close()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := l.Allow(ctx, "k", 3, time.Minute)
	assert.False(t, ok)

	ok, _ = l.Allow(ctx, "other", 3, time.Minute)
	assert.True(t, ok)

	now = now.Add(61 * time.Second)
	ok, _ = l.Allow(ctx, "k", 3, time.Minute)
	assert.True(t, ok)
}

func TestMemoryLimiterResetAndPrune(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLimiter()
	defer l.Close()

	ok, _ := l.Allow(ctx, "k", 1, time.Hour)
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "k", 1, time.Hour)
	assert.False(t, ok)

	require.NoError(t, l.Reset(ctx, "k"))
	ok, _ = l.Allow(ctx, "k", 1, time.Hour)
	assert.True(t, ok)

	l.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	l.prune(24 * time.Hour)
	assert.Empty(t, l.attempts)
}

func TestRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	l := NewRedisLimiter(client, "test")

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "a@x.com:signup", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, "a@x.com:signup", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(61 * time.Second)
	ok, err = l.Allow(ctx, "a@x.com:signup", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, l.Reset(ctx, "a@x.com:signup"))
	assert.False(t, mr.Exists("test:a@x.com:signup"))
}
