package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, ttl time.Duration) (*HistoryCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewHistoryCache(client, ttl), mr
}

func TestHistoryCacheRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t, time.Hour)
	ctx := context.Background()
	sessionID := uuid.New()

	turns := []ChatTurn{
		{Role: "patient", Input: "hi", Response: "hello"},
		{Role: "patient", Input: "book me", Response: "which day?"},
	}
	require.NoError(t, cache.Save(ctx, sessionID, turns))

	got, ok, err := cache.Load(ctx, sessionID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, turns, got)
}

func TestHistoryCacheMiss(t *testing.T) {
	cache, _ := newTestCache(t, time.Hour)

	got, ok, err := cache.Load(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestHistoryCacheDelete(t *testing.T) {
	cache, _ := newTestCache(t, time.Hour)
	ctx := context.Background()
	sessionID := uuid.New()

	require.NoError(t, cache.Save(ctx, sessionID, []ChatTurn{{Role: "patient", Input: "hi", Response: "hello"}}))
	require.NoError(t, cache.Delete(ctx, sessionID))

	_, ok, err := cache.Load(ctx, sessionID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHistoryCacheEntriesExpire(t *testing.T) {
	cache, mr := newTestCache(t, time.Minute)
	ctx := context.Background()
	sessionID := uuid.New()

	require.NoError(t, cache.Save(ctx, sessionID, []ChatTurn{{Role: "patient", Input: "hi", Response: "hello"}}))

	mr.FastForward(2 * time.Minute)

	_, ok, err := cache.Load(ctx, sessionID)
	require.NoError(t, err)
	assert.False(t, ok)
}
