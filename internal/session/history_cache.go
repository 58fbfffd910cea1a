package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// HistoryCache keeps a short rolling window of session turns in Redis so each
// turn does not round-trip the durable log just to build the model prompt.
// The turn log remains the source of truth; a cache miss falls back to it.
type HistoryCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewHistoryCache creates the cache. ttl <= 0 defaults to 24 hours.
func NewHistoryCache(client *redis.Client, ttl time.Duration) *HistoryCache {
	if client == nil {
		panic("session: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &HistoryCache{redis: client, ttl: ttl}
}

func historyKey(sessionID uuid.UUID) string {
	return fmt.Sprintf("session_history:%s", sessionID)
}

// Save replaces the cached history window for the session.
func (c *HistoryCache) Save(ctx context.Context, sessionID uuid.UUID, turns []ChatTurn) error {
	data, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("session: marshal history: %w", err)
	}
	if err := c.redis.Set(ctx, historyKey(sessionID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("session: cache history: %w", err)
	}
	return nil
}

// Load returns the cached history window, or (nil, false, nil) on a miss.
func (c *HistoryCache) Load(ctx context.Context, sessionID uuid.UUID) ([]ChatTurn, bool, error) {
	data, err := c.redis.Get(ctx, historyKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("session: load cached history: %w", err)
	}
	var turns []ChatTurn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, false, fmt.Errorf("session: decode cached history: %w", err)
	}
	return turns, true, nil
}

// Delete drops the cached window (logout).
func (c *HistoryCache) Delete(ctx context.Context, sessionID uuid.UUID) error {
	if err := c.redis.Del(ctx, historyKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("session: delete cached history: %w", err)
	}
	return nil
}
