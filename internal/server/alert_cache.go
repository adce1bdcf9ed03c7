package server

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// AlertCache rate-limits alert records. Acquire reports whether the caller
// may record an alert for key and, if so, holds the key for ttl. Release
// frees a key whose alert was never persisted.
type AlertCache interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type redisAlertCache struct {
	client *redis.Client
	prefix string
}

func NewRedisAlertCache(client *redis.Client) AlertCache {
	return &redisAlertCache{client: client, prefix: "keyi:alert-cooldown:"}
}

func (c *redisAlertCache) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return true, nil
	}
	return c.client.SetNX(ctx, c.prefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

func (c *redisAlertCache) Release(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.prefix+key).Err()
}

type memoryAlertCache struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemoryAlertCache is the single-process fallback used when REDIS_URL is unset.
func NewMemoryAlertCache() AlertCache {
	return &memoryAlertCache{expires: map[string]time.Time{}, now: time.Now}
}

func (c *memoryAlertCache) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return true, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if until, ok := c.expires[key]; ok && now.Before(until) {
		return false, nil
	}
	c.expires[key] = now.Add(ttl)
	for k, until := range c.expires {
		if !now.Before(until) {
			delete(c.expires, k)
		}
	}
	return true, nil
}

func (c *memoryAlertCache) Release(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.expires, key)
	c.mu.Unlock()
	return nil
}

func alertCooldownKey(userID string, sessionID *string, level string) string {
	scope := "user:" + userID
	if sessionID != nil && *sessionID != "" {
		scope = "session:" + *sessionID
	}
	return scope + ":" + level
}
