package notify

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cooldown grants at most one notification per key per period.
type Cooldown interface {
	Acquire(ctx context.Context, key string, period time.Duration) (bool, error)
}

type MemoryCooldown struct {
	mu    sync.Mutex
	until map[string]time.Time
	Now   func() time.Time
}

func NewMemoryCooldown() *MemoryCooldown {
	return &MemoryCooldown{until: make(map[string]time.Time), Now: time.Now}
}

func (c *MemoryCooldown) Acquire(ctx context.Context, key string, period time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.Now()
	if until, ok := c.until[key]; ok && now.Before(until) {
		return false, nil
	}
	c.until[key] = now.Add(period)

	for k, until := range c.until {
		if !now.Before(until) {
			delete(c.until, k)
		}
	}
	return true, nil
}

// RedisCooldown shares cooldowns between instances via SET NX.
type RedisCooldown struct {
	client *redis.Client
	prefix string
}

func NewRedisCooldown(client *redis.Client, prefix string) *RedisCooldown {
	return &RedisCooldown{client: client, prefix: prefix}
}

func (c *RedisCooldown) Acquire(ctx context.Context, key string, period time.Duration) (bool, error) {
	if period <= 0 {
		return true, nil
	}
	return c.client.SetNX(ctx, c.prefix+key, 1, period).Result()
}
