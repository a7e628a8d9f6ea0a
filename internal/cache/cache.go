// Package cache provides a wrapper around the redis client, used by carriers
// to remember which orders they already confirmed.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/yyvfuruta/driva-dispatch/internal/config"
)

// Cache is a wrapper around the redis client.
type Cache struct {
	redis *redis.Client
	ttl   time.Duration
}

func New(cfg config.Redis, ttl time.Duration) *Cache {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr()})
	return &Cache{
		redis: rdb,
		ttl:   ttl,
	}
}

// ProcessedKey is the key under which a carrier records a confirmed order.
func ProcessedKey(carrierName, messageID string) string {
	return fmt.Sprintf("carrier:%s:%s", carrierName, messageID)
}

// Seen reports whether key has been remembered and not yet expired.
func (c *Cache) Seen(ctx context.Context, key string) (bool, error) {
	n, err := c.redis.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Remember records key for the configured TTL.
func (c *Cache) Remember(ctx context.Context, key string) error {
	return c.redis.Set(ctx, key, time.Now().Unix(), c.ttl).Err()
}

// Ping pings the cache.
func (c *Cache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the underlying client.
func (c *Cache) Close() error {
	return c.redis.Close()
}
