// Package cache provides the key-value stores the statistics cache writes to.
package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/u9rzm/barinya-bot/internal/apperrors"
	"github.com/u9rzm/barinya-bot/internal/config"
)

// Store is a byte-oriented key-value store with per-key expiry
type Store interface {
	// Get returns the value for key; ok is false when it is absent or expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set stores value under key for ttl. A zero ttl keeps the key until deleted.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// Keys lists live keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// TTL returns the remaining lifetime of key. ok is false when the key is absent;
	// a live key without expiry reports zero.
	TTL(ctx context.Context, key string) (remaining time.Duration, ok bool, err error)
}

// NewStore builds the store selected by cfg.Backend. The redis backend needs client.
func NewStore(cfg config.CacheConfig, client *redis.Client) (Store, error) {
	switch cfg.Backend {
	case "", "redis":
		if client == nil {
			return nil, apperrors.Configuration("cache.NewStore", "redis backend selected but no redis client")
		}
		return NewRedisStore(client), nil
	case "memory":
		return NewMemoryStore(cfg.MemorySize)
	default:
		return nil, apperrors.Configuration("cache.NewStore", "unknown cache backend %q", cfg.Backend)
	}
}
