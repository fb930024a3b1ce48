package sentinel

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores raw provider responses keyed by request hash.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, b []byte) error
}

// RedisCache keeps responses in redis for TTL.
type RedisCache struct {
	rdb    *redis.Client
	TTL    time.Duration
	Prefix string
}

// NewRedisCache returns nil for an empty address.
func NewRedisCache(addr string, ttl time.Duration) *RedisCache {
	if addr == "" {
		return nil
	}
	return &RedisCache{rdb: redis.NewClient(&redis.Options{Addr: addr}), TTL: ttl, Prefix: "sentinel:"}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, c.Prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, b []byte) error {
	return c.rdb.Set(ctx, c.Prefix+key, b, c.TTL).Err()
}

func (c *RedisCache) Close() error { return c.rdb.Close() }
