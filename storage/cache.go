package storage

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache stores JSON-encoded values with a fixed TTL. Entries are never
// invalidated explicitly; they simply expire and are rebuilt on next read.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisCache connects to Redis at the given URL and returns a cache.
// URL format: redis://localhost:6379/0
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cache: invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: redis ping failed: %w", err)
	}

	return &RedisCache{client: client, ttl: ttl, prefix: "carlynx"}, nil
}

// Get decodes the cached value for key into dst. It reports false on a miss
// or on any decode problem.
func (c *RedisCache) Get(ctx context.Context, key string, dst any) bool {
	data, err := c.client.Get(ctx, CacheKey(c.prefix, key)).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

// Set stores v under key with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: marshal error: %w", err)
	}
	return c.client.Set(ctx, CacheKey(c.prefix, key), data, c.ttl).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// CacheKey derives a short, stable Redis key from an arbitrary string.
func CacheKey(prefix, raw string) string {
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s:%x", prefix, hash[:8])
}
