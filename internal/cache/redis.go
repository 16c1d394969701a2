package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/brandrank/quantum-intel/internal/api"
)

// RedisCache is a Redis-backed result cache for multi-replica deployments.
// Plain SET with TTL: analysis results carry their own timestamps and
// last-writer-wins is acceptable across concurrent calls for one subject.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	hits   uint64
	misses uint64
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(addr, password string, db int, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisCache{client: client, ttl: ttl}, nil
}

func (c *RedisCache) Get(ctx context.Context, subjectID string) (*api.CompositeResult, bool) {
	data, err := c.client.Get(ctx, c.key(subjectID)).Result()
	if err != nil {
		// redis.Nil and transport errors are both misses; the pipeline
		// recomputes rather than failing a request on cache trouble.
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	var result api.CompositeResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}
	atomic.AddUint64(&c.hits, 1)
	return &result, true
}

func (c *RedisCache) Set(ctx context.Context, subjectID string, result *api.CompositeResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := c.client.Set(ctx, c.key(subjectID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis SET failed: %w", err)
	}
	return nil
}

func (c *RedisCache) Stats() Stats {
	return Stats{
		Hits:   atomic.LoadUint64(&c.hits),
		Misses: atomic.LoadUint64(&c.misses),
	}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) key(subjectID string) string {
	return fmt.Sprintf("qstate:%s", subjectID)
}
