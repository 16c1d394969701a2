package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/brandrank/quantum-intel/internal/api"
)

// LRUCache is the default in-process result cache: size-bounded LRU with TTL
// expiration. Safe for concurrent use.
type LRUCache struct {
	mu     sync.RWMutex
	cache  *lru.Cache[string, *lruEntry]
	ttl    time.Duration
	hits   uint64
	misses uint64
}

type lruEntry struct {
	result    *api.CompositeResult
	expiresAt time.Time
}

// NewLRUCache creates an LRU result cache. size must be positive; ttl of zero
// means entries never expire.
func NewLRUCache(size int, ttl time.Duration) (*LRUCache, error) {
	inner, err := lru.New[string, *lruEntry](size)
	if err != nil {
		return nil, err
	}
	return &LRUCache{cache: inner, ttl: ttl}, nil
}

func (c *LRUCache) Get(ctx context.Context, subjectID string) (*api.CompositeResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.cache.Get(subjectID)
	if !ok || (c.ttl > 0 && time.Now().After(entry.expiresAt)) {
		c.misses++
		return nil, false
	}
	c.hits++
	return entry.result, true
}

func (c *LRUCache) Set(ctx context.Context, subjectID string, result *api.CompositeResult) error {
	expiresAt := time.Time{}
	if c.ttl > 0 {
		expiresAt = time.Now().Add(c.ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(subjectID, &lruEntry{result: result, expiresAt: expiresAt})
	return nil
}

func (c *LRUCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{Hits: c.hits, Misses: c.misses}
}

func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Purge()
	return nil
}

// CleanupExpired drops expired entries. O(n); run it from a periodic
// maintenance goroutine, not the request path.
func (c *LRUCache) CleanupExpired() int {
	if c.ttl == 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for _, key := range c.cache.Keys() {
		if entry, ok := c.cache.Peek(key); ok && now.After(entry.expiresAt) {
			c.cache.Remove(key)
			removed++
		}
	}
	return removed
}
