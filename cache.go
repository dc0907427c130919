package bowtie

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const defaultCacheShards = 16

// InMemoryCache is a sharded map of decoded responses with a fixed TTL.
// A zero TTL keeps entries until they are deleted.
type InMemoryCache struct {
	shards    []*cacheShard
	numShards int
	ttl       time.Duration
	now       func() time.Time
}

type cacheShard struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
}

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

func (e cacheEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewInMemoryCache returns an empty cache whose entries live for ttl.
func NewInMemoryCache(ttl time.Duration) *InMemoryCache {
	shards := make([]*cacheShard, defaultCacheShards)
	for i := range shards {
		shards[i] = &cacheShard{store: make(map[string]cacheEntry)}
	}
	return &InMemoryCache{
		shards:    shards,
		numShards: defaultCacheShards,
		ttl:       ttl,
		now:       time.Now,
	}
}

func (c *InMemoryCache) getShard(key string) *cacheShard {
	hash := fnv.New32a()
	_, _ = hash.Write([]byte(key))
	return c.shards[hash.Sum32()%uint32(c.numShards)]
}

// Get returns the live value for key. Expired entries are dropped.
func (c *InMemoryCache) Get(_ context.Context, key string) (any, bool, error) {
	shard := c.getShard(key)
	shard.mu.RLock()
	entry, ok := shard.store[key]
	shard.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	if entry.expired(c.now()) {
		shard.mu.Lock()
		if cur, still := shard.store[key]; still && cur.expired(c.now()) {
			delete(shard.store, key)
		}
		shard.mu.Unlock()
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set stores value under key, replacing any previous entry.
func (c *InMemoryCache) Set(ctx context.Context, key string, value any) error {
	return c.SetWithTTL(ctx, key, value, c.ttl)
}

// SetWithTTL stores value under key for ttl, capped by the cache's own TTL.
// A zero ttl falls back to the cache's TTL.
func (c *InMemoryCache) SetWithTTL(_ context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 || (c.ttl > 0 && c.ttl < ttl) {
		ttl = c.ttl
	}
	entry := cacheEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}

	shard := c.getShard(key)
	shard.mu.Lock()
	shard.store[key] = entry
	shard.mu.Unlock()
	return nil
}

// Delete removes key.
func (c *InMemoryCache) Delete(key string) {
	shard := c.getShard(key)
	shard.mu.Lock()
	delete(shard.store, key)
	shard.mu.Unlock()
}

// Clear drops every entry.
func (c *InMemoryCache) Clear() {
	for _, shard := range c.shards {
		shard.mu.Lock()
		shard.store = make(map[string]cacheEntry)
		shard.mu.Unlock()
	}
}

// Len counts stored entries, expired ones included until they are read.
func (c *InMemoryCache) Len() int {
	n := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		n += len(shard.store)
		shard.mu.RUnlock()
	}
	return n
}
