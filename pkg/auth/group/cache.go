package group

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCacheTTL is how long group lists are cached.
const DefaultCacheTTL = 5 * time.Minute

type cacheEntry struct {
	groups   []string
	err      error
	cachedAt time.Time
}

// CacheStats contains group cache statistics.
type CacheStats struct {
	Hits   int64
	Misses int64
	Size   int64
}

// Cached wraps a Mapping with TTL based caching. Errors are cached too, so
// a failing lookup is not retried until the entry expires.
type Cached struct {
	inner Mapping
	cache map[string]*cacheEntry
	mu    sync.RWMutex
	ttl   time.Duration
	now   func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCached wraps inner. A non-positive ttl uses DefaultCacheTTL.
func NewCached(inner Mapping, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{
		inner: inner,
		cache: make(map[string]*cacheEntry),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Groups returns cached results when available.
func (c *Cached) Groups(ctx context.Context, u string) ([]string, error) {
	c.mu.RLock()
	if e, ok := c.cache[u]; ok && c.now().Sub(e.cachedAt) < c.ttl {
		c.mu.RUnlock()
		c.hits.Add(1)
		return copyGroups(e.groups), e.err
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have populated the entry while we waited.
	if e, ok := c.cache[u]; ok && c.now().Sub(e.cachedAt) < c.ttl {
		c.hits.Add(1)
		return copyGroups(e.groups), e.err
	}

	groups, err := c.inner.Groups(ctx, u)
	if ctx.Err() == nil {
		c.cache[u] = &cacheEntry{groups: groups, err: err, cachedAt: c.now()}
	}
	c.misses.Add(1)
	return copyGroups(groups), err
}

// Invalidate drops the entry for u.
func (c *Cached) Invalidate(u string) {
	c.mu.Lock()
	delete(c.cache, u)
	c.mu.Unlock()
}

// InvalidateAll clears the cache.
func (c *Cached) InvalidateAll() {
	c.mu.Lock()
	c.cache = make(map[string]*cacheEntry)
	c.mu.Unlock()
}

// Stats returns current cache statistics.
func (c *Cached) Stats() CacheStats {
	c.mu.RLock()
	size := int64(len(c.cache))
	c.mu.RUnlock()

	return CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Size:   size,
	}
}

func copyGroups(g []string) []string {
	if g == nil {
		return nil
	}
	return append([]string(nil), g...)
}
