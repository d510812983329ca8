package pricing

import (
	"context"
	"sync"
	"time"
)

// Cache stores recent positive prices keyed by asset id.
type Cache interface {
	Get(ctx context.Context, assetID string) (float64, bool)
	Set(ctx context.Context, assetID string, price float64, ttl time.Duration)
}

type cachedPrice struct {
	price     float64
	expiresAt time.Time
}

// MemoryCache is an in-process TTL cache.
type MemoryCache struct {
	mu   sync.RWMutex
	data map[string]cachedPrice
	now  func() time.Time
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		data: make(map[string]cachedPrice),
		now:  time.Now,
	}
}

// Get returns the cached price if it has not expired.
func (c *MemoryCache) Get(_ context.Context, assetID string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.data[assetID]
	if !ok || !c.now().Before(entry.expiresAt) {
		return 0, false
	}
	return entry.price, true
}

// Set stores price for ttl. Expired entries are swept on write.
func (c *MemoryCache) Set(_ context.Context, assetID string, price float64, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for id, entry := range c.data {
		if !now.Before(entry.expiresAt) {
			delete(c.data, id)
		}
	}
	c.data[assetID] = cachedPrice{price: price, expiresAt: now.Add(ttl)}
}

var _ Cache = (*MemoryCache)(nil)
