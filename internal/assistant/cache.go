package assistant

import (
	"sync"
	"time"
)

// Handle is a resolved, tool-equipped external assistant reference.
type Handle struct {
	AssistantID string
	StoreID     string
}

// Cache holds resolved handles per assistant-config id. Entries older
// than the TTL are treated as absent. Implementations must replace
// entries atomically; readers never see a partial update.
type Cache interface {
	Get(configID string) (Handle, bool)
	Set(configID string, handle Handle)
}

type cacheEntry struct {
	handle   Handle
	cachedAt time.Time
}

// MemoryCache is the process-wide in-memory cache implementation.
type MemoryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

// NewMemoryCache creates a TTL cache. A non-positive ttl disables
// expiry checks, which is only useful in tests.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(configID string) (Handle, bool) {
	c.mu.RLock()
	entry, ok := c.entries[configID]
	c.mu.RUnlock()
	if !ok {
		return Handle{}, false
	}
	if c.ttl > 0 && c.now().Sub(entry.cachedAt) >= c.ttl {
		return Handle{}, false
	}
	return entry.handle, true
}

func (c *MemoryCache) Set(configID string, handle Handle) {
	c.mu.Lock()
	c.entries[configID] = cacheEntry{handle: handle, cachedAt: c.now()}
	c.mu.Unlock()
}
