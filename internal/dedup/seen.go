package dedup

import "sync"

// SeenCache remembers URLs whose ledger rows can never be pruned. A hit
// short-circuits tier 1; a miss always falls through to the durable ledger.
type SeenCache struct {
	mu   sync.RWMutex
	urls map[string]struct{}
}

// NewSeenCache returns an empty cache.
func NewSeenCache() *SeenCache {
	return &SeenCache{urls: map[string]struct{}{}}
}

// Add marks url as attempted.
func (c *SeenCache) Add(url string) {
	c.mu.Lock()
	c.urls[url] = struct{}{}
	c.mu.Unlock()
}

// Contains reports whether url was attempted by this process.
func (c *SeenCache) Contains(url string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.urls[url]
	return ok
}
