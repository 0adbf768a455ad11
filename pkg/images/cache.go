package images

import "sync"

// Cache maps lookup keys (source URLs) to fetched images. It has no TTL and
// no eviction of its own; Clear is the hook a host calls under memory
// pressure, so callers must tolerate a miss for a key they set earlier.
// Safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Image
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]*Image)}
}

// Get returns the cached image for key, or nil and false on miss.
func (c *Cache) Get(key string) (*Image, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	img, ok := c.entries[key]
	return img, ok
}

// Set stores img under key, replacing any existing entry.
func (c *Cache) Set(key string, img *Image) {
	c.mu.Lock()
	c.entries[key] = img
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*Image)
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
