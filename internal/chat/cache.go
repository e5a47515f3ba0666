package chat

import "sync"

// ChannelCache maps channel names to channel ids. The cache lives for
// one process run and is populated idempotently: concurrent writers may
// race on the same name but always write the same id, so last writer
// wins with no correctness impact.
type ChannelCache struct {
	mu  sync.RWMutex
	ids map[string]string
}

// NewChannelCache returns an empty channel cache.
func NewChannelCache() *ChannelCache {
	return &ChannelCache{ids: make(map[string]string)}
}

// Get returns the cached id for a channel name.
func (c *ChannelCache) Get(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.ids[name]
	return id, ok
}

// Put records a channel name to id mapping.
func (c *ChannelCache) Put(name, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids[name] = id
}

// Len returns the number of cached entries.
func (c *ChannelCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ids)
}
