package catalog

import (
	"context"
	"sync"
	"time"
)

// mapCache is a process-local CacheBackend
type mapCache struct {
	mu      sync.Mutex
	entries map[string]mapEntry
	now     func() time.Time
}

type mapEntry struct {
	value   []byte
	expires time.Time
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string]mapEntry), now: time.Now}
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.now().After(e.expires) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = mapEntry{value: value, expires: c.now().Add(ttl)}
	return nil
}
