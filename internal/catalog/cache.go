// SPDX-License-Identifier: MIT

package catalog

import (
	"sync"
	"time"
)

// responseCache is a bounded in-process cache keyed by request URL. Entries
// expire after a fixed TTL; on overflow the oldest insertion is evicted.
type responseCache struct {
	mu       sync.Mutex
	entries  map[string]cacheEntry
	order    []string // insertion order, oldest first
	ttl      time.Duration
	capacity int
}

type cacheEntry struct {
	data      []byte
	expiresAt time.Time
}

func newResponseCache(ttl time.Duration, capacity int) *responseCache {
	return &responseCache{
		entries:  make(map[string]cacheEntry, capacity),
		ttl:      ttl,
		capacity: capacity,
	}
}

func (c *responseCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.remove(key)
		return nil, false
	}
	return entry.data, true
}

func (c *responseCache) set(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		c.remove(key)
	}
	// Prefer dropping an expired entry over a live one.
	if len(c.entries) >= c.capacity {
		c.evictOne()
	}
	c.entries[key] = cacheEntry{data: data, expiresAt: time.Now().Add(c.ttl)}
	c.order = append(c.order, key)
}

// evictOne removes the first expired entry, or the oldest insertion when
// none has expired. Caller holds the lock.
func (c *responseCache) evictOne() {
	now := time.Now()
	for _, key := range c.order {
		if entry, ok := c.entries[key]; ok && now.After(entry.expiresAt) {
			c.remove(key)
			return
		}
	}
	if len(c.order) > 0 {
		c.remove(c.order[0])
	}
}

// remove deletes a key from both structures. Caller holds the lock.
func (c *responseCache) remove(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func (c *responseCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *responseCache) clear() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry, c.capacity)
	c.order = nil
	c.mu.Unlock()
}
