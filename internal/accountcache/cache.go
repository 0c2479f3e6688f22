// Package accountcache memoizes account existence lookups so repeated
// verifications of similar payments do not hammer the RPC endpoint.
package accountcache

import (
	"container/list"
	"sync"
	"time"
)

// Cache is an in-memory existence cache with LRU eviction and TTL expiry.
// Short TTLs matter here: an account created after a miss must become
// visible once the entry ages out.
type Cache struct {
	mu          sync.Mutex
	entries     map[string]*entry
	lru         *list.List
	maxSize     int
	ttl         time.Duration
	hits        uint64
	misses      uint64
	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

type entry struct {
	key      string
	exists   bool
	cachedAt time.Time
	element  *list.Element
}

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Size   int    `json:"size"`
}

// New creates an account cache bounded to maxSize entries with the given TTL.
func New(maxSize int, ttl time.Duration) *Cache {
	c := &Cache{
		entries:     make(map[string]*entry),
		lru:         list.New(),
		maxSize:     maxSize,
		ttl:         ttl,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	go c.cleanup()

	return c
}

// Get reports whether the account is known to exist. The second return
// value is false when the address is not cached or the entry has expired.
func (c *Cache) Get(address string) (exists bool, ok bool) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.entries[address]
	if !found || now.Sub(e.cachedAt) > c.ttl {
		c.misses++
		return false, false
	}

	c.lru.MoveToFront(e.element)
	c.hits++
	return e.exists, true
}

// Set records whether the account exists.
func (c *Cache) Set(address string, exists bool) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, found := c.entries[address]; found {
		e.exists = exists
		e.cachedAt = now
		c.lru.MoveToFront(e.element)
		return
	}

	// Evict before adding so the map never exceeds maxSize
	if len(c.entries) >= c.maxSize {
		c.evictLRU()
	}

	e := &entry{
		key:      address,
		exists:   exists,
		cachedAt: now,
	}
	e.element = c.lru.PushFront(e)
	c.entries[address] = e
}

// evictLRU removes the least recently used entry (caller must hold lock).
func (c *Cache) evictLRU() {
	element := c.lru.Back()
	if element == nil {
		return
	}

	e := element.Value.(*entry)
	c.lru.Remove(element)
	delete(c.entries, e.key)
}

// Len reports the number of cached addresses.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns hit and miss counts alongside the current size.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:   c.hits,
		Misses: c.misses,
		Size:   len(c.entries),
	}
}

// cleanup periodically removes expired entries.
func (c *Cache) cleanup() {
	interval := c.ttl
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(c.cleanupDone)

	for {
		select {
		case <-c.stopCleanup:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()

			var stale []*entry
			for _, e := range c.entries {
				if now.Sub(e.cachedAt) > c.ttl {
					stale = append(stale, e)
				}
			}
			for _, e := range stale {
				c.lru.Remove(e.element)
				delete(c.entries, e.key)
			}

			c.mu.Unlock()
		}
	}
}

// Stop gracefully shuts down the cleanup goroutine.
func (c *Cache) Stop() {
	close(c.stopCleanup)
	<-c.cleanupDone
}
