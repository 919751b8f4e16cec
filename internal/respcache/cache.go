// ABOUTME: Thread-safe TTL cache of rendered GET responses, bounded by entry count.
// ABOUTME: Entries are evicted oldest-first and the whole cache is purged on mutation.

package respcache

import (
	"container/list"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Entry is a cached response.
type Entry struct {
	Status      int
	ContentType string
	Body        []byte
}

type cacheEntry struct {
	stored  time.Time
	element *list.Element
	value   Entry
}

// Cache holds responses keyed by request URI. Uses a doubly-linked list in
// insertion order for O(1) eviction.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	order   *list.List // keys, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
	gen     uint64 // bumped by Purge

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a cache. A background goroutine removes expired entries every
// sweepInterval; Close stops it.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 500
	}
	c := &Cache{
		entries: make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup(sweepInterval(ttl))
	return c
}

func sweepInterval(ttl time.Duration) time.Duration {
	if ttl > 0 && ttl < time.Minute {
		return ttl
	}
	return time.Minute
}

// Get returns the cached entry for key if present and fresh.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || time.Since(e.stored) >= c.ttl {
		c.misses.Add(1)
		return Entry{}, false
	}
	c.hits.Add(1)
	return e.value, true
}

// Set stores value under key, evicting the oldest entry when full.
func (c *Cache) Set(key string, value Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(key, value)
}

// generation returns the current purge generation.
func (c *Cache) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// setIfCurrent stores value only if no Purge happened since gen was read.
// A response rendered before a write must not outlive that write.
func (c *Cache) setIfCurrent(gen uint64, key string, value Entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.set(key, value)
	return true
}

// set must be called with mu held.
func (c *Cache) set(key string, value Entry) {
	now := time.Now()
	if e, exists := c.entries[key]; exists {
		e.stored = now
		e.value = value
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.entries[key] = &cacheEntry{stored: now, element: elem, value: value}
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
	c.order.Init()
	c.gen++
}

// Len returns the number of stored entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns hit and miss counts since creation.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// evictOldest must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
}

func (c *Cache) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.entries {
		if now.Sub(e.stored) >= c.ttl {
			c.order.Remove(e.element)
			delete(c.entries, key)
		}
	}
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}

// isMutation reports whether a request method changes state.
func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
