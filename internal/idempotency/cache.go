// Package idempotency replays responses for requests that repeat an
// Idempotency-Key header, so client retries of provider invocations and
// feedback writes are not billed or counted twice.
package idempotency

import (
	"sync"
	"time"
)

// Entry is a cached HTTP response.
type Entry struct {
	Body       []byte
	StatusCode int
	Header     map[string]string
	CreatedAt  time.Time
}

// Cache is a TTL-bounded, size-limited in-memory response cache.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	stop       chan struct{}
	stopOnce   sync.Once
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a Cache that expires entries after ttl and evicts the oldest
// entry when maxEntries is reached. A background goroutine prunes expired
// entries every ttl/2 until Stop is called.
func New(ttl time.Duration, maxEntries int, opts ...Option) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	c := &Cache{
		entries:    make(map[string]*Entry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	go c.cleanupLoop()
	return c
}

// Get returns the live entry for key.
func (c *Cache) Get(key string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.CreatedAt) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e, true
}

// Set stores e under key, evicting the oldest entry when full.
func (c *Cache) Set(key string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	e.CreatedAt = c.now()
	c.entries[key] = &e
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stop terminates the cleanup goroutine. It is safe to call more than once.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache) cleanupLoop() {
	interval := c.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Prune()
		case <-c.stop:
			return
		}
	}
}

// Prune removes expired entries.
func (c *Cache) Prune() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if now.Sub(e.CreatedAt) > c.ttl {
			delete(c.entries, k)
		}
	}
}

func (c *Cache) evictOldestLocked() {
	var (
		oldestKey  string
		oldestTime time.Time
		found      bool
	)
	for k, e := range c.entries {
		if !found || e.CreatedAt.Before(oldestTime) {
			oldestKey, oldestTime, found = k, e.CreatedAt, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
	}
}
