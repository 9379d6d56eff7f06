// ABOUTME: Thread-safe TTL cache remembering recently seen idempotency keys
// ABOUTME: Reading ingestion uses it to acknowledge retried batches without storing them twice

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// DefaultMaxKeys bounds the cache when New is given a non-positive size.
const DefaultMaxKeys = 10_000

const sweepInterval = time.Minute

type entry struct {
	seenAt  time.Time
	element *list.Element
}

// Cache records keys for a TTL window, evicting the oldest key once maxKeys
// is reached. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	keys    map[string]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxKeys int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache and starts its background sweep. Call Close to stop it.
func New(ttl time.Duration, maxKeys int) *Cache {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	c := &Cache{
		keys:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxKeys: maxKeys,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Key builds the cache key for an idempotency key scoped to a sensor system.
func Key(sensorSystemID, idempotencyKey string) string {
	return sensorSystemID + ":" + idempotencyKey
}

// Seen reports whether key was recorded within the TTL. An unseen or expired
// key is recorded and false is returned; check and record happen under one lock.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.keys[key]; ok {
		if now.Sub(e.seenAt) < c.ttl {
			return true
		}
		c.order.Remove(e.element)
		delete(c.keys, key)
	}

	if len(c.keys) >= c.maxKeys {
		c.evictOldest()
	}
	c.keys[key] = &entry{seenAt: now, element: c.order.PushBack(key)}
	return false
}

// Forget drops key so a failed batch can be retried with the same key.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.keys[key]; ok {
		c.order.Remove(e.element)
		delete(c.keys, key)
	}
}

// Len returns the number of keys held, including expired ones not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.keys)
}

// Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.keys, key)
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep removes expired keys. Keys are ordered by insertion, so it stops at
// the first live one.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key, _ := front.Value.(string)
		if now.Sub(c.keys[key].seenAt) < c.ttl {
			return
		}
		c.order.Remove(front)
		delete(c.keys, key)
	}
}

// Close stops the background sweep. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
