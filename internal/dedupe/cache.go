// ABOUTME: Thread-safe TTL cache for tracking seen correlation keys.
// ABOUTME: Redelivery is at-least-once; consumers use this to stay idempotent.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// entry pairs a key's insertion time with its position in the age list.
type entry struct {
	addedAt time.Time
	element *list.Element
}

// Cache remembers which correlation keys have been consumed. The redelivery
// sweep can present the same envelope twice when a reply is lost in transit,
// so event consumers check here before acting.
//
// The cache is TTL-based and size-bounded. Expired entries are reclaimed
// lazily on access and opportunistically on insertion; there is no
// background goroutine to manage.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // keys in insertion order, oldest at front
	ttl     time.Duration
	maxSize int
}

// New creates a cache that forgets keys after ttl and holds at most maxSize
// entries, evicting the oldest beyond that.
func New(ttl time.Duration, maxSize int) *Cache {
	return &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Seen atomically reports whether key was already consumed and, if not,
// marks it. The single-call form avoids a check/mark race between
// concurrent consumers of the same redelivered envelope.
func (c *Cache) Seen(key string) bool {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[key]; ok {
		if now.Sub(e.addedAt) < c.ttl {
			return true
		}
		// Expired: treat as new and refresh in place.
		e.addedAt = now
		c.order.MoveToBack(e.element)
		return false
	}

	c.expireFront(now)
	if len(c.seen) >= c.maxSize {
		c.removeFront()
	}

	c.seen[key] = &entry{
		addedAt: now,
		element: c.order.PushBack(key),
	}
	return false
}

// Forget drops a key so it can be consumed again. Used by consumers that
// failed processing and want the next redelivery to retry.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[key]; ok {
		c.order.Remove(e.element)
		delete(c.seen, key)
	}
}

// Len returns the current number of tracked keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// expireFront reclaims expired entries from the front of the age list.
// Entries are age-ordered, so this stops at the first live one.
// Caller must hold mu.
func (c *Cache) expireFront(now time.Time) {
	for {
		front := c.order.Front()
		if front == nil {
			return
		}
		key := front.Value.(string)
		if now.Sub(c.seen[key].addedAt) < c.ttl {
			return
		}
		c.order.Remove(front)
		delete(c.seen, key)
	}
}

// removeFront evicts the oldest entry. Caller must hold mu.
func (c *Cache) removeFront() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}
