// internal/cache/lru.go
//
// Small generic LRU with per-entry expiry, used for the per-tenant
// chat-list cache.  Safe for concurrent use; the clock is injectable so
// tests can step past a TTL without sleeping.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Cache is the get/set/TTL abstraction handlers depend on.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, val V)
	Delete(key K)
}

// LRU is a least-recently-used cache whose entries also expire after ttl.
// A zero ttl means entries never expire.
type LRU[K comparable, V any] struct {
	mu   sync.Mutex
	cap  int
	ttl  time.Duration
	now  func() time.Time
	ll   *list.List
	dict map[K]*list.Element
}

type entry[K comparable, V any] struct {
	key     K
	val     V
	expires time.Time
}

// New returns an LRU with the given capacity and ttl.  Panics on cap < 1.
func New[K comparable, V any](capacity int, ttl time.Duration) *LRU[K, V] {
	if capacity < 1 {
		panic("cache: capacity must be ≥1")
	}
	return &LRU[K, V]{
		cap:  capacity,
		ttl:  ttl,
		now:  time.Now,
		ll:   list.New(),
		dict: make(map[K]*list.Element, capacity),
	}
}

// WithClock swaps the time source.  Call before first use.
func (c *LRU[K, V]) WithClock(now func() time.Time) *LRU[K, V] {
	c.now = now
	return c
}

// Get retrieves a live value and marks it MRU.  Expired entries are
// evicted on the way.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	ele, hit := c.dict[key]
	if !hit {
		return zero, false
	}
	e := ele.Value.(*entry[K, V])
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		c.removeElement(ele)
		return zero, false
	}
	c.ll.MoveToFront(ele)
	return e.val, true
}

// Set inserts or updates a value and restarts its ttl.
func (c *LRU[K, V]) Set(key K, val V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if c.ttl > 0 {
		expires = c.now().Add(c.ttl)
	}
	if ele, hit := c.dict[key]; hit {
		ele.Value = &entry[K, V]{key, val, expires}
		c.ll.MoveToFront(ele)
		return
	}
	ele := c.ll.PushFront(&entry[K, V]{key, val, expires})
	c.dict[key] = ele
	if c.ll.Len() > c.cap {
		c.removeElement(c.ll.Back())
	}
}

// Delete drops key if present.
func (c *LRU[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ele, hit := c.dict[key]; hit {
		c.removeElement(ele)
	}
}

// Len reports current size, expired entries included until touched.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *LRU[K, V]) removeElement(ele *list.Element) {
	c.ll.Remove(ele)
	delete(c.dict, ele.Value.(*entry[K, V]).key)
}
