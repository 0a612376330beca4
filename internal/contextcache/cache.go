// Package contextcache is a bounded, TTL'd, LRU cache for document
// bodies. All operations are safe for concurrent use; composed operations
// take the lock once per primitive and never nested, so there are no
// deadlocks across Get/Set chains.
package contextcache

import (
	"container/list"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultMaxSize bounds the cache when no size is configured.
const DefaultMaxSize = 256

// DefaultTTL applies to entries stored without an explicit TTL.
const DefaultTTL = 30 * time.Minute

type entry struct {
	key         string
	value       string
	createdAt   time.Time
	ttl         time.Duration
	accessCount int
}

func (e *entry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.createdAt) > e.ttl
}

// Statistics is a point-in-time snapshot of cache counters.
type Statistics struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Evictions   int64   `json:"evictions"`
	Expirations int64   `json:"expirations"`
	Size        int     `json:"size"`
	MaxSize     int     `json:"max_size"`
	MemoryBytes int64   `json:"memory_bytes"`
	HitRate     float64 `json:"hit_rate"`
}

// Cache is the LRU store. The zero value is not usable; use New.
type Cache struct {
	mu         sync.Mutex
	maxSize    int
	defaultTTL time.Duration
	entries    map[string]*list.Element
	order      *list.List // front = most recently used

	hits        int64
	misses      int64
	evictions   int64
	expirations int64
	memoryBytes int64

	group singleflight.Group
}

// New builds a cache. Non-positive maxSize or ttl fall back to defaults.
func New(maxSize int, defaultTTL time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Cache{
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
	}
}

// Get returns the cached value. Expired entries are removed and count as
// misses; hits refresh LRU order.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return "", false
	}
	e := el.Value.(*entry)
	if e.expired(time.Now()) {
		c.removeLocked(el)
		c.expirations++
		c.misses++
		return "", false
	}

	c.order.MoveToFront(el)
	e.accessCount++
	c.hits++
	return e.value, true
}

// Set stores a value. ttl <= 0 uses the default. The least recently used
// entry is evicted when the cache is full.
func (c *Cache) Set(key, value string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry)
		c.memoryBytes += int64(len(value)) - int64(len(e.value))
		e.value = value
		e.createdAt = time.Now()
		e.ttl = ttl
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.maxSize {
		if back := c.order.Back(); back != nil {
			c.removeLocked(back)
			c.evictions++
		}
	}

	e := &entry{key: key, value: value, createdAt: time.Now(), ttl: ttl}
	c.entries[key] = c.order.PushFront(e)
	c.memoryBytes += int64(len(key) + len(value))
}

// GetOrLoad returns the cached value or runs loader to fill it.
// Concurrent loads for the same key are de-duplicated; only one loader
// runs while the rest wait for its result. Loader errors are not cached.
func (c *Cache) GetOrLoad(key string, loader func() (string, error), ttl time.Duration) (string, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Another waiter may have filled the key while we queued.
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		value, err := loader()
		if err != nil {
			return "", err
		}
		c.Set(key, value, ttl)
		return value, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate removes one key. Returns whether it was present.
func (c *Cache) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return false
	}
	c.removeLocked(el)
	return true
}

// Clear drops every entry. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.memoryBytes = 0
}

// HasKey reports whether key is present and unexpired, without touching
// LRU order or counters.
func (c *Cache) HasKey(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return false
	}
	if el.Value.(*entry).expired(time.Now()) {
		c.removeLocked(el)
		c.expirations++
		return false
	}
	return true
}

// Keys returns the present unexpired keys, most recently used first.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	keys := make([]string, 0, c.order.Len())
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*entry)
		if e.expired(now) {
			c.removeLocked(el)
			c.expirations++
		} else {
			keys = append(keys, e.key)
		}
		el = next
	}
	return keys
}

// Statistics snapshots the counters under the same lock the primitives
// use.
func (c *Cache) Statistics() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Statistics{
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		Size:        c.order.Len(),
		MaxSize:     c.maxSize,
		MemoryBytes: c.memoryBytes,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// removeLocked unlinks an element; the caller holds the lock.
func (c *Cache) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	delete(c.entries, e.key)
	c.order.Remove(el)
	c.memoryBytes -= int64(len(e.key) + len(e.value))
}
