package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Reference sizing of the process cache.
const (
	DefaultMaxEntries = 500
	DefaultTTL        = 60 * time.Second
)

// Config controls capacity, freshness and maintenance.
//
// MaxEntries <= 0 disables capacity eviction. DefaultTTL <= 0 makes entries
// written without an explicit TTL live until evicted. SweepInterval <= 0
// disables the background sweeper; expiry is still enforced on access.
type Config struct {
	MaxEntries    int
	DefaultTTL    time.Duration
	SweepInterval time.Duration
	Clock         func() time.Time
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Entries     int
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Expirations uint64
}

// LRU is a size- and time-bounded cache with least-recently-used eviction.
// The zero value is not usable; construct with NewLRU.
type LRU[V any] struct {
	mu         sync.Mutex
	maxEntries int
	defaultTTL time.Duration
	now        func() time.Time
	items      map[string]*list.Element
	order      *list.List // front = MRU, back = LRU

	hits        atomic.Uint64
	misses      atomic.Uint64
	evictions   atomic.Uint64
	expirations atomic.Uint64

	sweepEvery time.Duration
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
	hasExpiry bool
}

func (e *entry[V]) expired(now time.Time) bool {
	return e.hasExpiry && !e.expiresAt.After(now)
}

// NewLRU builds a cache and starts its sweeper when configured. Call Close to
// stop the sweeper.
func NewLRU[V any](cfg Config) *LRU[V] {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	c := &LRU[V]{
		maxEntries: cfg.MaxEntries,
		defaultTTL: cfg.DefaultTTL,
		now:        clock,
		items:      make(map[string]*list.Element),
		order:      list.New(),
		sweepEvery: cfg.SweepInterval,
	}
	if c.sweepEvery > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		c.wg.Add(1)
		go c.sweepLoop(ctx)
	}
	return c
}

// Get returns the live value for key and marks it most recently used.
func (c *LRU[V]) Get(key string) (V, bool) {
	var zero V
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		return zero, false
	}
	e := el.Value.(*entry[V])
	if e.expired(c.now()) {
		c.removeLocked(el)
		c.expirations.Add(1)
		c.misses.Add(1)
		return zero, false
	}
	c.order.MoveToFront(el)
	c.hits.Add(1)
	return e.value, true
}

// Set stores value under key with the default TTL.
func (c *LRU[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, 0)
}

// SetWithTTL stores value under key. ttl <= 0 selects the default TTL.
func (c *LRU[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := c.now()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[V])
		e.value = value
		e.expiresAt = expiresAt
		e.hasExpiry = ttl > 0
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&entry[V]{key: key, value: value, expiresAt: expiresAt, hasExpiry: ttl > 0})
	c.items[key] = el
	c.evictLocked(now)
}

// Delete removes key. Missing keys are ignored.
func (c *LRU[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
}

// peek returns a live value without touching recency or counters.
func (c *LRU[V]) peek(key string) (V, bool) {
	var zero V
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return zero, false
	}
	e := el.Value.(*entry[V])
	if e.expired(c.now()) {
		return zero, false
	}
	return e.value, true
}

// Has reports whether key holds a live value without touching its recency.
func (c *LRU[V]) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return false
	}
	return !el.Value.(*entry[V]).expired(c.now())
}

// Reset drops every entry.
func (c *LRU[V]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
}

// Keys returns live keys, most recently used first. Diagnostics only.
func (c *LRU[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	out := make([]string, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry[V])
		if !e.expired(now) {
			out = append(out, e.key)
		}
	}
	return out
}

// Len returns the number of live entries.
func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for _, el := range c.items {
		if !el.Value.(*entry[V]).expired(now) {
			n++
		}
	}
	return n
}

// Stats snapshots the counters.
func (c *LRU[V]) Stats() Stats {
	return Stats{
		Entries:     c.Len(),
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Evictions:   c.evictions.Load(),
		Expirations: c.expirations.Load(),
	}
}

// Close stops the sweeper. It is safe to call more than once.
func (c *LRU[V]) Close() {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.wg.Wait()
	})
}

// evictLocked enforces capacity. Expired entries are reclaimed before any
// live entry is evicted so they never push out fresher data.
func (c *LRU[V]) evictLocked(now time.Time) {
	if c.maxEntries <= 0 || len(c.items) <= c.maxEntries {
		return
	}
	c.expireLocked(now)
	for len(c.items) > c.maxEntries {
		el := c.order.Back()
		if el == nil {
			return
		}
		c.removeLocked(el)
		c.evictions.Add(1)
	}
}

func (c *LRU[V]) expireLocked(now time.Time) int {
	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*entry[V]).expired(now) {
			c.removeLocked(el)
			removed++
		}
		el = prev
	}
	if removed > 0 {
		c.expirations.Add(uint64(removed))
	}
	return removed
}

func (c *LRU[V]) removeLocked(el *list.Element) {
	delete(c.items, el.Value.(*entry[V]).key)
	c.order.Remove(el)
}
