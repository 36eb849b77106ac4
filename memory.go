package semcache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

const (
	defaultCapacity   = 100
	defaultMemoryTTL  = time.Hour
	entryOverhead     = 100
	fallbackValueSize = 2048
)

type memoryConfig struct {
	capacity int
	ttl      time.Duration
	sliding  bool
	stats    StatsSink
	now      func() time.Time
	logger   log.Interface
}

// MemoryOption configures a BoundedCache.
type MemoryOption func(*memoryConfig) error

// WithMaxEntries sets the maximum number of entries.
func WithMaxEntries(n int) MemoryOption {
	return func(c *memoryConfig) error {
		if n <= 0 {
			return ErrInvalidCapacity
		}
		c.capacity = n

		return nil
	}
}

// WithDefaultTTL sets the ttl used when Set is called with ttl <= 0.
func WithDefaultTTL(ttl time.Duration) MemoryOption {
	return func(c *memoryConfig) error {
		if ttl <= 0 {
			return ErrInvalidTTL
		}
		c.ttl = ttl

		return nil
	}
}

// WithSlidingExpiration makes every hit push the expiration back by the entry's full ttl.
func WithSlidingExpiration() MemoryOption {
	return func(c *memoryConfig) error {
		c.sliding = true

		return nil
	}
}

// WithStats forwards evictions and size estimates to s.
func WithStats(s StatsSink) MemoryOption {
	return func(c *memoryConfig) error {
		if s != nil {
			c.stats = s
		}

		return nil
	}
}

// WithClock replaces time.Now. Used in tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(c *memoryConfig) error {
		if now != nil {
			c.now = now
		}

		return nil
	}
}

// WithMemoryLogger sets the logger.
func WithMemoryLogger(l log.Interface) MemoryOption {
	return func(c *memoryConfig) error {
		if l != nil {
			c.logger = l
		}

		return nil
	}
}

// BoundedCache is an in-process Backend with a fixed capacity, per-entry ttl and LRU eviction.
//
// Expired entries are dropped lazily, when they are accessed.
type BoundedCache[V any] struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, *CacheEntry[V]]

	config memoryConfig

	// Running size accounting, kept in sync with lru.
	totalBytes int64
}

var _ Backend[string] = &BoundedCache[string]{}

// NewBoundedCache creates a BoundedCache. Defaults: 100 entries, 1h ttl, fixed expiration.
func NewBoundedCache[V any](options ...MemoryOption) (*BoundedCache[V], error) {
	cfg := memoryConfig{
		capacity: defaultCapacity,
		ttl:      defaultMemoryTTL,
		stats:    nopStats{},
		now:      time.Now,
		logger:   log.Log,
	}
	for _, o := range options {
		if err := o(&cfg); err != nil {
			return nil, err
		}
	}

	l, err := simplelru.NewLRU[string, *CacheEntry[V]](cfg.capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("creating lru: %w", err)
	}

	c := &BoundedCache[V]{
		lru:    l,
		config: cfg,
	}
	cfg.stats.UpdateSizeStats(0, 0)

	return c, nil
}

// Get returns a copy of the value stored under key, or nil if it is absent or expired.
func (c *BoundedCache[V]) Get(_ context.Context, key string) (*V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.config.now()

	e, ok := c.lru.Peek(key)
	if !ok {
		return nil, nil
	}
	if e.IsExpired(now) {
		c.removeLocked(key, e)
		c.reportLocked()
		return nil, nil
	}

	// Get moves the entry to the most recently used position.
	c.lru.Get(key)
	e.touch(now, c.config.sliding)

	v := e.Value
	return &v, nil
}

// Set stores value under key. A ttl <= 0 means the default ttl.
func (c *BoundedCache[V]) Set(_ context.Context, key string, value V, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.config.ttl
	}
	size := int64(2*len(key)+entryOverhead) + c.estimateSize(key, value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.lru.Peek(key); ok {
		c.totalBytes -= old.Size
	} else if c.lru.Len() >= c.config.capacity {
		if _, evicted, ok := c.lru.RemoveOldest(); ok {
			c.totalBytes -= evicted.Size
			c.config.stats.RecordEviction()
		}
	}

	c.lru.Add(key, newCacheEntry(value, c.config.now(), ttl, size))
	c.totalBytes += size
	c.reportLocked()

	return nil
}

// Delete removes key. Missing keys are ignored.
func (c *BoundedCache[V]) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.lru.Peek(key); ok {
		c.removeLocked(key, e)
		c.reportLocked()
	}

	return nil
}

// Clear removes all entries.
func (c *BoundedCache[V]) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Purge()
	c.totalBytes = 0
	c.reportLocked()

	return nil
}

// Peek returns a snapshot of the entry stored under key without refreshing it.
// Expired entries are returned as well.
func (c *BoundedCache[V]) Peek(key string) (CacheEntry[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Peek(key)
	if !ok {
		return CacheEntry[V]{}, false
	}

	return *e, true
}

// Len returns the number of stored entries, including expired ones not yet dropped.
func (c *BoundedCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lru.Len()
}

// EstimatedBytes returns the current size estimate.
func (c *BoundedCache[V]) EstimatedBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.totalBytes
}

func (c *BoundedCache[V]) removeLocked(key string, e *CacheEntry[V]) {
	c.lru.Remove(key)
	c.totalBytes -= e.Size
}

func (c *BoundedCache[V]) reportLocked() {
	c.config.stats.UpdateSizeStats(c.lru.Len(), c.totalBytes)
}

// estimateSize approximates the serialized size of value.
// Values that can't be encoded count as a fixed size.
func (c *BoundedCache[V]) estimateSize(key string, value V) (n int64) {
	defer func() {
		if r := recover(); r != nil {
			c.config.logger.WithField("key", key).Debugf("size estimation panicked: %v", r)
			n = fallbackValueSize
		}
	}()

	b, err := json.Marshal(value)
	if err != nil {
		c.config.logger.WithField("key", key).WithError(err).Debug("size estimation failed, using fallback size")
		return fallbackValueSize
	}

	return int64(len(b))
}
