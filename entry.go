package semcache

import "time"

// CacheEntry is a single value held by a BoundedCache.
type CacheEntry[V any] struct {
	Value        V
	InsertedAt   time.Time
	ExpiresAt    time.Time
	LastAccessed time.Time
	HitCount     int
	// TTL is the duration applied when the entry was set. Sliding expiration reuses it.
	TTL time.Duration
	// Size is the estimated footprint of the entry in bytes.
	Size int64
}

func newCacheEntry[V any](value V, now time.Time, ttl time.Duration, size int64) *CacheEntry[V] {
	return &CacheEntry[V]{
		Value:        value,
		InsertedAt:   now,
		ExpiresAt:    now.Add(ttl),
		LastAccessed: now,
		TTL:          ttl,
		Size:         size,
	}
}

// IsExpired reports whether the entry is past its expiration time at the given instant.
func (e *CacheEntry[V]) IsExpired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// touch registers a hit. The remaining ttl only grows here.
func (e *CacheEntry[V]) touch(now time.Time, sliding bool) {
	e.LastAccessed = now
	e.HitCount++
	if sliding {
		if exp := now.Add(e.TTL); exp.After(e.ExpiresAt) {
			e.ExpiresAt = exp
		}
	}
}

// ContentEntry is the payload stored by an Index under a content hash.
//
// Fields are JSON-tagged so that network backends can serialize it.
type ContentEntry[T any] struct {
	Query     string    `json:"query"`
	Hash      string    `json:"hash"`
	Value     T         `json:"value"`
	CreatedAt time.Time `json:"createdAt"`
	HitCount  int       `json:"hitCount"`
}
