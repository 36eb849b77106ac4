package semcache

import (
	"context"
	"time"
)

// Backend is the storage contract used by Index.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Get returns (nil, nil) on a miss. An error means the backend could not answer,
//     and callers treat it as a miss.
//   - Set with ttl <= 0 uses the backend's default ttl.
//   - Delete is idempotent.
type Backend[V any] interface {
	Get(ctx context.Context, key string) (*V, error)
	Set(ctx context.Context, key string, value V, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// StatsSink receives size accounting from a BoundedCache.
// analytics.Analytics and analytics.StoreStats implement it.
type StatsSink interface {
	RecordEviction()
	UpdateSizeStats(entryCount int, estimatedBytes int64)
}

// Recorder receives lookup outcomes from an Index.
type Recorder interface {
	RecordHit(key string, latency time.Duration)
	RecordMiss(key string, latency time.Duration)
}

type nopStats struct{}

func (nopStats) RecordEviction()                  {}
func (nopStats) UpdateSizeStats(int, int64)       {}
func (nopStats) RecordHit(string, time.Duration)  {}
func (nopStats) RecordMiss(string, time.Duration) {}
