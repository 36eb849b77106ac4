package semcache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m-zajac/semcache"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// statsRecorder implements StatsSink and Recorder.
type statsRecorder struct {
	mu        sync.Mutex
	evictions int
	entries   int
	bytes     int64
	hits      []string
	misses    []string
}

func (s *statsRecorder) RecordEviction() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictions++
}

func (s *statsRecorder) UpdateSizeStats(entryCount int, estimatedBytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = entryCount
	s.bytes = estimatedBytes
}

func (s *statsRecorder) RecordHit(key string, _ time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hits = append(s.hits, key)
}

func (s *statsRecorder) RecordMiss(key string, _ time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.misses = append(s.misses, key)
}

func (s *statsRecorder) counts() (hits, misses int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.hits), len(s.misses)
}

var errBackend = errors.New("backend unavailable")

// failingBackend fails every operation.
type failingBackend[V any] struct{}

func (failingBackend[V]) Get(context.Context, string) (*V, error) {
	return nil, errBackend
}

func (failingBackend[V]) Set(context.Context, string, V, time.Duration) error {
	return errBackend
}

func (failingBackend[V]) Delete(context.Context, string) error {
	return errBackend
}

func (failingBackend[V]) Clear(context.Context) error {
	return errBackend
}

// missFirstBackend reports a miss on the first Get and then serves the wrapped backend.
type missFirstBackend[V any] struct {
	semcache.Backend[V]
	gets atomic.Int32
}

func (b *missFirstBackend[V]) Get(ctx context.Context, key string) (*V, error) {
	if b.gets.Add(1) == 1 {
		return nil, nil
	}

	return b.Backend.Get(ctx, key)
}
