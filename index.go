package semcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
)

const defaultIndexTTL = 15 * time.Minute

// Status describes the outcome of a lookup.
type Status int

const (
	StatusMiss Status = iota
	StatusHit
	// StatusStale is a miss caused by an index entry whose content was gone.
	StatusStale
)

func (s Status) String() string {
	switch s {
	case StatusHit:
		return "hit"
	case StatusStale:
		return "stale"
	default:
		return "miss"
	}
}

// Result is the outcome of an Index lookup.
type Result[T any] struct {
	Value    T
	Status   Status
	HitCount int
	// Age is the time since the content was computed.
	Age time.Duration
}

// Hit reports whether the lookup found a value.
func (r Result[T]) Hit() bool {
	return r.Status == StatusHit
}

type indexConfig struct {
	ttl      time.Duration
	recorder Recorder
	logger   log.Interface
	now      func() time.Time
}

// IndexOption configures an Index.
type IndexOption func(*indexConfig) error

// WithIndexTTL sets the ttl of both index and content entries.
func WithIndexTTL(ttl time.Duration) IndexOption {
	return func(c *indexConfig) error {
		if ttl <= 0 {
			return ErrInvalidTTL
		}
		c.ttl = ttl

		return nil
	}
}

// WithRecorder reports hits and misses to r.
func WithRecorder(r Recorder) IndexOption {
	return func(c *indexConfig) error {
		if r != nil {
			c.recorder = r
		}

		return nil
	}
}

// WithIndexLogger sets the logger.
func WithIndexLogger(l log.Interface) IndexOption {
	return func(c *indexConfig) error {
		if l != nil {
			c.logger = l
		}

		return nil
	}
}

// WithIndexClock replaces time.Now. Used in tests.
func WithIndexClock(now func() time.Time) IndexOption {
	return func(c *indexConfig) error {
		if now != nil {
			c.now = now
		}

		return nil
	}
}

// Index is a two-level cache: normalized key -> content hash -> content.
//
// Keys describe what was asked, content hashes name what was computed. Every lookup is
// serialized by a single mutex, so the hit count update and both ttl refreshes are
// observed atomically.
type Index[T any] struct {
	mu      sync.Mutex
	keys    Backend[string]
	content Backend[ContentEntry[T]]
	config  indexConfig
}

// NewIndex creates an Index on top of the given backends.
func NewIndex[T any](keys Backend[string], content Backend[ContentEntry[T]], options ...IndexOption) (*Index[T], error) {
	if keys == nil || content == nil {
		return nil, errors.New("semcache: index backends must not be nil")
	}

	cfg := indexConfig{
		ttl:      defaultIndexTTL,
		recorder: nopStats{},
		logger:   log.Log,
		now:      time.Now,
	}
	for _, o := range options {
		if err := o(&cfg); err != nil {
			return nil, err
		}
	}

	return &Index[T]{
		keys:    keys,
		content: content,
		config:  cfg,
	}, nil
}

// Get looks up a normalized key. Backend failures are reported as misses.
func (idx *Index[T]) Get(ctx context.Context, key string) Result[T] {
	return idx.get(ctx, key, true)
}

// get looks up key. With record unset, neither outcome reaches the recorder.
func (idx *Index[T]) get(ctx context.Context, key string, record bool) Result[T] {
	start := idx.config.now()

	idx.mu.Lock()
	res := idx.getLocked(ctx, key)
	idx.mu.Unlock()

	if !record {
		return res
	}

	latency := idx.config.now().Sub(start)
	if res.Hit() {
		idx.config.recorder.RecordHit(key, latency)
	} else {
		idx.config.recorder.RecordMiss(key, latency)
	}

	return res
}

func (idx *Index[T]) getLocked(ctx context.Context, key string) Result[T] {
	logger := idx.config.logger.WithField("key", key)

	hash, err := idx.keys.Get(ctx, key)
	if err != nil {
		logger.WithError(err).Warn("index lookup failed")
		return Result[T]{Status: StatusMiss}
	}
	if hash == nil {
		return Result[T]{Status: StatusMiss}
	}

	entry, err := idx.content.Get(ctx, *hash)
	if err != nil {
		logger.WithError(err).Warn("content lookup failed")
		return Result[T]{Status: StatusMiss}
	}
	if entry == nil {
		if err := idx.keys.Delete(ctx, key); err != nil {
			logger.WithError(err).Warn("removing stale index entry failed")
		}
		logger.WithField("hash", *hash).Debug("stale index entry removed")
		return Result[T]{Status: StatusStale}
	}

	entry.HitCount++
	if err := idx.content.Set(ctx, *hash, *entry, idx.config.ttl); err != nil {
		logger.WithError(err).Warn("refreshing content entry failed")
	}
	if err := idx.keys.Set(ctx, key, *hash, idx.config.ttl); err != nil {
		logger.WithError(err).Warn("refreshing index entry failed")
	}

	return Result[T]{
		Value:    entry.Value,
		Status:   StatusHit,
		HitCount: entry.HitCount,
		Age:      idx.config.now().Sub(entry.CreatedAt),
	}
}

// Set stores value under a normalized key.
func (idx *Index[T]) Set(ctx context.Context, key string, value T) error {
	hash := ContentHash(key)
	entry := ContentEntry[T]{
		Query:     key,
		Hash:      hash,
		Value:     value,
		CreatedAt: idx.config.now(),
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := idx.content.Set(ctx, hash, entry, idx.config.ttl); err != nil {
		return fmt.Errorf("storing content: %w", err)
	}
	if err := idx.keys.Set(ctx, key, hash, idx.config.ttl); err != nil {
		return fmt.Errorf("storing index entry: %w", err)
	}

	return nil
}

// Delete removes a normalized key and the content it points to.
func (idx *Index[T]) Delete(ctx context.Context, key string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	hash, err := idx.keys.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("reading index entry: %w", err)
	}
	if err := idx.keys.Delete(ctx, key); err != nil {
		return fmt.Errorf("deleting index entry: %w", err)
	}
	if hash != nil {
		if err := idx.content.Delete(ctx, *hash); err != nil {
			return fmt.Errorf("deleting content: %w", err)
		}
	}

	return nil
}

// Clear removes everything from both levels.
func (idx *Index[T]) Clear(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	return errors.Join(idx.keys.Clear(ctx), idx.content.Clear(ctx))
}
