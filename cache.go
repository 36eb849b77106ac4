package semcache

import (
	"context"
	"fmt"
	"time"

	"github.com/apex/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/m-zajac/semcache/analytics"
	"github.com/m-zajac/semcache/normalize"
)

const (
	defaultMaxQueries = 500
	defaultMaxContent = 500
)

// ComputeFunc produces the value for a cache miss.
type ComputeFunc[T any] func(ctx context.Context) (T, error)

// Cache puts a normalized, coalescing cache in front of expensive computations.
//
// A lookup normalizes the raw text, checks the index and, on a miss, runs the computation
// at most once per key no matter how many callers ask for it concurrently.
// Failed computations are not cached.
type Cache[T any] struct {
	index      *Index[T]
	flight     *Coordinator[T]
	normalizer *normalize.Normalizer
	analytics  *analytics.Analytics

	config config
}

// New creates a Cache. Without backend options, both levels are kept in memory.
func New[T any](options ...Option) (*Cache[T], error) {
	// Create an initial config with sane defaults.
	cfg := config{
		ttl:        defaultIndexTTL,
		maxQueries: defaultMaxQueries,
		maxContent: defaultMaxContent,
		logger:     log.Log,
		tracer:     tracenoop.NewTracerProvider().Tracer("semcache"),
	}

	for _, o := range options {
		if err := o(&cfg); err != nil {
			return nil, err
		}
	}

	if cfg.analytics == nil {
		a, err := analytics.New()
		if err != nil {
			return nil, fmt.Errorf("creating analytics: %w", err)
		}
		cfg.analytics = a
	}

	if cfg.normalizer == nil {
		n, err := normalize.New(normalize.WithLogger(cfg.logger))
		if err != nil {
			return nil, fmt.Errorf("creating normalizer: %w", err)
		}
		cfg.normalizer = n
	}

	keys := cfg.indexBackend
	if keys == nil {
		b, err := NewBoundedCache[string](
			WithMaxEntries(cfg.maxQueries),
			WithDefaultTTL(cfg.ttl),
			WithStats(cfg.analytics.Store("index")),
			WithMemoryLogger(cfg.logger),
		)
		if err != nil {
			return nil, fmt.Errorf("creating index store: %w", err)
		}
		keys = b
	}

	var content Backend[ContentEntry[T]]
	if cfg.contentBackend != nil {
		b, ok := cfg.contentBackend.(Backend[ContentEntry[T]])
		if !ok {
			return nil, fmt.Errorf("%w: got %T", ErrBackendType, cfg.contentBackend)
		}
		content = b
	} else {
		b, err := NewBoundedCache[ContentEntry[T]](
			WithMaxEntries(cfg.maxContent),
			WithDefaultTTL(cfg.ttl),
			WithStats(cfg.analytics.Store("content")),
			WithMemoryLogger(cfg.logger),
		)
		if err != nil {
			return nil, fmt.Errorf("creating content store: %w", err)
		}
		content = b
	}

	index, err := NewIndex(keys, content,
		WithIndexTTL(cfg.ttl),
		WithRecorder(cfg.analytics),
		WithIndexLogger(cfg.logger),
	)
	if err != nil {
		return nil, err
	}

	coordOpts := []CoordinatorOption{WithCoordinatorCancelPolicy(cfg.cancelPolicy)}
	if cfg.computeTimeout > 0 {
		coordOpts = append(coordOpts, WithCoordinatorTimeout(cfg.computeTimeout))
	}

	return &Cache[T]{
		index:      index,
		flight:     NewCoordinator[T](coordOpts...),
		normalizer: cfg.normalizer,
		analytics:  cfg.analytics,
		config:     cfg,
	}, nil
}

// Key returns the normalized key used for raw and scope.
func (c *Cache[T]) Key(ctx context.Context, raw, scope string) string {
	return c.normalizer.Normalize(ctx, raw, scope)
}

// LookupOrCompute returns the cached value for raw within scope, or runs compute.
//
// Concurrent callers with equivalent queries share one compute call and get the same value
// or the same error. A caller whose ctx ends stops waiting; whether the computation goes on
// depends on the cancel policy.
func (c *Cache[T]) LookupOrCompute(ctx context.Context, raw, scope string, compute ComputeFunc[T]) (T, error) {
	ctx, span := c.config.tracer.Start(ctx, "semcache.lookup", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	key := c.normalizer.Normalize(ctx, raw, scope)
	span.SetAttributes(attribute.String("cache.key", key))

	if res := c.index.Get(ctx, key); res.Hit() {
		span.SetAttributes(attribute.String("cache.status", StatusHit.String()))
		span.SetStatus(codes.Ok, "")
		return res.Value, nil
	}
	span.SetAttributes(attribute.String("cache.status", StatusMiss.String()))

	logger := c.config.logger.WithField("key", key)
	val, err := c.flight.Wrap(ctx, key, func(ctx context.Context) (T, error) {
		// Another flight may have filled the key between the miss and this call.
		// The lookup was already recorded as a miss.
		if res := c.index.get(ctx, key, false); res.Hit() {
			return res.Value, nil
		}

		start := time.Now()
		v, err := compute(ctx)
		if err != nil {
			logger.WithError(err).Debug("compute failed")
			return v, err
		}
		logger.WithField("duration", time.Since(start).String()).Debug("computed")

		if err := c.index.Set(ctx, key, v); err != nil {
			logger.WithError(err).Warn("storing computed value failed")
		}

		return v, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return val, err
	}
	span.SetStatus(codes.Ok, "")

	return val, nil
}

// Lookup only checks the cache.
func (c *Cache[T]) Lookup(ctx context.Context, raw, scope string) Result[T] {
	return c.index.Get(ctx, c.normalizer.Normalize(ctx, raw, scope))
}

// Store puts value in the cache for raw within scope.
func (c *Cache[T]) Store(ctx context.Context, raw, scope string, value T) error {
	return c.index.Set(ctx, c.normalizer.Normalize(ctx, raw, scope), value)
}

// Invalidate removes the value cached for raw within scope.
func (c *Cache[T]) Invalidate(ctx context.Context, raw, scope string) error {
	return c.index.Delete(ctx, c.normalizer.Normalize(ctx, raw, scope))
}

// Clear removes all cached values.
func (c *Cache[T]) Clear(ctx context.Context) error {
	return c.index.Clear(ctx)
}

// Stats returns the current telemetry snapshot.
func (c *Cache[T]) Stats() analytics.Snapshot {
	return c.analytics.Snapshot()
}

// Analytics returns the telemetry sink.
func (c *Cache[T]) Analytics() *analytics.Analytics {
	return c.analytics
}

// InFlight returns the number of computations currently running.
func (c *Cache[T]) InFlight() int {
	return c.flight.InFlight()
}

// Close stops running computations, waits for them and closes backends that can be closed.
func (c *Cache[T]) Close() {
	c.flight.Close()

	for _, b := range []any{c.index.keys, c.index.content} {
		if cl, ok := b.(interface{ Close() error }); ok {
			if err := cl.Close(); err != nil {
				c.config.logger.WithError(err).Debug("closing backend")
			}
		}
	}
}
