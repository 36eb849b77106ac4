package semcache

import (
	"errors"
	"time"

	"github.com/apex/log"
	"go.opentelemetry.io/otel/trace"

	"github.com/m-zajac/semcache/analytics"
	"github.com/m-zajac/semcache/normalize"
)

type config struct {
	ttl            time.Duration
	maxQueries     int
	maxContent     int
	indexBackend   Backend[string]
	contentBackend any // Backend[ContentEntry[T]], checked in New.
	normalizer     *normalize.Normalizer
	analytics      *analytics.Analytics
	logger         log.Interface
	tracer         trace.Tracer
	cancelPolicy   CancelPolicy
	computeTimeout time.Duration
}

// Option allows to configure cache settings.
type Option func(*config) error

// WithTTL sets the ttl of cached results. Every hit restarts it.
func WithTTL(ttl time.Duration) Option {
	return func(c *config) error {
		if ttl <= 0 {
			return ErrInvalidTTL
		}
		c.ttl = ttl

		return nil
	}
}

// WithCapacity sets the sizes of the default in-memory index and content stores.
func WithCapacity(maxQueries, maxContent int) Option {
	return func(c *config) error {
		if maxQueries <= 0 || maxContent <= 0 {
			return ErrInvalidCapacity
		}
		c.maxQueries = maxQueries
		c.maxContent = maxContent

		return nil
	}
}

// WithIndexBackend replaces the default in-memory index store.
func WithIndexBackend(b Backend[string]) Option {
	return func(c *config) error {
		if b == nil {
			return errors.New("semcache: index backend is nil")
		}
		c.indexBackend = b

		return nil
	}
}

// WithContentBackend replaces the default in-memory content store.
// T has to match the type parameter of the Cache.
func WithContentBackend[T any](b Backend[ContentEntry[T]]) Option {
	return func(c *config) error {
		if b == nil {
			return errors.New("semcache: content backend is nil")
		}
		c.contentBackend = b

		return nil
	}
}

// WithNormalizer sets the key normalizer. The default uses only the deterministic strategy.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(c *config) error {
		if n != nil {
			c.normalizer = n
		}

		return nil
	}
}

// WithAnalytics sets the telemetry sink.
func WithAnalytics(a *analytics.Analytics) Option {
	return func(c *config) error {
		if a != nil {
			c.analytics = a
		}

		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Interface) Option {
	return func(c *config) error {
		if l != nil {
			c.logger = l
		}

		return nil
	}
}

// WithTracer sets the tracer used for lookup spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *config) error {
		if t != nil {
			c.tracer = t
		}

		return nil
	}
}

// WithCancelPolicy decides whether a computation keeps running after all its callers left.
func WithCancelPolicy(p CancelPolicy) Option {
	return func(c *config) error {
		c.cancelPolicy = p

		return nil
	}
}

// WithComputeTimeout sets a deadline on the context passed to every compute call.
// A compute function that ignores its context is not stopped.
func WithComputeTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			return errors.New("semcache: timeout has to be > 0")
		}
		c.computeTimeout = timeout

		return nil
	}
}
