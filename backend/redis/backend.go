package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/m-zajac/semcache"
)

const (
	defaultTTL = time.Hour
	scanCount  = 100
)

// Backend for cache that stores data in redis.
//
// Values are serialized to JSON, so V has to be properly JSON-serializable!
// Expiration is delegated to redis. Redis keeps no access order, so a Backend is bounded
// by the server's maxmemory policy rather than by an entry count.
//
// The client will be closed when the parent cache is closed.
type Backend[V any] struct {
	client     redis.UniversalClient
	keyPrefix  string
	defaultTTL time.Duration
}

var _ semcache.Backend[string] = &Backend[string]{}

// Option configures a Backend.
type Option func(*options)

type options struct {
	defaultTTL time.Duration
}

// WithDefaultTTL sets the ttl used when Set is called with ttl <= 0.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.defaultTTL = ttl
		}
	}
}

// NewBackend creates a Backend. All keys are prefixed with keyPrefix; use distinct prefixes
// for the index and content levels when they share a server.
func NewBackend[V any](client redis.UniversalClient, keyPrefix string, opts ...Option) (*Backend[V], error) {
	if client == nil {
		return nil, errors.New("redis client is nil")
	}

	o := options{defaultTTL: defaultTTL}
	for _, opt := range opts {
		opt(&o)
	}

	return &Backend[V]{
		client:     client,
		keyPrefix:  keyPrefix,
		defaultTTL: o.defaultTTL,
	}, nil
}

func (b *Backend[V]) Get(ctx context.Context, key string) (*V, error) {
	data, err := b.client.Get(ctx, b.keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("fetching data from redis: %w", err)
	}

	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("deserializing json: %w", err)
	}

	return &v, nil
}

func (b *Backend[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = b.defaultTTL
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("serializing to json: %w", err)
	}

	if err := b.client.Set(ctx, b.keyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("storing data in redis: %w", err)
	}

	return nil
}

func (b *Backend[V]) Delete(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, b.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("deleting data from redis: %w", err)
	}

	return nil
}

// Clear removes every key with the backend's prefix.
func (b *Backend[V]) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := b.client.Scan(ctx, cursor, b.keyPrefix+"*", scanCount).Result()
		if err != nil {
			return fmt.Errorf("scanning redis keys: %w", err)
		}
		if len(keys) > 0 {
			if err := b.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("deleting data from redis: %w", err)
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (b *Backend[V]) Close() error {
	return b.client.Close()
}
