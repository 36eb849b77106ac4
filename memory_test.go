package semcache_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m-zajac/semcache"
)

func TestBoundedCache(t *testing.T) {
	ctx := context.Background()

	// Get returns what Set stored, until the entry expires.
	t.Run("get and set", func(t *testing.T) {
		clock := newFakeClock()
		c, err := semcache.NewBoundedCache[string](semcache.WithClock(clock.Now))
		require.NoError(t, err)

		require.NoError(t, c.Set(ctx, "k", "v", time.Minute))

		got, err := c.Get(ctx, "k")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "v", *got)

		got, err = c.Get(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	// Expired entries are dropped when they are accessed.
	t.Run("ttl expiry", func(t *testing.T) {
		clock := newFakeClock()
		c, err := semcache.NewBoundedCache[string](semcache.WithClock(clock.Now))
		require.NoError(t, err)

		require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
		clock.Advance(time.Minute + time.Second)

		assert.Equal(t, 1, c.Len())
		got, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.Equal(t, 0, c.Len())
		assert.EqualValues(t, 0, c.EstimatedBytes())
	})

	// With ttl <= 0 the default ttl is used.
	t.Run("default ttl", func(t *testing.T) {
		clock := newFakeClock()
		c, err := semcache.NewBoundedCache[string](
			semcache.WithClock(clock.Now),
			semcache.WithDefaultTTL(10*time.Second),
		)
		require.NoError(t, err)

		require.NoError(t, c.Set(ctx, "k", "v", 0))
		e, ok := c.Peek("k")
		require.True(t, ok)
		assert.Equal(t, clock.Now().Add(10*time.Second), e.ExpiresAt)
		assert.Equal(t, 10*time.Second, e.TTL)
	})

	// Hits don't move the expiration time by default.
	t.Run("fixed expiration", func(t *testing.T) {
		clock := newFakeClock()
		c, err := semcache.NewBoundedCache[string](semcache.WithClock(clock.Now))
		require.NoError(t, err)

		require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
		clock.Advance(50 * time.Second)
		got, _ := c.Get(ctx, "k")
		require.NotNil(t, got)

		clock.Advance(20 * time.Second)
		got, _ = c.Get(ctx, "k")
		assert.Nil(t, got)
	})

	// With sliding expiration every hit pushes the expiration back by the full ttl.
	t.Run("sliding expiration", func(t *testing.T) {
		clock := newFakeClock()
		c, err := semcache.NewBoundedCache[string](
			semcache.WithClock(clock.Now),
			semcache.WithSlidingExpiration(),
		)
		require.NoError(t, err)

		require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
		for i := 0; i < 5; i++ {
			clock.Advance(50 * time.Second)
			got, _ := c.Get(ctx, "k")
			require.NotNil(t, got, "hit %d", i)
		}

		e, ok := c.Peek("k")
		require.True(t, ok)
		assert.Equal(t, 5, e.HitCount)
		assert.Equal(t, clock.Now(), e.LastAccessed)
		assert.Equal(t, clock.Now().Add(time.Minute), e.ExpiresAt)

		clock.Advance(61 * time.Second)
		got, _ := c.Get(ctx, "k")
		assert.Nil(t, got)
	})

	// The least recently used entry is evicted when capacity is reached.
	t.Run("lru eviction", func(t *testing.T) {
		stats := &statsRecorder{}
		c, err := semcache.NewBoundedCache[string](
			semcache.WithMaxEntries(2),
			semcache.WithStats(stats),
		)
		require.NoError(t, err)

		require.NoError(t, c.Set(ctx, "a", "1", time.Minute))
		require.NoError(t, c.Set(ctx, "b", "2", time.Minute))

		// Touch "a", so "b" becomes the oldest.
		got, _ := c.Get(ctx, "a")
		require.NotNil(t, got)

		require.NoError(t, c.Set(ctx, "c", "3", time.Minute))

		assert.Equal(t, 2, c.Len())
		_, ok := c.Peek("b")
		assert.False(t, ok)
		_, ok = c.Peek("a")
		assert.True(t, ok)
		_, ok = c.Peek("c")
		assert.True(t, ok)
		assert.Equal(t, 1, stats.evictions)
		assert.Equal(t, 2, stats.entries)
	})

	// Overwriting a key doesn't evict anything.
	t.Run("overwrite", func(t *testing.T) {
		stats := &statsRecorder{}
		c, err := semcache.NewBoundedCache[string](
			semcache.WithMaxEntries(1),
			semcache.WithStats(stats),
		)
		require.NoError(t, err)

		require.NoError(t, c.Set(ctx, "k", "a", time.Minute))
		require.NoError(t, c.Set(ctx, "k", "bbb", time.Minute))

		got, _ := c.Get(ctx, "k")
		require.NotNil(t, got)
		assert.Equal(t, "bbb", *got)
		assert.Equal(t, 0, stats.evictions)
		// 2*len(key) + overhead + len(`"bbb"`)
		assert.EqualValues(t, 2+100+5, c.EstimatedBytes())
		assert.EqualValues(t, 2+100+5, stats.bytes)
	})

	t.Run("delete and clear", func(t *testing.T) {
		stats := &statsRecorder{}
		c, err := semcache.NewBoundedCache[int](semcache.WithStats(stats))
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			require.NoError(t, c.Set(ctx, fmt.Sprint(i), i, time.Minute))
		}
		require.NoError(t, c.Delete(ctx, "0"))
		require.NoError(t, c.Delete(ctx, "missing"))
		assert.Equal(t, 4, c.Len())
		assert.Equal(t, 4, stats.entries)

		require.NoError(t, c.Clear(ctx))
		assert.Equal(t, 0, c.Len())
		assert.Equal(t, 0, stats.entries)
		assert.EqualValues(t, 0, stats.bytes)
	})

	// Values that can't be serialized count as a fixed size and get logged.
	t.Run("size fallback", func(t *testing.T) {
		h := memory.New()
		logger := &log.Logger{Handler: h, Level: log.DebugLevel}

		c, err := semcache.NewBoundedCache[any](semcache.WithMemoryLogger(logger))
		require.NoError(t, err)

		require.NoError(t, c.Set(ctx, "k", make(chan int), time.Minute))
		assert.EqualValues(t, 2+100+2048, c.EstimatedBytes())
		require.Len(t, h.Entries, 1)
		assert.Equal(t, "k", h.Entries[0].Fields.Get("key"))

		got, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.NotNil(t, got)
	})

	t.Run("invalid options", func(t *testing.T) {
		_, err := semcache.NewBoundedCache[int](semcache.WithMaxEntries(0))
		assert.ErrorIs(t, err, semcache.ErrInvalidCapacity)

		_, err = semcache.NewBoundedCache[int](semcache.WithDefaultTTL(-time.Second))
		assert.ErrorIs(t, err, semcache.ErrInvalidTTL)
	})

	// Concurrent writers never push the cache over capacity.
	t.Run("concurrent access", func(t *testing.T) {
		c, err := semcache.NewBoundedCache[int](semcache.WithMaxEntries(10))
		require.NoError(t, err)

		var wg sync.WaitGroup
		for g := 0; g < 20; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				for i := 0; i < 100; i++ {
					key := fmt.Sprintf("%d-%d", g, i%15)
					_ = c.Set(ctx, key, i, time.Minute)
					_, _ = c.Get(ctx, key)
					assert.LessOrEqual(t, c.Len(), 10)
				}
			}(g)
		}
		wg.Wait()

		assert.Equal(t, 10, c.Len())
	})
}
