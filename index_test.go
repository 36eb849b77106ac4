package semcache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m-zajac/semcache"
)

type indexFixture struct {
	clock   *fakeClock
	stats   *statsRecorder
	keys    *semcache.BoundedCache[string]
	content *semcache.BoundedCache[semcache.ContentEntry[string]]
	index   *semcache.Index[string]
}

func newIndexFixture(t *testing.T, ttl time.Duration) indexFixture {
	t.Helper()

	f := indexFixture{
		clock: newFakeClock(),
		stats: &statsRecorder{},
	}

	var err error
	f.keys, err = semcache.NewBoundedCache[string](semcache.WithClock(f.clock.Now))
	require.NoError(t, err)
	f.content, err = semcache.NewBoundedCache[semcache.ContentEntry[string]](semcache.WithClock(f.clock.Now))
	require.NoError(t, err)

	f.index, err = semcache.NewIndex[string](f.keys, f.content,
		semcache.WithIndexTTL(ttl),
		semcache.WithRecorder(f.stats),
		semcache.WithIndexClock(f.clock.Now),
	)
	require.NoError(t, err)

	return f
}

func TestIndex(t *testing.T) {
	ctx := context.Background()

	t.Run("miss", func(t *testing.T) {
		f := newIndexFixture(t, time.Minute)

		res := f.index.Get(ctx, "artists:spotify")
		assert.Equal(t, semcache.StatusMiss, res.Status)
		assert.False(t, res.Hit())

		hits, misses := f.stats.counts()
		assert.Equal(t, 0, hits)
		assert.Equal(t, 1, misses)
	})

	// Every hit increments the hit count.
	t.Run("hit", func(t *testing.T) {
		f := newIndexFixture(t, time.Minute)

		require.NoError(t, f.index.Set(ctx, "artists:spotify", "result"))
		f.clock.Advance(10 * time.Second)

		res := f.index.Get(ctx, "artists:spotify")
		assert.Equal(t, semcache.StatusHit, res.Status)
		assert.Equal(t, "result", res.Value)
		assert.Equal(t, 1, res.HitCount)
		assert.Equal(t, 10*time.Second, res.Age)

		res = f.index.Get(ctx, "artists:spotify")
		assert.Equal(t, 2, res.HitCount)

		hash, ok := f.keys.Peek("artists:spotify")
		require.True(t, ok)
		assert.Equal(t, semcache.ContentHash("artists:spotify"), hash.Value)

		entry, ok := f.content.Peek(hash.Value)
		require.True(t, ok)
		assert.Equal(t, "artists:spotify", entry.Value.Query)
		assert.Equal(t, 2, entry.Value.HitCount)

		hits, _ := f.stats.counts()
		assert.Equal(t, 2, hits)
	})

	// A hit restarts the full ttl of both levels.
	t.Run("ttl refresh", func(t *testing.T) {
		f := newIndexFixture(t, time.Minute)

		require.NoError(t, f.index.Set(ctx, "repos", "result"))
		for i := 0; i < 3; i++ {
			f.clock.Advance(50 * time.Second)
			assert.True(t, f.index.Get(ctx, "repos").Hit(), "lookup %d", i)
		}

		// No lookups within the ttl.
		f.clock.Advance(61 * time.Second)
		assert.Equal(t, semcache.StatusMiss, f.index.Get(ctx, "repos").Status)
	})

	// An index entry pointing at missing content is removed.
	t.Run("stale entry", func(t *testing.T) {
		f := newIndexFixture(t, time.Minute)

		require.NoError(t, f.index.Set(ctx, "repos", "result"))
		require.NoError(t, f.content.Delete(ctx, semcache.ContentHash("repos")))

		res := f.index.Get(ctx, "repos")
		assert.Equal(t, semcache.StatusStale, res.Status)
		assert.False(t, res.Hit())

		_, ok := f.keys.Peek("repos")
		assert.False(t, ok)

		assert.Equal(t, semcache.StatusMiss, f.index.Get(ctx, "repos").Status)
	})

	// Setting a key again replaces its content.
	t.Run("overwrite", func(t *testing.T) {
		f := newIndexFixture(t, time.Minute)

		require.NoError(t, f.index.Set(ctx, "repos", "old"))
		require.NoError(t, f.index.Set(ctx, "repos", "new"))

		res := f.index.Get(ctx, "repos")
		assert.Equal(t, "new", res.Value)
		assert.Equal(t, 1, res.HitCount)
		assert.Equal(t, 1, f.content.Len())
	})

	t.Run("delete", func(t *testing.T) {
		f := newIndexFixture(t, time.Minute)

		require.NoError(t, f.index.Set(ctx, "repos", "result"))
		require.NoError(t, f.index.Set(ctx, "issues", "result"))
		require.NoError(t, f.index.Delete(ctx, "repos"))
		require.NoError(t, f.index.Delete(ctx, "missing"))

		assert.Equal(t, 1, f.keys.Len())
		assert.Equal(t, 1, f.content.Len())
		assert.Equal(t, semcache.StatusMiss, f.index.Get(ctx, "repos").Status)
		assert.True(t, f.index.Get(ctx, "issues").Hit())
	})

	t.Run("clear", func(t *testing.T) {
		f := newIndexFixture(t, time.Minute)

		require.NoError(t, f.index.Set(ctx, "repos", "result"))
		require.NoError(t, f.index.Set(ctx, "issues", "result"))
		require.NoError(t, f.index.Clear(ctx))

		assert.Equal(t, 0, f.keys.Len())
		assert.Equal(t, 0, f.content.Len())
	})

	// Backend failures are misses, not errors.
	t.Run("failing backend", func(t *testing.T) {
		stats := &statsRecorder{}
		index, err := semcache.NewIndex[string](
			failingBackend[string]{},
			failingBackend[semcache.ContentEntry[string]]{},
			semcache.WithRecorder(stats),
		)
		require.NoError(t, err)

		res := index.Get(ctx, "repos")
		assert.Equal(t, semcache.StatusMiss, res.Status)
		_, misses := stats.counts()
		assert.Equal(t, 1, misses)

		assert.ErrorIs(t, index.Set(ctx, "repos", "result"), errBackend)
		assert.ErrorIs(t, index.Clear(ctx), errBackend)
	})

	t.Run("invalid arguments", func(t *testing.T) {
		_, err := semcache.NewIndex[string](nil, nil)
		assert.Error(t, err)

		keys, err := semcache.NewBoundedCache[string]()
		require.NoError(t, err)
		content, err := semcache.NewBoundedCache[semcache.ContentEntry[string]]()
		require.NoError(t, err)
		_, err = semcache.NewIndex[string](keys, content, semcache.WithIndexTTL(0))
		assert.ErrorIs(t, err, semcache.ErrInvalidTTL)
	})
}

func TestContentHash(t *testing.T) {
	h := semcache.ContentHash("artists:spotify")

	assert.Equal(t, h, semcache.ContentHash("artists:spotify"))
	assert.NotEqual(t, h, semcache.ContentHash("artists:spotify|user-1"))
	assert.Regexp(t, `^sq:[0-9a-z]+$`, h)
}
