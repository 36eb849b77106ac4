// semcache package puts a semantic, request-coalescing cache in front of expensive computations, such as model calls or remote API queries, whose inputs are free-form text. Differently phrased requests that mean the same thing are served from one cache entry, and concurrent identical requests share one computation.
//
// The Cache type is the main component of the package. A lookup first normalizes the raw text into a canonical key (see the normalize package), then checks a two-level index that maps the key to a content hash and the hash to the stored value. On a miss the computation runs at most once per key, no matter how many callers ask for it at the same time. Every hit restarts the entry's ttl and increments its hit count. Failed computations are never cached.
//
// Both index levels are kept in memory by default, in a BoundedCache with a fixed capacity, per-entry ttl and LRU eviction. Any Backend implementation can replace them, for example the redis backend from backend/redis.
//
// Example use case:
//
// Suppose a chat application answers "Show me my favorite artists on Spotify" by calling a slow external service. Users ask the same thing in many ways, so the application caches answers by meaning rather than by exact text.
//
// package main
//
// import (
//
//	"context"
//	"fmt"
//	"time"
//
//	"github.com/m-zajac/semcache"
//
// )
//
//	func fetchArtists(ctx context.Context) ([]string, error) {
//		// Call the slow external service here.
//		return []string{"Radiohead", "Portishead"}, nil
//	}
//
//	func main() {
//		cache, err := semcache.New[[]string](
//			semcache.WithTTL(15*time.Minute),
//		)
//		if err != nil {
//			panic(err)
//		}
//		defer cache.Close()
//
//		ctx := context.Background()
//
//		// Computes the value and stores it under "artists:spotify".
//		artists, _ := cache.LookupOrCompute(ctx, "Show me my favorite artists on Spotify", "", fetchArtists)
//
//		// Served from the cache, fetchArtists is not called.
//		artists, _ = cache.LookupOrCompute(ctx, "List my Spotify artists", "", fetchArtists)
//
//		fmt.Println(artists)
//	}
//
// In this example both questions normalize to the same key, so the second call is a hit. A scope, such as a user or session identifier, can be passed to keep otherwise equal questions apart.
package semcache
