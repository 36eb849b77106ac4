package semcache

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

const contentHashPrefix = "sq:"

// ContentHash derives the content key for a normalized query.
// It is not collision resistant and must not be used as a security boundary.
func ContentHash(normalizedKey string) string {
	return contentHashPrefix + strconv.FormatUint(xxhash.Sum64String(normalizedKey), 36)
}
