package semcache

import "errors"

var (
	// ErrClosed is returned by operations on a closed Cache or Coordinator.
	ErrClosed = errors.New("semcache: closed")

	// ErrComputePanic wraps a panic raised by a compute function.
	ErrComputePanic = errors.New("semcache: compute panicked")

	// ErrInvalidCapacity indicates a capacity below 1.
	ErrInvalidCapacity = errors.New("semcache: capacity has to be > 0")

	// ErrInvalidTTL indicates a non-positive ttl.
	ErrInvalidTTL = errors.New("semcache: ttl has to be > 0")

	// ErrBackendType indicates a content backend whose value type does not match the cache.
	ErrBackendType = errors.New("semcache: content backend type mismatch")
)
