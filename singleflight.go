package semcache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CancelPolicy decides what happens to a shared computation when its callers stop waiting.
type CancelPolicy int

const (
	// RunToCompletion keeps the computation running after every caller left,
	// so its result can still populate the cache.
	RunToCompletion CancelPolicy = iota
	// CancelWhenAbandoned cancels the computation's context once the last waiter is gone.
	// The abandoned computation is detached from its key right away, so a later caller
	// starts a new one even if the old fn has not returned yet. Its result is dropped.
	CancelWhenAbandoned
)

func (p CancelPolicy) String() string {
	if p == CancelWhenAbandoned {
		return "cancel-when-abandoned"
	}

	return "run-to-completion"
}

type coordinatorConfig struct {
	policy  CancelPolicy
	timeout time.Duration
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*coordinatorConfig)

// WithCoordinatorCancelPolicy sets the cancel policy. The default is RunToCompletion.
func WithCoordinatorCancelPolicy(p CancelPolicy) CoordinatorOption {
	return func(c *coordinatorConfig) {
		c.policy = p
	}
}

// WithCoordinatorTimeout sets a deadline on the context passed to every computation.
// Zero means no deadline. An fn that ignores its context keeps running, and its callers
// keep waiting unless their own ctx ends.
func WithCoordinatorTimeout(d time.Duration) CoordinatorOption {
	return func(c *coordinatorConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// call is an in-flight computation for one key.
type call[T any] struct {
	done    chan struct{}
	val     T
	err     error
	waiters int
	cancel  context.CancelFunc
}

// Coordinator makes sure that concurrent Wrap calls for the same key share one computation.
type Coordinator[T any] struct {
	mu    sync.Mutex
	calls map[string]*call[T]

	config coordinatorConfig

	// ctx is the parent of every computation's cancellation. It is cancelled by Close.
	ctx       context.Context
	ctxCancel func()
	wg        sync.WaitGroup
}

// NewCoordinator creates a Coordinator.
func NewCoordinator[T any](options ...CoordinatorOption) *Coordinator[T] {
	var cfg coordinatorConfig
	for _, o := range options {
		o(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator[T]{
		calls:     make(map[string]*call[T]),
		config:    cfg,
		ctx:       ctx,
		ctxCancel: cancel,
	}
}

// Wrap returns the result of fn for key. If a computation for key is already running,
// fn is not called and the caller gets the running computation's result.
//
// fn receives a context that keeps ctx's values but not its cancellation.
// When ctx ends before the result is ready, Wrap returns ctx.Err().
func (co *Coordinator[T]) Wrap(ctx context.Context, key string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	co.mu.Lock()
	if err := co.ctx.Err(); err != nil {
		co.mu.Unlock()
		return zero, ErrClosed
	}

	c, found := co.calls[key]
	if found {
		c.waiters++
	} else {
		c = co.startLocked(ctx, key, fn)
	}
	co.mu.Unlock()

	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		co.leave(key, c)
		return zero, ctx.Err()
	}
}

func (co *Coordinator[T]) startLocked(ctx context.Context, key string, fn func(context.Context) (T, error)) *call[T] {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if co.config.timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, co.config.timeout)
		parentCancel := cancel
		cancel = func() {
			cancelTimeout()
			parentCancel()
		}
	}

	c := &call[T]{
		done:    make(chan struct{}),
		waiters: 1,
		cancel:  cancel,
	}
	co.calls[key] = c

	co.wg.Add(1)
	go func() {
		defer co.wg.Done()
		defer cancel()

		stop := context.AfterFunc(co.ctx, cancel)
		defer stop()

		val, err := run(runCtx, fn)

		co.mu.Lock()
		c.val, c.err = val, err
		if co.calls[key] == c {
			delete(co.calls, key)
		}
		co.mu.Unlock()

		close(c.done)
	}()

	return c
}

func run[T any](ctx context.Context, fn func(context.Context) (T, error)) (val T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrComputePanic, r)
		}
	}()

	return fn(ctx)
}

func (co *Coordinator[T]) leave(key string, c *call[T]) {
	co.mu.Lock()
	defer co.mu.Unlock()

	c.waiters--
	if c.waiters == 0 && co.config.policy == CancelWhenAbandoned {
		// Later callers must not attach to a cancelled computation.
		if co.calls[key] == c {
			delete(co.calls, key)
		}
		c.cancel()
	}
}

// InFlight returns the number of running computations.
func (co *Coordinator[T]) InFlight() int {
	co.mu.Lock()
	defer co.mu.Unlock()

	return len(co.calls)
}

// Close cancels running computations and waits for them to return.
func (co *Coordinator[T]) Close() {
	co.mu.Lock()
	co.ctxCancel()
	co.mu.Unlock()

	co.wg.Wait()
}
