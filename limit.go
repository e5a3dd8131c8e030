package allocgo

import (
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// LimitAllocator wraps another Allocator and enforces a hard budget on the
// total bytes live at once. Acquisition is non-blocking: a request that would
// exceed the budget fails immediately with ErrMemoryLimitExceeded instead of
// waiting for other goroutines to release memory.
//
// The budget is charged by layout size. Grow charges the delta before
// forwarding, Shrink and Deallocate refund after the wrapped allocator has
// accepted the operation.
type LimitAllocator struct {
	inner  Allocator
	limit  int64
	sem    *semaphore.Weighted // nil if unlimited
	used   atomic.Int64
	logger *Logger
	warn   *rate.Limiter
}

// LimitOptions contains options for a LimitAllocator.
type LimitOptions struct {
	// Logger is used to report denied requests.
	Logger *Logger

	// WarnInterval throttles denial log lines. At most one line is emitted
	// per interval.
	WarnInterval time.Duration
}

var DefaultLimitOptions = LimitOptions{
	Logger:       NoopLogger(),
	WarnInterval: time.Second,
}

// NewLimitAllocator returns a LimitAllocator enforcing limit bytes on top of
// inner. A limit of 0 or less disables enforcement and only tracks usage.
func NewLimitAllocator(inner Allocator, limit int64, optFns ...func(o *LimitOptions)) *LimitAllocator {
	opts := DefaultLimitOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = NoopLogger()
	}

	if opts.WarnInterval <= 0 {
		opts.WarnInterval = time.Second
	}

	la := &LimitAllocator{
		inner:  inner,
		limit:  limit,
		logger: opts.Logger,
		warn:   rate.NewLimiter(rate.Every(opts.WarnInterval), 1),
	}

	if limit > 0 {
		la.sem = semaphore.NewWeighted(limit)
	}

	return la
}

// Usage returns the bytes currently charged against the budget.
func (la *LimitAllocator) Usage() int64 {
	return la.used.Load()
}

// Limit returns the configured budget in bytes (0 if unlimited).
func (la *LimitAllocator) Limit() int64 {
	return la.limit
}

// acquire reserves bytes against the budget without blocking.
func (la *LimitAllocator) acquire(bytes int64) error {
	if bytes <= 0 {
		return nil
	}

	if la.sem != nil && !la.sem.TryAcquire(bytes) {
		if la.warn.Allow() {
			la.logger.LogLimitDenied(bytes, la.used.Load(), la.limit)
		}

		return ErrMemoryLimitExceeded
	}

	la.used.Add(bytes)

	return nil
}

// release refunds bytes to the budget.
func (la *LimitAllocator) release(bytes int64) {
	if bytes <= 0 {
		return
	}

	if la.sem != nil {
		la.sem.Release(bytes)
	}

	la.used.Add(-bytes)
}

// Allocate implements Allocator.
func (la *LimitAllocator) Allocate(layout Layout) (Block, error) {
	return la.allocate(layout, la.inner.Allocate)
}

// AllocateZeroed implements ZeroAllocator. The wrapped allocator's own zeroed
// path is used when it provides one.
func (la *LimitAllocator) AllocateZeroed(layout Layout) (Block, error) {
	return la.allocate(layout, func(l Layout) (Block, error) {
		return AllocateZeroed(la.inner, l)
	})
}

func (la *LimitAllocator) allocate(layout Layout, fn func(Layout) (Block, error)) (Block, error) {
	size := layoutBytes(layout)

	if err := la.acquire(size); err != nil {
		return Block{}, NewErrAllocFailed(layout, err)
	}

	blk, err := fn(layout)
	if err != nil {
		la.release(size)
		return Block{}, err
	}

	return blk, nil
}

// Deallocate implements Allocator.
func (la *LimitAllocator) Deallocate(ptr unsafe.Pointer, layout Layout) {
	la.inner.Deallocate(ptr, layout)
	la.release(layoutBytes(layout))
}

// Grow implements Allocator. The size delta is charged before forwarding and
// refunded if the wrapped allocator fails, so a failed grow leaves the budget
// where it was.
func (la *LimitAllocator) Grow(ptr unsafe.Pointer, oldLayout, newLayout Layout) (Block, error) {
	delta := layoutBytes(newLayout) - layoutBytes(oldLayout)

	if err := la.acquire(delta); err != nil {
		return Block{}, NewErrAllocFailed(newLayout, err)
	}

	blk, err := la.inner.Grow(ptr, oldLayout, newLayout)
	if err != nil {
		la.release(delta)
		return Block{}, err
	}

	return blk, nil
}

// Shrink implements Allocator.
func (la *LimitAllocator) Shrink(ptr unsafe.Pointer, oldLayout, newLayout Layout) (Block, error) {
	blk, err := la.inner.Shrink(ptr, oldLayout, newLayout)
	if err != nil {
		return Block{}, err
	}

	la.release(layoutBytes(oldLayout) - layoutBytes(newLayout))

	return blk, nil
}

// layoutBytes converts a layout size to the int64 budget unit.
func layoutBytes(layout Layout) int64 {
	return int64(layout.Size()) //nolint:gosec // layout sizes never exceed MaxInt
}
