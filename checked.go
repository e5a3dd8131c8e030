package allocgo

import (
	"fmt"
	"sync"
	"unsafe"
)

// CheckedAllocator wraps another Allocator and verifies the caller contract
// that production providers are entitled to assume: Deallocate, Grow and
// Shrink must name a live region with the exact layout it carries, Grow must
// not reduce the size, Shrink must not increase it, and regions handed out by
// the inner provider must not overlap. Violations panic.
//
// Intended for tests and debugging. The wrapper also counts operations and
// tracks live bytes, so leak checks reduce to AssertEmpty at the end of a
// test. Safe for concurrent use.
type CheckedAllocator struct {
	inner Allocator

	mu    sync.Mutex
	live  map[uintptr]Layout
	stats CheckedStats
}

// CheckedStats is a snapshot of a CheckedAllocator's counters.
type CheckedStats struct {
	Allocs   uint64
	Deallocs uint64
	Grows    uint64
	Shrinks  uint64

	// Live is the number of currently outstanding regions, LiveBytes their
	// combined requested size. MaxLiveBytes is the high-water mark.
	Live         int
	LiveBytes    uintptr
	MaxLiveBytes uintptr
}

// TestingT is the subset of testing.TB needed by AssertEmpty.
type TestingT interface {
	Errorf(format string, args ...any)
	Helper()
}

// NewCheckedAllocator wraps inner with contract checking.
func NewCheckedAllocator(inner Allocator) *CheckedAllocator {
	return &CheckedAllocator{
		inner: inner,
		live:  make(map[uintptr]Layout),
	}
}

// Allocate implements Allocator.
func (c *CheckedAllocator) Allocate(layout Layout) (Block, error) {
	blk, err := c.inner.Allocate(layout)
	if err != nil {
		return Block{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Allocs++
	c.trackLocked(blk, layout)
	return blk, nil
}

// AllocateZeroed implements ZeroAllocator, clearing manually when the inner
// provider lacks the capability.
func (c *CheckedAllocator) AllocateZeroed(layout Layout) (Block, error) {
	blk, err := AllocateZeroed(c.inner, layout)
	if err != nil {
		return Block{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Allocs++
	c.trackLocked(blk, layout)
	return blk, nil
}

// Deallocate implements Allocator.
func (c *CheckedAllocator) Deallocate(ptr unsafe.Pointer, layout Layout) {
	c.mu.Lock()
	c.stats.Deallocs++
	if layout.Size() > 0 {
		c.forgetLocked(ptr, layout, "deallocate")
	}
	c.mu.Unlock()

	c.inner.Deallocate(ptr, layout)
}

// Grow implements Allocator.
func (c *CheckedAllocator) Grow(ptr unsafe.Pointer, oldLayout, newLayout Layout) (Block, error) {
	if newLayout.Size() < oldLayout.Size() {
		panic(fmt.Sprintf("allocgo: grow to a smaller size: %v -> %v", oldLayout, newLayout))
	}
	c.checkLive(ptr, oldLayout, "grow")

	blk, err := c.inner.Grow(ptr, oldLayout, newLayout)
	if err != nil {
		// The original allocation must remain valid, so the table keeps it.
		return Block{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Grows++
	if oldLayout.Size() > 0 {
		c.forgetLocked(ptr, oldLayout, "grow")
	}
	c.trackLocked(blk, newLayout)
	return blk, nil
}

// Shrink implements Allocator.
func (c *CheckedAllocator) Shrink(ptr unsafe.Pointer, oldLayout, newLayout Layout) (Block, error) {
	if newLayout.Size() > oldLayout.Size() {
		panic(fmt.Sprintf("allocgo: shrink to a larger size: %v -> %v", oldLayout, newLayout))
	}
	c.checkLive(ptr, oldLayout, "shrink")

	blk, err := c.inner.Shrink(ptr, oldLayout, newLayout)
	if err != nil {
		return Block{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Shrinks++
	if oldLayout.Size() > 0 {
		c.forgetLocked(ptr, oldLayout, "shrink")
	}
	c.trackLocked(blk, newLayout)
	return blk, nil
}

// Stats returns a snapshot of the counters.
func (c *CheckedAllocator) Stats() CheckedStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Live = len(c.live)
	return s
}

// AssertEmpty reports a test error for every region still outstanding.
func (c *CheckedAllocator) AssertEmpty(t TestingT) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for addr, layout := range c.live {
		t.Errorf("leaked allocation at %#x: %v", addr, layout)
	}
}

// trackLocked records a new live region after verifying it does not overlap
// an existing one. Zero-size blocks share the dangling sentinel and are not
// tracked.
func (c *CheckedAllocator) trackLocked(blk Block, layout Layout) {
	if layout.Size() == 0 {
		return
	}
	start := uintptr(blk.Ptr)
	for addr, l := range c.live {
		if start < addr+l.Size() && addr < start+layout.Size() {
			panic(fmt.Sprintf("allocgo: provider returned overlapping region %#x+%d over %#x+%d",
				start, layout.Size(), addr, l.Size()))
		}
	}
	c.live[start] = layout
	c.stats.LiveBytes += layout.Size()
	if c.stats.LiveBytes > c.stats.MaxLiveBytes {
		c.stats.MaxLiveBytes = c.stats.LiveBytes
	}
}

// forgetLocked removes a live region, verifying pointer and layout.
func (c *CheckedAllocator) forgetLocked(ptr unsafe.Pointer, layout Layout, op string) {
	addr := uintptr(ptr)
	l, ok := c.live[addr]
	if !ok {
		panic(fmt.Sprintf("allocgo: %s of unknown or already released pointer %#x", op, addr))
	}
	if l != layout {
		panic(fmt.Sprintf("allocgo: %s layout mismatch at %#x: allocated %v, released %v", op, addr, l, layout))
	}
	delete(c.live, addr)
	c.stats.LiveBytes -= layout.Size()
}

// checkLive verifies a resize precondition without mutating the table.
func (c *CheckedAllocator) checkLive(ptr unsafe.Pointer, layout Layout, op string) {
	if layout.Size() == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	addr := uintptr(ptr)
	l, ok := c.live[addr]
	if !ok {
		panic(fmt.Sprintf("allocgo: %s of unknown or already released pointer %#x", op, addr))
	}
	if l != layout {
		panic(fmt.Sprintf("allocgo: %s layout mismatch at %#x: allocated %v, passed %v", op, addr, l, layout))
	}
}
