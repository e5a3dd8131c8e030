package allocgo

import (
	"time"
	"unsafe"
)

// MeteredAllocator wraps another Allocator and reports every operation to a
// MetricsCollector. It adds a single timestamp read per call and is safe for
// concurrent use whenever the wrapped allocator is.
type MeteredAllocator struct {
	inner     Allocator
	collector MetricsCollector
}

// NewMeteredAllocator returns a MeteredAllocator forwarding to inner.
// A nil collector disables reporting.
func NewMeteredAllocator(inner Allocator, collector MetricsCollector) *MeteredAllocator {
	if collector == nil {
		collector = NoopMetricsCollector{}
	}

	return &MeteredAllocator{
		inner:     inner,
		collector: collector,
	}
}

// Allocate implements Allocator.
func (m *MeteredAllocator) Allocate(layout Layout) (Block, error) {
	start := time.Now()
	blk, err := m.inner.Allocate(layout)
	m.collector.RecordAllocate(layout.Size(), time.Since(start), err)

	return blk, err
}

// AllocateZeroed implements ZeroAllocator. The wrapped allocator's own zeroed
// path is used when it provides one.
func (m *MeteredAllocator) AllocateZeroed(layout Layout) (Block, error) {
	start := time.Now()
	blk, err := AllocateZeroed(m.inner, layout)
	m.collector.RecordAllocate(layout.Size(), time.Since(start), err)

	return blk, err
}

// Deallocate implements Allocator.
func (m *MeteredAllocator) Deallocate(ptr unsafe.Pointer, layout Layout) {
	start := time.Now()
	m.inner.Deallocate(ptr, layout)
	m.collector.RecordDeallocate(layout.Size(), time.Since(start))
}

// Grow implements Allocator.
func (m *MeteredAllocator) Grow(ptr unsafe.Pointer, oldLayout, newLayout Layout) (Block, error) {
	start := time.Now()
	blk, err := m.inner.Grow(ptr, oldLayout, newLayout)
	m.collector.RecordGrow(oldLayout.Size(), newLayout.Size(), time.Since(start), err)

	return blk, err
}

// Shrink implements Allocator.
func (m *MeteredAllocator) Shrink(ptr unsafe.Pointer, oldLayout, newLayout Layout) (Block, error) {
	start := time.Now()
	blk, err := m.inner.Shrink(ptr, oldLayout, newLayout)
	m.collector.RecordShrink(oldLayout.Size(), newLayout.Size(), time.Since(start), err)

	return blk, err
}
