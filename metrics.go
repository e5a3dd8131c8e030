package allocgo

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    allocCounter   prometheus.Counter
//	    allocHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordAllocate(size uintptr, duration time.Duration, err error) {
//	    p.allocCounter.Inc()
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordAllocate is called after each allocation attempt.
	// size is the requested layout size, duration is the time taken,
	// err is nil if successful.
	RecordAllocate(size uintptr, duration time.Duration, err error)

	// RecordDeallocate is called after each deallocation.
	// size is the layout size of the released block.
	RecordDeallocate(size uintptr, duration time.Duration)

	// RecordGrow is called after each grow attempt.
	// oldSize and newSize are the layout sizes before and after,
	// err is nil if successful.
	RecordGrow(oldSize, newSize uintptr, duration time.Duration, err error)

	// RecordShrink is called after each shrink attempt.
	// oldSize and newSize are the layout sizes before and after,
	// err is nil if successful.
	RecordShrink(oldSize, newSize uintptr, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAllocate(uintptr, time.Duration, error)        {}
func (NoopMetricsCollector) RecordDeallocate(uintptr, time.Duration)             {}
func (NoopMetricsCollector) RecordGrow(uintptr, uintptr, time.Duration, error)   {}
func (NoopMetricsCollector) RecordShrink(uintptr, uintptr, time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	AllocateCount        atomic.Int64
	AllocateErrors       atomic.Int64
	AllocateTotalNanos   atomic.Int64
	AllocatedBytes       atomic.Int64
	DeallocateCount      atomic.Int64
	DeallocateTotalNanos atomic.Int64
	FreedBytes           atomic.Int64
	GrowCount            atomic.Int64
	GrowErrors           atomic.Int64
	ShrinkCount          atomic.Int64
	ShrinkErrors         atomic.Int64
}

// RecordAllocate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAllocate(size uintptr, duration time.Duration, err error) {
	b.AllocateCount.Add(1)
	b.AllocateTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.AllocateErrors.Add(1)
		return
	}

	b.AllocatedBytes.Add(int64(size)) //nolint:gosec // layout sizes never exceed MaxInt
}

// RecordDeallocate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDeallocate(size uintptr, duration time.Duration) {
	b.DeallocateCount.Add(1)
	b.DeallocateTotalNanos.Add(duration.Nanoseconds())
	b.FreedBytes.Add(int64(size)) //nolint:gosec // layout sizes never exceed MaxInt
}

// RecordGrow implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGrow(oldSize, newSize uintptr, duration time.Duration, err error) {
	b.GrowCount.Add(1)
	if err != nil {
		b.GrowErrors.Add(1)
		return
	}

	b.AllocatedBytes.Add(int64(newSize - oldSize)) //nolint:gosec // grow never shrinks
}

// RecordShrink implements MetricsCollector.
func (b *BasicMetricsCollector) RecordShrink(oldSize, newSize uintptr, duration time.Duration, err error) {
	b.ShrinkCount.Add(1)
	if err != nil {
		b.ShrinkErrors.Add(1)
		return
	}

	b.FreedBytes.Add(int64(oldSize - newSize)) //nolint:gosec // shrink never grows
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		AllocateCount:      b.AllocateCount.Load(),
		AllocateErrors:     b.AllocateErrors.Load(),
		AllocateAvgNanos:   b.getAvgAllocateNanos(),
		DeallocateCount:    b.DeallocateCount.Load(),
		DeallocateAvgNanos: b.getAvgDeallocateNanos(),
		GrowCount:          b.GrowCount.Load(),
		GrowErrors:         b.GrowErrors.Load(),
		ShrinkCount:        b.ShrinkCount.Load(),
		ShrinkErrors:       b.ShrinkErrors.Load(),
		AllocatedBytes:     b.AllocatedBytes.Load(),
		FreedBytes:         b.FreedBytes.Load(),
		InUseBytes:         b.AllocatedBytes.Load() - b.FreedBytes.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgAllocateNanos() int64 {
	count := b.AllocateCount.Load()
	if count == 0 {
		return 0
	}
	return b.AllocateTotalNanos.Load() / count
}

func (b *BasicMetricsCollector) getAvgDeallocateNanos() int64 {
	count := b.DeallocateCount.Load()
	if count == 0 {
		return 0
	}
	return b.DeallocateTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	AllocateCount      int64
	AllocateErrors     int64
	AllocateAvgNanos   int64
	DeallocateCount    int64
	DeallocateAvgNanos int64
	GrowCount          int64
	GrowErrors         int64
	ShrinkCount        int64
	ShrinkErrors       int64
	AllocatedBytes     int64
	FreedBytes         int64
	InUseBytes         int64
}
