// Package allocgo provides a pluggable memory-allocation abstraction for Go
// plus low-level owning containers built on top of it.
//
// Instead of hard-wiring data structures to the Go heap, code written against
// allocgo requests, resizes and releases memory through an interchangeable
// Allocator value. Concrete providers range from a pinned Go-heap provider to
// mmap-backed arenas, and wrappers add leak checking, metering and budget
// enforcement without touching the code above them.
//
// # Quick Start
//
// A growable buffer of raw element slots:
//
//	buf := allocgo.NewRawBuffer[int64](0, allocgo.Heap{})
//	defer buf.Release()
//
//	length := 0
//	for i := 0; i < 1000; i++ {
//	    buf.Reserve(length, 1) // doubling growth, O(log n) reallocations
//	    *buf.Index(length) = int64(i)
//	    length++
//	}
//
// A single owned value:
//
//	box := allocgo.NewBox[Config](cfg, allocgo.Heap{})
//	defer box.Close() // teardown, then deallocate
//	box.Get().Retries = 3
//
// # Layout Model
//
// Every request is described by a Layout, a validated (size, alignment)
// pair. Construction rejects non-power-of-two alignments and sizes whose
// aligned extent would overflow the address space, so corrupted requests
// never reach a provider:
//
//	layout, err := allocgo.NewLayout(128, 64)
//	layout = allocgo.LayoutOf[header]()
//	layout, err = allocgo.LayoutArray[int64](1024)
//
// # Providers and Wrappers
//
//   - Heap: general-purpose provider carving aligned blocks out of pinned
//     Go-heap memory. Safe for concurrent use.
//   - arena.Arena: chunked bump allocator over anonymous mappings for
//     allocate-fast, free-all-at-once workloads.
//   - slab.Slab: page-granular provider over one anonymous mapping with
//     in-place resize and page reclamation.
//   - CheckedAllocator: wrapper that tracks live regions, panics on
//     contract violations and reports leaks in tests.
//   - MeteredAllocator: wrapper reporting every operation to a
//     MetricsCollector.
//   - LimitAllocator: wrapper enforcing a hard byte budget, failing fast
//     with ErrMemoryLimitExceeded.
//
// # Allocation Failure
//
// Providers report exhaustion as an error carrying the requested Layout.
// The containers keep an infallible surface: on failure they run the
// configured out-of-memory hook and abort the request path. Set a
// process-wide hook via SetOOMHook, or inject one per container:
//
//	buf := allocgo.NewRawBuffer[byte](n, alloc, allocgo.WithOOMHook(func(l allocgo.Layout) {
//	    log.Printf("out of memory: %s", l)
//	}))
//
// Callers that want to recover instead use the Try variants
// (TryNewRawBuffer, TryReserve, TryNewBox), which return the failure.
//
// # Garbage Collector Visibility
//
// Memory handed out by the providers in this module is not scanned by the
// garbage collector. Values stored in it must not contain Go pointers
// (pointers to Go-heap objects, strings, slices, maps, channels or
// functions); the referenced objects could be collected or moved while
// still reachable through allocator memory. Plain value types, fixed-size
// arrays and structs of them are safe.
//
// # Thread Safety
//
// The containers are single-owner values and are not safe for concurrent
// use. Distinct containers may be used concurrently whenever the provider
// they share permits it; each provider documents its own guarantees.
package allocgo
