// Package arena provides a chunked bump allocator over anonymous memory
// mappings, implementing the allocgo.Allocator capability.
//
// # Concurrency Model
//
// Allocate, Grow, Shrink and Deallocate are safe to call from multiple
// goroutines; allocation is lock-free except when a fresh chunk must be
// mapped. Reset and Close must NOT run concurrently with allocations. The
// typical pattern is:
//   - Create one arena per build phase or request scope
//   - Allocate from multiple goroutines during the phase (SAFE)
//   - Call Reset between phases or Close at the end (NOT concurrent)
//
// # Memory Management
//
// The arena claims memory from the OS in large chunks (1 MiB default) and
// hands out regions by advancing a per-chunk offset with CAS. Deallocate
// rewinds the offset when the released region is the most recent allocation
// and is a no-op otherwise; memory is reclaimed in bulk by Reset or Close.
// Requests too large for a shared chunk get a dedicated mapping of their own.
//
// This makes the arena ideal for allocate-fast, free-all-at-once workloads
// and a poor fit for long-lived mixed alloc/free patterns, where Heap or
// slab.Slab serve better.
//
// # Usage
//
//	a, err := arena.New(arena.WithChunkSize(4 * 1024 * 1024))
//	if err != nil { ... }
//	defer a.Close()
//
//	buf := allocgo.NewRawBuffer[int64](1024, a)
//	defer buf.Release()
package arena
