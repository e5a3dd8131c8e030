// Package mem provides low-level building blocks for allocator implementations.
//
// # Aligned Allocation
//
// AllocAligned carves an aligned view out of an over-allocated Go-heap byte
// slice. The view keeps the backing array reachable, so holding the view is
// enough to keep the memory alive.
//
// # Dangling Sentinel
//
// Zero-size requests are served a fixed, aligned, non-nil sentinel address
// taken from a static region that is never read or written. Handing out a real
// address keeps pointer arithmetic and equality well-defined without claiming
// any memory.
package mem
