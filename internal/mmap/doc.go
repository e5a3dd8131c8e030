// Package mmap provides anonymous memory mappings for off-heap allocation.
//
// # Overview
//
// Anonymous mappings obtain large memory regions directly from the operating
// system, outside the Go garbage collector's control. The arena and slab
// allocators use them as backing storage so allocation traffic never touches
// the Go heap.
//
// # Usage
//
//	m, err := mmap.MapAnon(16 << 20)
//	if err != nil { ... }
//	defer m.Close()
//
//	// Direct access to the mapped region
//	data := m.Bytes()
//
//	// Provide kernel hints for access patterns
//	m.Advise(mmap.AccessRandom)
//
//	// Return a freed page range to the OS without unmapping
//	m.AdviseRange(off, length, mmap.AccessDontNeed)
//
// # Platform Support
//
// The package provides a unified API across platforms:
//
//   - Unix (Linux, macOS, BSD): Uses mmap(2) with madvise(2) for access hints
//   - Windows: Uses VirtualAlloc (madvise is a no-op)
//
// # Thread Safety
//
// Mapping is safe for concurrent read access. The Close() method is idempotent
// and protected by atomic operations. However, callers must ensure no
// goroutines access Bytes() after Close() returns.
//
// # Garbage Collector Visibility
//
// Mapped memory is invisible to the Go garbage collector. Values stored in it
// must not contain Go pointers; the GC would neither see nor keep alive
// anything they reference.
package mmap
