package allocgo

import (
	"unsafe"
)

// Block is a memory region handed out by an Allocator: the address of its
// first byte and the usable size, which is at least the size that was
// requested. Providers that over-allocate report the true usable extent so
// callers can exploit the excess.
type Block struct {
	Ptr  unsafe.Pointer
	Size uintptr
}

// Allocator is the capability a memory provider implements. Containers are
// generic over it: they request, resize and release memory exclusively
// through the Allocator value they were paired with and keep no accounting of
// their own.
//
// Implementations must serve zero-size layouts by returning a non-nil pointer
// aligned to the layout without claiming memory, and must treat Deallocate of
// a zero-size layout as a no-op.
//
// Memory obtained from an Allocator is not scanned by the garbage collector.
// Values stored in it must not contain Go pointers.
//
// Thread safety is a property of the individual provider, not of this
// interface; each implementation documents its own guarantees.
type Allocator interface {
	// Allocate returns a new region of at least layout.Size() bytes aligned
	// to layout.Align(). The contents are unspecified. On failure it returns
	// an error carrying the requested Layout (see ErrAllocFailed); it never
	// panics to report exhaustion.
	Allocate(layout Layout) (Block, error)

	// Deallocate releases a region previously returned by Allocate, Grow or
	// Shrink on this same provider with this exact layout. Passing a
	// mismatched layout or an already released pointer violates the caller
	// contract; providers are entitled to assume it does not happen.
	Deallocate(ptr unsafe.Pointer, layout Layout)

	// Grow resizes the region at ptr from oldLayout to the larger newLayout
	// (newLayout.Size() >= oldLayout.Size()). It is semantically equivalent
	// to allocate-copy-deallocate, but a provider may resize in place. The
	// first oldLayout.Size() bytes of the result hold the original contents;
	// the remainder is unspecified. On failure the original allocation is
	// untouched and still valid.
	Grow(ptr unsafe.Pointer, oldLayout, newLayout Layout) (Block, error)

	// Shrink resizes the region at ptr from oldLayout to the smaller
	// newLayout (newLayout.Size() <= oldLayout.Size()), preserving the first
	// newLayout.Size() bytes. Same relocation and failure semantics as Grow.
	Shrink(ptr unsafe.Pointer, oldLayout, newLayout Layout) (Block, error)
}

// ZeroAllocator is implemented by providers that can hand out pre-zeroed
// memory without an explicit clear, such as Heap (fresh Go-heap memory) or
// mapping-backed providers (demand-zero pages).
type ZeroAllocator interface {
	Allocator

	// AllocateZeroed behaves like Allocate with the first layout.Size()
	// bytes of the result guaranteed to be zero.
	AllocateZeroed(layout Layout) (Block, error)
}

// AllocateZeroed allocates through a with the first layout.Size() bytes
// zeroed. Providers implementing ZeroAllocator serve the request natively;
// for the rest the region is cleared after allocation.
func AllocateZeroed(a Allocator, layout Layout) (Block, error) {
	if za, ok := a.(ZeroAllocator); ok {
		return za.AllocateZeroed(layout)
	}
	blk, err := a.Allocate(layout)
	if err != nil {
		return Block{}, err
	}
	memclr(blk.Ptr, 0, layout.Size())
	return blk, nil
}

// GrowZeroed grows the region at ptr like Allocator.Grow and additionally
// zeroes the added tail, i.e. the bytes in [oldLayout.Size(), newLayout.Size()).
func GrowZeroed(a Allocator, ptr unsafe.Pointer, oldLayout, newLayout Layout) (Block, error) {
	blk, err := a.Grow(ptr, oldLayout, newLayout)
	if err != nil {
		return Block{}, err
	}
	memclr(blk.Ptr, oldLayout.Size(), newLayout.Size())
	return blk, nil
}

// memclr zeroes the bytes in [from, to) relative to p.
func memclr(p unsafe.Pointer, from, to uintptr) {
	if to <= from {
		return
	}
	b := unsafe.Slice((*byte)(unsafe.Add(p, from)), to-from)
	clear(b)
}
