package allocgo

import (
	"sync"
	"unsafe"

	"github.com/hupe1980/allocgo/internal/mem"
)

// Heap is the default Allocator, backed by the Go heap. It is a zero-sized
// value: all Heap values denote the same provider, so memory allocated
// through one may be released through another. Safe for concurrent use.
//
// Blocks are carved at the requested alignment out of over-allocated Go-heap
// slices. A package-level registry pins each carve, keeping the backing array
// reachable while user code holds only raw pointers. Alignments up to 4096
// are supported; larger ones fail with ErrAlignmentUnsupported.
//
// Heap reports no ordinary exhaustion: if the Go runtime cannot satisfy an
// allocation it aborts the process, like the built-in make and new.
type Heap struct{}

var _ ZeroAllocator = Heap{}

var (
	heapMu sync.Mutex
	// heapPins maps the address of each live carve to its aligned view. The
	// view keeps the whole backing array alive; its capacity is the usable
	// extent of the block.
	heapPins = make(map[uintptr][]byte)
)

// Allocate implements Allocator.
func (Heap) Allocate(layout Layout) (Block, error) {
	if layout.Align() > mem.MaxAlign {
		return Block{}, NewErrAllocFailed(layout, ErrAlignmentUnsupported)
	}
	if layout.Size() == 0 {
		return Block{Ptr: mem.Dangling(layout.Align()), Size: 0}, nil
	}

	buf := mem.AllocAligned(layout.Size(), layout.Align())
	ptr := unsafe.Pointer(&buf[0]) //nolint:gosec // unsafe is required to hand out raw block addresses

	heapMu.Lock()
	heapPins[uintptr(ptr)] = buf
	heapMu.Unlock()

	return Block{Ptr: ptr, Size: uintptr(cap(buf))}, nil
}

// AllocateZeroed implements ZeroAllocator. Fresh Go-heap memory is already
// zeroed, so this is Allocate.
func (h Heap) AllocateZeroed(layout Layout) (Block, error) {
	return h.Allocate(layout)
}

// Deallocate implements Allocator.
func (Heap) Deallocate(ptr unsafe.Pointer, layout Layout) {
	if layout.Size() == 0 {
		return
	}
	heapMu.Lock()
	delete(heapPins, uintptr(ptr))
	heapMu.Unlock()
}

// Grow implements Allocator. When the original carve already spans
// newLayout.Size() usable bytes and the alignment does not increase, the
// block grows in place and keeps its address.
func (h Heap) Grow(ptr unsafe.Pointer, oldLayout, newLayout Layout) (Block, error) {
	if oldLayout.Size() == 0 {
		return h.Allocate(newLayout)
	}

	if newLayout.Align() <= oldLayout.Align() {
		heapMu.Lock()
		buf, ok := heapPins[uintptr(ptr)]
		heapMu.Unlock()
		if ok && uintptr(cap(buf)) >= newLayout.Size() {
			return Block{Ptr: ptr, Size: uintptr(cap(buf))}, nil
		}
	}

	blk, err := h.Allocate(newLayout)
	if err != nil {
		return Block{}, err
	}
	copyBytes(blk.Ptr, ptr, oldLayout.Size())
	h.Deallocate(ptr, oldLayout)
	return blk, nil
}

// Shrink implements Allocator. The block always relocates (or is released
// entirely for a zero-size target) so the surplus memory actually returns to
// the Go heap.
func (h Heap) Shrink(ptr unsafe.Pointer, oldLayout, newLayout Layout) (Block, error) {
	if newLayout.Align() > mem.MaxAlign {
		return Block{}, NewErrAllocFailed(newLayout, ErrAlignmentUnsupported)
	}
	if newLayout.Size() == 0 {
		h.Deallocate(ptr, oldLayout)
		return Block{Ptr: mem.Dangling(newLayout.Align()), Size: 0}, nil
	}

	blk, err := h.Allocate(newLayout)
	if err != nil {
		return Block{}, err
	}
	copyBytes(blk.Ptr, ptr, newLayout.Size())
	h.Deallocate(ptr, oldLayout)
	return blk, nil
}

// copyBytes copies n bytes from src to dst. The regions must not overlap.
func copyBytes(dst, src unsafe.Pointer, n uintptr) {
	if n == 0 {
		return
	}
	copy(unsafe.Slice((*byte)(dst), n), unsafe.Slice((*byte)(src), n))
}
