package mem

import (
	"unsafe"
)

// MaxAlign is the largest alignment AllocAligned and Dangling support. It
// matches the smallest page size in use; a page-aligned address satisfies
// every smaller power-of-two alignment.
const MaxAlign = 4096

// AllocAligned allocates a byte slice of the given size whose first byte is
// aligned to align. align must be a power of two between 1 and MaxAlign.
//
// The returned view may have capacity beyond size; all capacity bytes are
// valid. The underlying array is kept alive by the returned slice, so the
// caller must retain the view for as long as the memory is in use.
func AllocAligned(size, align uintptr) []byte {
	if size == 0 {
		return nil
	}
	if align == 0 || align&(align-1) != 0 || align > MaxAlign {
		panic("mem: invalid alignment")
	}

	// Allocate size + align so an aligned start can always be found within
	// the first align-1 bytes.
	totalSize := size + align
	buf := make([]byte, totalSize)

	ptr := unsafe.Pointer(&buf[0]) //nolint:gosec // unsafe is required for memory alignment
	addr := uintptr(ptr)
	offset := (align - (addr & (align - 1))) & (align - 1)

	return buf[offset : offset+size]
}

// danglingRegion backs the sentinel addresses handed out for zero-size
// allocations. Its bytes are never read or written.
var danglingRegion [2 * MaxAlign]byte

var danglingBase = func() unsafe.Pointer {
	p := unsafe.Pointer(&danglingRegion[0]) //nolint:gosec // unsafe is required for memory alignment
	offset := (MaxAlign - (uintptr(p) & (MaxAlign - 1))) & (MaxAlign - 1)
	return unsafe.Add(p, offset)
}()

// Dangling returns a fixed non-nil pointer aligned to align, used as the
// placeholder address of zero-size allocations. The pointed-to bytes must
// never be accessed. align must be a power of two between 1 and MaxAlign.
func Dangling(align uintptr) unsafe.Pointer {
	if align == 0 || align&(align-1) != 0 || align > MaxAlign {
		panic("mem: invalid alignment")
	}
	return danglingBase
}
