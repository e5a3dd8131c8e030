package allocgo

import (
	"fmt"
	"math"
	"math/bits"
	"unsafe"
)

// maxLayoutSize is the largest rounded size a Layout may describe. It matches
// the Go allocation ceiling (slice lengths are int), so a valid Layout can
// always be turned into a real request.
const maxLayoutSize = uintptr(math.MaxInt)

// Layout describes a memory request: a byte size and a power-of-two alignment.
//
// Layouts are immutable values, freely copyable; construct them with
// NewLayout, LayoutOf or LayoutArray. A constructed Layout always satisfies
// the rounding invariant: size rounded up to the nearest multiple of align
// does not overflow. The zero Layout is invalid.
type Layout struct {
	size  uintptr
	align uintptr
}

// NewLayout builds a Layout from a size in bytes and an alignment.
// It fails when align is zero or not a power of two, or when size rounded up
// to align would exceed the maximum allocation size.
func NewLayout(size, align uintptr) (Layout, error) {
	if align == 0 || align&(align-1) != 0 {
		return Layout{}, fmt.Errorf("%w: %d", ErrInvalidAlignment, align)
	}
	// Rounding up to align adds at most align-1 bytes, so this bound is exact.
	if size > maxLayoutSize-(align-1) {
		return Layout{}, fmt.Errorf("%w: size=%d align=%d", ErrSizeOverflow, size, align)
	}
	return Layout{size: size, align: align}, nil
}

// LayoutOf returns the Layout of a single value of type T.
// It is always valid: Go type sizes and alignments satisfy the invariants.
func LayoutOf[T any]() Layout {
	var zero T
	return Layout{size: unsafe.Sizeof(zero), align: unsafe.Alignof(zero)}
}

// LayoutArray returns the Layout of a contiguous array of n values of type T.
// It fails when n is negative or n*sizeof(T) overflows.
func LayoutArray[T any](n int) (Layout, error) {
	if n < 0 {
		return Layout{}, fmt.Errorf("%w: negative element count %d", ErrSizeOverflow, n)
	}
	var zero T
	hi, total := bits.Mul64(uint64(unsafe.Sizeof(zero)), uint64(n))
	if hi != 0 || total > uint64(maxLayoutSize) {
		return Layout{}, fmt.Errorf("%w: %d elements of size %d", ErrSizeOverflow, n, unsafe.Sizeof(zero))
	}
	return NewLayout(uintptr(total), unsafe.Alignof(zero))
}

// Size returns the requested size in bytes.
func (l Layout) Size() uintptr { return l.size }

// Align returns the requested alignment in bytes.
func (l Layout) Align() uintptr { return l.align }

// AlignedSize returns the size rounded up to the nearest multiple of the
// alignment. Construction guarantees the rounding cannot overflow.
func (l Layout) AlignedSize() uintptr {
	return (l.size + l.align - 1) &^ (l.align - 1)
}

// Extend returns the Layout of a struct consisting of this layout followed by
// next, inserting padding so next starts suitably aligned. The second result
// is the byte offset of next within the combined layout.
//
// The combined size is not padded to the combined alignment; call AlignedSize
// on the result when the trailing padding matters.
func (l Layout) Extend(next Layout) (Layout, uintptr, error) {
	if l.size > maxLayoutSize-(next.align-1) {
		return Layout{}, 0, fmt.Errorf("%w: extend of size=%d align=%d", ErrSizeOverflow, l.size, next.align)
	}
	offset := (l.size + next.align - 1) &^ (next.align - 1)
	if next.size > maxLayoutSize-offset {
		return Layout{}, 0, fmt.Errorf("%w: extend by size=%d at offset %d", ErrSizeOverflow, next.size, offset)
	}
	align := max(l.align, next.align)
	combined, err := NewLayout(offset+next.size, align)
	if err != nil {
		return Layout{}, 0, err
	}
	return combined, offset, nil
}

// Repeat returns the Layout of n consecutive copies of this layout, each
// padded to the alignment. The second result is the stride between copies.
func (l Layout) Repeat(n int) (Layout, uintptr, error) {
	if n < 0 {
		return Layout{}, 0, fmt.Errorf("%w: negative repeat count %d", ErrSizeOverflow, n)
	}
	stride := l.AlignedSize()
	hi, total := bits.Mul64(uint64(stride), uint64(n))
	if hi != 0 || total > uint64(maxLayoutSize) {
		return Layout{}, 0, fmt.Errorf("%w: %d repeats of size %d", ErrSizeOverflow, n, stride)
	}
	repeated, err := NewLayout(uintptr(total), l.align)
	if err != nil {
		return Layout{}, 0, err
	}
	return repeated, stride, nil
}

// String implements fmt.Stringer.
func (l Layout) String() string {
	return fmt.Sprintf("Layout{size: %d, align: %d}", l.size, l.align)
}
