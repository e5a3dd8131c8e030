package allocgo

import (
	"fmt"
	"math"
	"unsafe"

	"github.com/hupe1980/allocgo/internal/mem"
)

// RawBuffer owns a contiguous region sized for Cap elements of T, obtained
// from a single Allocator. It manages only the pointer and the capacity;
// the element count is a caller-owned concept layered on top and is passed
// into Reserve as the length parameter.
//
// A zero-capacity buffer holds no allocation and its pointer is a dangling
// sentinel aligned for T. When T has zero size the buffer never allocates
// and reports a capacity of math.MaxInt.
//
// The backing memory is not scanned by the garbage collector. T must not
// contain Go pointers.
//
// A RawBuffer is not safe for concurrent use. Distinct buffers may be used
// concurrently when the shared allocator permits it.
type RawBuffer[T any] struct {
	ptr       unsafe.Pointer
	cap       int
	alloc     Allocator
	opts      options
	elemSize  uintptr
	elemAlign uintptr
}

// NewRawBuffer returns a buffer with room for exactly n elements of T.
// A capacity of 0 is legal and allocation free. Allocation failure is
// escalated, see WithOOMHook.
func NewRawBuffer[T any](n int, allocator Allocator, optFns ...Option) *RawBuffer[T] {
	rb, err := newRawBuffer[T](n, allocator, false, optFns)
	if err != nil {
		rb.opts.fatal(err)
	}

	return rb
}

// NewRawBufferZeroed behaves like NewRawBuffer with all bytes of the initial
// allocation set to zero.
func NewRawBufferZeroed[T any](n int, allocator Allocator, optFns ...Option) *RawBuffer[T] {
	rb, err := newRawBuffer[T](n, allocator, true, optFns)
	if err != nil {
		rb.opts.fatal(err)
	}

	return rb
}

// TryNewRawBuffer behaves like NewRawBuffer but reports allocation failure
// to the caller instead of escalating it.
func TryNewRawBuffer[T any](n int, allocator Allocator, optFns ...Option) (*RawBuffer[T], error) {
	rb, err := newRawBuffer[T](n, allocator, false, optFns)
	if err != nil {
		return nil, err
	}

	return rb, nil
}

func newRawBuffer[T any](n int, allocator Allocator, zeroed bool, optFns []Option) (*RawBuffer[T], error) {
	if allocator == nil {
		panic("allocgo: nil allocator")
	}

	elem := LayoutOf[T]()

	rb := &RawBuffer[T]{
		ptr:       mem.Dangling(elem.Align()),
		alloc:     allocator,
		opts:      applyOptions(optFns),
		elemSize:  elem.Size(),
		elemAlign: elem.Align(),
	}

	if rb.elemSize == 0 {
		rb.cap = math.MaxInt
		return rb, nil
	}

	if n == 0 {
		return rb, nil
	}

	layout, err := LayoutArray[T](n)
	if err != nil {
		return rb, err
	}

	var blk Block
	if zeroed {
		blk, err = AllocateZeroed(allocator, layout)
	} else {
		blk, err = allocator.Allocate(layout)
	}

	if err != nil {
		return rb, err
	}

	rb.ptr = blk.Ptr
	rb.cap = n

	return rb, nil
}

// Ptr returns the address of the first element slot. It is dangling while
// the capacity is 0 and must not be dereferenced then.
func (rb *RawBuffer[T]) Ptr() unsafe.Pointer {
	return rb.ptr
}

// Cap returns the number of elements the current allocation can hold.
func (rb *RawBuffer[T]) Cap() int {
	return rb.cap
}

// Allocator returns the allocator the buffer draws from, or nil after
// Release.
func (rb *RawBuffer[T]) Allocator() Allocator {
	return rb.alloc
}

// Index returns a pointer to element slot i. The slot may be uninitialized,
// tracking which slots hold live values is the caller's concern.
func (rb *RawBuffer[T]) Index(i int) *T {
	if i < 0 || i >= rb.cap {
		panic(fmt.Sprintf("allocgo: index %d out of range for capacity %d", i, rb.cap))
	}

	return (*T)(unsafe.Add(rb.ptr, uintptr(i)*rb.elemSize)) //nolint:gosec // unsafe is required for raw slot access
}

// Slice returns the full capacity as a slice. Element lifetimes within it
// are the caller's concern.
func (rb *RawBuffer[T]) Slice() []T {
	return unsafe.Slice((*T)(rb.ptr), rb.cap) //nolint:gosec // unsafe is required for raw slot access
}

// Reserve ensures capacity for at least length plus additional elements.
// If the capacity is already sufficient it does nothing. Otherwise it grows
// to the larger of twice the current capacity and the current capacity plus
// additional, so a sequence of appends reallocates O(log n) times.
// Overflowing capacity arithmetic panics with ErrCapacityOverflow and
// allocation failure is escalated, see WithOOMHook.
func (rb *RawBuffer[T]) Reserve(length, additional int) {
	if err := rb.tryReserve(length, additional, false); err != nil {
		rb.opts.fatal(err)
	}
}

// TryReserve behaves like Reserve but reports overflow and allocation
// failure to the caller instead of escalating.
func (rb *RawBuffer[T]) TryReserve(length, additional int) error {
	return rb.tryReserve(length, additional, false)
}

// ReserveExact ensures capacity for at least length plus additional
// elements, growing to exactly the current capacity plus additional. Use it
// when the final size is known in advance and over-allocation is unwanted.
func (rb *RawBuffer[T]) ReserveExact(length, additional int) {
	if err := rb.tryReserve(length, additional, true); err != nil {
		rb.opts.fatal(err)
	}
}

// TryReserveExact behaves like ReserveExact but reports overflow and
// allocation failure to the caller instead of escalating.
func (rb *RawBuffer[T]) TryReserveExact(length, additional int) error {
	return rb.tryReserve(length, additional, true)
}

func (rb *RawBuffer[T]) tryReserve(length, additional int, exact bool) error {
	rb.ensureLive()

	if length < 0 || additional < 0 {
		return ErrCapacityOverflow
	}

	required := length + additional
	if required < 0 {
		return ErrCapacityOverflow
	}

	if required <= rb.cap {
		return nil
	}

	// Zero-sized elements never reach this point, their capacity is MaxInt.

	newCap := rb.cap + additional
	if newCap < 0 {
		return ErrCapacityOverflow
	}

	if !exact {
		if rb.cap <= math.MaxInt/2 && rb.cap*2 > newCap {
			newCap = rb.cap * 2
		}

		if newCap == 0 {
			newCap = 1
		}
	}

	newLayout, err := LayoutArray[T](newCap)
	if err != nil {
		return err
	}

	if rb.cap == 0 {
		blk, err := rb.alloc.Allocate(newLayout)
		if err != nil {
			return err
		}

		rb.ptr = blk.Ptr
		rb.cap = newCap

		return nil
	}

	blk, err := rb.alloc.Grow(rb.ptr, rb.layoutFor(rb.cap), newLayout)
	if err != nil {
		return err
	}

	rb.ptr = blk.Ptr
	rb.cap = newCap

	return nil
}

// ShrinkToFit shrinks the backing allocation down to exactly n elements,
// releasing it entirely when n is 0. Shrinking to a larger capacity panics.
func (rb *RawBuffer[T]) ShrinkToFit(n int) {
	rb.ensureLive()

	if n < 0 {
		panic("allocgo: negative capacity")
	}

	if n > rb.cap {
		panic(fmt.Sprintf("allocgo: shrink from capacity %d to larger capacity %d", rb.cap, n))
	}

	if rb.elemSize == 0 || n == rb.cap {
		return
	}

	if n == 0 {
		rb.alloc.Deallocate(rb.ptr, rb.layoutFor(rb.cap))
		rb.ptr = mem.Dangling(rb.elemAlign)
		rb.cap = 0

		return
	}

	blk, err := rb.alloc.Shrink(rb.ptr, rb.layoutFor(rb.cap), rb.layoutFor(n))
	if err != nil {
		rb.opts.fatal(err)
	}

	rb.ptr = blk.Ptr
	rb.cap = n
}

// Release returns the held allocation to the allocator. The buffer must not
// be used afterwards except for calling Release again, which does nothing.
func (rb *RawBuffer[T]) Release() {
	if rb.alloc == nil {
		return
	}

	if rb.elemSize > 0 && rb.cap > 0 {
		rb.alloc.Deallocate(rb.ptr, rb.layoutFor(rb.cap))
	}

	rb.alloc = nil
	rb.ptr = mem.Dangling(rb.elemAlign)
	rb.cap = 0
}

// layoutFor recomputes the layout of a capacity that was validated when it
// was allocated.
func (rb *RawBuffer[T]) layoutFor(c int) Layout {
	layout, err := LayoutArray[T](c)
	if err != nil {
		panic(err)
	}

	return layout
}

func (rb *RawBuffer[T]) ensureLive() {
	if rb.alloc == nil {
		panic("allocgo: use of released buffer")
	}
}
