package allocgo

import (
	"io"
	"unsafe"

	"github.com/hupe1980/allocgo/internal/mem"
)

// Box owns exactly one heap-allocated value of type T, paired with the
// Allocator that produced the allocation. The same allocator releases it
// when the box is closed, after the value's teardown has run.
//
// The backing memory is not scanned by the garbage collector. T must not
// contain Go pointers. Values needing teardown implement io.Closer.
//
// A Box is not safe for concurrent use.
type Box[T any] struct {
	ptr   *T
	alloc Allocator
	opts  options
}

// NewBox allocates room for one T via allocator, moves value into it and
// returns the box. Types of zero size never allocate, their box carries a
// well-defined dangling pointer instead. Allocation failure is escalated,
// see WithOOMHook.
func NewBox[T any](value T, allocator Allocator, optFns ...Option) *Box[T] {
	b, err := newBox(value, allocator, optFns)
	if err != nil {
		b.opts.fatal(err)
	}

	return b
}

// TryNewBox behaves like NewBox but reports allocation failure to the
// caller instead of escalating.
func TryNewBox[T any](value T, allocator Allocator, optFns ...Option) (*Box[T], error) {
	b, err := newBox(value, allocator, optFns)
	if err != nil {
		return nil, err
	}

	return b, nil
}

func newBox[T any](value T, allocator Allocator, optFns []Option) (*Box[T], error) {
	if allocator == nil {
		panic("allocgo: nil allocator")
	}

	b := &Box[T]{
		alloc: allocator,
		opts:  applyOptions(optFns),
	}

	layout := LayoutOf[T]()
	if layout.Size() == 0 {
		b.ptr = (*T)(mem.Dangling(layout.Align()))
		return b, nil
	}

	blk, err := allocator.Allocate(layout)
	if err != nil {
		return b, err
	}

	b.ptr = (*T)(blk.Ptr)
	*b.ptr = value

	return b, nil
}

// BoxFromRaw reconstructs a box from a pointer previously obtained through
// IntoRaw together with the allocator that produced it. The caller hands the
// deallocation obligation back to the box. The pointer must not be owned by
// another box.
func BoxFromRaw[T any](ptr *T, allocator Allocator, optFns ...Option) *Box[T] {
	if allocator == nil {
		panic("allocgo: nil allocator")
	}

	if ptr == nil {
		panic("allocgo: nil pointer")
	}

	return &Box[T]{
		ptr:   ptr,
		alloc: allocator,
		opts:  applyOptions(optFns),
	}
}

// Get returns the pointer to the owned value for reads and writes.
func (b *Box[T]) Get() *T {
	if b.alloc == nil {
		panic("allocgo: use of released box")
	}

	return b.ptr
}

// Allocator returns the allocator paired with the box, or nil after Close
// or IntoRaw.
func (b *Box[T]) Allocator() Allocator {
	return b.alloc
}

// IntoRaw releases ownership without running teardown and without touching
// the allocator. The caller assumes the deallocation obligation, typically
// discharged later via BoxFromRaw followed by Close.
func (b *Box[T]) IntoRaw() (*T, Allocator) {
	if b.alloc == nil {
		panic("allocgo: use of released box")
	}

	ptr, alloc := b.ptr, b.alloc
	b.ptr = nil
	b.alloc = nil

	return ptr, alloc
}

// Close runs the owned value's teardown, then returns the allocation to the
// paired allocator. Calling Close again does nothing. The teardown error, if
// any, is returned after the memory has been released.
func (b *Box[T]) Close() error {
	if b.alloc == nil {
		return nil
	}

	ptr, alloc := b.ptr, b.alloc
	b.ptr = nil
	b.alloc = nil

	var err error
	if c, ok := any(ptr).(io.Closer); ok {
		err = c.Close()
	}

	layout := LayoutOf[T]()
	if layout.Size() > 0 {
		alloc.Deallocate(unsafe.Pointer(ptr), layout)
	}

	return err
}
