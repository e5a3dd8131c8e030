package allocgo

import (
	"sync/atomic"
	"testing"
	"unsafe"
)

// mustLayout builds a Layout or fails the test immediately.
func mustLayout(t testing.TB, size, align uintptr) Layout {
	t.Helper()
	l, err := NewLayout(size, align)
	if err != nil {
		t.Fatalf("NewLayout(%d, %d): %v", size, align, err)
	}
	return l
}

// failAllocator fails every request and records the layouts it was asked for.
type failAllocator struct {
	requests []Layout
}

func (f *failAllocator) Allocate(layout Layout) (Block, error) {
	f.requests = append(f.requests, layout)
	return Block{}, NewErrAllocFailed(layout, nil)
}

func (f *failAllocator) Deallocate(unsafe.Pointer, Layout) {}

func (f *failAllocator) Grow(_ unsafe.Pointer, _, newLayout Layout) (Block, error) {
	f.requests = append(f.requests, newLayout)
	return Block{}, NewErrAllocFailed(newLayout, nil)
}

func (f *failAllocator) Shrink(_ unsafe.Pointer, _, newLayout Layout) (Block, error) {
	f.requests = append(f.requests, newLayout)
	return Block{}, NewErrAllocFailed(newLayout, nil)
}

// boxCloses counts teardown runs of closeTracked values across a test.
var boxCloses atomic.Int32

// closeTracked is a pointer-free boxable value whose teardown is observable.
type closeTracked struct {
	id int32
}

func (closeTracked) Close() error {
	boxCloses.Add(1)
	return nil
}
