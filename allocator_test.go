package allocgo

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dirtyAllocator forwards to Heap while deliberately not implementing
// ZeroAllocator. Fresh and grown regions are filled with a marker byte so
// tests can tell cleared memory from accidentally zero memory.
type dirtyAllocator struct {
	heap Heap
}

func (d *dirtyAllocator) Allocate(layout Layout) (Block, error) {
	blk, err := d.heap.Allocate(layout)
	if err != nil {
		return Block{}, err
	}

	fillBytes(blk.Ptr, 0, layout.Size(), 0xAA)

	return blk, nil
}

func (d *dirtyAllocator) Deallocate(ptr unsafe.Pointer, layout Layout) {
	d.heap.Deallocate(ptr, layout)
}

func (d *dirtyAllocator) Grow(ptr unsafe.Pointer, oldLayout, newLayout Layout) (Block, error) {
	blk, err := d.heap.Grow(ptr, oldLayout, newLayout)
	if err != nil {
		return Block{}, err
	}

	fillBytes(blk.Ptr, oldLayout.Size(), newLayout.Size(), 0xAA)

	return blk, nil
}

func (d *dirtyAllocator) Shrink(ptr unsafe.Pointer, oldLayout, newLayout Layout) (Block, error) {
	return d.heap.Shrink(ptr, oldLayout, newLayout)
}

// zeroSpy counts native zeroed allocations served by the embedded Heap.
type zeroSpy struct {
	Heap
	zeroCalls int
}

func (z *zeroSpy) AllocateZeroed(layout Layout) (Block, error) {
	z.zeroCalls++
	return z.Heap.AllocateZeroed(layout)
}

func fillBytes(p unsafe.Pointer, from, to uintptr, v byte) {
	if to <= from {
		return
	}

	b := unsafe.Slice((*byte)(unsafe.Add(p, from)), to-from)
	for i := range b {
		b[i] = v
	}
}

func bytesOf(p unsafe.Pointer, n uintptr) []byte {
	return unsafe.Slice((*byte)(p), n)
}

func TestAllocateZeroed(t *testing.T) {
	t.Run("fallback clears after allocation", func(t *testing.T) {
		da := &dirtyAllocator{}
		layout := mustLayout(t, 64, 8)

		blk, err := AllocateZeroed(da, layout)
		require.NoError(t, err)
		defer da.Deallocate(blk.Ptr, layout)

		for _, b := range bytesOf(blk.Ptr, 64) {
			require.Equal(t, byte(0), b)
		}
	})

	t.Run("native path dispatched when available", func(t *testing.T) {
		zs := &zeroSpy{}
		layout := mustLayout(t, 64, 8)

		blk, err := AllocateZeroed(zs, layout)
		require.NoError(t, err)
		defer zs.Deallocate(blk.Ptr, layout)

		assert.Equal(t, 1, zs.zeroCalls)

		for _, b := range bytesOf(blk.Ptr, 64) {
			require.Equal(t, byte(0), b)
		}
	})

	t.Run("zero size layout", func(t *testing.T) {
		da := &dirtyAllocator{}
		layout := mustLayout(t, 0, 8)

		blk, err := AllocateZeroed(da, layout)
		require.NoError(t, err)
		assert.NotNil(t, blk.Ptr)

		da.Deallocate(blk.Ptr, layout)
	})

	t.Run("failure passthrough", func(t *testing.T) {
		fa := &failAllocator{}

		_, err := AllocateZeroed(fa, mustLayout(t, 64, 8))
		require.Error(t, err)

		var af *ErrAllocFailed
		assert.ErrorAs(t, err, &af)
	})
}

func TestGrowZeroed(t *testing.T) {
	t.Run("tail cleared old bytes preserved", func(t *testing.T) {
		da := &dirtyAllocator{}
		oldLayout := mustLayout(t, 16, 8)
		newLayout := mustLayout(t, 64, 8)

		blk, err := da.Allocate(oldLayout)
		require.NoError(t, err)

		grown, err := GrowZeroed(da, blk.Ptr, oldLayout, newLayout)
		require.NoError(t, err)
		defer da.Deallocate(grown.Ptr, newLayout)

		out := bytesOf(grown.Ptr, 64)
		for i := 0; i < 16; i++ {
			require.Equal(t, byte(0xAA), out[i], "old contents must survive")
		}
		for i := 16; i < 64; i++ {
			require.Equal(t, byte(0), out[i], "added tail must be zero")
		}
	})

	t.Run("failure passthrough", func(t *testing.T) {
		da := &dirtyAllocator{}
		oldLayout := mustLayout(t, 16, 8)

		blk, err := da.Allocate(oldLayout)
		require.NoError(t, err)
		defer da.Deallocate(blk.Ptr, oldLayout)

		_, err = GrowZeroed(da, blk.Ptr, oldLayout, mustLayout(t, 64, 8192))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAlignmentUnsupported)
	})
}
