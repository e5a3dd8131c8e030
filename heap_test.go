package allocgo

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeapAllocate(t *testing.T) {
	var h Heap

	t.Run("roundtrip", func(t *testing.T) {
		layout := mustLayout(t, 64, 8)

		blk, err := h.Allocate(layout)
		require.NoError(t, err)
		require.NotNil(t, blk.Ptr)
		assert.GreaterOrEqual(t, blk.Size, layout.Size())

		b := unsafe.Slice((*byte)(blk.Ptr), layout.Size())
		for i := range b {
			b[i] = byte(i)
		}
		for i := range b {
			assert.Equal(t, byte(i), b[i])
		}

		h.Deallocate(blk.Ptr, layout)
	})

	t.Run("alignment honored", func(t *testing.T) {
		for align := uintptr(1); align <= 4096; align *= 2 {
			layout := mustLayout(t, 32, align)

			blk, err := h.Allocate(layout)
			require.NoError(t, err)
			assert.Zerof(t, uintptr(blk.Ptr)%align, "align %d", align)

			h.Deallocate(blk.Ptr, layout)
		}
	})

	t.Run("unsupported alignment", func(t *testing.T) {
		layout := mustLayout(t, 32, 8192)

		_, err := h.Allocate(layout)
		assert.ErrorIs(t, err, ErrAlignmentUnsupported)

		var af *ErrAllocFailed
		require.ErrorAs(t, err, &af)
		assert.Equal(t, layout, af.Layout)
	})

	t.Run("zero size returns dangling", func(t *testing.T) {
		layout := mustLayout(t, 0, 16)

		blk, err := h.Allocate(layout)
		require.NoError(t, err)
		require.NotNil(t, blk.Ptr)
		assert.Equal(t, uintptr(0), blk.Size)
		assert.Zero(t, uintptr(blk.Ptr)%16)

		// Releasing a zero-size block is a no-op.
		h.Deallocate(blk.Ptr, layout)
	})

	t.Run("zeroed", func(t *testing.T) {
		layout := mustLayout(t, 128, 8)

		blk, err := h.AllocateZeroed(layout)
		require.NoError(t, err)
		defer h.Deallocate(blk.Ptr, layout)

		b := unsafe.Slice((*byte)(blk.Ptr), layout.Size())
		for i := range b {
			require.Equal(t, byte(0), b[i])
		}
	})
}

func TestHeapGrow(t *testing.T) {
	var h Heap

	t.Run("in place within usable size", func(t *testing.T) {
		oldLayout := mustLayout(t, 8, 8)

		blk, err := h.Allocate(oldLayout)
		require.NoError(t, err)

		// The carve over-allocates; growing to the reported usable size must
		// keep the address.
		newLayout := mustLayout(t, blk.Size, 8)
		grown, err := h.Grow(blk.Ptr, oldLayout, newLayout)
		require.NoError(t, err)
		assert.Equal(t, blk.Ptr, grown.Ptr)

		h.Deallocate(grown.Ptr, newLayout)
	})

	t.Run("relocation preserves contents", func(t *testing.T) {
		oldLayout := mustLayout(t, 16, 8)

		blk, err := h.Allocate(oldLayout)
		require.NoError(t, err)

		b := unsafe.Slice((*byte)(blk.Ptr), 16)
		for i := range b {
			b[i] = byte(0xA0 + i)
		}

		newLayout := mustLayout(t, 1<<20, 8)
		grown, err := h.Grow(blk.Ptr, oldLayout, newLayout)
		require.NoError(t, err)
		assert.NotEqual(t, blk.Ptr, grown.Ptr)

		nb := unsafe.Slice((*byte)(grown.Ptr), 16)
		for i := range nb {
			assert.Equal(t, byte(0xA0+i), nb[i])
		}

		h.Deallocate(grown.Ptr, newLayout)
	})

	t.Run("from zero size allocates", func(t *testing.T) {
		oldLayout := mustLayout(t, 0, 8)
		blk, err := h.Allocate(oldLayout)
		require.NoError(t, err)

		newLayout := mustLayout(t, 64, 8)
		grown, err := h.Grow(blk.Ptr, oldLayout, newLayout)
		require.NoError(t, err)
		require.NotNil(t, grown.Ptr)
		assert.GreaterOrEqual(t, grown.Size, uintptr(64))

		h.Deallocate(grown.Ptr, newLayout)
	})
}

func TestHeapShrink(t *testing.T) {
	var h Heap

	t.Run("preserves surviving bytes", func(t *testing.T) {
		oldLayout := mustLayout(t, 256, 8)

		blk, err := h.Allocate(oldLayout)
		require.NoError(t, err)

		b := unsafe.Slice((*byte)(blk.Ptr), 256)
		for i := range b {
			b[i] = byte(i)
		}

		newLayout := mustLayout(t, 32, 8)
		shrunk, err := h.Shrink(blk.Ptr, oldLayout, newLayout)
		require.NoError(t, err)

		nb := unsafe.Slice((*byte)(shrunk.Ptr), 32)
		for i := range nb {
			assert.Equal(t, byte(i), nb[i])
		}

		h.Deallocate(shrunk.Ptr, newLayout)
	})

	t.Run("to zero size releases", func(t *testing.T) {
		oldLayout := mustLayout(t, 64, 8)

		blk, err := h.Allocate(oldLayout)
		require.NoError(t, err)

		newLayout := mustLayout(t, 0, 8)
		shrunk, err := h.Shrink(blk.Ptr, oldLayout, newLayout)
		require.NoError(t, err)
		require.NotNil(t, shrunk.Ptr)
		assert.Equal(t, uintptr(0), shrunk.Size)
	})
}

func TestHeapConcurrent(t *testing.T) {
	var h Heap
	layout := mustLayout(t, 128, 64)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				blk, err := h.Allocate(layout)
				if err != nil {
					t.Error(err)
					return
				}
				unsafe.Slice((*byte)(blk.Ptr), layout.Size())[0] = 0xFF
				h.Deallocate(blk.Ptr, layout)
			}
		}()
	}
	wg.Wait()
}
