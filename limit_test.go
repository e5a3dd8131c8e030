package allocgo

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitAllocatorEnforcement(t *testing.T) {
	t.Run("denies over budget", func(t *testing.T) {
		la := NewLimitAllocator(Heap{}, 128)
		layout := mustLayout(t, 64, 8)

		blk1, err := la.Allocate(layout)
		require.NoError(t, err)

		blk2, err := la.Allocate(layout)
		require.NoError(t, err)
		assert.Equal(t, int64(128), la.Usage())

		_, err = la.Allocate(mustLayout(t, 1, 1))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMemoryLimitExceeded)

		var af *ErrAllocFailed
		require.ErrorAs(t, err, &af)
		assert.Equal(t, uintptr(1), af.Layout.Size())

		la.Deallocate(blk1.Ptr, layout)
		la.Deallocate(blk2.Ptr, layout)
		assert.Equal(t, int64(0), la.Usage())
	})

	t.Run("deallocate refunds budget", func(t *testing.T) {
		la := NewLimitAllocator(Heap{}, 64)
		layout := mustLayout(t, 64, 8)

		blk, err := la.Allocate(layout)
		require.NoError(t, err)

		_, err = la.Allocate(layout)
		require.Error(t, err)

		la.Deallocate(blk.Ptr, layout)

		blk, err = la.Allocate(layout)
		require.NoError(t, err)
		la.Deallocate(blk.Ptr, layout)
	})

	t.Run("grow charges the delta", func(t *testing.T) {
		la := NewLimitAllocator(Heap{}, 128)
		layout := mustLayout(t, 64, 8)

		blk, err := la.Allocate(layout)
		require.NoError(t, err)

		fullLayout := mustLayout(t, 128, 8)
		blk, err = la.Grow(blk.Ptr, layout, fullLayout)
		require.NoError(t, err)
		assert.Equal(t, int64(128), la.Usage())

		_, err = la.Grow(blk.Ptr, fullLayout, mustLayout(t, 160, 8))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMemoryLimitExceeded)
		assert.Equal(t, int64(128), la.Usage())

		la.Deallocate(blk.Ptr, fullLayout)
	})

	t.Run("shrink refunds the delta", func(t *testing.T) {
		la := NewLimitAllocator(Heap{}, 128)
		layout := mustLayout(t, 128, 8)

		blk, err := la.Allocate(layout)
		require.NoError(t, err)

		smallLayout := mustLayout(t, 32, 8)
		blk, err = la.Shrink(blk.Ptr, layout, smallLayout)
		require.NoError(t, err)
		assert.Equal(t, int64(32), la.Usage())

		la.Deallocate(blk.Ptr, smallLayout)
		assert.Equal(t, int64(0), la.Usage())
	})

	t.Run("zero limit only tracks", func(t *testing.T) {
		la := NewLimitAllocator(Heap{}, 0)
		layout := mustLayout(t, 1<<20, 8)

		blk, err := la.Allocate(layout)
		require.NoError(t, err)
		assert.Equal(t, int64(1<<20), la.Usage())
		assert.Equal(t, int64(0), la.Limit())

		la.Deallocate(blk.Ptr, layout)
		assert.Equal(t, int64(0), la.Usage())
	})

	t.Run("inner failure refunds budget", func(t *testing.T) {
		la := NewLimitAllocator(Heap{}, 1<<20)

		_, err := la.Allocate(mustLayout(t, 64, 8192))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAlignmentUnsupported)
		assert.Equal(t, int64(0), la.Usage())
	})

	t.Run("zero size not charged", func(t *testing.T) {
		la := NewLimitAllocator(Heap{}, 16)
		layout := mustLayout(t, 0, 8)

		blk, err := la.Allocate(layout)
		require.NoError(t, err)
		assert.Equal(t, int64(0), la.Usage())

		la.Deallocate(blk.Ptr, layout)
	})

	t.Run("zeroed allocation charged", func(t *testing.T) {
		la := NewLimitAllocator(Heap{}, 128)
		layout := mustLayout(t, 64, 8)

		blk, err := la.AllocateZeroed(layout)
		require.NoError(t, err)
		assert.Equal(t, int64(64), la.Usage())

		b := unsafe.Slice((*byte)(blk.Ptr), 64)
		for i := range b {
			require.Equal(t, byte(0), b[i])
		}

		la.Deallocate(blk.Ptr, layout)
	})
}

func TestLimitAllocatorDenialLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	la := NewLimitAllocator(Heap{}, 8,
		func(o *LimitOptions) {
			o.Logger = logger
			o.WarnInterval = time.Hour
		},
	)

	layout := mustLayout(t, 64, 8)
	for i := 0; i < 5; i++ {
		_, err := la.Allocate(layout)
		require.Error(t, err)
	}

	lines := strings.Count(buf.String(), "\n")
	assert.Equal(t, 1, lines, "denial logging should be throttled")
	assert.Contains(t, buf.String(), "memory limit")
}

func TestLimitAllocatorConcurrent(t *testing.T) {
	const (
		goroutines = 8
		iterations = 200
		chunk      = 64
	)

	la := NewLimitAllocator(Heap{}, goroutines*chunk)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			layout, err := NewLayout(chunk, 8)
			if err != nil {
				t.Error(err)
				return
			}

			for i := 0; i < iterations; i++ {
				blk, err := la.Allocate(layout)
				if err != nil {
					continue
				}

				la.Deallocate(blk.Ptr, layout)
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, int64(0), la.Usage())
}
