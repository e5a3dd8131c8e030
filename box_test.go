package allocgo

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// zstCloses counts teardown runs of zero-sized boxed values.
var zstCloses int

type zstCloser struct{}

func (zstCloser) Close() error {
	zstCloses++
	return nil
}

// brokenCloser fails its teardown.
type brokenCloser struct {
	pad int64
}

func (brokenCloser) Close() error {
	return errors.New("teardown failed")
}

func TestBoxLifecycle(t *testing.T) {
	t.Run("value roundtrip", func(t *testing.T) {
		b := NewBox[int64](42, Heap{})

		assert.Equal(t, int64(42), *b.Get())

		*b.Get() = 1337
		assert.Equal(t, int64(1337), *b.Get())

		require.NoError(t, b.Close())
	})

	t.Run("teardown then deallocate exactly once", func(t *testing.T) {
		ca := NewCheckedAllocator(Heap{})

		before := boxCloses.Load()
		b := NewBox(closeTracked{id: 7}, ca)
		require.NoError(t, b.Close())

		assert.Equal(t, int32(1), boxCloses.Load()-before)

		stats := ca.Stats()
		assert.Equal(t, uint64(1), stats.Allocs)
		assert.Equal(t, uint64(1), stats.Deallocs)
		assert.Equal(t, 0, stats.Live)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		ca := NewCheckedAllocator(Heap{})

		before := boxCloses.Load()
		b := NewBox(closeTracked{id: 8}, ca)

		require.NoError(t, b.Close())
		require.NoError(t, b.Close())

		assert.Equal(t, int32(1), boxCloses.Load()-before)
		assert.Equal(t, uint64(1), ca.Stats().Deallocs)
	})

	t.Run("teardown error still releases memory", func(t *testing.T) {
		ca := NewCheckedAllocator(Heap{})

		b := NewBox(brokenCloser{}, ca)
		err := b.Close()
		require.EqualError(t, err, "teardown failed")

		assert.Equal(t, 0, ca.Stats().Live)
	})

	t.Run("use after close panics", func(t *testing.T) {
		b := NewBox[int64](1, Heap{})
		require.NoError(t, b.Close())

		assert.Panics(t, func() { b.Get() })
		assert.Nil(t, b.Allocator())
	})

	t.Run("nil allocator", func(t *testing.T) {
		assert.Panics(t, func() {
			NewBox[int64](1, nil)
		})
	})
}

func TestBoxIntoRawRoundtrip(t *testing.T) {
	c := &BasicMetricsCollector{}
	ma := NewMeteredAllocator(Heap{}, c)

	b := NewBox[int64](99, ma)
	callsAfterNew := c.GetStats().AllocateCount

	ptr, alloc := b.IntoRaw()
	require.NotNil(t, ptr)
	assert.Equal(t, int64(99), *ptr)
	assert.Same(t, ma, alloc)

	assert.Panics(t, func() { b.Get() }, "consumed box must not be usable")

	rebuilt := BoxFromRaw(ptr, alloc)
	assert.Equal(t, callsAfterNew, c.GetStats().AllocateCount, "roundtrip must not allocate")
	assert.Equal(t, int64(0), c.GetStats().DeallocateCount, "roundtrip must not deallocate")

	assert.Equal(t, int64(99), *rebuilt.Get())
	require.NoError(t, rebuilt.Close())

	assert.Equal(t, int64(1), c.GetStats().DeallocateCount)
}

func TestBoxZeroSized(t *testing.T) {
	c := &BasicMetricsCollector{}
	ma := NewMeteredAllocator(Heap{}, c)

	before := zstCloses
	b := NewBox(zstCloser{}, ma)

	require.NotNil(t, b.Get())
	require.NoError(t, b.Close())

	assert.Equal(t, 1, zstCloses-before, "teardown still runs for zero-sized values")
	assert.Equal(t, int64(0), c.GetStats().AllocateCount)
	assert.Equal(t, int64(0), c.GetStats().DeallocateCount)
}

func TestBoxAllocationFailure(t *testing.T) {
	t.Run("try variant reports", func(t *testing.T) {
		fa := &failAllocator{}

		b, err := TryNewBox[int64](5, fa)
		require.Error(t, err)
		assert.Nil(t, b)

		var af *ErrAllocFailed
		require.ErrorAs(t, err, &af)
		assert.Equal(t, uintptr(8), af.Layout.Size())
		assert.Equal(t, uintptr(8), af.Layout.Align())
	})

	t.Run("infallible variant escalates through the hook", func(t *testing.T) {
		fa := &failAllocator{}

		var hookCalls int
		var panicked any

		func() {
			defer func() { panicked = recover() }()

			NewBox[int64](5, fa, WithOOMHook(func(Layout) {
				hookCalls++
			}))
		}()

		require.NotNil(t, panicked)
		assert.Equal(t, 1, hookCalls)
		require.Len(t, fa.requests, 1)
	})
}
