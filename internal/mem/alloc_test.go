package mem

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocAligned(t *testing.T) {
	t.Run("zero size returns nil", func(t *testing.T) {
		assert.Nil(t, AllocAligned(0, 64))
	})

	t.Run("aligned for every supported alignment", func(t *testing.T) {
		for align := uintptr(1); align <= MaxAlign; align *= 2 {
			buf := AllocAligned(128, align)
			require.Len(t, buf, 128)

			addr := uintptr(unsafe.Pointer(&buf[0]))
			assert.Zerof(t, addr%align, "align %d", align)
		}
	})

	t.Run("all bytes writable", func(t *testing.T) {
		buf := AllocAligned(256, 64)
		for i := range buf {
			buf[i] = byte(i)
		}
		for i := range buf {
			assert.Equal(t, byte(i), buf[i])
		}
	})

	t.Run("capacity covers at least size", func(t *testing.T) {
		buf := AllocAligned(100, 8)
		assert.GreaterOrEqual(t, cap(buf), 100)
	})

	t.Run("invalid alignment panics", func(t *testing.T) {
		assert.Panics(t, func() { AllocAligned(16, 0) })
		assert.Panics(t, func() { AllocAligned(16, 3) })
		assert.Panics(t, func() { AllocAligned(16, MaxAlign*2) })
	})
}

func TestDangling(t *testing.T) {
	t.Run("non nil and aligned for every supported alignment", func(t *testing.T) {
		for align := uintptr(1); align <= MaxAlign; align *= 2 {
			p := Dangling(align)
			require.NotNil(t, p)

			addr := uintptr(p)
			assert.Zerof(t, addr%align, "align %d", align)
		}
	})

	t.Run("stable across calls", func(t *testing.T) {
		assert.Equal(t, Dangling(1), Dangling(4096))
	})

	t.Run("invalid alignment panics", func(t *testing.T) {
		assert.Panics(t, func() { Dangling(0) })
		assert.Panics(t, func() { Dangling(24) })
		assert.Panics(t, func() { Dangling(MaxAlign * 2) })
	})
}
