package mediasched

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newIntFifo() *ContainerFifo[*int] {
	pool := NewObjectPool(4,
		func() *int { v := 0; return &v },
		func(v *int) *int { *v = 0; return v },
	)
	return NewContainerFifo(pool)
}

func TestContainerFifo_FIFOOrder(t *testing.T) {
	f := newIntFifo()
	for i := range 10 {
		i := i
		f.Push(func(dst *int) { *dst = i })
	}
	require.Equal(t, 10, f.Len())

	for i := range 10 {
		var got int
		ok := f.Pop(func(src *int) { got = *src })
		require.True(t, ok)
		require.Equal(t, i, got)
	}
	require.Equal(t, 0, f.Len())

	ok := f.Pop(func(*int) { t.Fatal("drain called on empty fifo") })
	require.False(t, ok)
}

func TestContainerFifo_GrowsAcrossWraparound(t *testing.T) {
	f := newIntFifo()
	// push/pop enough times to force the head to wrap before a grow, then
	// grow, exercising grow()'s wraparound copy.
	for i := range 3 {
		i := i
		f.Push(func(dst *int) { *dst = i })
	}
	for range 2 {
		f.Pop(func(*int) {})
	}
	for i := 3; i < 20; i++ {
		i := i
		f.Push(func(dst *int) { *dst = i })
	}

	require.Equal(t, 18, f.Len())
	var got int
	f.Pop(func(src *int) { got = *src })
	require.Equal(t, 2, got)
}

func TestContainerFifo_Peek(t *testing.T) {
	f := newIntFifo()
	f.Push(func(dst *int) { *dst = 42 })

	var seen int
	ok := f.Peek(func(src *int) { seen = *src })
	require.True(t, ok)
	require.Equal(t, 42, seen)
	require.Equal(t, 1, f.Len(), "peek must not remove the item")
}
