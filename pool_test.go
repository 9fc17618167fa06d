package mediasched

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestObjectPool_ReusesFreedValues(t *testing.T) {
	allocs := 0
	p := NewObjectPool(2,
		func() *int { allocs++; v := 0; return &v },
		func(v *int) *int { *v = -1; return v },
	)

	a := p.Get()
	b := p.Get()
	require.Equal(t, 2, allocs)

	p.Put(a)
	require.Equal(t, 1, p.Len())
	require.Equal(t, -1, *a)

	c := p.Get()
	require.Same(t, a, c)
	require.Equal(t, 2, allocs, "reused value must not trigger another alloc")

	_ = b
}

func TestObjectPool_DropsBeyondCapacity(t *testing.T) {
	p := NewObjectPool(1,
		func() *int { v := 0; return &v },
		func(v *int) *int { return v },
	)

	a, b := p.Get(), p.Get()
	p.Put(a)
	p.Put(b)
	require.Equal(t, 1, p.Len(), "pool must not grow its free list past capacity")
}

func TestObjectPool_ZeroCapacityFallsBackToDefault(t *testing.T) {
	p := NewObjectPool(0,
		func() *int { v := 0; return &v },
		nil,
	)
	require.Equal(t, defaultPoolCapacity, p.cap)
}
