package physmem_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tews-code/operating-system-in-1000-lines/internal/addr"
	"github.com/tews-code/operating-system-in-1000-lines/internal/physmem"
)

func TestAllocZeroFillsAndAdvances(t *testing.T) {
	a := physmem.New(0x80000000, 3*physmem.PageSize)

	p1 := a.Alloc(10)
	require.Equal(t, addr.Pa(0x80000000), p1)
	require.Equal(t, addr.Pa(0x80000000+physmem.PageSize), a.Cursor())

	buf := a.Bytes(p1, physmem.PageSize)
	for _, b := range buf {
		require.Zero(t, b)
	}

	p2 := a.Alloc(physmem.PageSize)
	require.Equal(t, p1+physmem.PageSize, p2)
	require.True(t, addr.IsAligned(uint32(p2), physmem.PageSize))
}

func TestAllocPanicsWhenExhausted(t *testing.T) {
	a := physmem.New(0, physmem.PageSize)
	a.AllocPage()

	require.Panics(t, func() { a.AllocPage() })
}

func TestAllocReturnsDisjointFrames(t *testing.T) {
	a := physmem.New(0, 4*physmem.PageSize)

	seen := map[addr.Pa]bool{}
	for i := 0; i < 4; i++ {
		p := a.AllocPage()
		require.False(t, seen[p], "frame %s returned twice", p)
		seen[p] = true
	}
}
