package sv32_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tews-code/operating-system-in-1000-lines/internal/addr"
	"github.com/tews-code/operating-system-in-1000-lines/internal/physmem"
	"github.com/tews-code/operating-system-in-1000-lines/internal/sv32"
)

func TestMapPageThenWalkRoundTrips(t *testing.T) {
	alloc := physmem.New(0x80000000, 64*physmem.PageSize)
	root := &sv32.PageTable{}

	va := addr.Va(0x01000000)
	pa := alloc.AllocPage()

	sv32.MapPage(alloc, root, va, pa, sv32.R|sv32.W|sv32.X|sv32.U)

	got, flags, ok := sv32.Walk(alloc, root, va+4)
	require.True(t, ok)
	require.Equal(t, pa+4, got)
	require.Equal(t, sv32.R|sv32.W|sv32.X|sv32.U, flags)
}

func TestWalkMissReportsNotOK(t *testing.T) {
	alloc := physmem.New(0, 16*physmem.PageSize)
	root := &sv32.PageTable{}

	_, _, ok := sv32.Walk(alloc, root, 0x3000)
	require.False(t, ok)
}

func TestMapPageRejectsUnalignedAddresses(t *testing.T) {
	alloc := physmem.New(0, 16*physmem.PageSize)
	root := &sv32.PageTable{}

	require.Panics(t, func() {
		sv32.MapPage(alloc, root, addr.Va(1), addr.Pa(0), sv32.RWX)
	})
}

func TestMapPageLazilyAllocatesLeafOncePerRegion(t *testing.T) {
	alloc := physmem.New(0, 64*physmem.PageSize)
	root := &sv32.PageTable{}

	base := alloc.Cursor()

	// Two mappings in the same 4 MiB region share one leaf table allocation.
	sv32.MapPage(alloc, root, addr.Va(0x01000000), alloc.AllocPage(), sv32.RWX)
	afterFirst := alloc.Cursor()
	sv32.MapPage(alloc, root, addr.Va(0x01001000), alloc.AllocPage(), sv32.RWX)
	afterSecond := alloc.Cursor()

	// leaf (1 page) + data (1 page) for the first mapping, only data for the second.
	require.Equal(t, addr.Pa(2*physmem.PageSize), afterFirst-base)
	require.Equal(t, addr.Pa(physmem.PageSize), afterSecond-afterFirst)
}
