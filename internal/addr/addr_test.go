package addr_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tews-code/operating-system-in-1000-lines/internal/addr"
)

func TestAlignUp(t *testing.T) {
	require.Equal(t, uint32(0x1000), addr.AlignUp(uint32(1), 0x1000))
	require.Equal(t, uint32(0x1000), addr.AlignUp(uint32(0x1000), 0x1000))
	require.Equal(t, uint32(0x2000), addr.AlignUp(uint32(0x1001), 0x1000))
}

func TestIsAligned(t *testing.T) {
	require.True(t, addr.IsAligned(uint32(0x2000), 0x1000))
	require.False(t, addr.IsAligned(uint32(0x2001), 0x1000))
}

func TestAlignUpRejectsNonPowerOfTwo(t *testing.T) {
	require.Panics(t, func() { addr.AlignUp(uint32(1), 3) })
}
