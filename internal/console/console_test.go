package console_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tews-code/operating-system-in-1000-lines/internal/console"
)

func TestFakePutCharAccumulatesOutput(t *testing.T) {
	c := console.NewFake()

	require.NoError(t, c.PutChar('h'))
	require.NoError(t, c.PutChar('i'))
	require.Equal(t, []byte("hi"), c.Out)
}

func TestFakeGetCharDrainsInOrderThenReportsEmpty(t *testing.T) {
	c := console.NewFake('a', 'b')

	b, ok := c.GetChar()
	require.True(t, ok)
	require.Equal(t, byte('a'), b)

	b, ok = c.GetChar()
	require.True(t, ok)
	require.Equal(t, byte('b'), b)

	_, ok = c.GetChar()
	require.False(t, ok)
}
