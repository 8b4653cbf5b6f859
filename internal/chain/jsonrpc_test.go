package chain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeHexBytes(t *testing.T) {
	b, err := decodeHexBytes("0x")
	require.NoError(t, err)
	require.Nil(t, b)

	b, err = decodeHexBytes("0xdeadbeef")
	require.NoError(t, err)
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, b)

	// odd-length hex (can happen on some nodes) gets zero-padded on the left
	b, err = decodeHexBytes("0xf")
	require.NoError(t, err)
	require.Equal(t, []byte{0x0f}, b)
}

func TestBlockTag(t *testing.T) {
	require.Equal(t, "latest", blockTag(0))
	require.Equal(t, "0x10", blockTag(16))
}
