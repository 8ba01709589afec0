package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHexKnownDigest(t *testing.T) {
	t.Parallel()

	require.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", Hex([]byte("hello world")))
	require.Equal(t, Hex([]byte("hello world")), Hex([]byte("hello world")))
}

func TestJoined(t *testing.T) {
	t.Parallel()

	require.Equal(t, Hex([]byte("a|b|c")), Joined("|", "a", "b", "c"))
	require.NotEqual(t, Joined("|", "ab", "c"), Joined("|", "a", "bc"))
}
