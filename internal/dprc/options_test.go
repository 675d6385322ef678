package dprc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseOptionsRoundTrip(t *testing.T) {
	opts, err := ParseOptions([]string{"spawn", " Alloc ", "objcreate"})
	require.NoError(t, err)
	require.Equal(t, SpawnAllowed|AllocAllowed|ObjectCreateAllowed, opts)
	require.Equal(t, []string{"spawn", "alloc", "objcreate"}, opts.Names())
	require.Equal(t, "spawn|alloc|objcreate", opts.String())

	_, err = ParseOptions([]string{"teleport"})
	require.Error(t, err)
}

func TestOptionsNamesUnknownBits(t *testing.T) {
	require.Equal(t, "none", Options(0).String())
	require.Equal(t, []string{"aiop", "0x100"}, (AIOP | 0x100).Names())
}
