package jsonmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeOverrideWins(t *testing.T) {
	base := map[string]any{"window": "7d", "region": "eu"}
	override := map[string]any{"region": "us", "limit": 10}

	merged := Merge(base, override)
	require.Equal(t, "7d", merged["window"])
	require.Equal(t, "us", merged["region"])
	require.Equal(t, 10, merged["limit"])

	merged["window"] = "1d"
	require.Equal(t, "7d", base["window"], "merge must not alias its inputs")
}

func TestMergeNilInputs(t *testing.T) {
	merged := Merge(nil, nil)
	require.NotNil(t, merged)
	require.Empty(t, merged)
}
