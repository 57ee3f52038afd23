package batch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func resetSubmitFlags(t *testing.T) {
	t.Cleanup(func() {
		submitFile, submitQuery, submitLabel = "", "", ""
		submitTargets, submitParams = nil, nil
	})
}

func TestBuildRequestFromFileAndFlags(t *testing.T) {
	resetSubmitFlags(t)

	queryID, a, b := uuid.New(), uuid.New(), uuid.New()
	path := filepath.Join(t.TempDir(), "request.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"query_id: "+queryID.String()+"\n"+
			"target_ids: ["+a.String()+"]\n"+
			"shared_parameters: {day: '2026-10-01', region: eu}\n"+
			"target_overrides:\n  "+a.String()+": {region: eu-west}\n"), 0o600))

	submitFile = path
	submitTargets = []string{b.String()}
	submitParams = []string{"region=global"}
	submitLabel = "nightly"

	req, err := buildRequest()
	require.NoError(t, err)
	require.Equal(t, queryID, req.QueryID)
	require.Equal(t, []uuid.UUID{a, b}, req.TargetIDs)
	require.Equal(t, map[string]any{"day": "2026-10-01", "region": "global"}, req.SharedParameters)
	require.Equal(t, "eu-west", req.TargetOverrides[a]["region"])
	require.Equal(t, "nightly", req.Label)
}

func TestBuildRequestNeedsQuery(t *testing.T) {
	resetSubmitFlags(t)

	submitTargets = []string{uuid.NewString()}
	_, err := buildRequest()
	require.Error(t, err)

	submitQuery = "not-a-uuid"
	_, err = buildRequest()
	require.Error(t, err)
}

func TestParseParams(t *testing.T) {
	got, err := parseParams([]string{"day=2026-10-01", "expr=a=b"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"day": "2026-10-01", "expr": "a=b"}, got)

	_, err = parseParams([]string{"novalue"})
	require.Error(t, err)
}
