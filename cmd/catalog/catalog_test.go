package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCollectMergesDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "queries.yaml"), []byte(
		"queries:\n  - {name: dau, statement: select 1}\n"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "targets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "targets", "eu.yml"), []byte(
		"targets:\n  - {name: eu, external_id: inst-1}\ngrants:\n  - {principal: '*', target: eu}\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o600))

	doc, err := collect([]string{dir})
	require.NoError(t, err)
	require.Len(t, doc.Queries, 1)
	require.Len(t, doc.Targets, 1)
	require.Len(t, doc.Grants, 1)
	require.NoError(t, doc.Validate())
}

func TestCollectRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "catalog.txt")
	require.NoError(t, os.WriteFile(txt, []byte("queries: []"), 0o600))
	_, err := collect([]string{txt})
	require.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("queries:\n  - {name: q, statement: s, colour: red}\n"), 0o600))
	_, err = collect([]string{bad})
	require.Error(t, err)
}
