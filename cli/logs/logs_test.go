package logs

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindSession_MatchesBareIDAndFullName(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "run_abc123"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".hidden"), 0o755))

	dir, kind, id, err := findSession(root, "abc123")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "run_abc123"), dir)
	assert.Equal(t, "run", kind)
	assert.Equal(t, "abc123", id)

	_, _, _, err = findSession(root, "run_abc123")
	require.NoError(t, err)

	_, _, _, err = findSession(root, "missing")
	require.Error(t, err)
}

func TestCollectGarbage_RemovesStaleSessions(t *testing.T) {
	root := t.TempDir()
	old := filepath.Join(root, "run_old")
	fresh := filepath.Join(root, "run_fresh")
	for _, dir := range []string{old, fresh} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "events.jsonl"), []byte("{}\n"), 0o644))
	}
	stale := time.Now().AddDate(0, 0, -60)
	require.NoError(t, os.Chtimes(old, stale, stale))

	removed, err := collectGarbage(root, 30, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}

func TestZipDir_PacksSessionFiles(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "run_x")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "artifacts", "extract"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "events.jsonl"), []byte("{}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "artifacts", "extract", "cleaned_config.json"), []byte("{}\n"), 0o644))

	out := filepath.Join(root, "run_x.zip")
	require.NoError(t, zipDir(dir, out))

	zr, err := zip.OpenReader(out)
	require.NoError(t, err)
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "run_x/events.jsonl")
	assert.Contains(t, names, "run_x/artifacts/extract/cleaned_config.json")
}
