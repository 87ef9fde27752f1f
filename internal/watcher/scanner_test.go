package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeanbovet/semantica/internal/config"
)

func TestScan_DiscoversAllowedFilesOnly(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.bin"), []byte("skip"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "ignored.txt"), []byte("skip"), 0o644))

	cfg := config.Default()
	cfg.WatchedFolders = []string{dir}
	s := NewScanner(cfg)

	var got []string
	require.NoError(t, s.Scan(context.Background(), func(e Event) {
		assert.Equal(t, EventAdd, e.Type)
		got = append(got, e.Path)
	}))

	sort.Strings(got)
	require.Len(t, got, 1)
	assert.Equal(t, filepath.Join(dir, "a.txt"), got[0])
}

func TestScan_RespectsContextCancellation(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))

	cfg := config.Default()
	cfg.WatchedFolders = []string{dir}
	s := NewScanner(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Scan(ctx, func(e Event) {})
	assert.Error(t, err)
}
