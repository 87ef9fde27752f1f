package store

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeanbovet/semantica/internal/chunk"
)

const testDim = 8

func unitVector(seed int) []float32 {
	v := make([]float32, testDim)
	v[seed%testDim] = 1.0
	return v
}

func mustOpen(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, testDim)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, dir
}

func TestOpen_WritesVersionMarker(t *testing.T) {
	s, dir := mustOpen(t)
	_ = s

	data, err := os.ReadFile(filepath.Join(dir, markerName))
	require.NoError(t, err)
	version, err := strconv.Atoi(string(data))
	require.NoError(t, err)
	assert.Equal(t, DBVersion, version)
}

func TestOpen_SecondProcessFailsFast(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir, testDim)
	require.NoError(t, err)
	defer s1.Close()

	_, err = Open(dir, testDim)
	require.Error(t, err)
}

func TestOpen_SchemaVersionMismatchTriggersRebuild(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, markerName), []byte("999"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, chunksDirName), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, chunksDirName, "stale.txt"), []byte("x"), 0o644))

	s, err := Open(dir, testDim)
	require.NoError(t, err)
	defer s.Close()

	data, err := os.ReadFile(filepath.Join(dir, markerName))
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(DBVersion), string(data))

	_, err = os.Stat(filepath.Join(dir, chunksDirName, "stale.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestOpen_CorruptMarkerIsTreatedAsMismatch(t *testing.T) {
	for _, content := range []string{"", "not-a-number", "1\n2"} {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, markerName), []byte(content), 0o644))

		s, err := Open(dir, testDim)
		require.NoError(t, err, "content=%q", content)
		data, err := os.ReadFile(filepath.Join(dir, markerName))
		require.NoError(t, err)
		assert.Equal(t, strconv.Itoa(DBVersion), string(data))
		s.Close()
	}
}

func TestCommitFile_RoundTripsChunksAndFlipsStatus(t *testing.T) {
	s, _ := mustOpen(t)
	ctx := context.Background()

	chunks := []chunk.Chunk{
		{ID: "a.txt#0", Path: "a.txt", ChunkIndex: 0, Text: "hello world", Vector: unitVector(0), Type: "txt", Title: "a.txt"},
	}
	status := StatusRecord{
		Path: "a.txt", Status: StatusIndexed, ParserVersion: 4, ChunkCount: 1,
		LastModified: time.Now(), IndexedAt: time.Now(), FileHash: "100-200",
	}

	require.NoError(t, s.CommitFile(ctx, "a.txt", chunks, status))

	rec, ok, err := s.GetStatus("a.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusIndexed, rec.Status)
	assert.Equal(t, 4, rec.ParserVersion)

	results, err := s.Search(ctx, unitVector(0), 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "hello world", results[0].Text)
	assert.Equal(t, "a.txt", results[0].Path)
}

func TestCommitFile_RejectsDimensionMismatch(t *testing.T) {
	s, _ := mustOpen(t)
	ctx := context.Background()

	bad := []chunk.Chunk{{ID: "a.txt#0", Path: "a.txt", Text: "hi", Vector: []float32{1, 2, 3}}}
	err := s.CommitFile(ctx, "a.txt", bad, StatusRecord{Path: "a.txt", Status: StatusIndexed})
	require.Error(t, err)
}

func TestCommitFile_ReplacesOldChunksOnReindex(t *testing.T) {
	s, _ := mustOpen(t)
	ctx := context.Background()

	first := []chunk.Chunk{{ID: "a.txt#0", Path: "a.txt", Text: "old text", Vector: unitVector(1), Type: "txt"}}
	require.NoError(t, s.CommitFile(ctx, "a.txt", first, StatusRecord{Path: "a.txt", Status: StatusIndexed, ChunkCount: 1}))

	second := []chunk.Chunk{{ID: "a.txt#0", Path: "a.txt", Text: "new text", Vector: unitVector(1), Type: "txt"}}
	require.NoError(t, s.CommitFile(ctx, "a.txt", second, StatusRecord{Path: "a.txt", Status: StatusIndexed, ChunkCount: 1}))

	results, err := s.Search(ctx, unitVector(1), 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new text", results[0].Text)
}

func TestDeletePath_RemovesChunksAndStatus(t *testing.T) {
	s, _ := mustOpen(t)
	ctx := context.Background()

	chunks := []chunk.Chunk{{ID: "a.txt#0", Path: "a.txt", Text: "hello", Vector: unitVector(2), Type: "txt"}}
	require.NoError(t, s.CommitFile(ctx, "a.txt", chunks, StatusRecord{Path: "a.txt", Status: StatusIndexed, ChunkCount: 1}))

	require.NoError(t, s.DeletePath(ctx, "a.txt"))

	_, ok, err := s.GetStatus("a.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	results, err := s.Search(ctx, unitVector(2), 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDeletePath_DuplicateIsNoOp(t *testing.T) {
	s, _ := mustOpen(t)
	ctx := context.Background()
	require.NoError(t, s.DeletePath(ctx, "never-existed.txt"))
	require.NoError(t, s.DeletePath(ctx, "never-existed.txt"))
}

func TestQueryIndexed_OnlyReturnsIndexedRows(t *testing.T) {
	s, _ := mustOpen(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertStatus(ctx, StatusRecord{Path: "a.txt", Status: StatusIndexed, ParserVersion: 2}))
	require.NoError(t, s.UpsertStatus(ctx, StatusRecord{Path: "b.txt", Status: StatusFailed, ParserVersion: 1}))

	rows, err := s.QueryIndexed()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a.txt", rows[0].Path)
	assert.Equal(t, 2, rows[0].ParserVersion)
}

func TestQueryFailedForRetry_ReturnsFailedAndError(t *testing.T) {
	s, _ := mustOpen(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertStatus(ctx, StatusRecord{Path: "a.txt", Status: StatusFailed, ParserVersion: 1}))
	require.NoError(t, s.UpsertStatus(ctx, StatusRecord{Path: "b.txt", Status: StatusError, ParserVersion: 1}))
	require.NoError(t, s.UpsertStatus(ctx, StatusRecord{Path: "c.txt", Status: StatusIndexed, ParserVersion: 1}))

	rows, err := s.QueryFailedForRetry()
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestMaybeRebuildANN_UsedByBruteForceFallbackWhenEmpty(t *testing.T) {
	s, _ := mustOpen(t)
	ctx := context.Background()
	// No chunks yet: rebuild should be a no-op and Search should still work
	// (returns no results) rather than panic.
	s.MaybeRebuildANN(ctx)
	results, err := s.Search(ctx, unitVector(0), 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}
