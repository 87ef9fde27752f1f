// Package store implements the Vector & Status Store: two physically
// separate on-disk tables (a chromem-go vector collection for chunks, a
// sqlite file for file-status rows) behind one schema-version gate and
// one process-exclusive lock, plus an opportunistic in-memory ANN index.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"github.com/jeanbovet/semantica/internal/chunk"
	"github.com/jeanbovet/semantica/internal/coreerr"
)

// DBVersion is the code's declared on-disk schema version. Bumping it
// triggers the nuke-and-rebuild path on the next Open.
const DBVersion = 1

const (
	chunksDirName = "chunks.lance"
	statusDirName = "file_status.lance"
	statusDBName  = "status.db"
	markerName    = ".db-version"
	lockName      = ".lock"
)

// writeQueueCapacity bounds the per-table write queue; once a queue is
// full, further writes block until the writer goroutine drains it.
// ChunksQueueDepth and StatusQueueDepth report the current depths.
const writeQueueCapacity = 256

// Store is the single exported handle to both on-disk tables.
type Store struct {
	root string
	dim  int

	lock *flock.Flock

	chunks *chunkTable
	status *statusTable
	ann    *annIndex

	chunksWriteCh chan writeOp
	statusWriteCh chan writeOp

	wg        sync.WaitGroup
	closeOnce sync.Once
}

type writeOp struct {
	fn       func() error
	resultCh chan error
}

// Open performs the schema-version gate, takes the process-exclusive
// lock, and opens (or creates) both tables. dim is the declared
// embedding dimension every live chunk vector must have.
func Open(root string, dim int) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, coreerr.Wrap(coreerr.OpenFailed, "create data root", err)
	}

	lock := flock.New(filepath.Join(root, lockName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, coreerr.Wrap(coreerr.OpenFailed, "acquire store lock", err)
	}
	if !locked {
		return nil, coreerr.New(coreerr.OpenFailed, fmt.Sprintf("another process already holds the store lock at %s", root))
	}

	if err := gateSchemaVersion(root); err != nil {
		lock.Unlock()
		return nil, coreerr.Wrap(coreerr.SchemaMismatch, "schema version gate", err)
	}

	statusDir := filepath.Join(root, statusDirName)
	if err := os.MkdirAll(statusDir, 0o755); err != nil {
		lock.Unlock()
		return nil, coreerr.Wrap(coreerr.OpenFailed, "create file-status directory", err)
	}

	chunks, err := openChunkTable(filepath.Join(root, chunksDirName))
	if err != nil {
		lock.Unlock()
		return nil, coreerr.Wrap(coreerr.OpenFailed, "open chunks table", err)
	}

	status, err := openStatusTable(filepath.Join(statusDir, statusDBName))
	if err != nil {
		lock.Unlock()
		return nil, coreerr.Wrap(coreerr.OpenFailed, "open file-status table", err)
	}

	if err := writeDBVersionMarker(root); err != nil {
		status.Close()
		lock.Unlock()
		return nil, coreerr.Wrap(coreerr.OpenFailed, "write schema version marker", err)
	}

	s := &Store{
		root:          root,
		dim:           dim,
		lock:          lock,
		chunks:        chunks,
		status:        status,
		ann:           newANNIndex(dim),
		chunksWriteCh: make(chan writeOp, writeQueueCapacity),
		statusWriteCh: make(chan writeOp, writeQueueCapacity),
	}

	s.wg.Add(2)
	go s.runWriter(s.chunksWriteCh)
	go s.runWriter(s.statusWriteCh)

	return s, nil
}

// gateSchemaVersion reads the marker file and nukes both table
// directories plus the marker itself whenever the on-disk version is
// missing, unreadable, empty, non-integer, multi-line, or stale.
func gateSchemaVersion(root string) error {
	markerPath := filepath.Join(root, markerName)

	data, err := os.ReadFile(markerPath)
	if err == nil {
		text := strings.TrimSpace(string(data))
		if !strings.Contains(text, "\n") {
			if n, convErr := strconv.Atoi(text); convErr == nil && n == DBVersion {
				return nil
			}
		}
	}

	if err := os.RemoveAll(filepath.Join(root, chunksDirName)); err != nil {
		return fmt.Errorf("remove stale chunks table: %w", err)
	}
	if err := os.RemoveAll(filepath.Join(root, statusDirName)); err != nil {
		return fmt.Errorf("remove stale file-status table: %w", err)
	}
	if err := os.Remove(markerPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale version marker: %w", err)
	}

	return nil
}

func writeDBVersionMarker(root string) error {
	return os.WriteFile(filepath.Join(root, markerName), []byte(strconv.Itoa(DBVersion)), 0o644)
}

// runWriter drains one table's write queue. Exactly one goroutine per
// table runs this, which is what makes per-table writes serialized
// without a generic cross-table queueing layer.
func (s *Store) runWriter(ch chan writeOp) {
	defer s.wg.Done()
	for op := range ch {
		op.resultCh <- op.fn()
	}
}

func (s *Store) enqueue(ctx context.Context, ch chan writeOp, fn func() error) error {
	resultCh := make(chan error, 1)
	select {
	case ch <- writeOp{fn: fn, resultCh: resultCh}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CommitFile performs the write stage's "delete-old-then-insert-new"
// contract as a single logical operation on the chunks table — no other
// write for any path can interleave, because only one goroutine ever
// drains chunksWriteCh — and flips file-status to indexed only after
// that succeeds.
func (s *Store) CommitFile(ctx context.Context, path string, chunks []chunk.Chunk, status StatusRecord) error {
	for _, c := range chunks {
		if len(c.Vector) != s.dim {
			return coreerr.New(coreerr.WriteFailed, fmt.Sprintf("chunk %s has vector dimension %d, want %d", c.ID, len(c.Vector), s.dim))
		}
		if c.Text == "" {
			return coreerr.New(coreerr.WriteFailed, fmt.Sprintf("chunk %s has empty text", c.ID))
		}
	}

	err := s.enqueue(ctx, s.chunksWriteCh, func() error {
		if err := s.chunks.DeleteByPath(ctx, path); err != nil {
			return coreerr.Wrap(coreerr.WriteFailed, "delete prior chunks", err)
		}
		if err := s.chunks.AddBatch(ctx, chunks); err != nil {
			return coreerr.Wrap(coreerr.WriteFailed, "insert new chunks", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.enqueue(ctx, s.statusWriteCh, func() error {
		return s.status.Upsert(status)
	})
}

// DeletePath removes a file's chunks and its file-status row, used on
// unlink events. A duplicate delete for an already-absent path is a
// no-op at both tables.
func (s *Store) DeletePath(ctx context.Context, path string) error {
	err := s.enqueue(ctx, s.chunksWriteCh, func() error {
		return s.chunks.DeleteByPath(ctx, path)
	})
	if err != nil {
		return err
	}
	return s.enqueue(ctx, s.statusWriteCh, func() error {
		return s.status.DeleteByPath(path)
	})
}

// UpsertStatus performs a full-record rewrite of a file-status row
// without touching the chunks table — used by the Re-index Planner to
// mark rows outdated and by the pipeline to mark failures.
func (s *Store) UpsertStatus(ctx context.Context, rec StatusRecord) error {
	return s.enqueue(ctx, s.statusWriteCh, func() error {
		return s.status.Upsert(rec)
	})
}

// GetStatus returns the current file-status row for path, if any.
func (s *Store) GetStatus(path string) (StatusRecord, bool, error) {
	return s.status.Get(path)
}

// QueryIndexed returns (path, parser_version) for every indexed row —
// the re-index read-path optimization: no other column is fetched, and
// rows in any other status are excluded, keeping the planner's memory
// footprint at O(indexed files).
func (s *Store) QueryIndexed() ([]IndexedRow, error) {
	return s.status.QueryIndexed()
}

// QueryFailedForRetry returns (path, parser_version, last_retry) for
// every row in status failed or error.
func (s *Store) QueryFailedForRetry() ([]FailedRow, error) {
	return s.status.QueryFailedForRetry()
}

// ChunksQueueDepth reports the current depth of the chunks write queue.
func (s *Store) ChunksQueueDepth() int {
	return len(s.chunksWriteCh)
}

// StatusQueueDepth reports the current depth of the file-status write
// queue.
func (s *Store) StatusQueueDepth() int {
	return len(s.statusWriteCh)
}

// MaybeRebuildANN rebuilds the opportunistic HNSW index from the
// chunks table's current contents if it is stale. It is safe to call
// from an idle ticker; it never runs on the write path and search
// correctness never depends on it having run.
func (s *Store) MaybeRebuildANN(ctx context.Context) {
	current := s.chunks.Count()
	if !s.ann.stale(current) {
		return
	}
	s.ann.rebuild(s.chunks.Snapshot())
}

// Search answers a cosine-similarity top-k query, consulting the ANN
// graph first and falling back to brute-force QueryEmbedding over the
// chunks table when the graph is empty, stale, or a filter is supplied
// (the ANN graph has no filter predicate support).
func (s *Store) Search(ctx context.Context, vector []float32, k int, filter map[string]string) ([]SearchResult, error) {
	if len(filter) == 0 && !s.ann.stale(s.chunks.Count()) {
		if hits, ok := s.ann.search(vector, k); ok && len(hits) > 0 {
			results := make([]SearchResult, 0, len(hits))
			for _, hit := range hits {
				doc, found := s.chunks.Get(ctx, hit.ID)
				if !found {
					continue
				}
				results = append(results, docToResult(doc, hit.Score))
			}
			if len(results) > 0 {
				return results, nil
			}
		}
	}
	return s.chunks.Query(ctx, vector, k, filter)
}

// Close drains nothing itself — the Shutdown Orchestrator is responsible
// for draining the write queue (step 4) before calling Close (step 8).
// It stops the writer goroutines, closes the sqlite handle, and releases
// the process lock.
func (s *Store) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.chunksWriteCh)
		close(s.statusWriteCh)
		s.wg.Wait()

		if err := s.status.Close(); err != nil {
			closeErr = err
		}
		if err := s.lock.Unlock(); err != nil && closeErr == nil {
			closeErr = err
		}
	})
	return closeErr
}
