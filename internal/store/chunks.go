package store

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"

	"github.com/jeanbovet/semantica/internal/chunk"
)

const chunksCollectionName = "chunks"

// chunkTable wraps a persisted chromem-go collection. It also mirrors
// id->vector (and path->ids) in memory: chromem-go's public API has no
// bulk-enumeration call, and the opportunistic ANN index needs exactly
// that to rebuild, so the table keeps its own small index rather than
// reaching into chromem-go internals.
type chunkTable struct {
	collection *chromem.Collection

	mu        sync.RWMutex
	vectors   map[string][]float32
	pathIndex map[string]map[string]struct{}
}

func openChunkTable(dir string) (*chunkTable, error) {
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("open persistent chromem db at %s: %w", dir, err)
	}

	collection, err := db.GetOrCreateCollection(chunksCollectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create chunks collection: %w", err)
	}

	return &chunkTable{
		collection: collection,
		vectors:    make(map[string][]float32),
		pathIndex:  make(map[string]map[string]struct{}),
	}, nil
}

// AddBatch appends chunks to the collection, created with cosine
// distance as chromem-go's default similarity metric.
func (t *chunkTable) AddBatch(ctx context.Context, chunks []chunk.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	docs := make([]chromem.Document, 0, len(chunks))
	for _, c := range chunks {
		docs = append(docs, chromem.Document{
			ID:        c.ID,
			Content:   c.Text,
			Embedding: c.Vector,
			Metadata: map[string]string{
				"path":        c.Path,
				"chunk_index": strconv.Itoa(c.ChunkIndex),
				"page":        strconv.Itoa(c.Page),
				"offset":      strconv.Itoa(c.Offset),
				"title":       c.Title,
				"type":        c.Type,
				"mtime":       c.MTime.UTC().Format(time.RFC3339),
			},
		})
	}

	if err := t.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("add %d documents: %w", len(docs), err)
	}

	t.mu.Lock()
	for _, c := range chunks {
		t.vectors[c.ID] = c.Vector
		if t.pathIndex[c.Path] == nil {
			t.pathIndex[c.Path] = make(map[string]struct{})
		}
		t.pathIndex[c.Path][c.ID] = struct{}{}
	}
	t.mu.Unlock()

	return nil
}

// DeleteByPath removes every chunk belonging to path, satisfying the
// delete-by-path predicate required before a re-index's insert.
func (t *chunkTable) DeleteByPath(ctx context.Context, path string) error {
	if err := t.collection.Delete(ctx, map[string]string{"path": path}, nil); err != nil {
		// chromem-go returns an error when there is nothing to delete for
		// some filter shapes; a duplicate delete for an absent path must
		// stay a no-op rather than propagate as a write failure.
		if t.collection.Count() == 0 {
			return nil
		}
		return fmt.Errorf("delete chunks for %s: %w", path, err)
	}

	t.mu.Lock()
	for id := range t.pathIndex[path] {
		delete(t.vectors, id)
	}
	delete(t.pathIndex, path)
	t.mu.Unlock()

	return nil
}

// Query runs brute-force cosine similarity search over the whole
// collection via chromem-go's QueryEmbedding.
func (t *chunkTable) Query(ctx context.Context, vector []float32, k int, filter map[string]string) ([]SearchResult, error) {
	count := t.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	docs, err := t.collection.QueryEmbedding(ctx, vector, k, filter, nil)
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}

	results := make([]SearchResult, 0, len(docs))
	for _, doc := range docs {
		results = append(results, docToResult(doc, math.Max(0, float64(doc.Similarity))))
	}
	return results, nil
}

// Get fetches a single document by ID, used to hydrate ANN hits (which
// carry only an ID and a score) back into a SearchResult.
func (t *chunkTable) Get(ctx context.Context, id string) (chromem.Document, bool) {
	doc, err := t.collection.GetByID(ctx, id)
	if err != nil {
		return chromem.Document{}, false
	}
	return doc, true
}

// Count returns the number of chunks in the in-memory id->vector mirror,
// used for the ANN staleness check.
func (t *chunkTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.vectors)
}

// Snapshot returns every live (id, vector) pair for an ANN rebuild.
func (t *chunkTable) Snapshot() []annEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entries := make([]annEntry, 0, len(t.vectors))
	for id, vec := range t.vectors {
		entries = append(entries, annEntry{ID: id, Vector: vec})
	}
	return entries
}

func docToResult(doc chromem.Document, score float64) SearchResult {
	idx, _ := strconv.Atoi(doc.Metadata["chunk_index"])
	page, _ := strconv.Atoi(doc.Metadata["page"])
	offset, _ := strconv.Atoi(doc.Metadata["offset"])
	mtime, _ := time.Parse(time.RFC3339, doc.Metadata["mtime"])

	return SearchResult{
		Path:       doc.Metadata["path"],
		ChunkIndex: idx,
		Page:       page,
		Offset:     offset,
		Title:      doc.Metadata["title"],
		Type:       doc.Metadata["type"],
		Text:       doc.Content,
		MTime:      mtime,
		Score:      score,
	}
}

// SearchResult is one row returned by Store.Search.
type SearchResult struct {
	Path       string
	ChunkIndex int
	Page       int
	Offset     int
	Title      string
	Type       string
	Text       string
	MTime      time.Time
	Score      float64
}
