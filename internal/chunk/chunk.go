// Package chunk defines the Chunk record and the text chunker that
// turns parser output into an ordered sequence of chunks ready for
// embedding.
package chunk

import (
	"fmt"
	"time"
)

// Dim is the declared embedding dimension. Every live Chunk.Vector has
// exactly this many components.
const Dim = 768

// Chunk is one text segment of a source document, the atomic unit of
// indexing and search.
type Chunk struct {
	ID         string
	Path       string
	ChunkIndex int
	Page       int // 0 if the decoder did not provide pages
	Offset     int // character offset of the first character, in the source's extracted text
	Text       string
	Vector     []float32 // nil until the embedding stage fills it in
	Title      string
	Type       string // lowercase extension
	MTime      time.Time
}

// ID derives the stable identifier for a (path, chunkIndex) pair. Two
// calls with the same arguments always return the same string, and it is
// this value — not a generated UUID — that chromem-go uses as the
// document ID, so re-indexing a path naturally overwrites its prior rows.
func ID(path string, chunkIndex int) string {
	return fmt.Sprintf("%s#%d", path, chunkIndex)
}
