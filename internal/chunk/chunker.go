package chunk

import (
	"strings"
	"time"
	"unicode"
)

// DefaultTargetChars and DefaultOverlapChars follow the chunking contract's
// 4-chars-per-token approximation: ~500 tokens target, ~60 tokens overlap.
const (
	DefaultTargetChars  = 2000
	DefaultOverlapChars = 240
)

// Page is one logical page of decoded text, as produced by a parser
// registry decoder. Decoders that have no page concept emit a single
// Page with Number 0 holding the entire text blob.
type Page struct {
	Number int
	Text   string
}

// Chunker splits decoded pages into Chunk rows, breaking at sentence
// terminators where possible, falling back to whitespace, and finally
// to a hard character boundary.
type Chunker struct {
	TargetChars  int
	OverlapChars int
}

// NewChunker returns a Chunker configured with the default target and
// overlap sizes.
func NewChunker() *Chunker {
	return &Chunker{
		TargetChars:  DefaultTargetChars,
		OverlapChars: DefaultOverlapChars,
	}
}

// Split turns decoded pages into a sequence of Chunk rows. Vector is left
// nil; the pipeline's embedding stage fills it in after the embedder
// call returns.
func (c *Chunker) Split(path, title, typ string, mtime time.Time, pages []Page) []Chunk {
	var out []Chunk
	idx := 0
	for _, page := range pages {
		for _, seg := range c.splitText(page.Text) {
			out = append(out, Chunk{
				ID:         ID(path, idx),
				Path:       path,
				ChunkIndex: idx,
				Page:       page.Number,
				Offset:     seg.offset,
				Text:       seg.text,
				Title:      title,
				Type:       typ,
				MTime:      mtime,
			})
			idx++
		}
	}
	return out
}

type segment struct {
	offset int
	text   string
}

// splitText implements the chunking contract over a single page's text.
func (c *Chunker) splitText(text string) []segment {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	n := len(runes)

	if n <= c.TargetChars {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil
		}
		return []segment{{offset: 0, text: trimmed}}
	}

	var segments []segment
	start := 0
	for start < n {
		end := start + c.TargetChars
		if end >= n {
			end = n
		} else {
			end = c.findBoundary(runes, start, end)
		}

		raw := string(runes[start:end])
		trimmed := strings.TrimSpace(raw)
		if trimmed != "" {
			segments = append(segments, segment{offset: start, text: trimmed})
		}

		if end >= n {
			break
		}

		next := end - c.OverlapChars
		if next <= start {
			// Guard against a non-advancing loop when overlap >= chunk size.
			next = end
		}
		start = next
	}

	return segments
}

// findBoundary looks backward from end for a sentence terminator, then
// whitespace, never searching before the chunk's midpoint so that a
// single stray period near the window start can't produce a tiny chunk.
func (c *Chunker) findBoundary(runes []rune, start, end int) int {
	minPos := start + c.TargetChars/2
	if minPos < start {
		minPos = start
	}

	for i := end - 1; i > minPos; i-- {
		switch runes[i] {
		case '.', '!', '?':
			return i + 1
		}
	}

	for i := end - 1; i > minPos; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}

	return end
}
