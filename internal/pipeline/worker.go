package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jeanbovet/semantica/internal/chunk"
	"github.com/jeanbovet/semantica/internal/store"
)

// runFileWorker pulls tasks off the file queue until it closes,
// performing the per-file task from §4.6: stat + hash short-circuit,
// decode, chunk, enqueue to the embedding queue.
func (p *Pipeline) runFileWorker(ctx context.Context) {
	for {
		if !p.waitWhilePaused(ctx) {
			return
		}

		if err := p.sem.Acquire(ctx, 1); err != nil {
			return
		}

		if !p.waitForEmbedQueueRoom(ctx) {
			p.sem.Release(1)
			return
		}

		t, ok := <-p.fileQueue
		if !ok {
			p.sem.Release(1)
			return
		}

		p.processFile(ctx, t.path)
		p.sem.Release(1)
		p.clearInFlight(t.path)
	}
}

// waitWhilePaused blocks a file worker from pulling new work while a
// sustained soft-RSS breach has paused intake, per §5. Files already
// queued stay queued; no new ones are claimed until memory recedes.
func (p *Pipeline) waitWhilePaused(ctx context.Context) bool {
	for p.isPaused() {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(200 * time.Millisecond):
		}
	}
	return true
}

// waitForEmbedQueueRoom pauses pulling new files once the embedding
// queue reaches its backpressure threshold, per §4.6. Returns false if
// ctx is cancelled while waiting.
func (p *Pipeline) waitForEmbedQueueRoom(ctx context.Context) bool {
	for len(p.embedQueue) >= embeddingBackpressureAt {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
	return true
}

func (p *Pipeline) processFile(ctx context.Context, path string) {
	info, err := p.statFile(path)
	if err != nil {
		// The path may have been unlinked between enqueue and processing;
		// abandon without writing, per §5 cancellation semantics.
		return
	}

	currentHash := fileHash(info)
	ext := extOf(path)

	decoder, version, ok := p.registry.Lookup(ext)
	if !ok {
		p.markFailed(ctx, path, fmt.Sprintf("no decoder registered for .%s", ext))
		return
	}

	existing, found, err := p.st.GetStatus(path)
	if err == nil && found && existing.Status == store.StatusIndexed {
		if existing.FileHash == currentHash && existing.ParserVersion == version {
			return // hash short-circuit: content and parser version unchanged
		}
	}

	pages, err := decoder.Decode(path)
	if err != nil {
		p.markFailed(ctx, path, err.Error())
		return
	}

	chunks := p.chunker.Split(path, path, ext, info.ModTime(), pages)
	if len(chunks) == 0 {
		p.markFailed(ctx, path, "no text content")
		return
	}

	p.trackPendingWrite(path, len(chunks), currentHash, version, info.ModTime())

	for _, c := range chunks {
		select {
		case p.embedQueue <- chunkTask{path: path, chunk: c}:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) statFile(path string) (os.FileInfo, error) {
	if info, ok := p.statCache.Get(path); ok {
		return info, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	p.statCache.Set(path, info)
	return info, nil
}

// invalidateStat drops a cached stat result, used on unlink events.
func (p *Pipeline) invalidateStat(path string) {
	p.statCache.Delete(path)
}

func extOf(path string) string {
	ext := path
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			ext = path[i+1:]
			break
		}
		if path[i] == '/' {
			break
		}
	}
	return ext
}

// fileHash is the fast, non-cryptographic identity token from the
// glossary: (size, mtime_ns).
func fileHash(info os.FileInfo) string {
	return fmt.Sprintf("%d-%d", info.Size(), info.ModTime().UnixNano())
}

func (p *Pipeline) markFailed(ctx context.Context, path, message string) {
	rec := store.StatusRecord{
		Path:         path,
		Status:       store.StatusFailed,
		ErrorMessage: message,
		LastModified: time.Now(),
		LastRetry:    time.Now(),
	}
	if err := p.st.UpsertStatus(ctx, rec); err != nil {
		log.Printf("[PIPELINE] failed to mark %s as failed: %v", path, err)
	}
}

// pendingWrite tracks the metadata a file's batch of chunks needs once
// every chunk has come back from the embedder, keyed by path so the
// batcher can assemble the final write regardless of how the chunks for
// that path interleave with other files' chunks in the embedding queue.
type pendingWrite struct {
	expected     int
	received     []chunk.Chunk
	fileHash     string
	parserVer    int
	lastModified time.Time
}

func (p *Pipeline) trackPendingWrite(path string, expected int, hash string, parserVer int, mtime time.Time) {
	p.pendingMu.Lock()
	p.pending[path] = &pendingWrite{expected: expected, fileHash: hash, parserVer: parserVer, lastModified: mtime}
	p.pendingMu.Unlock()
}
