package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/jeanbovet/semantica/internal/chunk"
	"github.com/jeanbovet/semantica/internal/store"
)

// runBatcher pulls chunks off the embedding queue, forms batches of up
// to embedBatchSize dispatched strictly in FIFO order, sends one embed
// call per batch, and pairs the returned vectors back to their chunks
// by position — the embedder's contract guarantees vectors come back in
// request order, so the batcher performs no re-sorting of its own.
func (p *Pipeline) runBatcher(ctx context.Context) {
	for {
		first, ok := p.nextChunkTask(ctx)
		if !ok {
			return
		}

		batch := []chunkTask{first}
		batch = p.drainMore(batch)

		p.processBatch(ctx, batch)
	}
}

func (p *Pipeline) nextChunkTask(ctx context.Context) (chunkTask, bool) {
	select {
	case t, ok := <-p.embedQueue:
		return t, ok
	case <-ctx.Done():
		return chunkTask{}, false
	}
}

func (p *Pipeline) drainMore(batch []chunkTask) []chunkTask {
	for len(batch) < embedBatchSize {
		select {
		case t, ok := <-p.embedQueue:
			if !ok {
				return batch
			}
			batch = append(batch, t)
		default:
			return batch
		}
	}
	return batch
}

func (p *Pipeline) processBatch(ctx context.Context, batch []chunkTask) {
	texts := make([]string, len(batch))
	for i, t := range batch {
		texts[i] = t.chunk.Text
	}

	vectors, err := p.embedWithRetry(ctx, texts)
	if err != nil {
		p.failBatch(ctx, batch, err)
		return
	}

	for i, t := range batch {
		c := t.chunk
		c.Vector = vectors[i]
		p.recordChunkComplete(ctx, t.path, c)
	}
}

// embedWithRetry applies the pipeline-level batch retry from §4.6: up
// to two retries at 1s linear backoff on top of whatever retry the
// client already performed internally for network/5xx.
func (p *Pipeline) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= embedMaxRetries; attempt++ {
		vectors, err := p.embed.Embed(ctx, texts, true)
		if err == nil {
			return vectors, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if attempt < embedMaxRetries {
			select {
			case <-time.After(embedRetryBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

// failBatch marks every distinct path in the batch as error — an
// embedder error that survives the batch retry fails the file, not
// just the batch, per §4.6.
func (p *Pipeline) failBatch(ctx context.Context, batch []chunkTask, cause error) {
	seen := make(map[string]struct{})
	for _, t := range batch {
		if _, done := seen[t.path]; done {
			continue
		}
		seen[t.path] = struct{}{}

		p.pendingMu.Lock()
		delete(p.pending, t.path)
		p.pendingMu.Unlock()

		rec := store.StatusRecord{
			Path:         t.path,
			Status:       store.StatusError,
			ErrorMessage: cause.Error(),
			LastRetry:    time.Now(),
		}
		if err := p.st.UpsertStatus(ctx, rec); err != nil {
			log.Printf("[PIPELINE] failed to mark %s as error: %v", t.path, err)
		}
	}
}

// recordChunkComplete accumulates a completed chunk into its path's
// pendingWrite, pushing a write-queue batch once every chunk for that
// path's current (re-)index has arrived. The file-status row does not
// flip to indexed until the writer confirms the chunks table write
// succeeded — so an affected file's status never transiently shows
// indexed before vectors are durably written (§8 S5).
func (p *Pipeline) recordChunkComplete(ctx context.Context, path string, c chunk.Chunk) {
	p.pendingMu.Lock()
	pw, ok := p.pending[path]
	if !ok {
		p.pendingMu.Unlock()
		return
	}
	pw.received = append(pw.received, c)
	complete := len(pw.received) >= pw.expected
	var batch writeBatch
	if complete {
		delete(p.pending, path)
		batch = writeBatch{
			batchID: uuid.NewString(),
			path:    path,
			chunks:  pw.received,
			status: store.StatusRecord{
				Path:          path,
				Status:        store.StatusIndexed,
				ParserVersion: pw.parserVer,
				ChunkCount:    len(pw.received),
				LastModified:  pw.lastModified,
				IndexedAt:     time.Now(),
				FileHash:      pw.fileHash,
			},
		}
	}
	p.pendingMu.Unlock()

	if !complete {
		return
	}

	p.sendWriteBatch(ctx, batch)
}

// sendWriteBatch pauses dispatching once the write queue reaches its
// backpressure threshold, per §4.6.
func (p *Pipeline) sendWriteBatch(ctx context.Context, batch writeBatch) {
	for len(p.writeQueue) >= writeBackpressureAt {
		select {
		case <-ctx.Done():
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
	select {
	case p.writeQueue <- batch:
	case <-ctx.Done():
	}
}
