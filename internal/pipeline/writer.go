package pipeline

import (
	"context"
	"log"
)

// runWriter drains the write queue, flushing each (path, chunks,
// status) tuple to the store. CommitFile itself guarantees the
// delete-old-then-insert-new ordering required before the file-status
// flip to indexed (see internal/store).
func (p *Pipeline) runWriter(ctx context.Context) {
	for {
		select {
		case batch, ok := <-p.writeQueue:
			if !ok {
				return
			}
			if err := p.st.CommitFile(ctx, batch.path, batch.chunks, batch.status); err != nil {
				// A write error is fatal for the batch but not for the
				// pipeline: subsequent files continue processing, per §4.6.
				log.Printf("[PIPELINE] commit %s failed for %s: %v", batch.batchID, batch.path, err)
			}
		case <-ctx.Done():
			return
		}
	}
}
