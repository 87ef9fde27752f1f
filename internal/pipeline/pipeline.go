// Package pipeline implements the Indexing Pipeline (C6): a four-stage
// processing graph (file queue → workers → embedding queue → batcher →
// embedder client → write queue → store) with bounded channels,
// per-path single-flight coalescing, and a file-stat cache.
package pipeline

import (
	"context"
	"log"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/maypok86/otter"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/jeanbovet/semantica/internal/chunk"
	"github.com/jeanbovet/semantica/internal/coreerr"
	"github.com/jeanbovet/semantica/internal/embedder/client"
	"github.com/jeanbovet/semantica/internal/parser"
	"github.com/jeanbovet/semantica/internal/store"
)

// Queue capacities and thresholds, per §4.6.
const (
	fileQueueCapacity       = 4096
	embeddingQueueCapacity  = 2000
	embeddingBackpressureAt = 1000
	writeQueueCapacity      = 256
	writeBackpressureAt     = 200
	embedBatchSize          = 32
	embedMaxRetries         = 2
	embedRetryBackoff       = 1 * time.Second
	rssSoftLimitBytes       = 1500 * 1024 * 1024
	rssThrottleLimitBytes   = 800 * 1024 * 1024
	// sustainedBreachTicks requires two consecutive 5s samples above the
	// soft RSS target before pausing intake, so a single transient spike
	// does not stall the pipeline.
	sustainedBreachTicks = 2
)

// task is one file-queue entry. Priority ordering (outdated ≫ new ≫
// modified) is expressed by the caller choosing which channel send to
// issue first — the channel itself is FIFO.
type task struct {
	path     string
	priority int // recorded only; workers take tasks in FIFO order
}

// chunkTask carries a chunk awaiting embedding, always tagged with the
// path it came from — carried through to the writer so that a batch
// spanning multiple files can never misattribute a row (§4.6
// "Batch-construction contract").
type chunkTask struct {
	path  string
	chunk chunk.Chunk
}

// writeBatch is one (path, chunks, vectors) tuple flushed to the store.
// batchID is a correlation id used only in log lines.
type writeBatch struct {
	batchID string
	path    string
	chunks  []chunk.Chunk
	status  store.StatusRecord
}

// Pipeline owns the three bounded channels and the worker pool.
type Pipeline struct {
	registry *parser.Registry
	chunker  *chunk.Chunker
	st       *store.Store
	embed    *client.Client

	fileQueue  chan task
	embedQueue chan chunkTask
	writeQueue chan writeBatch

	workerCount int
	sem         *semaphore.Weighted
	throttled   bool
	paused      bool
	throttleMu  sync.Mutex

	statCache otter.Cache[string, os.FileInfo]

	inFlightMu sync.Mutex
	inFlight   map[string]struct{}

	pendingMu sync.Mutex
	pending   map[string]*pendingWrite
}

// New constructs a Pipeline. workerCount defaults to
// max(4, NumCPU()-1) when zero is passed.
func New(st *store.Store, embed *client.Client, registry *parser.Registry, workerCount int) (*Pipeline, error) {
	if workerCount <= 0 {
		workerCount = workerCount0()
	}

	cache, err := otter.MustBuilder[string, os.FileInfo](10000).Build()
	if err != nil {
		return nil, coreerr.Wrap(coreerr.WriteFailed, "build file-stat cache", err)
	}

	return &Pipeline{
		registry:    registry,
		chunker:     chunk.NewChunker(),
		st:          st,
		embed:       embed,
		fileQueue:   make(chan task, fileQueueCapacity),
		embedQueue:  make(chan chunkTask, embeddingQueueCapacity),
		writeQueue:  make(chan writeBatch, writeQueueCapacity),
		workerCount: workerCount,
		sem:         semaphore.NewWeighted(int64(workerCount)),
		statCache:   cache,
		inFlight:    make(map[string]struct{}),
		pending:     make(map[string]*pendingWrite),
	}, nil
}

func workerCount0() int {
	w := runtime.NumCPU() - 1
	if w < 4 {
		w = 4
	}
	return w
}

func throttledWorkerCount() int {
	w := runtime.NumCPU() / 4
	if w < 2 {
		w = 2
	}
	return w
}

// Enqueue submits path for (re-)indexing. priority is stored on the
// task but does not reorder the queue: tasks are taken in the order
// they were enqueued. Re-enqueues for a path already in flight
// coalesce into a no-op, satisfying the single-flight contract in §5.
// Any cached stat result for path is dropped first, so a re-enqueued
// file is compared against its current size and mtime.
func (p *Pipeline) Enqueue(ctx context.Context, path string, priority int) {
	p.invalidateStat(path)

	p.inFlightMu.Lock()
	if _, busy := p.inFlight[path]; busy {
		p.inFlightMu.Unlock()
		return
	}
	p.inFlight[path] = struct{}{}
	p.inFlightMu.Unlock()

	select {
	case p.fileQueue <- task{path: path, priority: priority}:
	case <-ctx.Done():
		p.clearInFlight(path)
	}
}

func (p *Pipeline) clearInFlight(path string) {
	p.inFlightMu.Lock()
	delete(p.inFlight, path)
	p.inFlightMu.Unlock()
}

// Run starts the worker pool, the batcher, and the writer, all bound to
// ctx. It blocks until ctx is cancelled and every goroutine has
// returned.
func (p *Pipeline) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	for i := 0; i < p.workerCount; i++ {
		g.Go(func() error {
			p.runFileWorker(gCtx)
			return nil
		})
	}

	g.Go(func() error {
		p.runBatcher(gCtx)
		return nil
	})

	g.Go(func() error {
		p.runWriter(gCtx)
		return nil
	})

	g.Go(func() error {
		p.runMemoryMonitor(gCtx)
		return nil
	})

	return g.Wait()
}

// CloseFileQueue stops new file-queue sends from being accepted by the
// caller and lets workers drain whatever remains — step 2 of the
// Shutdown Orchestrator's drain (no timeout: losing in-flight work here
// loses user data).
func (p *Pipeline) CloseFileQueue() {
	close(p.fileQueue)
}

// QueueDepths reports current depth of each bounded channel, for
// backpressure observation and tests.
func (p *Pipeline) QueueDepths() (file, embed, write int) {
	return len(p.fileQueue), len(p.embedQueue), len(p.writeQueue)
}

// HandleUnlink reacts to a watcher unlink event: it drops the path's
// chunks and file-status row from the store directly (there is nothing
// left to (re-)embed) and invalidates any cached stat result, so a file
// later recreated at the same path is never served a stale os.Stat.
func (p *Pipeline) HandleUnlink(ctx context.Context, path string) {
	p.invalidateStat(path)

	p.pendingMu.Lock()
	delete(p.pending, path)
	p.pendingMu.Unlock()

	if err := p.st.DeletePath(ctx, path); err != nil {
		log.Printf("[PIPELINE] failed to delete unlinked path %s: %v", path, err)
	}
}

// runMemoryMonitor throttles worker concurrency under sustained memory
// pressure by reserving permits on the shared semaphore (dropping
// effective concurrency from workerCount to throttledWorkerCount())
// rather than replacing the semaphore out from under workers that may
// already hold a reference to it.
func (p *Pipeline) runMemoryMonitor(ctx context.Context) {
	reserve := int64(p.workerCount - throttledWorkerCount())
	if reserve <= 0 {
		return
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	var m runtime.MemStats
	var softBreaches int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runtime.ReadMemStats(&m)

			p.throttleMu.Lock()
			switch {
			case m.HeapAlloc > rssThrottleLimitBytes && !p.throttled:
				if p.sem.TryAcquire(reserve) {
					p.throttled = true
					log.Printf("[PIPELINE] heap usage %d bytes exceeds throttle threshold; worker concurrency capped at %d", m.HeapAlloc, throttledWorkerCount())
				}
			case m.HeapAlloc <= rssThrottleLimitBytes && p.throttled:
				p.sem.Release(reserve)
				p.throttled = false
				log.Printf("[PIPELINE] heap usage receded; worker concurrency restored to %d", p.workerCount)
			}

			// A sustained breach of the soft RSS target pauses new file
			// intake entirely, on top of whatever throttling already
			// applied at the lower threshold.
			if m.HeapAlloc > rssSoftLimitBytes {
				softBreaches++
			} else {
				softBreaches = 0
				if p.paused {
					p.paused = false
					log.Printf("[PIPELINE] heap usage receded below soft target; resuming file intake")
				}
			}
			if softBreaches >= sustainedBreachTicks && !p.paused {
				p.paused = true
				log.Printf("[PIPELINE] heap usage %d bytes sustained above soft target; pausing file intake", m.HeapAlloc)
			}
			p.throttleMu.Unlock()
		}
	}
}

// isPaused reports whether sustained soft-limit memory pressure is
// currently pausing new file intake (§5 "after a sustained breach, the
// pipeline pauses").
func (p *Pipeline) isPaused() bool {
	p.throttleMu.Lock()
	defer p.throttleMu.Unlock()
	return p.paused
}
