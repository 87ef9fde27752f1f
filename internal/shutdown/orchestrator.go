// Package shutdown implements the Shutdown Orchestrator (C8): eight
// ordered steps that drain every queue before releasing the subprocess
// and the store, each with its own timeout (or none, for the one step
// that must never give up early), backed by a watchdog that forces exit
// if the whole sequence overruns.
package shutdown

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime/pprof"
	"time"

	"github.com/jeanbovet/semantica/internal/config"
	"github.com/jeanbovet/semantica/internal/corecontext"
	"github.com/jeanbovet/semantica/internal/embedder"
	"github.com/jeanbovet/semantica/internal/pipeline"
	"github.com/jeanbovet/semantica/internal/store"
	"github.com/jeanbovet/semantica/internal/watcher"
)

const drainPollInterval = 50 * time.Millisecond

// watchdogGrace is added on top of the sum of every step's timeout
// before the watchdog forces exit — it must never fire during a clean
// shutdown, only when a step hangs past its own deadline.
const watchdogGrace = 10 * time.Second

// step is one ordered shutdown action. timeout == 0 means "no
// deadline" — used only by drain_file_queue, where giving up early
// would abandon discovered files mid-index. bestEffort steps log and
// continue past a failure instead of it affecting the overall error.
type step struct {
	name       string
	timeout    time.Duration
	fn         func(ctx context.Context) error
	bestEffort bool
}

// Orchestrator owns the components a clean shutdown must unwind, in the
// same order the Startup Coordinator brought them up, reversed.
type Orchestrator struct {
	cfg      *config.Config
	cc       *corecontext.Context
	watch    *watcher.Watcher
	pipe     *pipeline.Pipeline
	embedSvc *embedder.Service
	st       *store.Store
}

// New returns an Orchestrator over the components a Coordinator
// constructed during startup.
func New(cfg *config.Config, cc *corecontext.Context, w *watcher.Watcher, pipe *pipeline.Pipeline, embedSvc *embedder.Service, st *store.Store) *Orchestrator {
	return &Orchestrator{cfg: cfg, cc: cc, watch: w, pipe: pipe, embedSvc: embedSvc, st: st}
}

// Run executes all eight steps in order. It always runs every step
// regardless of an earlier step's failure — shutdown must attempt full
// cleanup even when one stage errors — and returns the first non-best-
// effort error encountered, if any. A watchdog goroutine forces
// os.Exit(1) if Run itself hangs well past the sum of every step's
// timeout.
func (o *Orchestrator) Run(ctx context.Context) error {
	steps := o.buildSteps()

	var budget time.Duration
	for _, s := range steps {
		budget += s.timeout
	}
	watchdog := time.AfterFunc(budget+watchdogGrace, func() {
		log.Printf("[SHUTDOWN] watchdog fired after %s without completing; forcing exit", budget+watchdogGrace)
		os.Exit(1)
	})
	defer watchdog.Stop()

	var firstErr error
	for _, s := range steps {
		stepCtx := ctx
		var cancel context.CancelFunc
		if s.timeout > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, s.timeout)
		}
		err := s.fn(stepCtx)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			log.Printf("[SHUTDOWN] step %s failed: %v", s.name, err)
			if !s.bestEffort && firstErr == nil {
				firstErr = fmt.Errorf("shutdown step %s: %w", s.name, err)
			}
			continue
		}
		log.Printf("[SHUTDOWN] step %s complete", s.name)
	}

	return firstErr
}

func (o *Orchestrator) buildSteps() []step {
	return []step{
		{name: "stop_watcher", timeout: 5 * time.Second, fn: o.stepStopWatcher},
		{name: "drain_file_queue", timeout: 0, fn: o.stepDrainFileQueue},
		{name: "drain_embedding_queue", timeout: 30 * time.Second, fn: o.stepDrainEmbeddingQueue},
		{name: "drain_write_queue", timeout: 10 * time.Second, fn: o.stepDrainWriteQueue},
		{name: "profiling_report", timeout: 5 * time.Second, fn: o.stepProfilingReport, bestEffort: true},
		{name: "stop_monitors", timeout: 5 * time.Second, fn: o.stepStopMonitors},
		{name: "stop_embedder", timeout: o.shutdownTimeout(), fn: o.stepStopEmbedder},
		{name: "close_store", timeout: 10 * time.Second, fn: o.stepCloseStore},
	}
}

func (o *Orchestrator) shutdownTimeout() time.Duration {
	if o.cfg.Embedding.ShutdownTimeoutS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(o.cfg.Embedding.ShutdownTimeoutS) * time.Second
}

// stepStopWatcher closes the file watcher first, so no new work can
// enter any queue behind the ones already in flight.
func (o *Orchestrator) stepStopWatcher(ctx context.Context) error {
	if o.watch == nil {
		return nil
	}
	return o.watch.Stop()
}

// stepDrainFileQueue closes the pipeline's file queue intake and waits,
// with no deadline, until the file queue depth is zero, that is until a
// worker has taken every queued file. It does not wait for those files
// to finish processing or reach a terminal status.
func (o *Orchestrator) stepDrainFileQueue(ctx context.Context) error {
	if o.pipe == nil {
		return nil
	}
	o.pipe.CloseFileQueue()
	for {
		file, _, _ := o.pipe.QueueDepths()
		if file == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(drainPollInterval):
		}
	}
}

// stepDrainEmbeddingQueue waits up to its step timeout for the batcher
// to clear every pending chunk.
func (o *Orchestrator) stepDrainEmbeddingQueue(ctx context.Context) error {
	if o.pipe == nil {
		return nil
	}
	for {
		_, embed, _ := o.pipe.QueueDepths()
		if embed == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(drainPollInterval):
		}
	}
}

// stepDrainWriteQueue waits up to its step timeout for the writer to
// flush every pending batch to the store.
func (o *Orchestrator) stepDrainWriteQueue(ctx context.Context) error {
	if o.pipe == nil {
		return nil
	}
	for {
		_, _, write := o.pipe.QueueDepths()
		if write == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(drainPollInterval):
		}
	}
}

// stepProfilingReport writes a heap profile to the data root when
// profiling is enabled; a no-op otherwise. Best-effort: a failure here
// must never block the rest of shutdown.
func (o *Orchestrator) stepProfilingReport(ctx context.Context) error {
	if !o.cfg.EnableProfiling {
		return nil
	}
	path := o.cfg.Storage.DataRoot + "/shutdown-heap.pprof"
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create profile %s: %w", path, err)
	}
	defer f.Close()
	return pprof.WriteHeapProfile(f)
}

// stepStopMonitors cancels the shared cancellable context, which is what
// the pipeline's memory monitor and every other ctx-driven background
// goroutine select on to exit.
func (o *Orchestrator) stepStopMonitors(ctx context.Context) error {
	if o.cc != nil {
		o.cc.Cancel()
	}
	return nil
}

// stepStopEmbedder sends the embedder subprocess a polite termination,
// escalating to a forced kill after shutdownTimeout.
func (o *Orchestrator) stepStopEmbedder(ctx context.Context) error {
	if o.embedSvc == nil {
		return nil
	}
	return o.embedSvc.Stop(o.shutdownTimeout())
}

// stepCloseStore closes the store last. The earlier drain steps only
// poll queue depths and give up at their timeouts, so a commit already
// taken off the write queue may still be in progress when this runs.
func (o *Orchestrator) stepCloseStore(ctx context.Context) error {
	if o.st == nil {
		return nil
	}
	return o.st.Close()
}
