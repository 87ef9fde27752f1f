// Package startup implements the Startup Coordinator (C1): it brings
// the core online through nine named stages, in a fixed order, emitting
// one progress event per transition, and lets a UI collaborator query
// IsReady() to skip the progress overlay entirely once the core is
// already up.
package startup

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/jeanbovet/semantica/internal/config"
	"github.com/jeanbovet/semantica/internal/coreerr"
	"github.com/jeanbovet/semantica/internal/corecontext"
	"github.com/jeanbovet/semantica/internal/embedder"
	"github.com/jeanbovet/semantica/internal/parser"
	"github.com/jeanbovet/semantica/internal/pipeline"
	"github.com/jeanbovet/semantica/internal/planner"
	"github.com/jeanbovet/semantica/internal/store"
	"github.com/jeanbovet/semantica/internal/watcher"
)

// StageEvent is one progress transition. Stage, HumanMessage and Percent
// are always populated; Err is set only on the startup:error event.
type StageEvent struct {
	Stage        string
	HumanMessage string
	Percent      int
	Err          error // non-nil only on the terminal startup:error event
}

const totalStages = 9

// stage is one named, timed, ordered step. skip, if non-nil, is checked
// before running fn; when it returns true the stage is recorded as
// skipped without invoking fn (only stage 3, downloading, ever skips).
type stage struct {
	name    string
	message string
	timeout time.Duration
	fn      func(ctx context.Context) error
	skip    func() bool
}

// Coordinator owns the nine-stage bring-up sequence and the handles it
// progressively constructs (store, embedder service, client, pipeline,
// watcher) — the corecontext.Context is the builder-in-progress that
// those stages fill in one field at a time.
type Coordinator struct {
	cfg *config.Config

	cc       *corecontext.Context
	embedSvc *embedder.Service
	registry *parser.Registry
	pipe     *pipeline.Pipeline
	scanner  *watcher.Scanner
	watch    *watcher.Watcher

	events chan StageEvent

	readyMu sync.RWMutex
	ready   bool

	modelCachedMu sync.Mutex
	modelCached   bool
}

// New returns a Coordinator for cfg. registry supplies the decoders the
// pipeline and planner will use; it is provided by the caller (normally
// parser.DefaultRegistry(), extended with any packaged-format decoders)
// rather than built here, since the registry's contents are a process-
// wide concern, not a startup-stage concern.
func New(cfg *config.Config, registry *parser.Registry) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		registry: registry,
		events:   make(chan StageEvent, totalStages+1),
	}
}

// Events returns the channel the CLI progress reporter (or an embedding
// UI collaborator) drains for {stage, human_message, percent} updates.
func (c *Coordinator) Events() <-chan StageEvent {
	return c.events
}

// IsReady reports whether the core has already completed startup. The
// renderer may call this at any time to bypass the progress overlay.
func (c *Coordinator) IsReady() bool {
	c.readyMu.RLock()
	defer c.readyMu.RUnlock()
	return c.ready
}

// Context returns the builder-in-progress corecontext.Context, valid to
// read once the corresponding stage has populated the field the caller
// wants (Store after db_init, EmbedderClient after embedder_init).
func (c *Coordinator) Context() *corecontext.Context { return c.cc }

// Pipeline returns the constructed Pipeline, valid after Start returns
// successfully.
func (c *Coordinator) Pipeline() *pipeline.Pipeline { return c.pipe }

// Watcher returns the constructed continuous file watcher, valid after
// Start returns successfully.
func (c *Coordinator) Watcher() *watcher.Watcher { return c.watch }

// EmbedderService returns the Service owning the embedder subprocess,
// valid after Start returns successfully.
func (c *Coordinator) EmbedderService() *embedder.Service { return c.embedSvc }

// Start runs the nine stages in order. Calling Start again once the
// core is ready is a no-op that replays the final ready event — the
// idempotence law from §8: a UI reload must never re-trigger startup.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.IsReady() {
		c.emit("ready", "core already running", totalStages)
		return nil
	}

	c.cc = corecontext.New(ctx, c.cfg)

	stages := c.buildStages()
	for i, st := range stages {
		if st.skip != nil && st.skip() {
			c.emit(st.name, fmt.Sprintf("%s (skipped)", st.message), i+1)
			continue
		}

		stageCtx := c.cc.Ctx()
		var cancel context.CancelFunc
		if st.timeout > 0 {
			stageCtx, cancel = context.WithTimeout(stageCtx, st.timeout)
		}
		err := st.fn(stageCtx)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			c.events <- StageEvent{Stage: "startup:error", HumanMessage: err.Error(), Percent: i * 100 / totalStages, Err: err}
			return err
		}

		c.emit(st.name, st.message, i+1)
	}

	c.readyMu.Lock()
	c.ready = true
	c.readyMu.Unlock()

	return nil
}

func (c *Coordinator) emit(stageName, message string, index int) {
	percent := index * 100 / totalStages
	select {
	case c.events <- StageEvent{Stage: stageName, HumanMessage: message, Percent: percent}:
	default:
		// A slow or absent UI collaborator must never block startup.
	}
}

func (c *Coordinator) buildStages() []stage {
	return []stage{
		{
			name:    "worker_spawn",
			message: "starting indexing workers",
			timeout: 10 * time.Second,
			fn:      c.stageWorkerSpawn,
		},
		{
			name:    "sidecar_start",
			message: "launching embedder subprocess",
			timeout: 15 * time.Second,
			fn:      c.stageSidecarStart,
		},
		{
			name:    "downloading",
			message: "downloading model weights",
			timeout: 10 * time.Minute,
			fn:      c.stageDownloading,
			skip:    c.modelWasCached,
		},
		{
			name:    "sidecar_ready",
			message: "waiting for embedder health probe",
			timeout: c.startupTimeout(),
			fn:      c.stageSidecarReady,
		},
		{
			name:    "embedder_init",
			message: "verifying embedder round trip",
			timeout: 30 * time.Second,
			fn:      c.stageEmbedderInit,
		},
		{
			name:    "db_init",
			message: "opening vector and status store",
			timeout: 30 * time.Second,
			fn:      c.stageDBInit,
		},
		{
			name:    "db_load",
			message: "planning re-index work",
			timeout: 30 * time.Second,
			fn:      c.stageDBLoad,
		},
		{
			name:    "folder_scan",
			message: "scanning watched folders",
			timeout: 5 * time.Minute,
			fn:      c.stageFolderScan,
		},
		{
			name:    "ready",
			message: "all systems armed",
			timeout: 5 * time.Second,
			fn:      c.stageReady,
		},
	}
}

func (c *Coordinator) startupTimeout() time.Duration {
	if c.cfg.Embedding.StartupTimeoutS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.cfg.Embedding.StartupTimeoutS) * time.Second
}

// stageWorkerSpawn constructs nothing: the pipeline's worker pool is
// assembled once db_init and embedder_init have run. This stage only
// checks that the host reports at least one usable CPU core.
func (c *Coordinator) stageWorkerSpawn(ctx context.Context) error {
	if runtime.NumCPU() < 1 {
		return coreerr.New(coreerr.RuntimeMissing, "no usable CPU cores reported")
	}
	return nil
}

// stageSidecarStart performs the pre-flight (binary present) and spawns
// the embedder subprocess.
func (c *Coordinator) stageSidecarStart(ctx context.Context) error {
	if c.cfg.Embedding.BinaryPath == "" {
		return coreerr.New(coreerr.DependenciesMissing, "no embedder binary_path configured").WithDetail("set embedding.binary_path in .semantica/config.yml")
	}

	c.embedSvc = embedder.New(c.cfg.Embedding.BinaryPath, c.cfg.Embedding.Endpoint)
	c.embedSvc.OnProgress(c.handleProgress)

	// Start() both spawns and health-polls; stages 3/4 below observe the
	// side effects (model-cached flag, readiness) of this single call
	// rather than re-spawning.
	return c.embedSvc.Start(ctx, c.startupTimeout())
}

func (c *Coordinator) handleProgress(ev embedder.ProgressEvent) {
	if ev.Kind == "model_cached" {
		c.modelCachedMu.Lock()
		c.modelCached = true
		c.modelCachedMu.Unlock()
	}
}

func (c *Coordinator) modelWasCached() bool {
	c.modelCachedMu.Lock()
	defer c.modelCachedMu.Unlock()
	return c.modelCached
}

// stageDownloading has no independent action: model download progress is
// observed via stageSidecarStart's progress callback, and this stage
// exists only to occupy a named slot in the fixed ordering (skipped
// entirely when modelWasCached() is true).
func (c *Coordinator) stageDownloading(ctx context.Context) error {
	return nil
}

// stageSidecarReady checks that the embedder service reports
// StateRunning: embedder.Service.Start already blocked until the health
// probe passed (or failed startup outright in stage sidecar_start). It
// exists as its own named stage per §4.1's nine fixed stages, distinct
// from the spawn itself.
func (c *Coordinator) stageSidecarReady(ctx context.Context) error {
	if c.embedSvc == nil || c.embedSvc.Status().State != embedder.StateRunning {
		return coreerr.New(coreerr.SidecarNotHealthy, "embedder is not in state running")
	}
	return nil
}

// stageEmbedderInit instantiates the client wrapper and performs a
// round-trip test embed call.
func (c *Coordinator) stageEmbedderInit(ctx context.Context) error {
	cl := c.embedSvc.Client()
	if _, err := cl.Info(ctx); err != nil {
		return coreerr.Wrap(coreerr.EmbedderInitFailed, "embedder info round trip failed", err)
	}
	if _, err := cl.Embed(ctx, []string{"startup round trip"}, true); err != nil {
		return coreerr.Wrap(coreerr.EmbedderInitFailed, "embedder embed round trip failed", err)
	}
	c.cc.SetEmbedderClient(cl)
	return nil
}

// stageDBInit opens (or creates and migrates) the store.
func (c *Coordinator) stageDBInit(ctx context.Context) error {
	dim := c.cfg.Embedding.Dimensions
	if dim <= 0 {
		dim = 768
	}
	st, err := store.Open(c.cfg.Storage.DataRoot, dim)
	if err != nil {
		return err
	}
	c.cc.SetStore(st)
	return nil
}

// stageDBLoad plans outdated/retry work from the file-status table and
// constructs the pipeline, ready to accept both the planner's priority
// work and the scanner/watcher's steady-state discoveries.
func (c *Coordinator) stageDBLoad(ctx context.Context) error {
	pipe, err := pipeline.New(c.cc.Store(), c.cc.EmbedderClient(), c.registry, 0)
	if err != nil {
		return err
	}
	c.pipe = pipe

	items, err := planner.Plan(ctx, c.cc.Store(), c.registry)
	if err != nil {
		return err
	}
	for i, item := range items {
		c.pipe.Enqueue(ctx, item.Path, i)
	}
	return nil
}

// stageFolderScan performs the one-shot recursive scan over every
// watched folder and enqueues every allowed file it discovers. Enqueue
// is given the stage's own bounded ctx, not the unbounded root context —
// the file queue isn't drained until stageReady starts the pipeline
// worker pool, so a corpus large enough to fill it must fail this
// stage's timeout rather than hang the whole startup sequence.
func (c *Coordinator) stageFolderScan(ctx context.Context) error {
	c.scanner = watcher.NewScanner(c.cfg)
	return c.scanner.Scan(ctx, func(ev watcher.Event) {
		c.pipe.Enqueue(ctx, ev.Path, len(c.cfg.WatchedFolders)+1)
	})
}

// stageReady starts the continuous watcher and the pipeline's worker
// pool — the file queue is "released" by this stage, per §4.1's
// description of the ready stage.
func (c *Coordinator) stageReady(ctx context.Context) error {
	w, err := watcher.New(c.cfg)
	if err != nil {
		return err
	}
	c.watch = w
	c.watch.Start(c.cc.Ctx(), func(evs []watcher.Event) {
		for _, ev := range evs {
			c.handleWatchEvent(ev)
		}
	})

	go func() {
		if err := c.pipe.Run(c.cc.Ctx()); err != nil {
			// Run only returns non-nil for a programmer error in the
			// worker pool setup, not for per-file failures (those are
			// recorded as status=error); nothing to recover here beyond
			// logging.
			c.emit("startup:error", err.Error(), totalStages)
		}
	}()

	return nil
}

// handleWatchEvent dispatches a continuous-watcher event: adds/changes
// re-enter the pipeline's file queue, unlinks delete the file's chunks
// and status row directly and invalidate any cached stat for the path.
func (c *Coordinator) handleWatchEvent(ev watcher.Event) {
	switch ev.Type {
	case watcher.EventUnlink:
		c.pipe.HandleUnlink(c.cc.Ctx(), ev.Path)
	default:
		c.pipe.Enqueue(c.cc.Ctx(), ev.Path, 0)
	}
}
