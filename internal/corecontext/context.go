// Package corecontext carries the handles every pipeline stage needs
// (store, embedder client, config snapshot, cancellation) explicitly
// instead of reaching into module-level globals.
package corecontext

import (
	"context"
	"sync"

	"github.com/jeanbovet/semantica/internal/config"
	"github.com/jeanbovet/semantica/internal/embedder/client"
	"github.com/jeanbovet/semantica/internal/store"
)

// Context bundles the handles produced by the Startup Coordinator and
// consumed by the Pipeline, Planner, Watcher, and CLI. It is built up
// stage by stage; fields are nil until the corresponding stage runs.
type Context struct {
	Config *config.Config

	mu       sync.RWMutex
	store    *store.Store
	embedder *client.Client

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Context bound to a fresh cancellable child of parent.
func New(parent context.Context, cfg *config.Config) *Context {
	ctx, cancel := context.WithCancel(parent)
	return &Context{
		Config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Done returns the context's cancellation channel, for select statements
// throughout the pipeline.
func (c *Context) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Ctx returns the underlying context.Context, for passing to blocking calls.
func (c *Context) Ctx() context.Context {
	return c.ctx
}

// Cancel propagates shutdown along every queue fed by this Context.
func (c *Context) Cancel() {
	c.cancel()
}

// SetStore installs the store handle once stage db_init completes.
func (c *Context) SetStore(s *store.Store) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store = s
}

// Store returns the currently installed store handle, or nil before
// stage db_init has run.
func (c *Context) Store() *store.Store {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store
}

// SetEmbedderClient installs the embedder client once stage embedder_init
// completes.
func (c *Context) SetEmbedderClient(cl *client.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.embedder = cl
}

// EmbedderClient returns the currently installed embedder client, or nil
// before stage embedder_init has run.
func (c *Context) EmbedderClient() *client.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.embedder
}
