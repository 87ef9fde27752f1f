package startup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeanbovet/semantica/internal/config"
	"github.com/jeanbovet/semantica/internal/embedder"
	"github.com/jeanbovet/semantica/internal/parser"
)

func newTestCoordinator() *Coordinator {
	return New(config.Default(), parser.DefaultRegistry())
}

func TestIsReady_DefaultsFalse(t *testing.T) {
	c := newTestCoordinator()
	assert.False(t, c.IsReady())
}

func TestBuildStages_NineStagesInFixedOrder(t *testing.T) {
	c := newTestCoordinator()
	stages := c.buildStages()
	require.Len(t, stages, totalStages)

	wantNames := []string{
		"worker_spawn", "sidecar_start", "downloading", "sidecar_ready",
		"embedder_init", "db_init", "db_load", "folder_scan", "ready",
	}
	for i, name := range wantNames {
		assert.Equal(t, name, stages[i].name)
	}
}

func TestBuildStages_OnlyDownloadingIsSkippable(t *testing.T) {
	c := newTestCoordinator()
	stages := c.buildStages()
	for _, st := range stages {
		if st.name == "downloading" {
			assert.NotNil(t, st.skip, "downloading must be the only skippable stage")
		} else {
			assert.Nil(t, st.skip, "%s must not be skippable", st.name)
		}
	}
}

func TestModelWasCached_TrueOnlyAfterModelCachedProgressEvent(t *testing.T) {
	c := newTestCoordinator()
	assert.False(t, c.modelWasCached())

	c.handleProgress(embedder.ProgressEvent{Kind: "download_started"})
	assert.False(t, c.modelWasCached())

	c.handleProgress(embedder.ProgressEvent{Kind: "model_cached"})
	assert.True(t, c.modelWasCached())
}

func TestEmit_DoesNotBlockWhenEventsChannelIsFull(t *testing.T) {
	c := newTestCoordinator()
	for i := 0; i < cap(c.events); i++ {
		c.events <- StageEvent{Stage: "filler"}
	}

	// emit's select/default makes this provably non-blocking; calling it
	// directly (rather than via a goroutine + timeout) is the test.
	c.emit("worker_spawn", "x", 1)

	assert.Equal(t, cap(c.events), len(c.events), "a full events channel must drop the new event rather than grow")
}

func TestStartupTimeout_DefaultsTo30sWhenUnconfigured(t *testing.T) {
	cfg := config.Default()
	cfg.Embedding.StartupTimeoutS = 0
	c := New(cfg, parser.DefaultRegistry())
	assert.Equal(t, 30*time.Second, c.startupTimeout())
}
