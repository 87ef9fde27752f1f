package shutdown

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeanbovet/semantica/internal/config"
	"github.com/jeanbovet/semantica/internal/embedder/client"
	"github.com/jeanbovet/semantica/internal/parser"
	"github.com/jeanbovet/semantica/internal/pipeline"
	"github.com/jeanbovet/semantica/internal/store"
)

func mustOpenStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(t.TempDir(), 8)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestBuildSteps_EightStepsInFixedOrder(t *testing.T) {
	o := New(config.Default(), nil, nil, nil, nil, nil)
	steps := o.buildSteps()
	require.Len(t, steps, 8)

	wantNames := []string{
		"stop_watcher", "drain_file_queue", "drain_embedding_queue",
		"drain_write_queue", "profiling_report", "stop_monitors",
		"stop_embedder", "close_store",
	}
	for i, name := range wantNames {
		assert.Equal(t, name, steps[i].name)
	}
}

func TestBuildSteps_OnlyDrainFileQueueHasNoDeadline(t *testing.T) {
	o := New(config.Default(), nil, nil, nil, nil, nil)
	for _, s := range o.buildSteps() {
		if s.name == "drain_file_queue" {
			assert.Zero(t, s.timeout, "drain_file_queue must never give up early")
		} else {
			assert.NotZero(t, s.timeout, "%s must have a deadline", s.name)
		}
	}
}

func TestBuildSteps_OnlyProfilingReportIsBestEffort(t *testing.T) {
	o := New(config.Default(), nil, nil, nil, nil, nil)
	for _, s := range o.buildSteps() {
		if s.name == "profiling_report" {
			assert.True(t, s.bestEffort)
		} else {
			assert.False(t, s.bestEffort, "%s must not be best-effort", s.name)
		}
	}
}

func TestRun_NilComponentsAreAllNoOps(t *testing.T) {
	o := New(config.Default(), nil, nil, nil, nil, nil)
	err := o.Run(context.Background())
	assert.NoError(t, err)
}

func TestStepDrainFileQueue_ReturnsOnceQueueEmpties(t *testing.T) {
	st := mustOpenStore(t)
	p, err := pipeline.New(st, client.New("http://127.0.0.1:0"), parser.DefaultRegistry(), 2)
	require.NoError(t, err)

	o := New(config.Default(), nil, nil, p, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, o.stepDrainFileQueue(ctx))

	file, _, _ := p.QueueDepths()
	assert.Equal(t, 0, file)
}

func TestStepProfilingReport_NoopWhenDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.EnableProfiling = false
	cfg.Storage.DataRoot = t.TempDir()

	o := New(cfg, nil, nil, nil, nil, nil)
	require.NoError(t, o.stepProfilingReport(context.Background()))

	_, err := os.Stat(filepath.Join(cfg.Storage.DataRoot, "shutdown-heap.pprof"))
	assert.True(t, os.IsNotExist(err))
}

func TestStepProfilingReport_WritesFileWhenEnabled(t *testing.T) {
	cfg := config.Default()
	cfg.EnableProfiling = true
	cfg.Storage.DataRoot = t.TempDir()

	o := New(cfg, nil, nil, nil, nil, nil)
	require.NoError(t, o.stepProfilingReport(context.Background()))

	info, err := os.Stat(filepath.Join(cfg.Storage.DataRoot, "shutdown-heap.pprof"))
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestShutdownTimeout_DefaultsTo5sWhenUnconfigured(t *testing.T) {
	cfg := config.Default()
	cfg.Embedding.ShutdownTimeoutS = 0
	o := New(cfg, nil, nil, nil, nil, nil)
	assert.Equal(t, 5*time.Second, o.shutdownTimeout())
}
