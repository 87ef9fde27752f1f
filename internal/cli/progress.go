package cli

import (
	"fmt"
	"log"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/jeanbovet/semantica/internal/pipeline"
	"github.com/jeanbovet/semantica/internal/startup"
)

// StartupProgressReporter renders startup.Coordinator.Events() as a
// single progress bar keyed off each stage's percent, matching the
// teacher's progressbar-per-phase style.
type StartupProgressReporter struct {
	quiet     bool
	bar       *progressbar.ProgressBar
	startTime time.Time
}

// NewStartupProgressReporter creates a new startup progress reporter.
func NewStartupProgressReporter(quiet bool) *StartupProgressReporter {
	return &StartupProgressReporter{
		quiet:     quiet,
		startTime: time.Now(),
		bar: progressbar.NewOptions(100,
			progressbar.OptionSetDescription("starting semantica"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionOnCompletion(func() {
				fmt.Println()
			}),
		),
	}
}

// Watch drains events until the final ready stage event, a startup:error
// event, or the channel closing, whichever happens first.
func (r *StartupProgressReporter) Watch(events <-chan startup.StageEvent) error {
	for ev := range events {
		if ev.Err != nil {
			if !r.quiet {
				fmt.Println()
				log.Printf("startup failed at stage %s: %v", ev.Stage, ev.Err)
			}
			return ev.Err
		}
		if !r.quiet {
			r.bar.Describe(fmt.Sprintf("%s: %s", ev.Stage, ev.HumanMessage))
			r.bar.Set(ev.Percent)
		}
		if ev.Stage == "ready" {
			return nil
		}
	}
	return nil
}

// IndexingProgressReporter polls a running Pipeline's queue depths and
// renders them as three small counters, refreshed on a fixed tick —
// there is no per-item event stream for steady-state indexing, only
// depths, so polling (not Add-per-item) is the right shape here.
type IndexingProgressReporter struct {
	quiet bool
	pipe  *pipeline.Pipeline
	stop  chan struct{}
}

// NewIndexingProgressReporter creates a reporter over pipe.
func NewIndexingProgressReporter(quiet bool, pipe *pipeline.Pipeline) *IndexingProgressReporter {
	return &IndexingProgressReporter{quiet: quiet, pipe: pipe, stop: make(chan struct{})}
}

// Start begins polling queue depths every interval until Stop is called.
func (r *IndexingProgressReporter) Start(interval time.Duration) {
	if r.quiet {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				file, embed, write := r.pipe.QueueDepths()
				fmt.Printf("\rqueued: %d files, %d chunks, %d batches   ", file, embed, write)
			}
		}
	}()
}

// Stop ends the polling goroutine started by Start.
func (r *IndexingProgressReporter) Stop() {
	close(r.stop)
	if !r.quiet {
		fmt.Println()
	}
}
