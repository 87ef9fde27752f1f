package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeanbovet/semantica/internal/parser"
	"github.com/jeanbovet/semantica/internal/shutdown"
	"github.com/jeanbovet/semantica/internal/startup"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Bring the indexing core online and keep it running",
	Long: `start runs the nine-stage bring-up sequence (spawn the embedder
subprocess, open the store, plan re-index work, scan watched folders,
arm the continuous watcher) and then blocks, indexing files as they
change, until interrupted.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coord := startup.New(cfg, parser.DefaultRegistry())

	reporter := NewStartupProgressReporter(quiet)
	startupErrCh := make(chan error, 1)
	go func() { startupErrCh <- reporter.Watch(coord.Events()) }()

	if err := coord.Start(ctx); err != nil {
		<-startupErrCh
		return fmt.Errorf("startup: %w", err)
	}
	if err := <-startupErrCh; err != nil {
		return err
	}

	indexing := NewIndexingProgressReporter(quiet, coord.Pipeline())
	indexing.Start(2 * time.Second)

	<-ctx.Done()
	indexing.Stop()
	if !quiet {
		fmt.Println("shutting down...")
	}

	orch := shutdown.New(cfg, coord.Context(), coord.Watcher(), coord.Pipeline(), coord.EmbedderService(), coord.Context().Store())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	return orch.Run(shutdownCtx)
}
