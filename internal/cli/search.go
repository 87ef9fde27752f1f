package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeanbovet/semantica/internal/coreerr"
	"github.com/jeanbovet/semantica/internal/embedder"
	"github.com/jeanbovet/semantica/internal/store"
)

var searchTopK int

var searchCmd = &cobra.Command{
	Use:   "search <query text>",
	Short: "Run one cosine-similarity query against the store",
	Long: `search opens the store directly and answers a single query. It is a
one-shot command: it spawns its own embedder subprocess for the query
text, runs the search, and exits. Because the store takes a process-
exclusive lock (see internal/store.Open), search cannot run at the same
time as a "start" daemon against the same data root — run it after
stopping start, or point --root at a different, already-indexed root.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVar(&searchTopK, "top", 10, "number of results to return")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	query := strings.Join(args, " ")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if cfg.Embedding.BinaryPath == "" {
		return coreerr.New(coreerr.DependenciesMissing, "no embedder binary_path configured")
	}
	svc := embedder.New(cfg.Embedding.BinaryPath, cfg.Embedding.Endpoint)
	startupTimeout := 30 * time.Second
	if cfg.Embedding.StartupTimeoutS > 0 {
		startupTimeout = time.Duration(cfg.Embedding.StartupTimeoutS) * time.Second
	}
	if err := svc.Start(ctx, startupTimeout); err != nil {
		return fmt.Errorf("start embedder: %w", err)
	}
	defer svc.Stop(5 * time.Second)

	dim := cfg.Embedding.Dimensions
	if dim <= 0 {
		dim = 768
	}
	st, err := store.Open(cfg.Storage.DataRoot, dim)
	if err != nil {
		return fmt.Errorf("open store (is \"start\" already running against this root?): %w", err)
	}
	defer st.Close()

	vectors, err := svc.Client().Embed(ctx, []string{query}, true)
	if err != nil {
		return fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return fmt.Errorf("embedder returned no vector for query")
	}

	results, err := st.Search(ctx, vectors[0], searchTopK, nil)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	if len(results) == 0 {
		fmt.Println("no results")
		return nil
	}
	for i, r := range results {
		fmt.Printf("%2d. [%.4f] %s (chunk %d, page %d)\n", i+1, r.Score, r.Path, r.ChunkIndex, r.Page)
		fmt.Printf("    %s\n", truncate(r.Text, 160))
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
