package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeanbovet/semantica/internal/config"
)

var (
	rootDir string
	verbose bool
	quiet   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "semantica",
	Short: "semantica - local semantic search indexing core",
	Long: `semantica watches a set of folders, parses the documents it finds,
chunks and embeds their text, and answers cosine-similarity queries over
the result entirely on the local machine.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}

	rootCmd.PersistentFlags().StringVar(&rootDir, "root", wd, "project root containing .semantica/config.yml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress progress output")
}

// loadConfig reads configuration for rootDir using the same priority chain
// (defaults -> config file -> environment) every command shares.
func loadConfig() (*config.Config, error) {
	cfg, err := config.NewLoader(rootDir).Load()
	if err != nil {
		return nil, err
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "using root: %s\n", rootDir)
	}
	return cfg, nil
}
