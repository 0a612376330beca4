package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gao-dev/devstate/internal/engine"
)

var (
	rootDir string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "devstate",
	Short: "Development lifecycle state engine",
	Long: `devstate keeps three stores in sync for a project: markdown documents
under docs/, a SQLite state database under .gao-dev/, and git history.
Every mutation is atomic across all three; on failure the working tree
and the database roll back to the pre-operation state.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", ".", "project root directory")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")
}

// openEngine builds the full engine stack or exits.
func openEngine(ctx context.Context) *engine.Engine {
	opts := engine.Options{}
	if verbose {
		opts.LogLevel = "debug"
	}
	e, err := engine.Open(ctx, rootDir, opts)
	if err != nil {
		fatal(err)
	}
	return e
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
