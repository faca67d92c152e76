package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openkiln/kiln/pkg/cache"
	"github.com/openkiln/kiln/pkg/graph"
	"github.com/openkiln/kiln/pkg/manifest"
)

var (
	// Global flags
	manifestPath string
	cachePath    string
	verbose      bool
	jsonOutput   bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kiln",
		Short: "Kiln - Incremental Artifact Execution Engine",
		Long: `Kiln executes a dependency graph of artifacts incrementally: artifacts
whose inputs have not changed since their last successful execution are
reused from a durable cache, and the rest run in dependency-ordered
parallel waves.

Features:
  - Content-addressed change detection via chained input hashes
  - Durable SQLite execution cache with provenance tracking
  - Wave-parallel execution with per-artifact failure containment
  - Impact analysis ("what breaks if this changes")
  - Declarative YAML artifact manifests`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&manifestPath, "manifest", "m", manifest.DefaultPath, "manifest file path")
	rootCmd.PersistentFlags().StringVar(&cachePath, "cache", ".kiln/cache.db", "execution cache path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newImpactCommand())
	rootCmd.AddCommand(newStatsCommand())
	rootCmd.AddCommand(newClearCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}

// loadManifest loads and validates the manifest from the global flag.
func loadManifest() (*manifest.Manifest, *graph.Graph, error) {
	m, err := manifest.NewLoader().LoadFromFile(manifestPath)
	if err != nil {
		return nil, nil, err
	}

	g, err := m.BuildGraph()
	if err != nil {
		return nil, nil, err
	}

	return m, g, nil
}

// openCache opens the execution cache from the global flag.
func openCache(ctx context.Context) (*cache.SQLiteCache, error) {
	c, err := cache.Open(ctx, cache.Config{Path: cachePath})
	if err != nil {
		return nil, fmt.Errorf("failed to open execution cache: %w", err)
	}
	return c, nil
}
