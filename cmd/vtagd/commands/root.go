package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "vtagd",
		Short: "VTagger - virtual tag mapping for cloud cost data",
		Long: `VTagger maps cloud resources to virtual tags by evaluating ordered
dimension rules against the resources' physical tags, and keeps the
cost platform's virtual tag assignments in sync.

Features:
  - Declarative dimension rules with first-match-wins evaluation
  - Dimension references for layered mappings
  - Incremental diff-based uploads
  - Cooperative cancellation at batch boundaries
  - HTTP API with live progress streaming`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newServeCommand(version))
	rootCmd.AddCommand(newSyncCommand(version))
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newResolveCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newCleanupCommand())

	return rootCmd
}
