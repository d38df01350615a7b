package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newCleanupCommand() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Prune old sync history",
		Long: `Remove sync and upload history older than the retention window.

Running records are never removed regardless of age.`,
		Example: `  # Prune with the configured retention
  vtagd cleanup

  # Keep only the last week
  vtagd cleanup --days 7`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if days <= 0 {
				days = cfg.Sync.RetentionDays
			}

			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			cutoff := time.Now().UTC().AddDate(0, 0, -days)
			result, err := store.Prune(cmd.Context(), cutoff)
			if err != nil {
				return err
			}

			fmt.Printf("pruned %d sync record(s) and %d upload record(s) older than %s\n",
				result.SyncRecords, result.UploadRecords, cutoff.Format("2006-01-02"))
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "retention in days (default from config)")
	return cmd
}
