package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent sync runs",
		Example: `  # Last 10 sync runs
  vtagd history --limit 10

  # Machine-readable output
  vtagd history --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.ListSyncRecords(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}

			if len(records) == 0 {
				fmt.Println("no sync runs recorded")
				return nil
			}
			for _, rec := range records {
				fmt.Printf("%s  %-10s  %s to %s  processed=%d matched=%d uploaded=%d deleted=%d\n",
					rec.StartedAt.Format("2006-01-02 15:04:05"),
					rec.Status,
					rec.StartDate, rec.EndDate,
					rec.Processed, rec.Matched, rec.Uploaded, rec.Deleted)
				if rec.Error != "" {
					fmt.Printf("    error: %s\n", rec.Error)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to show")
	return cmd
}
