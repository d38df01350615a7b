package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	appconfig "github.com/vtagger/vtagger/pkg/config"
	"github.com/vtagger/vtagger/pkg/sync"
	"github.com/vtagger/vtagger/pkg/telemetry"
)

func newSyncCommand(version string) *cobra.Command {
	var (
		startDate string
		endDate   string
		month     string
		accounts  []string
		filter    string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync and exit",
		Long: `Run a single sync against the cost platform and exit.

Without date flags the run covers the current Monday-to-Sunday week.
The --month shorthand expands to the whole month and overrides the
date flags.`,
		Example: `  # Sync the current week across all accounts
  vtagd sync

  # Sync one month for two accounts
  vtagd sync --month 2026-07 --account 12345 --account 67890

  # Only resources with no virtual tags yet
  vtagd sync --filter not_vtagged`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequirePlatform(); err != nil {
				return err
			}
			scope := sync.Scope{
				StartDate:   startDate,
				EndDate:     endDate,
				Month:       month,
				AccountKeys: accounts,
				FilterMode:  sync.FilterMode(filter),
			}
			return runSync(cmd.Context(), cfg, version, scope)
		},
	}

	cmd.Flags().StringVar(&startDate, "start-date", "", "export window start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endDate, "end-date", "", "export window end (YYYY-MM-DD)")
	cmd.Flags().StringVar(&month, "month", "", "whole-month shorthand (YYYY-MM)")
	cmd.Flags().StringArrayVar(&accounts, "account", nil, "account key to sync (repeatable; default all)")
	cmd.Flags().StringVar(&filter, "filter", "all", "resource filter: all or not_vtagged")

	return cmd
}

func runSync(ctx context.Context, cfg *appconfig.Config, version string, scope sync.Scope) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{})
	if err != nil {
		return err
	}
	tracer, err := telemetry.NewTracer(cfg.Telemetry.Tracing, cfg.Telemetry.ServiceName, version, cfg.Telemetry.Environment)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	loader, err := newLoader(cfg)
	if err != nil {
		return err
	}
	client := newPlatformClient(cfg, logger)

	orch := sync.NewOrchestrator(
		cfg.Sync.Pipeline(),
		client,
		store,
		loader,
		logger.Zerolog(),
		metrics,
		tracer,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go orch.Run(ctx)

	events, unsubscribe := orch.Subscribe()
	defer unsubscribe()

	job, err := orch.Start(ctx, scope)
	if err != nil {
		return err
	}
	logger.WithSyncID(job.ID).Infof("sync started for %s to %s", job.Scope.StartDate, job.Scope.EndDate)

	final := job
	for snapshot := range events {
		if snapshot.ID != job.ID {
			continue
		}
		if snapshot.Status == sync.StatusRunning && snapshot.Counters.Batches > final.Counters.Batches {
			logger.WithSyncID(job.ID).Infof("processed %d resources, %d matched, %d uploaded",
				snapshot.Counters.Processed, snapshot.Counters.Matched, snapshot.Counters.Uploaded)
		}
		final = snapshot
		if snapshot.Status.Terminal() {
			break
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(final); err != nil {
			return err
		}
	} else {
		fmt.Printf("Sync %s: %s\n", final.ID, final.Status)
		fmt.Printf("  processed: %d\n", final.Counters.Processed)
		fmt.Printf("  matched:   %d\n", final.Counters.Matched)
		fmt.Printf("  uploaded:  %d\n", final.Counters.Uploaded)
		fmt.Printf("  deleted:   %d\n", final.Counters.Deleted)
		fmt.Printf("  skipped:   %d\n", final.Counters.Skipped)
	}

	if final.Status != sync.StatusCompleted {
		return fmt.Errorf("sync finished with status %s: %s", final.Status, final.Error)
	}
	return nil
}
