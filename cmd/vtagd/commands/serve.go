package commands

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/vtagger/vtagger/pkg/api"
	appconfig "github.com/vtagger/vtagger/pkg/config"
	"github.com/vtagger/vtagger/pkg/dimensions"
	"github.com/vtagger/vtagger/pkg/engine"
	"github.com/vtagger/vtagger/pkg/sync"
	"github.com/vtagger/vtagger/pkg/telemetry"
)

func newServeCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the VTagger service",
		Long: `Run the VTagger service: the sync orchestrator plus the HTTP API.

The service loads dimension documents from the configured directory,
serves sync control and progress endpoints, and optionally watches the
dimension directory for changes.`,
		Example: `  # Run with defaults and environment overrides
  vtagd serve

  # Run with an explicit config file
  vtagd serve --config /etc/vtagger/vtagger.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequirePlatform(); err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, version)
		},
	}
	return cmd
}

func runServe(ctx context.Context, cfg *appconfig.Config, version string) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	metrics, err := telemetry.NewMetrics(cfg.Telemetry.Metrics)
	if err != nil {
		return err
	}
	tracer, err := telemetry.NewTracer(cfg.Telemetry.Tracing, cfg.Telemetry.ServiceName, version, cfg.Telemetry.Environment)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("failed to flush traces")
		}
	}()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	loader, err := newLoader(cfg)
	if err != nil {
		return err
	}

	// Surface broken dimension documents at startup rather than on the
	// first sync.
	compiler := engine.NewCompiler()
	if dims, err := loader.LoadAll(); err != nil {
		logger.WithError(err).Warn("dimension documents failed to load")
	} else if compiled, err := compiler.CompileAll(dims); err != nil {
		logger.WithError(err).Warn("dimension documents failed to compile")
	} else {
		metrics.SetDimensionsLoaded(len(compiled))
		logger.Infof("loaded %d dimensions", len(compiled))
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

	orchDone := make(chan error, 1)
	go func() {
		orchDone <- orch.Run(ctx)
	}()

	if cfg.Dimensions.Watch {
		watcher := dimensions.NewWatcher(loader, logger.Zerolog(), func() {
			dims, err := loader.LoadAll()
			if err != nil {
				logger.WithError(err).Warn("dimension reload failed")
				return
			}
			compiled, err := compiler.CompileAll(dims)
			if err != nil {
				logger.WithError(err).Warn("dimension recompile failed")
				return
			}
			metrics.SetDimensionsLoaded(len(compiled))
			logger.Infof("reloaded %d dimensions", len(compiled))
		})
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Warn("dimension watcher stopped")
			}
		}()
	}

	server := api.NewServer(
		api.Options{
			ListenAddr:      cfg.Server.ListenAddr,
			ReadTimeout:     cfg.Server.ReadTimeout.Std(),
			WriteTimeout:    cfg.Server.WriteTimeout.Std(),
			ShutdownTimeout: cfg.Server.ShutdownTimeout.Std(),
		},
		orch,
		store,
		loader,
		metrics.Handler(),
		logger.Zerolog(),
	)

	err = server.Run(ctx)
	cancel()
	<-orchDone

	if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
