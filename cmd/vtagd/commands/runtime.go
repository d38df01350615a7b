package commands

import (
	"context"
	"net/http"

	"github.com/vtagger/vtagger/pkg/config"
	"github.com/vtagger/vtagger/pkg/dimensions"
	"github.com/vtagger/vtagger/pkg/stores"
	"github.com/vtagger/vtagger/pkg/telemetry"
	"github.com/vtagger/vtagger/pkg/umbrella"
)

// loadConfig reads the configuration honoring the global --config flag.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

func newLogger(cfg *config.Config) (*telemetry.Logger, error) {
	return telemetry.NewLogger(cfg.Telemetry.Logging)
}

// openStore opens the SQLite store and applies pending migrations.
func openStore(ctx context.Context, cfg *config.Config) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Store.Path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func newLoader(cfg *config.Config) (*dimensions.Loader, error) {
	return dimensions.NewLoader(cfg.Dimensions.Dir)
}

func newPlatformClient(cfg *config.Config, logger *telemetry.Logger) *umbrella.Client {
	return umbrella.NewClient(umbrella.Config{
		BaseURL:    cfg.Umbrella.BaseURL,
		LoginKey:   cfg.Umbrella.LoginKey,
		MaxRetries: cfg.Umbrella.MaxRetries,
		HTTPClient: &http.Client{Timeout: cfg.Umbrella.Timeout.Std()},
		Logger:     logger.Zerolog(),
	})
}
