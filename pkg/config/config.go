package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/vtagger/vtagger/pkg/sync"
	"github.com/vtagger/vtagger/pkg/telemetry"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "2h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full service configuration.
type Config struct {
	// Umbrella configures the cost platform client.
	Umbrella UmbrellaConfig `yaml:"umbrella"`

	// Sync tunes the sync pipeline.
	Sync SyncConfig `yaml:"sync"`

	// Store configures local persistence.
	Store StoreConfig `yaml:"store"`

	// Dimensions configures dimension document loading.
	Dimensions DimensionsConfig `yaml:"dimensions"`

	// Server configures the HTTP API.
	Server ServerConfig `yaml:"server"`

	// Telemetry configures logging, metrics and tracing.
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// UmbrellaConfig holds the platform connection settings.
type UmbrellaConfig struct {
	// BaseURL is the platform API root, without a trailing slash.
	// Only commands that talk to the platform require it; see
	// RequirePlatform.
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`

	// LoginKey authenticates against the platform. Usually supplied via
	// VTAGGER_UMBRELLA_LOGIN_KEY rather than the file.
	LoginKey string `yaml:"login_key"`

	// MaxRetries bounds retry attempts for retryable API failures.
	MaxRetries int `yaml:"max_retries" validate:"gte=0,lte=10"`

	// Timeout is the per-request HTTP timeout.
	Timeout Duration `yaml:"timeout"`
}

// SyncConfig tunes the sync pipeline.
type SyncConfig struct {
	// PageSize is the export page size.
	PageSize int `yaml:"page_size" validate:"gte=0,lte=10000"`

	// ResolveWorkers bounds concurrent rule evaluation per batch.
	ResolveWorkers int `yaml:"resolve_workers" validate:"gte=0,lte=64"`

	// UploadChunkSize bounds rows per upload call.
	UploadChunkSize int `yaml:"upload_chunk_size" validate:"gte=0,lte=10000"`

	// MaxDuration is the wall-clock ceiling for one run.
	MaxDuration Duration `yaml:"max_duration"`

	// RetentionDays is how long completed history is kept.
	RetentionDays int `yaml:"retention_days" validate:"gte=0,lte=3650"`
}

// Pipeline converts the section into the pipeline's own config type.
func (c SyncConfig) Pipeline() sync.Config {
	return sync.Config{
		PageSize:        c.PageSize,
		ResolveWorkers:  c.ResolveWorkers,
		UploadChunkSize: c.UploadChunkSize,
		MaxDuration:     c.MaxDuration.Std(),
		RetentionDays:   c.RetentionDays,
	}
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	// Path is the SQLite database file.
	Path string `yaml:"path" validate:"required"`
}

// DimensionsConfig holds dimension document settings.
type DimensionsConfig struct {
	// Dir is the directory holding dimension documents.
	Dir string `yaml:"dir" validate:"required"`

	// Watch enables hot reload on document changes.
	Watch bool `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// ListenAddr is the bind address, host:port.
	ListenAddr string `yaml:"listen_addr" validate:"required,hostname_port"`

	// ReadTimeout bounds request reading.
	ReadTimeout Duration `yaml:"read_timeout"`

	// WriteTimeout bounds response writing. Zero disables it, which the
	// event stream endpoint relies on.
	WriteTimeout Duration `yaml:"write_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// Default returns the configuration defaults.
func Default() *Config {
	pipeline := sync.DefaultConfig()
	return &Config{
		Umbrella: UmbrellaConfig{
			MaxRetries: 4,
			Timeout:    Duration(60 * time.Second),
		},
		Sync: SyncConfig{
			PageSize:        pipeline.PageSize,
			ResolveWorkers:  pipeline.ResolveWorkers,
			UploadChunkSize: pipeline.UploadChunkSize,
			MaxDuration:     Duration(pipeline.MaxDuration),
			RetentionDays:   pipeline.RetentionDays,
		},
		Store: StoreConfig{Path: "vtagger.db"},
		Dimensions: DimensionsConfig{
			Dir:   "dimensions",
			Watch: true,
		},
		Server: ServerConfig{
			ListenAddr:      "127.0.0.1:8080",
			ReadTimeout:     Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// Load reads the configuration file at path, applies environment
// overrides and validates the result. An empty path loads defaults and
// environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := parse(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML configuration on top of the defaults, applying
// the same environment overlay and validation as Load.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := parse(data, cfg); err != nil {
		return nil, err
	}
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(cfg)
}

// applyEnv overlays environment variables on the configuration.
func applyEnv(cfg *Config) {
	if v := os.Getenv("VTAGGER_UMBRELLA_BASE_URL"); v != "" {
		cfg.Umbrella.BaseURL = v
	}
	if v := os.Getenv("VTAGGER_UMBRELLA_LOGIN_KEY"); v != "" {
		cfg.Umbrella.LoginKey = v
	}
	if v := os.Getenv("VTAGGER_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("VTAGGER_DIMENSIONS_DIR"); v != "" {
		cfg.Dimensions.Dir = v
	}
	if v := os.Getenv("VTAGGER_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("VTAGGER_LOG_LEVEL"); v != "" {
		cfg.Telemetry.Logging.Level = v
	}
}

// RequirePlatform verifies the connection settings that platform-bound
// commands need. Local commands can run without them.
func (c *Config) RequirePlatform() error {
	if c.Umbrella.BaseURL == "" {
		return errors.New("umbrella.base_url is required")
	}
	if c.Umbrella.LoginKey == "" {
		return errors.New("umbrella.login_key is required (set VTAGGER_UMBRELLA_LOGIN_KEY)")
	}
	return nil
}

// Validate checks the configuration for structural and semantic errors.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("invalid configuration: field %s failed %q validation", first.Namespace(), first.Tag())
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}
	return nil
}
