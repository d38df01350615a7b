package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
umbrella:
  base_url: https://api.umbrella.example.com/v1
  login_key: test-key
  max_retries: 2
sync:
  page_size: 250
  max_duration: 30m
store:
  path: /tmp/vtagger-test.db
dimensions:
  dir: ./dims
server:
  listen_addr: 0.0.0.0:9090
telemetry:
  logging:
    level: debug
`

func TestParseValidConfig(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Umbrella.BaseURL != "https://api.umbrella.example.com/v1" {
		t.Errorf("unexpected base URL %s", cfg.Umbrella.BaseURL)
	}
	if cfg.Umbrella.MaxRetries != 2 {
		t.Errorf("expected max_retries 2, got %d", cfg.Umbrella.MaxRetries)
	}
	if cfg.Sync.PageSize != 250 {
		t.Errorf("expected page_size 250, got %d", cfg.Sync.PageSize)
	}
	if cfg.Sync.MaxDuration.Std() != 30*time.Minute {
		t.Errorf("expected max_duration 30m, got %s", cfg.Sync.MaxDuration.Std())
	}
	if cfg.Server.ListenAddr != "0.0.0.0:9090" {
		t.Errorf("unexpected listen addr %s", cfg.Server.ListenAddr)
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("expected debug log level, got %s", cfg.Telemetry.Logging.Level)
	}

	// Untouched sections keep their defaults.
	if cfg.Sync.RetentionDays != Default().Sync.RetentionDays {
		t.Errorf("expected default retention, got %d", cfg.Sync.RetentionDays)
	}
	if cfg.Server.ShutdownTimeout.Std() != 15*time.Second {
		t.Errorf("expected default shutdown timeout, got %s", cfg.Server.ShutdownTimeout.Std())
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte(`
umbrella:
  base_url: https://api.example.com
  login_key: k
  basurl: typo
store:
  path: x.db
dimensions:
  dir: d
`))
	if err == nil {
		t.Fatal("expected an error for an unknown field")
	}
}

func TestRequirePlatform(t *testing.T) {
	cfg, err := Parse([]byte(`
umbrella:
  base_url: https://api.example.com
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := cfg.RequirePlatform(); err == nil {
		t.Fatal("expected an error for a missing login key")
	} else if !strings.Contains(err.Error(), "login_key") {
		t.Errorf("unexpected error: %v", err)
	}

	cfg.Umbrella.LoginKey = "k"
	if err := cfg.RequirePlatform(); err != nil {
		t.Errorf("RequirePlatform: %v", err)
	}

	cfg.Umbrella.BaseURL = ""
	if err := cfg.RequirePlatform(); err == nil {
		t.Error("expected an error for a missing base URL")
	}
}

func TestParseRejectsBadListenAddr(t *testing.T) {
	_, err := Parse([]byte(`
umbrella:
  base_url: https://api.example.com
  login_key: k
server:
  listen_addr: not-an-address
`))
	if err == nil {
		t.Fatal("expected an error for a bad listen address")
	}
}

func TestParseRejectsBadLogLevel(t *testing.T) {
	_, err := Parse([]byte(`
umbrella:
  base_url: https://api.example.com
  login_key: k
telemetry:
  logging:
    level: loud
`))
	if err == nil {
		t.Fatal("expected an error for a bad log level")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("VTAGGER_UMBRELLA_BASE_URL", "https://env.example.com")
	t.Setenv("VTAGGER_UMBRELLA_LOGIN_KEY", "env-key")
	t.Setenv("VTAGGER_LISTEN_ADDR", "127.0.0.1:7777")
	t.Setenv("VTAGGER_LOG_LEVEL", "warn")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Umbrella.BaseURL != "https://env.example.com" {
		t.Errorf("expected env base URL, got %s", cfg.Umbrella.BaseURL)
	}
	if cfg.Umbrella.LoginKey != "env-key" {
		t.Errorf("expected env login key, got %s", cfg.Umbrella.LoginKey)
	}
	if cfg.Server.ListenAddr != "127.0.0.1:7777" {
		t.Errorf("expected env listen addr, got %s", cfg.Server.ListenAddr)
	}
	if cfg.Telemetry.Logging.Level != "warn" {
		t.Errorf("expected env log level, got %s", cfg.Telemetry.Logging.Level)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vtagger.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Path != "/tmp/vtagger-test.db" {
		t.Errorf("unexpected store path %s", cfg.Store.Path)
	}
}

func TestParseRejectsBadDuration(t *testing.T) {
	_, err := Parse([]byte(`
umbrella:
  base_url: https://api.example.com
  login_key: k
  timeout: fast
`))
	if err == nil {
		t.Fatal("expected an error for a bad duration")
	}
	if !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
