package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
backend:
  base_url: https://dataqual.example.com/api
  timeout_seconds: 45
  upload_timeout_seconds: 600
poller:
  interval_seconds: 5
  max_failures: 4
upload:
  max_file_bytes: 1048576
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Backend.BaseURL != "https://dataqual.example.com/api" {
		t.Fatalf("expected backend base URL override, got %q", cfg.Backend.BaseURL)
	}
	if got := cfg.RequestTimeout(); got != 45*time.Second {
		t.Fatalf("expected request timeout 45s, got %v", got)
	}
	if got := cfg.UploadTimeout(); got != 600*time.Second {
		t.Fatalf("expected upload timeout 600s, got %v", got)
	}
	if got := cfg.PollInterval(); got != 5*time.Second {
		t.Fatalf("expected poll interval 5s, got %v", got)
	}
	if cfg.Upload.MaxFileBytes != 1048576 {
		t.Fatalf("expected max file bytes override, got %d", cfg.Upload.MaxFileBytes)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected logging.development false")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if got := cfg.PollInterval(); got != 2*time.Second {
		t.Fatalf("expected default poll interval 2s, got %v", got)
	}
	if cfg.Poller.MaxFailures != 3 {
		t.Fatalf("expected default max failures 3, got %d", cfg.Poller.MaxFailures)
	}
	if cfg.Upload.MaxFileBytes != 100*1024*1024 {
		t.Fatalf("expected default max file bytes 100 MiB, got %d", cfg.Upload.MaxFileBytes)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base := func() Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"empty base url", func(c *Config) { c.Backend.BaseURL = "" }},
		{"zero timeout", func(c *Config) { c.Backend.TimeoutSeconds = 0 }},
		{"zero interval", func(c *Config) { c.Poller.IntervalSeconds = 0 }},
		{"zero failures", func(c *Config) { c.Poller.MaxFailures = 0 }},
		{"zero upload cap", func(c *Config) { c.Upload.MaxFileBytes = 0 }},
		{"auth without key", func(c *Config) { c.Auth.Enabled = true; c.Auth.APIKey = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for %s", tc.name)
			}
		})
	}
}
