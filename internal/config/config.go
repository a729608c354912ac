// Package config loads and validates orchestrator configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Backend BackendConfig `mapstructure:"backend"`
	Poller  PollerConfig  `mapstructure:"poller"`
	Upload  UploadConfig  `mapstructure:"upload"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the local read API server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles for the local server.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// BackendConfig points at the remote processing service.
type BackendConfig struct {
	BaseURL              string `mapstructure:"base_url"`
	TimeoutSeconds       int    `mapstructure:"timeout_seconds"`
	UploadTimeoutSeconds int    `mapstructure:"upload_timeout_seconds"`
}

// PollerConfig governs job watch behavior.
type PollerConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
	MaxFailures     int `mapstructure:"max_failures"`
}

// UploadConfig bounds client-side upload validation.
type UploadConfig struct {
	MaxFileBytes int64 `mapstructure:"max_file_bytes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DATAQUAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("backend.base_url", "http://localhost:8000/api")
	v.SetDefault("backend.timeout_seconds", 30)
	v.SetDefault("backend.upload_timeout_seconds", 300)
	v.SetDefault("poller.interval_seconds", 2)
	v.SetDefault("poller.max_failures", 3)
	v.SetDefault("upload.max_file_bytes", 100*1024*1024)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url must be set")
	}
	if c.Backend.TimeoutSeconds <= 0 {
		return fmt.Errorf("backend.timeout_seconds must be > 0")
	}
	if c.Poller.IntervalSeconds <= 0 {
		return fmt.Errorf("poller.interval_seconds must be > 0")
	}
	if c.Poller.MaxFailures <= 0 {
		return fmt.Errorf("poller.max_failures must be > 0")
	}
	if c.Upload.MaxFileBytes <= 0 {
		return fmt.Errorf("upload.max_file_bytes must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// RequestTimeout converts the backend timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
}

// UploadTimeout converts the upload timeout into a duration, falling back
// to the normal request timeout when unset.
func (c Config) UploadTimeout() time.Duration {
	if c.Backend.UploadTimeoutSeconds <= 0 {
		return c.RequestTimeout()
	}
	return time.Duration(c.Backend.UploadTimeoutSeconds) * time.Second
}

// PollInterval converts the poller interval into a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Poller.IntervalSeconds) * time.Second
}
