// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - Loading layers defaults, a YAML file and the environment (see Load).
// - Errors returned from this package wrap ErrInvalidConfig or ErrLoadConfig.
package config

import (
	"context"
	"fmt"
	"strings"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log encoding: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// StoreDriver selects the observation store: memory, sqlite or bolt.
	StoreDriver string `koanf:"store_driver"`

	// StorePath is the database file for the sqlite and bolt drivers.
	StorePath string `koanf:"store_path"`

	// DedupeSize bounds the number of remembered idempotency keys.
	DedupeSize int `koanf:"dedupe_size"`

	// MaxTrainingRows limits the predictor to the most recent rows. 0 = all rows.
	MaxTrainingRows int `koanf:"max_training_rows"`

	// Gzip enables response compression.
	Gzip bool `koanf:"gzip"`
}

// New creates a Config holding the defaults.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:        "info",
		LogFormat:       "text",
		Addr:            ":5000",
		StoreDriver:     "sqlite",
		StorePath:       "data/entries.db",
		DedupeSize:      10_000,
		MaxTrainingRows: 0,
		Gzip:            true,
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}

	switch strings.ToLower(c.StoreDriver) {
	case "memory":
	case "sqlite", "bolt":
		if strings.TrimSpace(c.StorePath) == "" {
			return fmt.Errorf("%w: store_path is required for the %s driver", ErrInvalidConfig, c.StoreDriver)
		}
	default:
		return fmt.Errorf("%w: unknown store_driver %q", ErrInvalidConfig, c.StoreDriver)
	}

	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: unknown log_format %q", ErrInvalidConfig, c.LogFormat)
	}

	if c.DedupeSize < 0 {
		return fmt.Errorf("%w: dedupe_size must be >= 0", ErrInvalidConfig)
	}
	if c.MaxTrainingRows < 0 {
		return fmt.Errorf("%w: max_training_rows must be >= 0", ErrInvalidConfig)
	}
	return nil
}
