// Package config loads drill settings from ~/.drill/config.yaml,
// secrets.yaml and DRILL_* environment variables, in that order.
package config

import (
	"fmt"
	"slices"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "DRILL_"

// Load reads ~/.drill and applies environment overrides
func Load() (*LocalConfig, error) {
	cfg, err := LoadLocalConfig()
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays DRILL_* variables onto cfg. Unset variables keep the
// value already in cfg.
func ApplyEnv(cfg *LocalConfig) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}

// Validate checks settings that would otherwise fail at first use
func (c *LocalConfig) Validate() error {
	if c.Daemon.Port <= 0 || c.Daemon.Port > 65535 {
		return fmt.Errorf("daemon.port %d out of range", c.Daemon.Port)
	}
	if !slices.Contains([]string{"sqlite", "postgres"}, c.Storage.Driver) {
		return fmt.Errorf("storage.driver %q must be sqlite or postgres", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required for postgres")
	}
	if !slices.Contains([]string{"local", "redis", "store"}, c.Grading.Claims) {
		return fmt.Errorf("grading.claims %q must be local, redis or store", c.Grading.Claims)
	}
	if c.Grading.ClaimTTLSeconds <= 0 {
		return fmt.Errorf("grading.claim_ttl_seconds must be positive")
	}
	if c.Queue.Enabled && c.Queue.URL == "" {
		return fmt.Errorf("queue.url is required when the queue is enabled")
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate_limit.requests_per_second must be positive")
	}
	return nil
}
