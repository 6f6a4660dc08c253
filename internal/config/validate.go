// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package config

import (
	"fmt"
	"slices"

	"github.com/Devanshjoshi2804/mentornet/internal/logging"
)

// ConfigError describes a single invalid configuration field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateServer,
		c.validateLedger,
		c.validateIdempotency,
		c.validateNATS,
		c.validateSecurity,
		c.validateSync,
		c.validateCompletion,
		c.validateOutbox,
		c.validateLogging,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return &ConfigError{Field: "server.port", Message: fmt.Sprintf("must be between 1 and 65535, got %d", c.Server.Port)}
	}
	if c.Server.Environment != "development" && c.Server.Environment != "production" {
		return &ConfigError{Field: "server.environment", Message: "must be development or production"}
	}
	return nil
}

func (c *Config) validateLedger() error {
	switch c.Ledger.Store {
	case "memory":
	case "duckdb":
		if c.Ledger.DuckDBPath == "" {
			return &ConfigError{Field: "ledger.duckdb_path", Message: "required when ledger.store=duckdb"}
		}
	case "postgres":
		if c.Ledger.PostgresDSN == "" {
			return &ConfigError{Field: "ledger.postgres_dsn", Message: "required when ledger.store=postgres"}
		}
	default:
		return &ConfigError{Field: "ledger.store", Message: fmt.Sprintf("unknown store %q", c.Ledger.Store)}
	}
	return nil
}

func (c *Config) validateIdempotency() error {
	switch c.Idempotency.Backend {
	case "memory":
	case "redis":
		if c.Idempotency.RedisURL == "" {
			return &ConfigError{Field: "idempotency.redis_url", Message: "required when idempotency.backend=redis"}
		}
	default:
		return &ConfigError{Field: "idempotency.backend", Message: fmt.Sprintf("unknown backend %q", c.Idempotency.Backend)}
	}
	if c.Idempotency.TTL <= 0 {
		return &ConfigError{Field: "idempotency.ttl", Message: "must be positive"}
	}
	return nil
}

func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}
	if c.NATS.URL == "" {
		return &ConfigError{Field: "nats.url", Message: "required when nats is enabled"}
	}
	if c.NATS.EmbeddedServer && c.NATS.StoreDir == "" {
		return &ConfigError{Field: "nats.store_dir", Message: "required for the embedded server"}
	}
	if c.NATS.StreamName == "" {
		return &ConfigError{Field: "nats.stream_name", Message: "required when nats is enabled"}
	}
	return nil
}

func (c *Config) validateSecurity() error {
	if c.IsProduction() {
		if len(c.Security.JWTSecret) < 32 {
			return &ConfigError{Field: "security.jwt_secret", Message: "must be at least 32 characters in production"}
		}
		if slices.Contains(c.Security.CORSOrigins, "*") {
			return &ConfigError{Field: "security.cors_origins", Message: "wildcard origin not allowed in production"}
		}
	}
	if !c.Security.RateLimitDisabled && c.Security.RateLimitReqs <= 0 {
		return &ConfigError{Field: "security.rate_limit_reqs", Message: "must be positive"}
	}
	return nil
}

func (c *Config) validateSync() error {
	s := c.Sync
	if s.SampleInterval <= 0 {
		return &ConfigError{Field: "sync.sample_interval", Message: "must be positive"}
	}
	if s.SkipSlack < 0 {
		return &ConfigError{Field: "sync.skip_slack", Message: "must not be negative"}
	}
	if s.MaxCatchUp < s.SampleInterval {
		return &ConfigError{Field: "sync.max_catch_up", Message: "must be at least sync.sample_interval"}
	}
	if s.ThrottleGate <= 0 {
		return &ConfigError{Field: "sync.throttle_gate", Message: "must be positive"}
	}
	if s.RetryBackoff <= 0 || s.MaxBackoff < s.RetryBackoff {
		return &ConfigError{Field: "sync.max_backoff", Message: "must be at least sync.retry_backoff, which must be positive"}
	}
	if s.MaxPendingIntervals < 1 {
		return &ConfigError{Field: "sync.max_pending_intervals", Message: "must be at least 1"}
	}
	if s.BreakerFailureRatio <= 0 || s.BreakerFailureRatio > 1 {
		return &ConfigError{Field: "sync.breaker_failure_ratio", Message: "must be in (0, 1]"}
	}
	return nil
}

func (c *Config) validateCompletion() error {
	if c.Completion.DefaultThreshold < 1 || c.Completion.DefaultThreshold > 100 {
		return &ConfigError{Field: "completion.default_threshold", Message: fmt.Sprintf("must be between 1 and 100, got %d", c.Completion.DefaultThreshold)}
	}
	return nil
}

func (c *Config) validateOutbox() error {
	if !c.Outbox.Enabled {
		return nil
	}
	if c.Outbox.Path == "" {
		return &ConfigError{Field: "outbox.path", Message: "required when the outbox is enabled"}
	}
	if c.Outbox.MaxEntries < 1 {
		return &ConfigError{Field: "outbox.max_entries", Message: "must be at least 1"}
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !logging.ValidLevel(c.Logging.Level) {
		return &ConfigError{Field: "logging.level", Message: fmt.Sprintf("unknown level %q", c.Logging.Level)}
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return &ConfigError{Field: "logging.format", Message: "must be json or console"}
	}
	return nil
}
