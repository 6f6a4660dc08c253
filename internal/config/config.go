// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

// Package config loads layered configuration for the ledger server and the
// playback sync client.
//
// Precedence is environment variables over the YAML file over built-in
// defaults. See LoadWithKoanf.
package config

import "time"

// Config is the full runtime configuration shared by cmd/server and cmd/replay.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Ledger      LedgerConfig      `koanf:"ledger"`
	Idempotency IdempotencyConfig `koanf:"idempotency"`
	NATS        NATSConfig        `koanf:"nats"`
	Security    SecurityConfig    `koanf:"security"`
	Sync        SyncConfig        `koanf:"sync"`
	Completion  CompletionConfig  `koanf:"completion"`
	Outbox      OutboxConfig      `koanf:"outbox"`
	Client      ClientConfig      `koanf:"client"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// ServerConfig holds HTTP listener settings for the ledger server.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// Environment is "development" or "production". Production refuses
	// an empty JWT secret and wildcard CORS.
	Environment string `koanf:"environment"`
}

// LedgerConfig selects and configures the progress record store.
type LedgerConfig struct {
	// Store is one of memory, duckdb, postgres.
	Store string `koanf:"store"`

	DuckDBPath  string `koanf:"duckdb_path"`
	PostgresDSN string `koanf:"postgres_dsn"`
	MaxConns    int32  `koanf:"max_conns"`
}

// IdempotencyConfig configures the Idempotency-Key store for write endpoints.
type IdempotencyConfig struct {
	// Backend is memory or redis.
	Backend  string        `koanf:"backend"`
	RedisURL string        `koanf:"redis_url"`
	TTL      time.Duration `koanf:"ttl"`
}

// NATSConfig configures ledger event fan-out over NATS JetStream.
type NATSConfig struct {
	Enabled bool `koanf:"enabled"`

	// EmbeddedServer starts an in-process NATS server. If false, URL must
	// point at an external server.
	EmbeddedServer bool `koanf:"embedded_server"`

	URL              string        `koanf:"url"`
	StoreDir         string        `koanf:"store_dir"`
	MaxMemory        int64         `koanf:"max_memory"`
	MaxStore         int64         `koanf:"max_store"`
	StreamName       string        `koanf:"stream_name"`
	StreamRetention  time.Duration `koanf:"stream_retention"`
	SubscribersCount int           `koanf:"subscribers_count"`
}

// SecurityConfig holds identity and HTTP hardening settings.
type SecurityConfig struct {
	JWTSecret         string        `koanf:"jwt_secret"`
	TokenTTL          time.Duration `koanf:"token_ttl"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// SyncConfig holds the playback observation and ledger sync parameters.
type SyncConfig struct {
	// SampleInterval is the sampler cadence while playing.
	SampleInterval time.Duration `koanf:"sample_interval"`

	// SkipSlack is the tolerance around the expected forward movement
	// before a position change is classified as a skip.
	SkipSlack time.Duration `koanf:"skip_slack"`

	// MaxCatchUp caps how far the expected forward movement may widen when
	// wall-clock time between samples exceeds SampleInterval.
	MaxCatchUp time.Duration `koanf:"max_catch_up"`

	// ThrottleGate is the minimum position movement between ledger writes.
	ThrottleGate time.Duration `koanf:"throttle_gate"`

	RetryBackoff        time.Duration `koanf:"retry_backoff"`
	MaxBackoff          time.Duration `koanf:"max_backoff"`
	WriteTimeout        time.Duration `koanf:"write_timeout"`
	FinalFlushTimeout   time.Duration `koanf:"final_flush_timeout"`
	MaxPendingIntervals int           `koanf:"max_pending_intervals"`

	// RateLimit bounds ledger requests per second from one client process.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`

	BreakerMaxRequests  uint32        `koanf:"breaker_max_requests"`
	BreakerInterval     time.Duration `koanf:"breaker_interval"`
	BreakerTimeout      time.Duration `koanf:"breaker_timeout"`
	BreakerMinRequests  uint32        `koanf:"breaker_min_requests"`
	BreakerFailureRatio float64       `koanf:"breaker_failure_ratio"`
}

// CompletionConfig holds completion evaluation settings.
type CompletionConfig struct {
	// DefaultThreshold is the watch percentage required when a module does
	// not declare its own.
	DefaultThreshold int           `koanf:"default_threshold"`
	RetryBackoff     time.Duration `koanf:"retry_backoff"`
}

// OutboxConfig configures the durable store of undelivered sync payloads.
type OutboxConfig struct {
	Enabled       bool          `koanf:"enabled"`
	Path          string        `koanf:"path"`
	MaxEntries    int           `koanf:"max_entries"`
	RetryInterval time.Duration `koanf:"retry_interval"`
	MaxRetries    int           `koanf:"max_retries"`
	SyncWrites    bool          `koanf:"sync_writes"`
}

// ClientConfig points the sync client at a ledger server.
type ClientConfig struct {
	LedgerURL      string        `koanf:"ledger_url"`
	Token          string        `koanf:"token"`
	LearnerID      string        `koanf:"learner_id"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// LoggingConfig mirrors logging.Config for koanf loading.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}
