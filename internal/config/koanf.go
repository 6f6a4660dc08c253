// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the config file locations searched in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/mentornet/config.yaml",
	"/etc/mentornet/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8420,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Environment:     "development",
		},
		Ledger: LedgerConfig{
			Store:      "duckdb",
			DuckDBPath: "/data/ledger.duckdb",
			MaxConns:   10,
		},
		Idempotency: IdempotencyConfig{
			Backend: "memory",
			TTL:     24 * time.Hour,
		},
		NATS: NATSConfig{
			Enabled:          false,
			EmbeddedServer:   true,
			URL:              "nats://127.0.0.1:4222",
			StoreDir:         "/data/nats/jetstream",
			MaxMemory:        256 << 20,
			MaxStore:         1 << 30,
			StreamName:       "LEDGER_EVENTS",
			StreamRetention:  7 * 24 * time.Hour,
			SubscribersCount: 1,
		},
		Security: SecurityConfig{
			TokenTTL:        24 * time.Hour,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   600,
			RateLimitWindow: time.Minute,
		},
		Sync: SyncConfig{
			SampleInterval:      time.Second,
			SkipSlack:           time.Second,
			MaxCatchUp:          4 * time.Second,
			ThrottleGate:        time.Second,
			RetryBackoff:        500 * time.Millisecond,
			MaxBackoff:          30 * time.Second,
			WriteTimeout:        5 * time.Second,
			FinalFlushTimeout:   3 * time.Second,
			MaxPendingIntervals: 256,
			RateLimit:           10,
			RateBurst:           20,
			BreakerMaxRequests:  3,
			BreakerInterval:     time.Minute,
			BreakerTimeout:      30 * time.Second,
			BreakerMinRequests:  10,
			BreakerFailureRatio: 0.6,
		},
		Completion: CompletionConfig{
			DefaultThreshold: 90,
			RetryBackoff:     2 * time.Second,
		},
		Outbox: OutboxConfig{
			Enabled:       false,
			Path:          "/data/outbox",
			MaxEntries:    1024,
			RetryInterval: 30 * time.Second,
			MaxRetries:    100,
			SyncWrites:    true,
		},
		Client: ClientConfig{
			LedgerURL:      "http://127.0.0.1:8420",
			RequestTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadWithKoanf loads configuration with layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables
//
// The result is validated before it is returned.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"security.cors_origins",
}

// processSliceFields splits comma-separated env values for slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to koanf paths.
// Unmapped variables are ignored.
var envMappings = map[string]string{
	"http_host":          "server.host",
	"http_port":          "server.port",
	"http_read_timeout":  "server.read_timeout",
	"http_write_timeout": "server.write_timeout",
	"shutdown_timeout":   "server.shutdown_timeout",
	"environment":        "server.environment",

	"ledger_store":       "ledger.store",
	"duckdb_path":        "ledger.duckdb_path",
	"postgres_dsn":       "ledger.postgres_dsn",
	"postgres_max_conns": "ledger.max_conns",

	"idempotency_backend": "idempotency.backend",
	"redis_url":           "idempotency.redis_url",
	"idempotency_ttl":     "idempotency.ttl",

	"nats_enabled":           "nats.enabled",
	"nats_embedded":          "nats.embedded_server",
	"nats_url":               "nats.url",
	"nats_store_dir":         "nats.store_dir",
	"nats_max_memory":        "nats.max_memory",
	"nats_max_store":         "nats.max_store",
	"nats_stream_name":       "nats.stream_name",
	"nats_stream_retention":  "nats.stream_retention",
	"nats_subscribers_count": "nats.subscribers_count",

	"jwt_secret":          "security.jwt_secret",
	"token_ttl":           "security.token_ttl",
	"cors_origins":        "security.cors_origins",
	"rate_limit_requests": "security.rate_limit_reqs",
	"rate_limit_window":   "security.rate_limit_window",
	"disable_rate_limit":  "security.rate_limit_disabled",

	"sync_sample_interval":       "sync.sample_interval",
	"sync_skip_slack":            "sync.skip_slack",
	"sync_max_catch_up":          "sync.max_catch_up",
	"sync_throttle_gate":         "sync.throttle_gate",
	"sync_retry_backoff":         "sync.retry_backoff",
	"sync_max_backoff":           "sync.max_backoff",
	"sync_write_timeout":         "sync.write_timeout",
	"sync_final_flush_timeout":   "sync.final_flush_timeout",
	"sync_max_pending_intervals": "sync.max_pending_intervals",
	"sync_rate_limit":            "sync.rate_limit",
	"sync_rate_burst":            "sync.rate_burst",
	"sync_breaker_timeout":       "sync.breaker_timeout",
	"sync_breaker_failure_ratio": "sync.breaker_failure_ratio",

	"completion_threshold":     "completion.default_threshold",
	"completion_retry_backoff": "completion.retry_backoff",

	"outbox_enabled":        "outbox.enabled",
	"outbox_path":           "outbox.path",
	"outbox_max_entries":    "outbox.max_entries",
	"outbox_retry_interval": "outbox.retry_interval",
	"outbox_max_retries":    "outbox.max_retries",
	"outbox_sync_writes":    "outbox.sync_writes",

	"ledger_url":             "client.ledger_url",
	"ledger_token":           "client.token",
	"learner_id":             "client.learner_id",
	"ledger_request_timeout": "client.request_timeout",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
