// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package eventprocessor

import (
	"fmt"
	"time"

	"github.com/Devanshjoshi2804/mentornet/internal/config"
)

// SubjectPrefix is the subject namespace of ledger events.
const SubjectPrefix = "ledger."

// AllSubjects matches every ledger event subject.
const AllSubjects = SubjectPrefix + ">"

// ServerConfig holds embedded NATS server settings.
type ServerConfig struct {
	Host      string
	Port      int
	StoreDir  string
	MaxMemory int64
	MaxStore  int64
}

// StreamConfig holds JetStream stream settings.
type StreamConfig struct {
	Name            string
	Subjects        []string
	MaxAge          time.Duration
	MaxBytes        int64
	DuplicateWindow time.Duration
}

// ClientConfig holds the publisher and subscriber connection settings.
type ClientConfig struct {
	URL              string
	MaxReconnects    int
	ReconnectWait    time.Duration
	ReconnectBuffer  int
	SubscribersCount int
	AckWaitTimeout   time.Duration
	CloseTimeout     time.Duration
}

// Config bundles everything needed to run the event pipeline.
type Config struct {
	Embedded bool
	Server   ServerConfig
	Stream   StreamConfig
	Client   ClientConfig
}

// DefaultConfig returns settings for a single-node embedded deployment.
func DefaultConfig() Config {
	return Config{
		Embedded: true,
		Server: ServerConfig{
			Host:      "127.0.0.1",
			Port:      4222,
			StoreDir:  "/data/nats/jetstream",
			MaxMemory: 64 << 20,
			MaxStore:  1 << 30,
		},
		Stream: StreamConfig{
			Name:            "LEDGER",
			Subjects:        []string{AllSubjects},
			MaxAge:          7 * 24 * time.Hour,
			DuplicateWindow: 2 * time.Minute,
		},
		Client: ClientConfig{
			URL:              "nats://127.0.0.1:4222",
			MaxReconnects:    -1,
			ReconnectWait:    2 * time.Second,
			ReconnectBuffer:  8 << 20,
			SubscribersCount: 1,
			AckWaitTimeout:   30 * time.Second,
			CloseTimeout:     10 * time.Second,
		},
	}
}

// ConfigFromNATS maps the application NATS section onto Config.
func ConfigFromNATS(c config.NATSConfig) Config {
	cfg := DefaultConfig()
	cfg.Embedded = c.EmbeddedServer
	if c.StoreDir != "" {
		cfg.Server.StoreDir = c.StoreDir
	}
	if c.MaxMemory > 0 {
		cfg.Server.MaxMemory = c.MaxMemory
	}
	if c.MaxStore > 0 {
		cfg.Server.MaxStore = c.MaxStore
	}
	if c.StreamName != "" {
		cfg.Stream.Name = c.StreamName
	}
	if c.StreamRetention > 0 {
		cfg.Stream.MaxAge = c.StreamRetention
	}
	if c.URL != "" {
		cfg.Client.URL = c.URL
	}
	if c.SubscribersCount > 0 {
		cfg.Client.SubscribersCount = c.SubscribersCount
	}
	return cfg
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Stream.Name == "" {
		return fmt.Errorf("%w: stream name is required", ErrInvalidConfig)
	}
	if len(c.Stream.Subjects) == 0 {
		return fmt.Errorf("%w: stream needs at least one subject", ErrInvalidConfig)
	}
	if c.Client.URL == "" && !c.Embedded {
		return fmt.Errorf("%w: url is required without the embedded server", ErrInvalidConfig)
	}
	if c.Embedded && c.Server.StoreDir == "" {
		return fmt.Errorf("%w: store dir is required for the embedded server", ErrInvalidConfig)
	}
	if c.Client.SubscribersCount < 1 {
		return fmt.Errorf("%w: subscribers count must be positive", ErrInvalidConfig)
	}
	return nil
}
