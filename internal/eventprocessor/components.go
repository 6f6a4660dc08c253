// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package eventprocessor

import (
	"context"
	"errors"
	"fmt"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Devanshjoshi2804/mentornet/internal/logging"
)

// Components is the running event pipeline: an optional embedded server,
// the stream, one publisher and one subscriber.
type Components struct {
	Server     *EmbeddedServer
	Publisher  *Publisher
	Subscriber *Subscriber

	conn   *natsgo.Conn
	stream *StreamInitializer
}

// Start brings the pipeline up in dependency order and tears down whatever
// was started if a later step fails.
func Start(ctx context.Context, cfg Config) (_ *Components, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Components{}
	defer func() {
		if err != nil {
			c.Shutdown(context.Background())
		}
	}()

	if cfg.Embedded {
		c.Server, err = NewEmbeddedServer(cfg.Server)
		if err != nil {
			return nil, err
		}
		cfg.Client.URL = c.Server.ClientURL()
		logging.Info().Str("url", cfg.Client.URL).Msg("Embedded NATS server started")
	}

	c.conn, err = natsgo.Connect(cfg.Client.URL, natsgo.Name("mentornet-stream-init"))
	if err != nil {
		return nil, fmt.Errorf("connect NATS: %w", err)
	}
	js, err := jetstream.New(c.conn)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	c.stream, err = NewStreamInitializer(js, cfg.Stream)
	if err != nil {
		return nil, err
	}
	if _, err = c.stream.EnsureStream(ctx); err != nil {
		return nil, err
	}

	logger := NewZerologAdapter()
	if c.Publisher, err = NewPublisher(cfg.Client, logger); err != nil {
		return nil, err
	}
	if c.Subscriber, err = NewSubscriber(cfg.Client, "", logger); err != nil {
		return nil, err
	}
	return c, nil
}

// Check reports whether the stream is reachable.
func (c *Components) Check(ctx context.Context) error {
	if c.stream == nil {
		return errors.New("stream not initialized")
	}
	return c.stream.Check(ctx)
}

// Shutdown closes components in reverse start order.
func (c *Components) Shutdown(ctx context.Context) {
	if c.Subscriber != nil {
		if err := c.Subscriber.Close(); err != nil {
			logging.Warn().Err(err).Msg("Closing NATS subscriber")
		}
	}
	if c.Publisher != nil {
		if err := c.Publisher.Close(); err != nil {
			logging.Warn().Err(err).Msg("Closing NATS publisher")
		}
	}
	if c.conn != nil {
		c.conn.Close()
	}
	if c.Server != nil {
		if err := c.Server.Shutdown(ctx); err != nil {
			logging.Warn().Err(err).Msg("Stopping embedded NATS server")
		}
	}
}
