// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package main

import (
	"context"
	"fmt"

	"github.com/Devanshjoshi2804/mentornet/internal/config"
	"github.com/Devanshjoshi2804/mentornet/internal/eventprocessor"
	"github.com/Devanshjoshi2804/mentornet/internal/ledger"
	"github.com/Devanshjoshi2804/mentornet/internal/logging"
	"github.com/Devanshjoshi2804/mentornet/internal/supervisor"
	"github.com/Devanshjoshi2804/mentornet/internal/supervisor/services"
)

// initEvents decides where ledger events go. Without NATS the ledger
// publishes straight to the websocket hub. With NATS it publishes to
// JetStream and a forwarder relays the stream to the hub, so every server
// instance sees every instance's events.
//
// The pipeline is shut down by its supervised service when the tree stops.
func initEvents(ctx context.Context, cfg config.NATSConfig, hub ledger.Publisher, tree *supervisor.SupervisorTree) (ledger.Publisher, error) {
	if !cfg.Enabled {
		logging.Info().Msg("NATS disabled, ledger events go to websocket clients only")
		return hub, nil
	}

	components, err := eventprocessor.Start(ctx, eventprocessor.ConfigFromNATS(cfg))
	if err != nil {
		return nil, fmt.Errorf("start event pipeline: %w", err)
	}

	forwarder, err := eventprocessor.NewForwarder(components.Subscriber, hub)
	if err != nil {
		components.Shutdown(context.Background())
		return nil, err
	}

	tree.AddMessagingService(services.NewEventBusService(components, 0, 0))
	tree.AddMessagingService(forwarder)

	logging.Info().
		Bool("embedded", cfg.EmbeddedServer).
		Str("stream", cfg.StreamName).
		Msg("Ledger events published to NATS JetStream")
	return components.Publisher, nil
}
