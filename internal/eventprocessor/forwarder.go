// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package eventprocessor

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/Devanshjoshi2804/mentornet/internal/ledger"
	"github.com/Devanshjoshi2804/mentornet/internal/logging"
)

// MessageSource yields Watermill messages for a topic.
type MessageSource interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
}

// Forwarder hands every event from the stream to a local sink. Messages
// are always acked: the sink serves live projections, and a redelivered
// event would only reach clients that are already behind.
type Forwarder struct {
	source MessageSource
	sink   ledger.Publisher
	topic  string
	logger zerolog.Logger
}

// NewForwarder creates a forwarder reading all ledger subjects.
func NewForwarder(source MessageSource, sink ledger.Publisher) (*Forwarder, error) {
	if source == nil || sink == nil {
		return nil, fmt.Errorf("%w: forwarder needs a source and a sink", ErrInvalidConfig)
	}
	return &Forwarder{
		source: source,
		sink:   sink,
		topic:  AllSubjects,
		logger: logging.WithComponent("event-forwarder"),
	}, nil
}

// Serve implements suture.Service. It returns when ctx is canceled or the
// subscription ends.
func (f *Forwarder) Serve(ctx context.Context) error {
	messages, err := f.source.Subscribe(ctx, f.topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", f.topic, err)
	}
	f.logger.Info().Str("topic", f.topic).Str("sink", f.sink.Name()).Msg("Event forwarder started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("subscription %s closed", f.topic)
			}
			f.handle(ctx, msg)
		}
	}
}

func (f *Forwarder) handle(ctx context.Context, msg *message.Message) {
	defer msg.Ack()

	e, err := DecodeEvent(msg)
	if err != nil {
		f.logger.Warn().Err(err).Str("message_id", msg.UUID).Msg("Dropping undecodable event")
		return
	}
	if err := f.sink.Publish(ctx, e); err != nil {
		f.logger.Warn().Err(err).
			Str("event_id", e.ID).
			Str("event_type", string(e.Type)).
			Msg("Event sink refused event")
	}
}

// String implements fmt.Stringer for suture logging.
func (f *Forwarder) String() string { return "event-forwarder" }
