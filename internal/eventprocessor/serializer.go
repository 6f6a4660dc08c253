// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package eventprocessor

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"

	"github.com/Devanshjoshi2804/mentornet/internal/ledger"
)

// Metadata keys set on every event message.
const (
	MetadataEventType = "event_type"
	MetadataLearnerID = "learner_id"
	MetadataCourseID  = "course_id"
)

// EncodeEvent builds the Watermill message for e. The message UUID and the
// JetStream message ID are the event ID.
func EncodeEvent(e ledger.Event) (*message.Message, error) {
	if e.ID == "" {
		return nil, fmt.Errorf("event has no id")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	msg := message.NewMessage(e.ID, data)
	msg.Metadata.Set(natsgo.MsgIdHdr, e.ID)
	msg.Metadata.Set(MetadataEventType, string(e.Type))
	msg.Metadata.Set(MetadataLearnerID, e.LearnerID)
	msg.Metadata.Set(MetadataCourseID, e.CourseID)
	return msg, nil
}

// DecodeEvent parses a message produced by EncodeEvent.
func DecodeEvent(msg *message.Message) (ledger.Event, error) {
	var e ledger.Event
	if err := json.Unmarshal(msg.Payload, &e); err != nil {
		return ledger.Event{}, fmt.Errorf("unmarshal event %s: %w", msg.UUID, err)
	}
	if e.Type == "" || e.LearnerID == "" {
		return ledger.Event{}, fmt.Errorf("event %s is missing type or learner", msg.UUID)
	}
	return e, nil
}
