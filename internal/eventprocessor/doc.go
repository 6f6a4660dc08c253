// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

// Package eventprocessor carries committed ledger events over NATS
// JetStream with Watermill.
//
// The ledger service publishes each event to a subject derived from its
// type ("ledger.progress_updated", "ledger.module_completed",
// "ledger.course_completed"). A Forwarder subscribes to "ledger.>" and hands
// every event to a local sink, normally the websocket hub, so that every
// server instance attached to the stream pushes projections to its own
// connected clients.
//
//	ledger.Service ──Publish──▶ Publisher ──▶ JetStream stream "LEDGER"
//	                                               │
//	                                  Subscriber ◀─┘
//	                                       │
//	                              Forwarder ──▶ websocket.Hub
//
// The JetStream message ID is the ledger event ID, so a publish retried
// inside the duplicate window is stored once.
package eventprocessor
