// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

/*
Package services adapts components whose lifecycle is not already
context-driven to suture's Serve(ctx) pattern.

HTTPServerService:
  - wraps *http.Server (ListenAndServe / Shutdown)
  - http.ErrServerClosed on shutdown is not a failure

EventBusService:
  - owns an already started event bus (embedded NATS, publisher, subscriber)
  - health-checks it while running and shuts it down when the tree stops

Components with a native Serve(ctx) method (websocket.Hub,
eventprocessor.Forwarder, outbox.RetryLoop, session.Manager) are added to the
tree directly.
*/
package services
