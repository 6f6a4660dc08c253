// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

/*
Package main is the entry point for the Mentornet ledger server.

The server owns the authoritative progress records: one per learner and
module, holding the union of watched intervals, the seek count, the watch
percentage and the completion flag. Playback clients write to it over the
HTTP API; completions and progress updates fan out to websocket dashboards
and, optionally, a NATS JetStream stream.

# Application Architecture

	RootSupervisor ("mentornet")
	├── DataSupervisor ("data-layer")
	│   └── Idempotency cleanup (memory backend)
	├── MessagingSupervisor ("messaging-layer")
	│   ├── WebSocket Hub (live progress and completion events)
	│   ├── Event bus health (NATS, optional)
	│   └── Event forwarder (NATS to websocket, optional)
	└── APISupervisor ("api-layer")
	    └── HTTP Server

Component initialization order:

 1. Configuration: Koanf v2 with environment variables and config file
 2. Logging: zerolog with JSON or console output
 3. Store: memory, DuckDB or PostgreSQL
 4. Idempotency store: memory or Redis
 5. Event pipeline: embedded or external NATS JetStream (optional)
 6. Ledger service
 7. WebSocket hub and HTTP API
 8. Supervisor tree

# Configuration

Common environment variables:

	LEDGER_STORE=duckdb              # memory, duckdb, postgres
	DUCKDB_PATH=/data/ledger.duckdb
	POSTGRES_DSN=postgres://...
	IDEMPOTENCY_BACKEND=memory       # memory, redis
	REDIS_URL=redis://localhost:6379/0
	NATS_ENABLED=true
	JWT_SECRET=...
	HTTP_PORT=8420

# Signal Handling

SIGINT and SIGTERM cancel the supervisor tree. The HTTP server drains
in-flight requests, the event pipeline is shut down and the store is closed.
*/
package main
