// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

/*
Package supervisor runs the long-lived services of a mentornet process under
a suture v4 tree.

	RootSupervisor ("mentornet")
	├── DataSupervisor ("data-layer")
	│   └── outbox.RetryLoop (client processes with an outbox)
	├── MessagingSupervisor ("messaging-layer")
	│   ├── websocket.Hub
	│   ├── services.EventBusService (NATS enabled)
	│   ├── eventprocessor.Forwarder (NATS enabled)
	│   └── session.Manager (client processes)
	└── APISupervisor ("api-layer")
	    └── services.HTTPServerService

Each layer restarts its own services with exponential backoff; a failure in
the messaging layer never takes the HTTP API down. Lifecycle events (start,
failure, restart, backoff) are logged through sutureslog into the process's
slog logger, which internal/logging bridges to zerolog.

Usage:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
	    return err
	}
	tree.AddMessagingService(hub)
	tree.AddAPIService(services.NewHTTPServerService(srv, 10*time.Second))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err = tree.Serve(ctx)

Services that do not stop within TreeConfig.ShutdownTimeout are listed by
UnstoppedServiceReport.
*/
package supervisor
