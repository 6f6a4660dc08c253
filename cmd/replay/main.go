// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

// Command replay drives a simulated player through a scripted watch session
// against a ledger server and prints the session's final projection.
//
//	replay -script watch.json -course go-101 -module intro
//
// A script is JSON:
//
//	{"media_duration": "10m",
//	 "steps": [{"after": "0s", "action": "play"},
//	           {"after": "2m", "action": "seek", "position": "6m"},
//	           {"after": "30s", "action": "pause"}]}
//
// The ledger URL, token and learner ID come from the configuration
// (LEDGER_URL, LEDGER_TOKEN, LEARNER_ID). With OUTBOX_ENABLED=true,
// progress the ledger could not accept is stored locally and retried.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/Devanshjoshi2804/mentornet/internal/config"
	"github.com/Devanshjoshi2804/mentornet/internal/ledger"
	"github.com/Devanshjoshi2804/mentornet/internal/ledgerclient"
	"github.com/Devanshjoshi2804/mentornet/internal/logging"
	"github.com/Devanshjoshi2804/mentornet/internal/outbox"
	"github.com/Devanshjoshi2804/mentornet/internal/playback"
	"github.com/Devanshjoshi2804/mentornet/internal/session"
	"github.com/Devanshjoshi2804/mentornet/internal/supervisor"
	"github.com/Devanshjoshi2804/mentornet/internal/supervisor/services"
)

type options struct {
	scriptPath string
	courseID   string
	moduleID   string
	learnerID  string
	register   bool
	threshold  int
}

func main() {
	var opts options
	flag.StringVar(&opts.scriptPath, "script", "", "path to the JSON watch script")
	flag.StringVar(&opts.courseID, "course", "", "course ID")
	flag.StringVar(&opts.moduleID, "module", "", "module ID")
	flag.StringVar(&opts.learnerID, "learner", "", "learner ID (defaults to LEARNER_ID)")
	flag.BoolVar(&opts.register, "register", false, "register the module with the script's media duration first (admin token)")
	flag.IntVar(&opts.threshold, "threshold", 0, "completion threshold for -register (0 uses the server default)")
	flag.Parse()

	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	proj, err := run(ctx, cfg, opts)
	if proj.ID != "" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(proj); encErr != nil {
			logging.Error().Err(encErr).Msg("Failed to print projection")
		}
	}
	if err != nil {
		logging.Error().Err(err).Msg("Replay failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts options) (session.Projection, error) {
	if opts.learnerID == "" {
		opts.learnerID = cfg.Client.LearnerID
	}
	key := ledger.Key{LearnerID: opts.learnerID, CourseID: opts.courseID, ModuleID: opts.moduleID}
	if err := key.Validate(); err != nil {
		return session.Projection{}, err
	}

	data, err := os.ReadFile(opts.scriptPath)
	if err != nil {
		return session.Projection{}, fmt.Errorf("read script: %w", err)
	}
	script, err := playback.ParseScript(data)
	if err != nil {
		return session.Projection{}, err
	}

	client, err := ledgerclient.New(cfg.Client, cfg.Sync)
	if err != nil {
		return session.Projection{}, err
	}
	if opts.register {
		mod, err := client.RegisterModule(ctx, ledger.Module{
			CourseID:            opts.courseID,
			ModuleID:            opts.moduleID,
			Duration:            time.Duration(script.MediaDuration),
			CompletionThreshold: opts.threshold,
		})
		if err != nil {
			return session.Projection{}, fmt.Errorf("register module: %w", err)
		}
		logging.Info().
			Dur("duration", mod.Duration).
			Int("threshold", mod.CompletionThreshold).
			Msg("Module registered")
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{})
	if err != nil {
		return session.Projection{}, err
	}

	managerOpts := []session.Option{
		session.WithCatalog(client),
		session.WithOnCompleted(func(k ledger.Key) {
			logging.Info().Str("module_id", k.ModuleID).Msg("Module completed")
		}),
	}
	if cfg.Outbox.Enabled {
		ob, err := openOutbox(cfg)
		if err != nil {
			return session.Projection{}, err
		}
		defer func() {
			if err := ob.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing outbox")
			}
		}()
		tree.AddDataService(outbox.NewRetryLoop(ob, outbox.LedgerDeliverer{Ledger: client}))
		tree.AddDataService(services.NewPeriodicService("outbox-gc", 10*time.Minute,
			func(context.Context) error { return ob.RunGC() }))
		managerOpts = append(managerOpts, session.WithOutbox(ob))
	}

	manager := session.NewManager(client, session.Config{Sync: cfg.Sync, Completion: cfg.Completion}, managerOpts...)
	tree.AddMessagingService(manager)

	treeCtx, cancelTree := context.WithCancel(context.WithoutCancel(ctx))
	errCh := tree.ServeBackground(treeCtx)
	defer func() {
		cancelTree()
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			logging.Warn().Err(err).Msg("Supervisor shutdown error")
		}
	}()

	stopTimeout := cfg.Sync.FinalFlushTimeout + cfg.Sync.WriteTimeout
	return runScript(ctx, manager, key, script, stopTimeout)
}

func openOutbox(cfg *config.Config) (*outbox.Outbox, error) {
	oc := outbox.DefaultConfig()
	oc.Path = cfg.Outbox.Path
	oc.SyncWrites = cfg.Outbox.SyncWrites
	if cfg.Outbox.MaxEntries > 0 {
		oc.MaxEntries = cfg.Outbox.MaxEntries
	}
	if cfg.Outbox.RetryInterval > 0 {
		oc.RetryInterval = cfg.Outbox.RetryInterval
	}
	if cfg.Outbox.MaxRetries > 0 {
		oc.MaxRetries = cfg.Outbox.MaxRetries
	}
	ob, err := outbox.Open(oc)
	if err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}
	return ob, nil
}
