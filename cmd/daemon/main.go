// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// camcored is the capture core daemon: it probes the configured capture
// inputs, keeps every enabled camera publishing to the media broker,
// coordinates recording sessions and serves the control API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/camcore/internal/api"
	"github.com/ManuGH/camcore/internal/broker"
	"github.com/ManuGH/camcore/internal/config"
	"github.com/ManuGH/camcore/internal/daemon"
	"github.com/ManuGH/camcore/internal/events"
	"github.com/ManuGH/camcore/internal/ingest"
	xlog "github.com/ManuGH/camcore/internal/log"
	"github.com/ManuGH/camcore/internal/media"
	"github.com/ManuGH/camcore/internal/probe"
	"github.com/ManuGH/camcore/internal/recorder"
	"github.com/ManuGH/camcore/internal/recorder/store"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Printf("camcored %s (commit: %s, built: %s)\n", version, commit, buildDate)
		return
	}

	xlog.Configure(xlog.Config{Service: "camcore"})
	logger := xlog.WithComponent("main")

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Fatal().Err(err).Msg("configuration invalid")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error().Err(err).Msg("daemon exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.AppConfig) error {
	logger := xlog.WithComponent("main")

	bus := events.New(cfg.Events.ReplaySize,
		events.WithHeartbeatInterval(cfg.Events.HeartbeatInterval))

	brokerClient := broker.New(cfg.Broker)
	prober := probe.New(cfg.Ingest.ProbeTimeout)
	supervisor := ingest.New(cfg.Ingest, cfg.Cameras, prober, media.NewGraph, brokerClient, bus)

	var opts []recorder.Option
	if cfg.Recorder.JournalPath != "" {
		journal, err := store.Open(cfg.Recorder.JournalPath)
		if err != nil {
			return fmt.Errorf("open session journal: %w", err)
		}
		defer journal.Close()
		opts = append(opts, recorder.WithJournal(journal))
	}
	rec := recorder.New(cfg.Recorder, cfg.Ingest.RecordingVariant,
		supervisor, media.NewGraph, brokerClient, bus, opts...)
	supervisor.OnRecordingLost(rec.RecordingLost)

	server := api.New(supervisor, rec, bus)
	mgr := daemon.NewManager(cfg.Server, server.Router(), promhttp.Handler())

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	go supervisor.RunHealthLoop(workerCtx)
	go rec.Run(workerCtx)
	supervisor.StartAll(ctx)

	mgr.RegisterShutdownHook("event-bus", func(context.Context) error {
		bus.Close()
		return nil
	})
	mgr.RegisterShutdownHook("ingest", func(shutdownCtx context.Context) error {
		supervisor.Close(shutdownCtx)
		return nil
	})
	mgr.RegisterShutdownHook("recorder", func(shutdownCtx context.Context) error {
		_, err := rec.StopSession(shutdownCtx, "")
		return err
	})
	mgr.RegisterShutdownHook("workers", func(context.Context) error {
		cancelWorkers()
		return nil
	})

	logger.Info().
		Int("cameras", len(cfg.Cameras)).
		Str("variant", cfg.Ingest.RecordingVariant).
		Str(xlog.FieldBrokerURL, cfg.Broker.RTSPBase).
		Msg("capture core starting")
	return mgr.Start(ctx)
}
