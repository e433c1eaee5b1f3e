// Playlytics - Embedded Playback Telemetry for Media Applications
// Copyright 2026 Playlytics contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playlytics/playlytics

// Package main is the playerd daemon, a reference host for the Playlytics
// engine. It stands in for a media player application: it loads the layered
// configuration, selects a transport (HTTP collector or NATS broker), runs
// the engine under a supervisor, drives a simulated playback surface through
// the lifecycle tracker, and serves Prometheus metrics.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (PLAYLYTICS_ prefix, __ for nesting)
//   - Config file (playlytics.yaml, or PLAYLYTICS_CONFIG)
//   - Built-in defaults
//
// HTTP collector:
//
//	export PLAYLYTICS_API_ENDPOINT=https://collector.example.com/v1/events
//	./playerd
//
// NATS broker:
//
//	export PLAYLYTICS_TRANSPORT__KIND=nats
//	export PLAYLYTICS_TRANSPORT__NATS_URL=nats://localhost:4222
//	./playerd
//
// Durable spooling of undeliverable batches:
//
//	export PLAYLYTICS_TRANSPORT__SPOOL_DIR=/var/lib/playlytics/spool
//	./playerd
//
// # Signal Handling
//
// playerd shuts down gracefully on SIGINT and SIGTERM: the session is
// closed, in-flight flushes complete, and any undeliverable batch goes to
// the spool when one is configured.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	natsgo "github.com/nats-io/nats.go"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/playlytics/playlytics/internal/config"
	"github.com/playlytics/playlytics/internal/event"
	"github.com/playlytics/playlytics/internal/logging"
	"github.com/playlytics/playlytics/internal/telemetry"
	"github.com/playlytics/playlytics/internal/transport"
)

const (
	appVersion      = "1.2.0"
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Config errors land on the default logger; the configured one is
		// not available yet.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Timestamp: true,
	})

	logging.Info().
		Str("version", appVersion).
		Str("transport", cfg.Transport.Kind).
		Bool("enabled", cfg.Enabled).
		Msg("Starting playerd")

	sender, cleanup, err := buildTransport(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize transport")
	}
	defer cleanup()

	opts := []telemetry.Option{
		telemetry.WithPlatform(detectPlatform()),
	}

	var spool *transport.Spool
	if cfg.Transport.SpoolDir != "" {
		spool, err = transport.OpenSpool(cfg.Transport.SpoolDir)
		if err != nil {
			logging.Fatal().Err(err).Str("dir", cfg.Transport.SpoolDir).Msg("Failed to open spool")
		}
		defer func() {
			if err := spool.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing spool")
			}
		}()
		opts = append(opts, telemetry.WithSpool(spool))
		logging.Info().Str("dir", cfg.Transport.SpoolDir).Msg("Durable spool enabled")
	}

	engine, err := telemetry.New(cfg, sender, opts...)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create telemetry engine")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Supervisor with zerolog-backed event logging via the slog bridge.
	handler := &sutureslog.Handler{Logger: logging.NewSlogLogger()}
	root := suture.New("playerd", suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		Timeout:          shutdownTimeout,
	})

	root.Add(engine)
	root.Add(newDemoPlayer(engine))
	if cfg.MetricsAddr != "" {
		root.Add(newDiagServer(cfg.MetricsAddr, engine))
		logging.Info().Str("addr", cfg.MetricsAddr).Msg("Diagnostics server enabled")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	err = <-root.ServeBackground(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor error")
	}

	unstopped, _ := root.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("playerd stopped")
}

// buildTransport selects the delivery collaborator from the configuration.
// The returned cleanup releases transport resources after the engine has
// finished its final flush.
func buildTransport(cfg *config.Config) (transport.Transport, func(), error) {
	switch cfg.Transport.Kind {
	case "http":
		if cfg.APIEndpoint == "" {
			return nil, nil, fmt.Errorf("http transport requires api_endpoint")
		}
		return transport.NewHTTP(cfg.APIEndpoint, cfg.Transport), func() {}, nil

	case "nats":
		wmLogger := watermill.NewStdLogger(cfg.Debug, false)
		pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
			URL: cfg.Transport.NATSURL,
			NatsOptions: []natsgo.Option{
				natsgo.RetryOnFailedConnect(true),
				natsgo.MaxReconnects(-1),
				natsgo.ReconnectWait(2 * time.Second),
				natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
					if err != nil {
						logging.Warn().Err(err).Msg("NATS disconnected")
					}
				}),
				natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
					logging.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
				}),
			},
			Marshaler: &wmNats.NATSMarshaler{},
			JetStream: wmNats.JetStreamConfig{Disabled: true},
		}, wmLogger)
		if err != nil {
			return nil, nil, fmt.Errorf("create nats publisher: %w", err)
		}
		cleanup := func() {
			if err := pub.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing NATS publisher")
			}
		}
		return transport.NewPublisher(pub), cleanup, nil

	default:
		return nil, nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}
}

// detectPlatform builds the host environment context attached to events
// when collect_platform_info is enabled.
func detectPlatform() *event.PlatformContext {
	return &event.PlatformContext{
		Platform:   "desktop",
		OS:         runtime.GOOS,
		AppVersion: appVersion,
	}
}
