// Playlytics - Embedded Playback Telemetry for Media Applications
// Copyright 2026 Playlytics contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playlytics/playlytics

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/playlytics/playlytics/internal/logging"
	"github.com/playlytics/playlytics/internal/telemetry"
)

// diagServer serves Prometheus metrics and a health endpoint as a
// supervised service. It translates http.Server's blocking ListenAndServe
// into suture's context-aware Serve.
type diagServer struct {
	server *http.Server
}

func newDiagServer(addr string, engine *telemetry.Engine) *diagServer {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", healthHandler(engine))

	return &diagServer{
		server: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// healthHandler reports the engine's observable state. Always 200: a
// disabled engine is healthy, just quiet.
func healthHandler(engine *telemetry.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		status := struct {
			Status      string    `json:"status"`
			Enabled     bool      `json:"enabled"`
			SessionID   string    `json:"session_id,omitempty"`
			BufferLen   int       `json:"buffer_len"`
			LastFlushed time.Time `json:"last_flushed"`
		}{
			Status:      "ok",
			Enabled:     engine.Enabled(),
			SessionID:   engine.SessionID(),
			BufferLen:   engine.BufferLen(),
			LastFlushed: engine.LastFlushed(),
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			logging.Error().Err(err).Msg("Failed to encode health response")
		}
	}
}

// Serve implements suture.Service.
func (d *diagServer) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := d.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("diagnostics server: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := d.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("diagnostics server shutdown: %w", err)
		}
		return ctx.Err()
	}
}

func (d *diagServer) String() string { return "diag-server" }
