// Playlytics - Embedded Playback Telemetry for Media Applications
// Copyright 2026 Playlytics contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playlytics/playlytics

// Package transport implements the delivery collaborators that receive
// flushed event batches from the engine. The engine treats all of them
// uniformly: an error from Send means the whole batch is re-queued.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/playlytics/playlytics/internal/config"
	"github.com/playlytics/playlytics/internal/event"
	"github.com/playlytics/playlytics/internal/logging"
	"github.com/playlytics/playlytics/internal/metrics"
)

// Transport delivers an ordered batch of events. Send must either deliver
// the whole batch or return an error; partial delivery is not modeled.
type Transport interface {
	Send(ctx context.Context, events []*event.Event) error
}

// tokenTTL bounds the lifetime of a minted batch bearer token.
const tokenTTL = time.Minute

// HTTPTransport posts batches as a JSON array to the configured endpoint.
// Failures trip a circuit breaker so a dead collector doesn't get hammered
// on every flush tick, and a client-side rate limiter caps attempt volume.
type HTTPTransport struct {
	endpoint string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker[any]
	limiter  *rate.Limiter

	jwtSecret string
	deviceID  string

	now func() time.Time
}

// NewHTTP creates an HTTP transport for the given endpoint.
func NewHTTP(endpoint string, cfg config.TransportConfig) *HTTPTransport {
	settings := gobreaker.Settings{
		Name:    "telemetry-http",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("transport circuit breaker state change")
		},
	}

	return &HTTPTransport{
		endpoint:  endpoint,
		client:    &http.Client{Timeout: cfg.Timeout},
		breaker:   gobreaker.NewCircuitBreaker[any](settings),
		limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		jwtSecret: cfg.JWTSecret,
		deviceID:  cfg.DeviceID,
		now:       time.Now,
	}
}

// Send posts the batch. The engine relies on the error to re-queue; no
// retry happens here.
func (t *HTTPTransport) Send(ctx context.Context, events []*event.Event) error {
	if len(events) == 0 {
		return nil
	}
	if !t.limiter.Allow() {
		metrics.FlushErrors.WithLabelValues("http").Inc()
		return fmt.Errorf("send batch: rate limited")
	}

	body, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	_, err = t.breaker.Execute(func() (any, error) {
		return nil, t.post(ctx, body, len(events))
	})
	if err != nil {
		metrics.FlushErrors.WithLabelValues("http").Inc()
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// post performs one delivery attempt.
func (t *HTTPTransport) post(ctx context.Context, body []byte, count int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id := logging.CorrelationIDFromContext(ctx); id != "" {
		req.Header.Set("X-Correlation-ID", id)
	}

	if t.jwtSecret != "" {
		token, err := t.mintToken()
		if err != nil {
			return fmt.Errorf("mint token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("collector returned %s", resp.Status)
	}

	log := logging.Ctx(ctx)
	log.Debug().
		Int("count", count).
		Str("endpoint", t.endpoint).
		Msg("batch delivered")
	return nil
}

// mintToken signs a short-lived HS256 bearer token identifying the device.
func (t *HTTPTransport) mintToken() (string, error) {
	now := t.now()
	claims := jwt.RegisteredClaims{
		Subject:   t.deviceID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(t.jwtSecret))
}

// BreakerState exposes the circuit breaker state for diagnostics.
func (t *HTTPTransport) BreakerState() string {
	return t.breaker.State().String()
}
