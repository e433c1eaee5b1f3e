// Playlytics - Embedded Playback Telemetry for Media Applications
// Copyright 2026 Playlytics contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playlytics/playlytics

// Package telemetry wires the taxonomy, buffer, session manager and
// transport into the engine the host application embeds. One engine
// instance owns the buffer and session state; any number of playback
// trackers funnel their events through Track.
//
// Nothing in this package propagates errors into the host UI: a failing
// collector degrades to "telemetry silently incomplete", never to a broken
// application.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/playlytics/playlytics/internal/buffer"
	"github.com/playlytics/playlytics/internal/config"
	"github.com/playlytics/playlytics/internal/event"
	"github.com/playlytics/playlytics/internal/logging"
	"github.com/playlytics/playlytics/internal/metrics"
	"github.com/playlytics/playlytics/internal/playback"
	"github.com/playlytics/playlytics/internal/session"
	"github.com/playlytics/playlytics/internal/transport"
)

// flushTimeout bounds detached async flushes so a hung collector cannot
// leak goroutines.
const flushTimeout = 30 * time.Second

// Engine is the telemetry orchestrator.
type Engine struct {
	cfg atomic.Pointer[config.Config]

	buf      *buffer.Buffer
	sessions *session.Manager
	sender   transport.Transport
	spool    *transport.Spool

	platform *event.PlatformContext

	// configMu serializes UpdateConfig and the session transitions it
	// forces, so enable/disable flips cannot interleave.
	configMu sync.Mutex

	// flushing is the single-flight latch: a flush already in flight must
	// not be re-entered by a second threshold trigger or timer tick.
	flushing atomic.Bool
	flushWg  sync.WaitGroup

	closed atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithPlatform attaches host environment context to enriched events.
// Only applied when collect_platform_info is enabled.
func WithPlatform(p *event.PlatformContext) Option {
	return func(e *Engine) { e.platform = p }
}

// WithSpool enables durable spooling of batches that cannot be delivered
// during shutdown. The engine does not own the spool's lifetime.
func WithSpool(s *transport.Spool) Option {
	return func(e *Engine) { e.spool = s }
}

// WithSessionManager injects the session manager, for tests that need a
// fake clock.
func WithSessionManager(m *session.Manager) Option {
	return func(e *Engine) { e.sessions = m }
}

// New creates an engine with a validated configuration and a transport.
// When the config starts enabled, a session begins immediately.
func New(cfg *config.Config, sender transport.Transport, opts ...Option) (*Engine, error) {
	if sender == nil {
		return nil, fmt.Errorf("transport required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		buf:      buffer.New(cfg.BatchSize, cfg.MaxBufferSize, cfg.Debug),
		sessions: session.New(),
		sender:   sender,
	}
	e.cfg.Store(cfg)
	for _, opt := range opts {
		opt(e)
	}

	if cfg.Enabled {
		e.StartSession()
	}
	return e, nil
}

// Config returns the current configuration snapshot.
func (e *Engine) Config() *config.Config {
	return e.cfg.Load()
}

// Enabled reports the master switch.
func (e *Engine) Enabled() bool {
	return e.cfg.Load().Enabled
}

// SessionID returns the active session identifier, empty when none.
func (e *Engine) SessionID() string {
	return e.sessions.SessionID()
}

// BufferLen returns the current buffer occupancy, for diagnostics.
func (e *Engine) BufferLen() int {
	return e.buf.Len()
}

// LastFlushed returns the time of the most recent successful drain.
func (e *Engine) LastFlushed() time.Time {
	return e.buf.LastFlushed()
}

// Track captures one event. It is a silent no-op when the engine is
// disabled, closed, or the category's collection toggle is off; invalid
// events are dropped (loudly only in debug). A batch-threshold append
// triggers an async single-flight flush.
func (e *Engine) Track(t event.Type, data event.Data) {
	if e.closed.Load() {
		return
	}
	cfg := e.cfg.Load()
	if !cfg.Enabled {
		return
	}
	if !categoryEnabled(cfg, t.Category()) {
		metrics.EventsDropped.WithLabelValues("disabled").Inc()
		return
	}
	e.capture(cfg, t, data)
}

// capture validates, enriches and appends, bypassing category toggles.
// Session boundary events use this path directly: they ride the master
// switch only, so a session.end always makes it into the buffer.
func (e *Engine) capture(cfg *config.Config, t event.Type, data event.Data) {
	ev := event.New(t, data)
	ev.SessionID = e.sessions.SessionID()
	if cfg.CollectPlatformInfo {
		ev.Platform = e.platform
	}

	if err := ev.Validate(); err != nil {
		metrics.EventsDropped.WithLabelValues("validation").Inc()
		if cfg.Debug {
			logging.Warn().Err(err).Str("event_type", string(t)).Msg("event rejected")
		}
		return
	}

	e.sessions.Touch()
	if e.buf.Append(ev) {
		e.asyncFlush()
	}
}

// categoryEnabled maps each taxonomy category to its collection toggle.
// Library and DSP interactions ride the playback toggle; session boundary
// events bypass toggles entirely (handled before this check).
func categoryEnabled(cfg *config.Config, c event.Category) bool {
	switch c {
	case event.CategorySession:
		return true
	case event.CategoryPlayback, event.CategoryLibrary, event.CategoryDSP:
		return cfg.CollectPlaybackData
	case event.CategoryUI:
		return cfg.CollectUIInteractions
	case event.CategorySearch:
		return cfg.CollectSearchData
	default:
		return false
	}
}

// asyncFlush runs a flush on a detached context so the caller's tick is
// never blocked on the network. Errors are already handled inside Flush.
func (e *Engine) asyncFlush() {
	e.flushWg.Add(1)
	go func() {
		defer e.flushWg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		_ = e.Flush(ctx)
	}()
}

// Flush drains the buffer and hands the snapshot to the transport. On
// failure the drained events are re-queued at the head of the buffer
// (bounded, oldest dropped) and no immediate retry is scheduled; the next
// timer tick or threshold trigger picks them up. Single-flight: a flush
// already in progress makes Flush a no-op.
func (e *Engine) Flush(ctx context.Context) error {
	if !e.flushing.CompareAndSwap(false, true) {
		return nil
	}
	defer e.flushing.Store(false)

	drained := e.buf.Drain()
	if len(drained) == 0 {
		return nil
	}

	// One correlation ID per flush attempt ties the engine's log lines to
	// the transport's.
	ctx = logging.ContextWithNewCorrelationID(ctx)
	logger := logging.Ctx(ctx)

	start := time.Now()
	if err := e.sender.Send(ctx, drained); err != nil {
		e.buf.Requeue(drained)
		logger.Debug().
			Err(err).
			Int("count", len(drained)).
			Msg("flush failed, events re-queued")
		return fmt.Errorf("flush %d events: %w", len(drained), err)
	}

	metrics.RecordFlush(time.Since(start), len(drained))
	logger.Debug().
		Int("count", len(drained)).
		Dur("elapsed", time.Since(start)).
		Msg("flush delivered")
	return nil
}

// StartSession ensures a session exists, emitting session.start when one
// actually begins. Idempotent while a session is active.
func (e *Engine) StartSession() string {
	cfg := e.cfg.Load()
	if !cfg.Enabled || e.closed.Load() {
		return ""
	}

	id, started := e.sessions.Start()
	if started {
		e.capture(cfg, event.TypeSessionStart, event.SessionData(&event.SessionEventData{
			Action: "start",
		}))
		logging.Info().Str("session_id", id).Msg("telemetry session started")
	}
	return id
}

// EndSession closes the active session, emitting session.end with the
// derived duration and active time. A no-op when no session is active.
func (e *Engine) EndSession() {
	s, ended := e.sessions.End()
	if !ended {
		return
	}

	// The end event must carry the id of the session it closes; capture
	// would read the already-cleared manager state.
	ev := event.New(event.TypeSessionEnd, event.SessionData(&event.SessionEventData{
		Action:     "end",
		DurationMS: s.Duration.Milliseconds(),
		ActiveMS:   s.ActiveTime.Milliseconds(),
	}))
	ev.SessionID = s.SessionID
	cfg := e.cfg.Load()
	if cfg.CollectPlatformInfo {
		ev.Platform = e.platform
	}
	if e.buf.Append(ev) {
		e.asyncFlush()
	}
	logging.Info().
		Str("session_id", s.SessionID).
		Dur("duration", s.Duration).
		Msg("telemetry session ended")
}

// Heartbeat emits session.heartbeat with the running duration while a
// session is active.
func (e *Engine) Heartbeat() {
	cfg := e.cfg.Load()
	if !cfg.Enabled || e.closed.Load() {
		return
	}
	s, ok := e.sessions.Heartbeat()
	if !ok {
		return
	}
	e.capture(cfg, event.TypeSessionHeartbeat, event.SessionData(&event.SessionEventData{
		Action:     "heartbeat",
		DurationMS: s.Duration.Milliseconds(),
		ActiveMS:   s.ActiveTime.Milliseconds(),
	}))
}

// UpdateConfig applies a shallow merge atomically. Disabling the engine
// force-closes the active session (emitting session.end) before the flag
// takes effect; enabling it starts a fresh session. Invalid merges are
// rejected without touching the current config.
func (e *Engine) UpdateConfig(p config.Partial) error {
	e.configMu.Lock()
	defer e.configMu.Unlock()

	old := e.cfg.Load()
	merged := old.Merge(p)
	if err := merged.Validate(); err != nil {
		return err
	}

	if old.Enabled && !merged.Enabled {
		// Close out while still enabled so the end event is captured.
		e.EndSession()
		e.asyncFlush()
	}

	e.cfg.Store(merged)
	e.buf.Resize(merged.BatchSize, merged.MaxBufferSize)
	logging.SetLevelString(merged.Log.Level)

	if !old.Enabled && merged.Enabled {
		e.StartSession()
	}
	return nil
}

// TrackOptions carries the static stream attributes for a player surface.
type TrackOptions struct {
	Codec   string
	Bitrate int
	Source  string
}

// NewPlaybackTracker creates a lifecycle tracker whose inferred events
// funnel through Track, using the engine's current playback heuristics.
func (e *Engine) NewPlaybackTracker(opts TrackOptions) *playback.Tracker {
	pcfg := e.cfg.Load().Playback
	return playback.NewTracker(playback.Options{
		Emit: func(t event.Type, data *event.PlaybackEventData) {
			e.Track(t, event.PlaybackData(data))
		},
		ProgressThreshold: pcfg.ProgressThreshold,
		NearEndEpsilon:    pcfg.NearEndEpsilon,
		FreshStartEpsilon: pcfg.FreshStartEpsilon,
		Codec:             opts.Codec,
		Bitrate:           opts.Bitrate,
		Source:            opts.Source,
	})
}

// ReplaySpool re-delivers previously spooled batches and prunes entries
// older than the retention window. Called once at startup.
func (e *Engine) ReplaySpool(ctx context.Context) {
	if e.spool == nil {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -e.cfg.Load().DataRetentionDays)
	if _, err := e.spool.DeleteExpired(cutoff); err != nil {
		logging.Warn().Err(err).Msg("spool expiry failed")
	}
	if _, err := e.spool.Replay(ctx, e.sender); err != nil {
		logging.Debug().Err(err).Msg("spool replay incomplete")
	}
}

// Serve runs the flush-interval and heartbeat tickers until the context is
// canceled, then closes the engine. Implements suture.Service.
func (e *Engine) Serve(ctx context.Context) error {
	cfg := e.cfg.Load()

	e.ReplaySpool(ctx)

	flushTicker := time.NewTicker(cfg.FlushInterval)
	defer flushTicker.Stop()
	heartbeatTicker := time.NewTicker(cfg.HeartbeatInterval)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.Close()
			return ctx.Err()
		case <-flushTicker.C:
			// Timer flushes get a fresh timeout; the parent context only
			// controls shutdown.
			flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			_ = e.Flush(flushCtx)
			cancel()
		case <-heartbeatTicker.C:
			e.Heartbeat()
		}
	}
}

// Close ends the session, waits for in-flight flushes and attempts a final
// delivery. Undeliverable events go to the spool when one is configured,
// otherwise they are dropped with a log line. Idempotent.
func (e *Engine) Close() {
	if e.closed.Swap(true) {
		return
	}

	e.EndSession()
	e.flushWg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	drained := e.buf.Drain()
	if len(drained) == 0 {
		return
	}
	start := time.Now()
	if err := e.sender.Send(ctx, drained); err == nil {
		metrics.RecordFlush(time.Since(start), len(drained))
		return
	}

	if e.spool != nil {
		if err := e.spool.Save(drained); err == nil {
			logging.Info().Int("count", len(drained)).Msg("undelivered events spooled at shutdown")
			return
		}
	}
	metrics.EventsDropped.WithLabelValues("shutdown").Add(float64(len(drained)))
	logging.Warn().Int("count", len(drained)).Msg("undelivered events dropped at shutdown")
}
