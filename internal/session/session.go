// Playlytics - Embedded Playback Telemetry for Media Applications
// Copyright 2026 Playlytics contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playlytics/playlytics

// Package session owns the session identifier and its lifecycle boundary.
// The manager is a two-state machine (inactive, active) whose transitions
// are idempotent: double Start or double End are no-ops, never errors,
// since the caller's intent is still satisfied either way.
//
// The manager only derives facts (id, duration, active time); emitting the
// matching session.* events is the engine's job. That split keeps the state
// machine clock-injectable and testable in isolation.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/playlytics/playlytics/internal/metrics"
)

// DefaultIdleThreshold is the maximum gap between activity touches that
// still counts toward active time.
const DefaultIdleThreshold = time.Minute

// Summary describes a session at a boundary (end or heartbeat).
type Summary struct {
	SessionID  string
	StartedAt  time.Time
	Duration   time.Duration
	ActiveTime time.Duration
}

// Manager is the session state machine. The zero value is not usable;
// construct with New.
type Manager struct {
	mu sync.Mutex

	active       bool
	sessionID    string
	startedAt    time.Time
	activeTime   time.Duration
	lastActivity time.Time

	idleThreshold time.Duration
	now           func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIdleThreshold overrides the active-time idle gap.
func WithIdleThreshold(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.idleThreshold = d
		}
	}
}

// New creates an inactive Manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		idleThreshold: DefaultIdleThreshold,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start transitions inactive -> active, generating a new session ID.
// When already active it is a no-op and returns the existing ID with
// started=false, so calling Start twice never creates two concurrent
// sessions or leaks the old id.
func (m *Manager) Start() (sessionID string, started bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active {
		return m.sessionID, false
	}

	m.active = true
	m.sessionID = uuid.New().String()
	m.startedAt = m.now()
	m.activeTime = 0
	m.lastActivity = m.startedAt

	metrics.SessionsStarted.Inc()
	return m.sessionID, true
}

// End transitions active -> inactive, returning the closing summary.
// A no-op when already inactive (ended=false).
func (m *Manager) End() (Summary, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return Summary{}, false
	}

	now := m.now()
	m.touchLocked(now)
	s := Summary{
		SessionID:  m.sessionID,
		StartedAt:  m.startedAt,
		Duration:   now.Sub(m.startedAt),
		ActiveTime: m.activeTime,
	}

	m.active = false
	m.sessionID = ""
	m.activeTime = 0

	metrics.RecordSessionEnd(s.Duration)
	return s, true
}

// Heartbeat returns the running summary while active. It never resets
// startedAt. Returns ok=false when inactive.
func (m *Manager) Heartbeat() (Summary, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return Summary{}, false
	}

	now := m.now()
	m.touchLocked(now)
	return Summary{
		SessionID:  m.sessionID,
		StartedAt:  m.startedAt,
		Duration:   now.Sub(m.startedAt),
		ActiveTime: m.activeTime,
	}, true
}

// Touch records user activity for active-time accounting. Gaps longer than
// the idle threshold do not count toward active time.
func (m *Manager) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		m.touchLocked(m.now())
	}
}

// touchLocked accumulates active time up to now. Caller must hold mu.
func (m *Manager) touchLocked(now time.Time) {
	gap := now.Sub(m.lastActivity)
	if gap > 0 && gap <= m.idleThreshold {
		m.activeTime += gap
	}
	m.lastActivity = now
}

// Active reports whether a session is in progress.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// SessionID returns the current session identifier, empty when inactive.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}
