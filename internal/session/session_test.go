// Playlytics - Embedded Playback Telemetry for Media Applications
// Copyright 2026 Playlytics contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playlytics/playlytics

package session

import (
	"testing"
	"time"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestStartIsIdempotent(t *testing.T) {
	t.Parallel()

	m := New(WithClock(newFakeClock().now))

	id1, started := m.Start()
	if !started || id1 == "" {
		t.Fatalf("expected first start to begin a session, got id=%q started=%v", id1, started)
	}

	id2, started := m.Start()
	if started {
		t.Error("second start must be a no-op")
	}
	if id2 != id1 {
		t.Errorf("second start must return the existing id %q, got %q", id1, id2)
	}
	if !m.Active() {
		t.Error("expected manager active")
	}
}

func TestEndComputesDurationAndActiveTime(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	m := New(WithClock(clock.now), WithIdleThreshold(time.Minute))

	m.Start()
	clock.advance(30 * time.Second)
	m.Touch()
	clock.advance(10 * time.Minute) // idle gap, not counted as active
	m.Touch()
	clock.advance(20 * time.Second)

	s, ended := m.End()
	if !ended {
		t.Fatal("expected end to close the session")
	}
	if s.Duration != 10*time.Minute+50*time.Second {
		t.Errorf("expected wall duration 10m50s, got %v", s.Duration)
	}
	if s.ActiveTime != 50*time.Second {
		t.Errorf("expected active time 50s (idle gap excluded), got %v", s.ActiveTime)
	}
	if m.Active() {
		t.Error("expected manager inactive after end")
	}
	if m.SessionID() != "" {
		t.Error("expected session id cleared after end")
	}
}

func TestEndIsIdempotent(t *testing.T) {
	t.Parallel()

	m := New(WithClock(newFakeClock().now))
	m.Start()

	if _, ended := m.End(); !ended {
		t.Fatal("first end must close the session")
	}
	if _, ended := m.End(); ended {
		t.Error("second end must be a no-op")
	}
}

func TestEndWithoutStartIsNoop(t *testing.T) {
	t.Parallel()

	m := New()
	if _, ended := m.End(); ended {
		t.Error("end on inactive manager must be a no-op")
	}
}

func TestHeartbeatReportsRunningDuration(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	m := New(WithClock(clock.now))
	id, _ := m.Start()
	startedAt := clock.now()

	clock.advance(45 * time.Second)
	s, ok := m.Heartbeat()
	if !ok {
		t.Fatal("expected heartbeat while active")
	}
	if s.SessionID != id {
		t.Errorf("heartbeat session id %q, want %q", s.SessionID, id)
	}
	if s.Duration != 45*time.Second {
		t.Errorf("expected running duration 45s, got %v", s.Duration)
	}
	if !s.StartedAt.Equal(startedAt) {
		t.Error("heartbeat must not reset startedAt")
	}

	clock.advance(15 * time.Second)
	s2, _ := m.Heartbeat()
	if s2.Duration != time.Minute {
		t.Errorf("expected running duration 1m, got %v", s2.Duration)
	}
}

func TestHeartbeatInactiveIsNoop(t *testing.T) {
	t.Parallel()

	m := New()
	if _, ok := m.Heartbeat(); ok {
		t.Error("heartbeat on inactive manager must report not ok")
	}
}

func TestRestartGeneratesFreshID(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	m := New(WithClock(clock.now))

	id1, _ := m.Start()
	m.End()
	clock.advance(time.Second)
	id2, started := m.Start()

	if !started {
		t.Fatal("expected restart to begin a new session")
	}
	if id2 == id1 {
		t.Error("expected a fresh session id after restart")
	}
}
