// Playlytics - Embedded Playback Telemetry for Media Applications
// Copyright 2026 Playlytics contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playlytics/playlytics

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// gather returns the metric family with the given name from the default registry.
func gather(t *testing.T, name string) *dto.MetricFamily {
	t.Helper()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestMetricsRegistered(t *testing.T) {
	// Touch each vec so it materializes a child before gathering.
	EventsBuffered.WithLabelValues("playback").Inc()
	EventsDropped.WithLabelValues("overflow").Inc()
	FlushErrors.WithLabelValues("http").Inc()
	RecordTransition("start")
	RecordFlush(50*time.Millisecond, 10)
	RecordSessionEnd(2 * time.Minute)
	BufferSize.Set(3)
	SpooledBatches.Set(1)
	SessionsStarted.Inc()
	EventsRequeued.Add(5)

	names := []string{
		"playlytics_events_buffered_total",
		"playlytics_events_dropped_total",
		"playlytics_buffer_size",
		"playlytics_events_flushed_total",
		"playlytics_flush_duration_seconds",
		"playlytics_flush_errors_total",
		"playlytics_events_requeued_total",
		"playlytics_sessions_started_total",
		"playlytics_sessions_ended_total",
		"playlytics_session_duration_seconds",
		"playlytics_playback_transitions_total",
		"playlytics_spooled_batches",
	}
	for _, name := range names {
		if gather(t, name) == nil {
			t.Errorf("metric %s not registered", name)
		}
	}
}

func TestRecordTransitionLabels(t *testing.T) {
	RecordTransition("complete")
	RecordTransition("complete")

	mf := gather(t, "playlytics_playback_transitions_total")
	if mf == nil {
		t.Fatal("transitions metric not registered")
	}

	var found bool
	for _, m := range mf.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "transition" && lp.GetValue() == "complete" {
				found = true
				if m.GetCounter().GetValue() < 2 {
					t.Errorf("expected counter >= 2, got %v", m.GetCounter().GetValue())
				}
			}
		}
	}
	if !found {
		t.Error("expected a complete transition series")
	}
}
