// Playlytics - Embedded Playback Telemetry for Media Applications
// Copyright 2026 Playlytics contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playlytics/playlytics

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the telemetry engine:
// - Event buffer occupancy and loss
// - Flush latency, throughput and failures
// - Session lifecycle counts
// - Playback transition inference
// - Delivery spool backlog

var (
	// Buffer metrics

	EventsBuffered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playlytics_events_buffered_total",
			Help: "Total number of events appended to the buffer",
		},
		[]string{"category"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playlytics_events_dropped_total",
			Help: "Total number of events evicted or rejected before transmission",
		},
		[]string{"reason"}, // "overflow", "disabled", "validation"
	)

	BufferSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "playlytics_buffer_size",
			Help: "Current number of events held in the buffer",
		},
	)

	// Flush metrics

	EventsFlushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "playlytics_events_flushed_total",
			Help: "Total number of events handed to the transport successfully",
		},
	)

	FlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "playlytics_flush_duration_seconds",
			Help:    "Duration of flush operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	FlushErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playlytics_flush_errors_total",
			Help: "Total number of failed flush operations",
		},
		[]string{"transport"},
	)

	EventsRequeued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "playlytics_events_requeued_total",
			Help: "Total number of events returned to the buffer after a failed flush",
		},
	)

	// Session metrics

	SessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "playlytics_sessions_started_total",
			Help: "Total number of telemetry sessions started",
		},
	)

	SessionsEnded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "playlytics_sessions_ended_total",
			Help: "Total number of telemetry sessions ended",
		},
	)

	SessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "playlytics_session_duration_seconds",
			Help:    "Duration of completed telemetry sessions in seconds",
			Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400, 28800},
		},
	)

	// Playback inference metrics

	PlaybackTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playlytics_playback_transitions_total",
			Help: "Total playback lifecycle transitions inferred from player samples",
		},
		[]string{"transition"}, // "start", "resume", "pause", "complete", "progress", "seek", "skip"
	)

	// Spool metrics

	SpooledBatches = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "playlytics_spooled_batches",
			Help: "Current number of undelivered batches held in the local spool",
		},
	)
)

// RecordFlush records a successful flush of n events.
func RecordFlush(elapsed time.Duration, n int) {
	FlushDuration.Observe(elapsed.Seconds())
	EventsFlushed.Add(float64(n))
}

// RecordTransition records a single inferred playback transition.
func RecordTransition(transition string) {
	PlaybackTransitions.WithLabelValues(transition).Inc()
}

// RecordSessionEnd records a completed session of the given duration.
func RecordSessionEnd(duration time.Duration) {
	SessionsEnded.Inc()
	SessionDuration.Observe(duration.Seconds())
}
