// Playlytics - Embedded Playback Telemetry for Media Applications
// Copyright 2026 Playlytics contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playlytics/playlytics

// Package playback converts a sampled, possibly noisy player state tuple
// (track id, playing flag, position, duration) into discrete, non-duplicated
// lifecycle events. Samples arrive on every host tick, not on every real
// transition, so everything here is diffed against the previous tuple.
//
// Seeks and skips are explicit operations rather than inferred: a seek is a
// discontinuous position jump indistinguishable from normal advance when
// polling, so the caller must disambiguate.
package playback

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/playlytics/playlytics/internal/event"
	"github.com/playlytics/playlytics/internal/logging"
	"github.com/playlytics/playlytics/internal/metrics"
)

// Sample is one observation of the live player state tuple.
type Sample struct {
	TrackID  string
	Playing  bool
	Position float64 // seconds
	Duration float64 // seconds; <= 0 means unknown
}

// Emitter receives each inferred lifecycle event.
type Emitter func(t event.Type, data *event.PlaybackEventData)

// Options configures a Tracker.
//
// The epsilons are deliberately small heuristics: they disambiguate "paused
// at the very end" (complete) from "paused early" (pause), and "scrubbed to
// zero then played" (start) from "resumed mid-track" (resume). They can
// misclassify a pause inside the final second as a completion; that
// ambiguity is accepted, not fixed, and the thresholds stay tunable.
type Options struct {
	// Emit receives inferred events. Required.
	Emit Emitter

	// ProgressThreshold is the minimum position delta between progress
	// events. Default 15s.
	ProgressThreshold time.Duration

	// NearEndEpsilon classifies a falling edge within this distance of the
	// end as complete. Default 1s.
	NearEndEpsilon time.Duration

	// FreshStartEpsilon classifies a rising edge below this position as a
	// fresh start. Default 1s.
	FreshStartEpsilon time.Duration

	// Static stream attributes attached to every emitted payload.
	Codec   string
	Bitrate int
	Source  string
}

// Tracker is the per-player-surface inference state machine. One tracker
// runs per active player surface; all of them funnel events through the
// single engine. Methods are safe for concurrent use with the progress
// ticker goroutine.
type Tracker struct {
	mu   sync.Mutex
	opts Options

	trackID      string
	playing      bool
	position     float64
	duration     float64
	lastProgress float64

	// completed latches at most one complete emission per track occurrence,
	// even if a pause-near-end is followed by an explicit complete signal.
	completed bool

	// stopped latches the per-track teardown so Skip runs it exactly once.
	stopped bool

	// edgeSampled suppresses a progress emission racing an edge that was
	// classified in the same tick; edges always take precedence.
	edgeSampled bool

	tickerCancel context.CancelFunc
	tickerDone   chan struct{}
}

// NewTracker creates a tracker. Zero option fields get defaults; a nil Emit
// is replaced by a no-op so the tracker never panics mid-playback.
func NewTracker(opts Options) *Tracker {
	if opts.Emit == nil {
		opts.Emit = func(event.Type, *event.PlaybackEventData) {}
	}
	if opts.ProgressThreshold <= 0 {
		opts.ProgressThreshold = 15 * time.Second
	}
	if opts.NearEndEpsilon <= 0 {
		opts.NearEndEpsilon = time.Second
	}
	if opts.FreshStartEpsilon <= 0 {
		opts.FreshStartEpsilon = time.Second
	}
	return &Tracker{opts: opts}
}

// Update feeds one sample through the inference order: track change first,
// then play/pause edge. It never fails on malformed tuples; an unknown
// duration just downgrades near-end detection to a plain pause.
func (t *Tracker) Update(s Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s.TrackID != t.trackID {
		t.adoptTrackLocked(s)
		return
	}

	t.position = s.Position
	t.duration = s.Duration

	if s.Playing != t.playing {
		t.classifyEdgeLocked(s)
	}
}

// adoptTrackLocked resets per-track state for a new track id. If the sample
// is already playing (autoplay on track change) a start is emitted here and
// the playing flag is adopted so the edge check cannot double-fire.
func (t *Tracker) adoptTrackLocked(s Sample) {
	t.trackID = s.TrackID
	t.position = s.Position
	t.duration = s.Duration
	t.lastProgress = 0
	t.completed = false
	t.stopped = false
	t.playing = s.Playing

	if s.Playing {
		t.emitLocked(event.TypePlaybackStart, "start", s)
	}
}

// classifyEdgeLocked handles an isPlaying flip. Caller must hold mu.
func (t *Tracker) classifyEdgeLocked(s Sample) {
	if s.Playing {
		if s.Position < t.opts.FreshStartEpsilon.Seconds() {
			t.emitLocked(event.TypePlaybackStart, "start", s)
		} else {
			t.emitLocked(event.TypePlaybackResume, "resume", s)
		}
	} else {
		if t.nearEndLocked(s) {
			if !t.completed {
				t.completed = true
				t.emitLocked(event.TypePlaybackComplete, "complete", s)
			}
		} else {
			t.emitLocked(event.TypePlaybackPause, "pause", s)
		}
	}
	t.playing = s.Playing
}

// nearEndLocked reports whether the sample position is within the near-end
// epsilon of a known duration. Unknown duration is never near the end.
func (t *Tracker) nearEndLocked(s Sample) bool {
	return s.Duration > 0 && s.Position >= s.Duration-t.opts.NearEndEpsilon.Seconds()
}

// SampleProgress is the periodic progress check, driven by the ticker while
// playing. It emits at most one progress event per threshold-sized position
// delta so near-duplicate samples don't flood the buffer, and it yields to
// any edge classified in the same tick.
func (t *Tracker) SampleProgress(s Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.edgeSampled {
		t.edgeSampled = false
		return
	}
	if !s.Playing || s.TrackID != t.trackID {
		return
	}

	t.position = s.Position
	if math.Abs(s.Position-t.lastProgress) < t.opts.ProgressThreshold.Seconds() {
		return
	}
	t.lastProgress = s.Position
	t.emitProgressLocked(s)
}

// Start records an explicit playback start from the consumer API.
func (t *Tracker) Start(s Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s.TrackID != "" && s.TrackID != t.trackID {
		// An explicit start is a play signal regardless of the sample's
		// Playing flag, so adoption must emit the start.
		s.Playing = true
		t.adoptTrackLocked(s)
		return
	}
	t.playing = true
	t.position = s.Position
	t.emitLocked(event.TypePlaybackStart, "start", s)
}

// Pause records an explicit pause.
func (t *Tracker) Pause(s Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.playing = false
	t.position = s.Position
	t.emitLocked(event.TypePlaybackPause, "pause", s)
}

// Resume records an explicit resume.
func (t *Tracker) Resume(s Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.playing = true
	t.position = s.Position
	t.emitLocked(event.TypePlaybackResume, "resume", s)
}

// Complete records an explicit completion. Like the inferred near-end path
// it is idempotent per track occurrence: repeated signals (a pause near the
// end followed by an explicit skip teardown) emit a single complete.
func (t *Tracker) Complete(s Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.completed {
		return
	}
	t.completed = true
	t.playing = false
	t.position = s.Position
	t.emitLocked(event.TypePlaybackComplete, "complete", s)
}

// Seek records an explicit position jump and realigns internal position
// state so the next poll doesn't misread the discontinuity.
func (t *Tracker) Seek(from, to float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	data := t.payloadLocked("seek", Sample{TrackID: t.trackID, Position: to, Duration: t.duration})
	data.SeekFrom = from
	data.SeekTo = to

	t.position = to
	t.lastProgress = to
	t.opts.Emit(event.TypePlaybackSeek, data)
	metrics.RecordTransition("seek")
	t.edgeSampled = true
}

// Skip records the user moving off the track (next/previous/error). Skip is
// a distinct action even after a completion, so it does not consult the
// completed latch; the per-track teardown still runs exactly once.
func (t *Tracker) Skip(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Sample{TrackID: t.trackID, Position: t.position, Duration: t.duration}
	data := t.payloadLocked("skip", s)
	data.Reason = reason
	t.opts.Emit(event.TypePlaybackSkip, data)
	metrics.RecordTransition("skip")

	if !t.stopped {
		t.stopped = true
		t.playing = false
		logging.Debug().
			Str("track_id", t.trackID).
			Str("reason", reason).
			Msg("playback tracking stopped for track")
	}
}

// StartProgressTicker launches the progress sampling loop. The source
// callback supplies the live tuple each tick; SampleProgress applies the
// threshold. The loop stops on ctx cancellation or Close.
func (t *Tracker) StartProgressTicker(ctx context.Context, interval time.Duration, source func() Sample) {
	t.mu.Lock()
	if t.tickerCancel != nil {
		t.mu.Unlock()
		return // single active timer per purpose
	}
	ctx, cancel := context.WithCancel(ctx)
	t.tickerCancel = cancel
	done := make(chan struct{})
	t.tickerDone = done
	t.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.SampleProgress(source())
			}
		}
	}()
}

// Close tears down the progress ticker. Safe to call multiple times and
// when no ticker was started.
func (t *Tracker) Close() {
	t.mu.Lock()
	cancel := t.tickerCancel
	done := t.tickerDone
	t.tickerCancel = nil
	t.tickerDone = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// emitLocked builds and emits an edge payload. Caller must hold mu.
func (t *Tracker) emitLocked(typ event.Type, action string, s Sample) {
	t.opts.Emit(typ, t.payloadLocked(action, s))
	metrics.RecordTransition(action)
	t.edgeSampled = true
}

// emitProgressLocked emits a progress payload. Caller must hold mu.
func (t *Tracker) emitProgressLocked(s Sample) {
	t.opts.Emit(event.TypePlaybackProgress, t.payloadLocked("progress", s))
	metrics.RecordTransition("progress")
}

// payloadLocked assembles the common playback payload fields.
func (t *Tracker) payloadLocked(action string, s Sample) *event.PlaybackEventData {
	data := &event.PlaybackEventData{
		Action:   action,
		TrackID:  s.TrackID,
		Position: s.Position,
		Duration: s.Duration,
		Codec:    t.opts.Codec,
		Bitrate:  t.opts.Bitrate,
		Source:   t.opts.Source,
	}
	if s.Duration > 0 {
		data.Percent = int(math.Round(s.Position / s.Duration * 100))
	}
	return data
}
