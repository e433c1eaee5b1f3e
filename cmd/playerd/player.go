// Playlytics - Embedded Playback Telemetry for Media Applications
// Copyright 2026 Playlytics contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playlytics/playlytics

package main

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/playlytics/playlytics/internal/event"
	"github.com/playlytics/playlytics/internal/playback"
	"github.com/playlytics/playlytics/internal/telemetry"
)

// demoTracks is the simulated library. Durations in seconds.
var demoTracks = []struct {
	id       string
	duration float64
}{
	{"track-aurora", 187},
	{"track-meridian", 243},
	{"track-undertow", 201},
	{"track-palisade", 312},
	{"track-vesper", 164},
}

// demoPlayer is a simulated player surface. It advances a playhead once a
// second and hands noisy position samples to the lifecycle tracker, the
// same way a real player UI would wire its progress callback. It exists so
// a bare playerd produces a realistic event stream end to end.
type demoPlayer struct {
	engine  *telemetry.Engine
	tracker *playback.Tracker

	mu       sync.Mutex
	track    int
	playing  bool
	position float64
}

func newDemoPlayer(engine *telemetry.Engine) *demoPlayer {
	p := &demoPlayer{engine: engine}
	p.tracker = engine.NewPlaybackTracker(telemetry.TrackOptions{
		Codec:   "flac",
		Bitrate: 1411,
		Source:  "local",
	})
	return p
}

// Serve implements suture.Service. The simulation loop runs until the
// context is canceled.
func (p *demoPlayer) Serve(ctx context.Context) error {
	progressCtx, cancelProgress := context.WithCancel(ctx)
	defer cancelProgress()
	p.tracker.StartProgressTicker(progressCtx, 5*time.Second, p.sample)

	p.engine.Track(event.TypeUINavigation, event.UIData(&event.UIEventData{
		Action: "navigation",
		View:   "now_playing",
	}))

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.tracker.Close()
			return ctx.Err()
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *demoPlayer) String() string { return "demo-player" }

// tick advances the playhead by one second and occasionally pauses,
// resumes or skips, so every lifecycle transition gets exercised.
func (p *demoPlayer) tick() {
	p.mu.Lock()

	track := demoTracks[p.track]
	switch {
	case !p.playing && p.position == 0:
		p.playing = true
	case p.playing && p.position >= track.duration:
		// Track ran out; move on from the start of the next one.
		p.track = (p.track + 1) % len(demoTracks)
		p.position = 0
	case p.playing && rand.IntN(120) == 0:
		p.playing = false
	case !p.playing && rand.IntN(10) == 0:
		p.playing = true
	case p.playing && rand.IntN(90) == 0:
		// Listener got bored: skip into the next track.
		p.mu.Unlock()
		p.tracker.Skip("manual")
		p.mu.Lock()
		p.track = (p.track + 1) % len(demoTracks)
		p.position = 0
		p.playing = true
	}

	if p.playing {
		p.position++
	}
	s := p.sampleLocked()
	p.mu.Unlock()

	p.tracker.Update(s)
}

func (p *demoPlayer) sample() playback.Sample {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sampleLocked()
}

func (p *demoPlayer) sampleLocked() playback.Sample {
	track := demoTracks[p.track]
	return playback.Sample{
		TrackID:  track.id,
		Playing:  p.playing,
		Position: p.position,
		Duration: track.duration,
	}
}
