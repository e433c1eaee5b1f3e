// Playlytics - Embedded Playback Telemetry for Media Applications
// Copyright 2026 Playlytics contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playlytics/playlytics

// Package buffer implements the bounded, append-only event queue that holds
// fully-formed events awaiting transmission. The buffer owns capacity policy
// (FIFO eviction past maxSize) and the batch-threshold signal; it holds no
// transport reference - flushing is the engine's job.
package buffer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/playlytics/playlytics/internal/event"
	"github.com/playlytics/playlytics/internal/logging"
	"github.com/playlytics/playlytics/internal/metrics"
)

// Buffer is a size-bounded FIFO queue of events.
//
// Invariants:
//   - Len() <= maxSize at all observable points
//   - overflow evicts from the head (oldest first), never the newest
//   - Drain atomically snapshots and resets, so events appended during an
//     in-flight flush land in the fresh buffer, not the drained snapshot
type Buffer struct {
	mu          sync.Mutex
	events      []*event.Event
	maxSize     int
	batchSize   int
	lastFlushed time.Time

	debug   bool
	dropped atomic.Int64
}

// New creates a buffer with the given batch threshold and capacity.
// Values below 1 fall back to 1 so the buffer never fails construction;
// config validation is the engine's responsibility.
func New(batchSize, maxSize int, debug bool) *Buffer {
	if batchSize < 1 {
		batchSize = 1
	}
	if maxSize < batchSize {
		maxSize = batchSize
	}
	return &Buffer{
		events:    make([]*event.Event, 0, batchSize),
		maxSize:   maxSize,
		batchSize: batchSize,
		debug:     debug,
	}
}

// Resize updates the batch threshold and capacity, evicting from the head
// if the current contents exceed the new capacity. Used by updateConfig.
func (b *Buffer) Resize(batchSize, maxSize int) {
	if batchSize < 1 {
		batchSize = 1
	}
	if maxSize < batchSize {
		maxSize = batchSize
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.batchSize = batchSize
	b.maxSize = maxSize
	b.evictLocked()
}

// Append inserts the event at the tail and reports whether the batch
// threshold has been reached. Append never fails: overflow is a logged,
// non-fatal event-loss condition handled by head eviction.
func (b *Buffer) Append(ev *event.Event) (thresholdReached bool) {
	b.mu.Lock()
	b.events = append(b.events, ev)
	evicted := b.evictLocked()
	size := len(b.events)
	threshold := size >= b.batchSize
	b.mu.Unlock()

	metrics.EventsBuffered.WithLabelValues(string(ev.Data.Category)).Inc()
	metrics.BufferSize.Set(float64(size))

	if evicted > 0 {
		total := b.dropped.Add(int64(evicted))
		metrics.EventsDropped.WithLabelValues("overflow").Add(float64(evicted))
		if b.debug {
			logging.Warn().
				Int("evicted", evicted).
				Int64("dropped_total", total).
				Int("max_size", b.maxSize).
				Msg("buffer overflow, oldest events evicted")
		}
	}

	return threshold
}

// evictLocked drops events from the head until size fits maxSize.
// Returns the number of evicted events. Caller must hold mu.
func (b *Buffer) evictLocked() int {
	over := len(b.events) - b.maxSize
	if over <= 0 {
		return 0
	}
	// Copy the tail forward instead of re-slicing so the evicted head
	// entries do not pin the backing array.
	kept := make([]*event.Event, b.maxSize)
	copy(kept, b.events[over:])
	b.events = kept
	return over
}

// Drain atomically snapshots and clears the buffer, returning the snapshot
// in insertion order and stamping lastFlushed. Events appended after Drain
// returns land in the new, empty buffer.
func (b *Buffer) Drain() []*event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.events) == 0 {
		return nil
	}
	drained := b.events
	b.events = make([]*event.Event, 0, b.batchSize)
	b.lastFlushed = time.Now()

	metrics.BufferSize.Set(0)
	return drained
}

// Requeue prepends previously drained events at the head, preserving their
// order ahead of anything appended since. The result is re-bounded by
// maxSize with the oldest silently dropped if it still overflows, so a
// failing transport cannot grow the buffer without bound.
func (b *Buffer) Requeue(events []*event.Event) {
	if len(events) == 0 {
		return
	}

	b.mu.Lock()
	b.events = append(events, b.events...)
	evicted := b.evictLocked()
	size := len(b.events)
	b.mu.Unlock()

	metrics.EventsRequeued.Add(float64(len(events)))
	metrics.BufferSize.Set(float64(size))
	if evicted > 0 {
		b.dropped.Add(int64(evicted))
		metrics.EventsDropped.WithLabelValues("overflow").Add(float64(evicted))
		logging.Debug().
			Int("evicted", evicted).
			Int("requeued", len(events)).
			Msg("requeue overflow, oldest events dropped")
	}
}

// Peek returns a read-only copy of the current contents for diagnostics.
// It does not touch lastFlushed.
func (b *Buffer) Peek() []*event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*event.Event, len(b.events))
	copy(out, b.events)
	return out
}

// Len returns the current number of buffered events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// LastFlushed returns the time of the most recent drain, zero if never.
func (b *Buffer) LastFlushed() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastFlushed
}

// Dropped returns the total number of events lost to eviction.
func (b *Buffer) Dropped() int64 {
	return b.dropped.Load()
}
