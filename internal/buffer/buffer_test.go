// Playlytics - Embedded Playback Telemetry for Media Applications
// Copyright 2026 Playlytics contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playlytics/playlytics

package buffer

import (
	"fmt"
	"testing"

	"github.com/playlytics/playlytics/internal/event"
)

func uiEvent(n int) *event.Event {
	ev := event.New(event.TypeUIClick, event.UIData(&event.UIEventData{
		Action:  "click",
		Element: fmt.Sprintf("button-%d", n),
	}))
	return ev
}

func TestAppendReportsThreshold(t *testing.T) {
	t.Parallel()

	b := New(3, 10, false)
	if b.Append(uiEvent(0)) {
		t.Error("threshold must not trip below batch size")
	}
	if b.Append(uiEvent(1)) {
		t.Error("threshold must not trip below batch size")
	}
	if !b.Append(uiEvent(2)) {
		t.Error("threshold must trip at batch size")
	}
	if b.Len() != 3 {
		t.Errorf("expected 3 buffered events, got %d", b.Len())
	}
}

func TestFIFOEvictionKeepsNewest(t *testing.T) {
	t.Parallel()

	b := New(2, 5, true)
	for i := 0; i < 8; i++ {
		b.Append(uiEvent(i))
	}

	if b.Len() != 5 {
		t.Fatalf("expected buffer pinned at max size 5, got %d", b.Len())
	}
	if b.Dropped() != 3 {
		t.Errorf("expected 3 dropped events, got %d", b.Dropped())
	}

	kept := b.Peek()
	for i, ev := range kept {
		want := fmt.Sprintf("button-%d", i+3)
		if ev.Data.UI.Element != want {
			t.Errorf("slot %d: expected %s, got %s", i, want, ev.Data.UI.Element)
		}
	}
}

func TestDrainSnapshotsAndResets(t *testing.T) {
	t.Parallel()

	b := New(10, 10, false)
	for i := 0; i < 4; i++ {
		b.Append(uiEvent(i))
	}

	drained := b.Drain()
	if len(drained) != 4 {
		t.Fatalf("expected 4 drained events, got %d", len(drained))
	}
	if b.Len() != 0 {
		t.Errorf("expected empty buffer after drain, got %d", b.Len())
	}
	if b.LastFlushed().IsZero() {
		t.Error("drain must stamp lastFlushed")
	}

	// Insertion order is preserved in the snapshot.
	for i, ev := range drained {
		want := fmt.Sprintf("button-%d", i)
		if ev.Data.UI.Element != want {
			t.Errorf("slot %d: expected %s, got %s", i, want, ev.Data.UI.Element)
		}
	}

	// An append after drain lands in the new buffer, not the snapshot.
	b.Append(uiEvent(99))
	if len(drained) != 4 {
		t.Error("drained snapshot must not grow after subsequent appends")
	}
	if b.Len() != 1 {
		t.Errorf("expected 1 event in post-drain buffer, got %d", b.Len())
	}
}

func TestDrainEmptyReturnsNil(t *testing.T) {
	t.Parallel()

	b := New(5, 5, false)
	if got := b.Drain(); got != nil {
		t.Errorf("expected nil drain on empty buffer, got %d events", len(got))
	}
	if !b.LastFlushed().IsZero() {
		t.Error("empty drain must not stamp lastFlushed")
	}
}

func TestRequeuePrependsAndBounds(t *testing.T) {
	t.Parallel()

	b := New(2, 4, false)
	for i := 0; i < 3; i++ {
		b.Append(uiEvent(i))
	}
	drained := b.Drain()

	// Two new arrivals during the failed flush.
	b.Append(uiEvent(10))
	b.Append(uiEvent(11))

	b.Requeue(drained)

	// 3 requeued + 2 new = 5, bounded to 4: oldest requeued entry dropped.
	if b.Len() != 4 {
		t.Fatalf("expected requeue bounded at 4, got %d", b.Len())
	}
	kept := b.Peek()
	wantOrder := []string{"button-1", "button-2", "button-10", "button-11"}
	for i, want := range wantOrder {
		if kept[i].Data.UI.Element != want {
			t.Errorf("slot %d: expected %s, got %s", i, want, kept[i].Data.UI.Element)
		}
	}
}

func TestPeekDoesNotMutate(t *testing.T) {
	t.Parallel()

	b := New(5, 5, false)
	b.Append(uiEvent(1))

	before := b.LastFlushed()
	peeked := b.Peek()
	if len(peeked) != 1 {
		t.Fatalf("expected 1 peeked event, got %d", len(peeked))
	}
	if b.LastFlushed() != before {
		t.Error("peek must not touch lastFlushed")
	}
	if b.Len() != 1 {
		t.Error("peek must not consume events")
	}

	// Mutating the returned slice must not affect the buffer.
	peeked[0] = nil
	if b.Peek()[0] == nil {
		t.Error("peek must return a copy")
	}
}

func TestResizeShrinksWithHeadEviction(t *testing.T) {
	t.Parallel()

	b := New(2, 8, false)
	for i := 0; i < 6; i++ {
		b.Append(uiEvent(i))
	}

	b.Resize(2, 3)
	if b.Len() != 3 {
		t.Fatalf("expected 3 events after shrink, got %d", b.Len())
	}
	if got := b.Peek()[0].Data.UI.Element; got != "button-3" {
		t.Errorf("expected oldest surviving event button-3, got %s", got)
	}
}
