// Playlytics - Embedded Playback Telemetry for Media Applications
// Copyright 2026 Playlytics contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playlytics/playlytics

package event

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewStampsIdentity(t *testing.T) {
	t.Parallel()

	ev := New(TypePlaybackStart, PlaybackData(&PlaybackEventData{Action: "start", TrackID: "t1"}))

	if ev.EventID == "" {
		t.Error("expected non-empty event ID")
	}
	if ev.SchemaVersion != SchemaVersion {
		t.Errorf("expected schema version %d, got %d", SchemaVersion, ev.SchemaVersion)
	}
	if ev.Timestamp.IsZero() {
		t.Error("expected capture timestamp")
	}
	if ev.Timestamp.Location() != time.UTC {
		t.Error("expected UTC timestamp")
	}

	ev2 := New(TypePlaybackStart, PlaybackData(&PlaybackEventData{Action: "start", TrackID: "t1"}))
	if ev.EventID == ev2.EventID {
		t.Error("expected unique event IDs")
	}
}

func TestTypeCategoryAndAction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		typ      Type
		category Category
		action   string
	}{
		{TypeSessionStart, CategorySession, "start"},
		{TypePlaybackComplete, CategoryPlayback, "complete"},
		{TypeLibraryPlaylistCreate, CategoryLibrary, "playlist_create"},
		{TypeUIThemeChange, CategoryUI, "theme_change"},
		{TypeDSPEqChange, CategoryDSP, "eq_change"},
		{TypeSearchResultClick, CategorySearch, "result_click"},
		{Type("bogus"), Category(""), ""},
	}

	for _, tt := range tests {
		if got := tt.typ.Category(); got != tt.category {
			t.Errorf("%s: category = %q, want %q", tt.typ, got, tt.category)
		}
		if got := tt.typ.Action(); got != tt.action {
			t.Errorf("%s: action = %q, want %q", tt.typ, got, tt.action)
		}
	}
}

func TestValidateAcceptsMatchingPayload(t *testing.T) {
	t.Parallel()

	ev := New(TypeSearchQuery, SearchData(&SearchEventData{Action: "query", Query: "daft punk"}))
	if err := ev.Validate(); err != nil {
		t.Errorf("expected valid event, got %v", err)
	}
}

func TestValidateRejectsUnknownType(t *testing.T) {
	t.Parallel()

	ev := New(Type("playback.rewind"), PlaybackData(&PlaybackEventData{Action: "rewind", TrackID: "t1"}))
	err := ev.Validate()
	if err == nil {
		t.Fatal("expected validation error for unknown type")
	}

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if verr.Field != "event_type" {
		t.Errorf("expected event_type field, got %q", verr.Field)
	}
}

func TestValidateRejectsCategoryMismatch(t *testing.T) {
	t.Parallel()

	// playback.* event carrying a ui payload
	ev := New(TypePlaybackPause, UIData(&UIEventData{Action: "click"}))
	err := ev.Validate()
	if err == nil {
		t.Fatal("expected validation error for category mismatch")
	}
	if !strings.Contains(err.Error(), "data.type") {
		t.Errorf("expected data.type mismatch, got %v", err)
	}
}

func TestValidateRejectsWrongPayloadPointer(t *testing.T) {
	t.Parallel()

	// Discriminator says playback but the session payload is populated.
	ev := New(TypePlaybackPause, Data{
		Category: CategoryPlayback,
		Session:  &SessionEventData{Action: "end"},
	})
	if err := ev.Validate(); err == nil {
		t.Fatal("expected validation error for payload/category mismatch")
	}
}

func TestValidateRejectsMultiplePayloads(t *testing.T) {
	t.Parallel()

	ev := New(TypePlaybackPause, Data{
		Category: CategoryPlayback,
		Playback: &PlaybackEventData{Action: "pause", TrackID: "t1"},
		UI:       &UIEventData{Action: "click"},
	})
	if err := ev.Validate(); err == nil {
		t.Fatal("expected validation error for multiple payloads")
	}
}

func TestValidateRejectsEmptyPayload(t *testing.T) {
	t.Parallel()

	ev := New(TypePlaybackPause, Data{Category: CategoryPlayback})
	if err := ev.Validate(); err == nil {
		t.Fatal("expected validation error for empty payload")
	}
}

func TestJSONWireShape(t *testing.T) {
	t.Parallel()

	ev := New(TypePlaybackSeek, PlaybackData(&PlaybackEventData{
		Action:   "seek",
		TrackID:  "track-9",
		SeekFrom: 10,
		SeekTo:   120,
	}))
	ev.SessionID = "sess-1"

	raw, err := ev.JSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{`"event_type":"playback.seek"`, `"session_id":"sess-1"`, `"type":"playback"`, `"seek_to":120`} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("wire shape missing %s in %s", want, raw)
		}
	}
	if strings.Contains(string(raw), `"platform"`) {
		t.Errorf("platform context should be omitted when not collected: %s", raw)
	}
}

func TestKnownCoversAllCategories(t *testing.T) {
	t.Parallel()

	for _, typ := range []Type{
		TypeSessionHeartbeat, TypePlaybackSkip, TypeLibraryFavorite,
		TypeUINavigation, TypeDSPEffectToggle, TypeSearchFilterApply,
	} {
		if !Known(typ) {
			t.Errorf("expected %s to be a known type", typ)
		}
	}
	if Known(Type("telemetry.bogus")) {
		t.Error("expected unknown type to be rejected")
	}
}
