// Playlytics - Embedded Playback Telemetry for Media Applications
// Copyright 2026 Playlytics contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playlytics/playlytics

// Package event defines the closed telemetry event taxonomy and the wire
// shape of captured events. Events are immutable once created: the engine
// enriches a fresh record at capture time and never mutates it afterwards.
package event

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// SchemaVersion is the current event schema version.
// Increment this when making breaking changes to Event.
const SchemaVersion = 1

// Category groups event types by the payload shape they carry.
type Category string

// Event categories. Each maps to exactly one payload struct in Data.
const (
	CategorySession  Category = "session"
	CategoryPlayback Category = "playback"
	CategoryLibrary  Category = "library"
	CategoryUI       Category = "ui"
	CategoryDSP      Category = "dsp"
	CategorySearch   Category = "search"
)

// Type identifies a single kind of observable action.
// The set is closed: Validate rejects types not listed below.
type Type string

// Session lifecycle events.
const (
	TypeSessionStart     Type = "session.start"
	TypeSessionEnd       Type = "session.end"
	TypeSessionHeartbeat Type = "session.heartbeat"
)

// Playback lifecycle events, emitted by the inference layer.
const (
	TypePlaybackStart    Type = "playback.start"
	TypePlaybackResume   Type = "playback.resume"
	TypePlaybackPause    Type = "playback.pause"
	TypePlaybackComplete Type = "playback.complete"
	TypePlaybackProgress Type = "playback.progress"
	TypePlaybackSeek     Type = "playback.seek"
	TypePlaybackSkip     Type = "playback.skip"
)

// Library interaction events.
const (
	TypeLibraryAdd            Type = "library.add"
	TypeLibraryRemove         Type = "library.remove"
	TypeLibraryFavorite       Type = "library.favorite"
	TypeLibraryPlaylistCreate Type = "library.playlist_create"
	TypeLibraryPlaylistUpdate Type = "library.playlist_update"
)

// UI interaction events.
const (
	TypeUIClick       Type = "ui.click"
	TypeUINavigation  Type = "ui.navigation"
	TypeUIThemeChange Type = "ui.theme_change"
	TypeUIViewChange  Type = "ui.view_change"
)

// DSP (equalizer/effects) events.
const (
	TypeDSPEqChange     Type = "dsp.eq_change"
	TypeDSPPresetApply  Type = "dsp.preset_apply"
	TypeDSPEffectToggle Type = "dsp.effect_toggle"
)

// Search events.
const (
	TypeSearchQuery       Type = "search.query"
	TypeSearchResultClick Type = "search.result_click"
	TypeSearchFilterApply Type = "search.filter_apply"
)

// knownTypes is the closed enumeration accepted by Validate.
var knownTypes = map[Type]struct{}{
	TypeSessionStart: {}, TypeSessionEnd: {}, TypeSessionHeartbeat: {},
	TypePlaybackStart: {}, TypePlaybackResume: {}, TypePlaybackPause: {},
	TypePlaybackComplete: {}, TypePlaybackProgress: {}, TypePlaybackSeek: {},
	TypePlaybackSkip: {},
	TypeLibraryAdd:   {}, TypeLibraryRemove: {}, TypeLibraryFavorite: {},
	TypeLibraryPlaylistCreate: {}, TypeLibraryPlaylistUpdate: {},
	TypeUIClick: {}, TypeUINavigation: {}, TypeUIThemeChange: {}, TypeUIViewChange: {},
	TypeDSPEqChange: {}, TypeDSPPresetApply: {}, TypeDSPEffectToggle: {},
	TypeSearchQuery: {}, TypeSearchResultClick: {}, TypeSearchFilterApply: {},
}

// Known reports whether t is part of the closed taxonomy.
func Known(t Type) bool {
	_, ok := knownTypes[t]
	return ok
}

// Category returns the category implied by the type's prefix,
// or empty string for malformed types.
func (t Type) Category() Category {
	i := strings.IndexByte(string(t), '.')
	if i <= 0 {
		return ""
	}
	return Category(t[:i])
}

// Action returns the portion of the type after the category prefix.
func (t Type) Action() string {
	i := strings.IndexByte(string(t), '.')
	if i < 0 || i == len(t)-1 {
		return ""
	}
	return string(t[i+1:])
}

// PlatformContext carries optional, privacy-gated host environment details.
// Populated only when platform collection is enabled in config.
type PlatformContext struct {
	Platform   string `json:"platform,omitempty"` // desktop, mobile, web
	OS         string `json:"os,omitempty"`
	Browser    string `json:"browser,omitempty"`
	AppVersion string `json:"app_version,omitempty"`
}

// SessionEventData is the payload for session.* events.
type SessionEventData struct {
	Action     string `json:"action"` // start, end, heartbeat
	DurationMS int64  `json:"duration_ms,omitempty"`
	ActiveMS   int64  `json:"active_ms,omitempty"`
}

// PlaybackEventData is the payload for playback.* events.
type PlaybackEventData struct {
	Action   string  `json:"action"` // start, resume, pause, complete, progress, seek, skip
	TrackID  string  `json:"track_id"`
	Position float64 `json:"position,omitempty"` // seconds
	Duration float64 `json:"duration,omitempty"` // seconds
	Percent  int     `json:"percent_complete,omitempty"`
	SeekFrom float64 `json:"seek_from,omitempty"`
	SeekTo   float64 `json:"seek_to,omitempty"`
	Codec    string  `json:"codec,omitempty"`
	Bitrate  int     `json:"bitrate,omitempty"`
	Source   string  `json:"source,omitempty"` // local, stream, radio
	Reason   string  `json:"reason,omitempty"` // skip reason: next, previous, error
}

// LibraryEventData is the payload for library.* events.
type LibraryEventData struct {
	Action     string `json:"action"`
	TrackID    string `json:"track_id,omitempty"`
	PlaylistID string `json:"playlist_id,omitempty"`
}

// UIEventData is the payload for ui.* events.
type UIEventData struct {
	Action  string `json:"action"`
	Element string `json:"element,omitempty"`
	View    string `json:"view,omitempty"`
	Theme   string `json:"theme,omitempty"`
}

// DSPEventData is the payload for dsp.* events.
type DSPEventData struct {
	Action  string  `json:"action"`
	Band    int     `json:"band,omitempty"`
	Gain    float64 `json:"gain,omitempty"`
	Preset  string  `json:"preset,omitempty"`
	Effect  string  `json:"effect,omitempty"`
	Enabled bool    `json:"enabled,omitempty"`
}

// SearchEventData is the payload for search.* events.
type SearchEventData struct {
	Action      string `json:"action"`
	Query       string `json:"query,omitempty"`
	ResultCount int    `json:"result_count,omitempty"`
	ResultID    string `json:"result_id,omitempty"`
	Filter      string `json:"filter,omitempty"`
}

// Data is the tagged payload union. Category is the discriminator; exactly
// one of the payload pointers matching it must be non-nil.
type Data struct {
	Category Category `json:"type"`

	Session  *SessionEventData  `json:"session,omitempty"`
	Playback *PlaybackEventData `json:"playback,omitempty"`
	Library  *LibraryEventData  `json:"library,omitempty"`
	UI       *UIEventData       `json:"ui,omitempty"`
	DSP      *DSPEventData      `json:"dsp,omitempty"`
	Search   *SearchEventData   `json:"search,omitempty"`
}

// Event is a single captured telemetry record.
type Event struct {
	SchemaVersion int `json:"schema_version,omitempty"`

	EventID   string           `json:"event_id"`
	Type      Type             `json:"event_type"`
	Timestamp time.Time        `json:"timestamp"`
	SessionID string           `json:"session_id,omitempty"`
	Platform  *PlatformContext `json:"platform,omitempty"`
	Data      Data             `json:"data"`
}

// New creates an event with a unique ID, capture timestamp, and schema version.
// SessionID and Platform are filled in by the engine at enrichment time.
func New(t Type, data Data) *Event {
	return &Event{
		SchemaVersion: SchemaVersion,
		EventID:       uuid.New().String(),
		Type:          t,
		Timestamp:     time.Now().UTC(),
		Data:          data,
	}
}

// Validate checks that the event is well-formed: the type belongs to the
// closed taxonomy, and the payload union is populated consistently with the
// category implied by the type prefix.
func (e *Event) Validate() error {
	if e.EventID == "" {
		return &ValidationError{Field: "event_id", Message: "required"}
	}
	if e.Type == "" {
		return &ValidationError{Field: "event_type", Message: "required"}
	}
	if !Known(e.Type) {
		return &ValidationError{Field: "event_type", Message: "unknown type " + string(e.Type)}
	}
	want := e.Type.Category()
	if e.Data.Category != want {
		return &ValidationError{Field: "data.type", Message: "category " + string(e.Data.Category) + " does not match event type " + string(e.Type)}
	}
	if got := e.Data.populated(); got != want {
		return &ValidationError{Field: "data", Message: "payload does not match category " + string(want)}
	}
	return nil
}

// populated returns the category of the single populated payload pointer,
// or empty string when zero or multiple payloads are set.
func (d *Data) populated() Category {
	var got Category
	set := func(c Category) bool {
		if got != "" {
			got = "" // more than one payload populated
			return false
		}
		got = c
		return true
	}
	ok := true
	if d.Session != nil {
		ok = set(CategorySession)
	}
	if d.Playback != nil && ok {
		ok = set(CategoryPlayback)
	}
	if d.Library != nil && ok {
		ok = set(CategoryLibrary)
	}
	if d.UI != nil && ok {
		ok = set(CategoryUI)
	}
	if d.DSP != nil && ok {
		ok = set(CategoryDSP)
	}
	if d.Search != nil && ok {
		ok = set(CategorySearch)
	}
	if !ok {
		return ""
	}
	return got
}

// JSON serializes the event to its wire shape.
func (e *Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// ValidationError represents a field validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// SessionData builds a session-category payload union.
func SessionData(d *SessionEventData) Data {
	return Data{Category: CategorySession, Session: d}
}

// PlaybackData builds a playback-category payload union.
func PlaybackData(d *PlaybackEventData) Data {
	return Data{Category: CategoryPlayback, Playback: d}
}

// LibraryData builds a library-category payload union.
func LibraryData(d *LibraryEventData) Data {
	return Data{Category: CategoryLibrary, Library: d}
}

// UIData builds a ui-category payload union.
func UIData(d *UIEventData) Data {
	return Data{Category: CategoryUI, UI: d}
}

// DSPData builds a dsp-category payload union.
func DSPData(d *DSPEventData) Data {
	return Data{Category: CategoryDSP, DSP: d}
}

// SearchData builds a search-category payload union.
func SearchData(d *SearchEventData) Data {
	return Data{Category: CategorySearch, Search: d}
}
