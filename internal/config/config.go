// Playlytics - Embedded Playback Telemetry for Media Applications
// Copyright 2026 Playlytics contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playlytics/playlytics

// Package config defines the engine configuration surface and its layered
// loading (defaults, YAML file, environment). The engine itself holds an
// immutable snapshot; UpdateConfig swaps in a merged copy so callers never
// observe a half-applied change.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the externally-settable engine configuration.
type Config struct {
	// Enabled is the master switch. Disabling force-closes any active
	// session before taking effect.
	Enabled bool `koanf:"enabled"`

	// APIEndpoint receives flushed event batches as a JSON array.
	APIEndpoint string `koanf:"api_endpoint" validate:"omitempty,url"`

	// Per-category collection toggles.
	CollectPlaybackData   bool `koanf:"collect_playback_data"`
	CollectUIInteractions bool `koanf:"collect_ui_interactions"`
	CollectSearchData     bool `koanf:"collect_search_data"`
	CollectPlatformInfo   bool `koanf:"collect_platform_info"`
	ShareAnonymousStats   bool `koanf:"share_anonymous_stats"`

	// BatchSize is the buffer occupancy that triggers an automatic flush.
	BatchSize int `koanf:"batch_size" validate:"min=1"`

	// FlushInterval is the timer-driven flush period.
	FlushInterval time.Duration `koanf:"flush_interval" validate:"min=1s"`

	// MaxBufferSize bounds the buffer; oldest events are evicted beyond it.
	MaxBufferSize int `koanf:"max_buffer_size" validate:"min=1"`

	// DataRetentionDays bounds how long undelivered batches stay spooled.
	DataRetentionDays int `koanf:"data_retention_days" validate:"min=1"`

	// Debug makes validation failures and evictions loud.
	Debug bool `koanf:"debug"`

	// HeartbeatInterval is the session.heartbeat emission period.
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval" validate:"min=1s"`

	// MetricsAddr is the listen address of the daemon's diagnostics server
	// (Prometheus metrics and health). Empty disables it. Library embedders
	// ignore this field.
	MetricsAddr string `koanf:"metrics_addr" validate:"omitempty,hostname_port"`

	Playback  PlaybackConfig  `koanf:"playback"`
	Transport TransportConfig `koanf:"transport"`
	Log       LogConfig       `koanf:"log"`
}

// PlaybackConfig tunes the lifecycle inference heuristics.
// The epsilons are heuristics, not guarantees; see the tracker docs.
type PlaybackConfig struct {
	// ProgressThreshold is the minimum position delta before a
	// playback.progress event is emitted.
	ProgressThreshold time.Duration `koanf:"progress_threshold" validate:"min=1s"`

	// ProgressInterval is the sampling period of the progress ticker.
	ProgressInterval time.Duration `koanf:"progress_interval" validate:"min=1s"`

	// NearEndEpsilon: pausing within this distance of the end counts as
	// completion rather than a pause.
	NearEndEpsilon time.Duration `koanf:"near_end_epsilon"`

	// FreshStartEpsilon: a play edge below this position counts as a fresh
	// start rather than a resume.
	FreshStartEpsilon time.Duration `koanf:"fresh_start_epsilon"`
}

// TransportConfig selects and tunes the delivery collaborator.
type TransportConfig struct {
	// Kind selects the transport: http or nats.
	Kind string `koanf:"kind" validate:"oneof=http nats"`

	// Timeout bounds a single delivery attempt.
	Timeout time.Duration `koanf:"timeout" validate:"min=1s"`

	// RateLimit caps delivery attempts per second; Burst allows short spikes.
	RateLimit float64 `koanf:"rate_limit" validate:"gt=0"`
	Burst     int     `koanf:"burst" validate:"min=1"`

	// JWTSecret, when set, makes the HTTP transport mint a short-lived
	// bearer token per batch, with DeviceID as the subject.
	JWTSecret string `koanf:"jwt_secret"`
	DeviceID  string `koanf:"device_id"`

	// NATSURL is the broker address for the nats transport.
	NATSURL string `koanf:"nats_url"`

	// SpoolDir, when set, enables the badger spool for batches that
	// exhaust delivery.
	SpoolDir string `koanf:"spool_dir"`
}

// LogConfig configures the shared zerolog logger.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// Default returns the configuration defaults. These are applied first, then
// overridden by the config file and environment variables.
func Default() *Config {
	return &Config{
		Enabled:               true,
		APIEndpoint:           "",
		CollectPlaybackData:   true,
		CollectUIInteractions: true,
		CollectSearchData:     true,
		CollectPlatformInfo:   true,
		ShareAnonymousStats:   false,
		BatchSize:             100,
		FlushInterval:         60 * time.Second,
		MaxBufferSize:         500,
		DataRetentionDays:     90,
		Debug:                 false,
		HeartbeatInterval:     30 * time.Second,
		MetricsAddr:           "127.0.0.1:9600",
		Playback: PlaybackConfig{
			ProgressThreshold: 15 * time.Second,
			ProgressInterval:  5 * time.Second,
			NearEndEpsilon:    time.Second,
			FreshStartEpsilon: time.Second,
		},
		Transport: TransportConfig{
			Kind:      "http",
			Timeout:   10 * time.Second,
			RateLimit: 1,
			Burst:     3,
			NATSURL:   "nats://127.0.0.1:4222",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// singleton validator instance; validator caches struct metadata, so one
// shared instance is both faster and thread-safe.
var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks field constraints plus the cross-field invariant that the
// batch threshold cannot exceed the buffer capacity.
func (c *Config) Validate() error {
	if err := structValidator().Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if c.BatchSize > c.MaxBufferSize {
		return fmt.Errorf("config validation: batch_size %d exceeds max_buffer_size %d", c.BatchSize, c.MaxBufferSize)
	}
	return nil
}

// Partial carries an update to a subset of fields. Nil pointers leave the
// current value untouched. Nested structs are replaced wholesale (shallow
// merge, matching the engine's updateConfig contract).
type Partial struct {
	Enabled               *bool
	APIEndpoint           *string
	CollectPlaybackData   *bool
	CollectUIInteractions *bool
	CollectSearchData     *bool
	CollectPlatformInfo   *bool
	ShareAnonymousStats   *bool
	BatchSize             *int
	FlushInterval         *time.Duration
	MaxBufferSize         *int
	DataRetentionDays     *int
	Debug                 *bool
	HeartbeatInterval     *time.Duration
	MetricsAddr           *string
	Playback              *PlaybackConfig
	Transport             *TransportConfig
	Log                   *LogConfig
}

// Merge returns a copy of c with the populated fields of p applied.
// The receiver is never mutated, so a caller holding the old snapshot keeps
// a consistent view while the engine swaps in the merged one.
func (c *Config) Merge(p Partial) *Config {
	out := *c
	if p.Enabled != nil {
		out.Enabled = *p.Enabled
	}
	if p.APIEndpoint != nil {
		out.APIEndpoint = *p.APIEndpoint
	}
	if p.CollectPlaybackData != nil {
		out.CollectPlaybackData = *p.CollectPlaybackData
	}
	if p.CollectUIInteractions != nil {
		out.CollectUIInteractions = *p.CollectUIInteractions
	}
	if p.CollectSearchData != nil {
		out.CollectSearchData = *p.CollectSearchData
	}
	if p.CollectPlatformInfo != nil {
		out.CollectPlatformInfo = *p.CollectPlatformInfo
	}
	if p.ShareAnonymousStats != nil {
		out.ShareAnonymousStats = *p.ShareAnonymousStats
	}
	if p.BatchSize != nil {
		out.BatchSize = *p.BatchSize
	}
	if p.FlushInterval != nil {
		out.FlushInterval = *p.FlushInterval
	}
	if p.MaxBufferSize != nil {
		out.MaxBufferSize = *p.MaxBufferSize
	}
	if p.DataRetentionDays != nil {
		out.DataRetentionDays = *p.DataRetentionDays
	}
	if p.Debug != nil {
		out.Debug = *p.Debug
	}
	if p.HeartbeatInterval != nil {
		out.HeartbeatInterval = *p.HeartbeatInterval
	}
	if p.MetricsAddr != nil {
		out.MetricsAddr = *p.MetricsAddr
	}
	if p.Playback != nil {
		out.Playback = *p.Playback
	}
	if p.Transport != nil {
		out.Transport = *p.Transport
	}
	if p.Log != nil {
		out.Log = *p.Log
	}
	return &out
}
