// Playlytics - Embedded Playback Telemetry for Media Applications
// Copyright 2026 Playlytics contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playlytics/playlytics

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsMatchContract(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if !cfg.Enabled {
		t.Error("expected enabled by default")
	}
	if cfg.BatchSize != 100 {
		t.Errorf("expected batch size 100, got %d", cfg.BatchSize)
	}
	if cfg.FlushInterval != 60*time.Second {
		t.Errorf("expected 60s flush interval, got %v", cfg.FlushInterval)
	}
	if cfg.MaxBufferSize != 500 {
		t.Errorf("expected max buffer 500, got %d", cfg.MaxBufferSize)
	}
	if cfg.DataRetentionDays != 90 {
		t.Errorf("expected 90 retention days, got %d", cfg.DataRetentionDays)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestValidateRejectsBatchLargerThanBuffer(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.BatchSize = 600
	cfg.MaxBufferSize = 500
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation failure when batch_size > max_buffer_size")
	}
}

func TestValidateRejectsBadEndpoint(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.APIEndpoint = "not a url"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation failure for malformed endpoint")
	}

	cfg.APIEndpoint = "https://telemetry.example.com/v1/events"
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid endpoint to pass, got %v", err)
	}
}

func TestValidateRejectsBadTransportKind(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Transport.Kind = "carrier-pigeon"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation failure for unknown transport kind")
	}
}

func TestMergeIsShallowAndNonDestructive(t *testing.T) {
	t.Parallel()

	base := Default()
	enabled := false
	batch := 50
	merged := base.Merge(Partial{
		Enabled:   &enabled,
		BatchSize: &batch,
	})

	if merged.Enabled {
		t.Error("expected merged config disabled")
	}
	if merged.BatchSize != 50 {
		t.Errorf("expected merged batch size 50, got %d", merged.BatchSize)
	}
	if merged.MaxBufferSize != base.MaxBufferSize {
		t.Error("untouched fields must carry over")
	}
	if !base.Enabled || base.BatchSize != 100 {
		t.Error("merge must not mutate the receiver")
	}
}

func TestMergeReplacesNestedStructsWholesale(t *testing.T) {
	t.Parallel()

	base := Default()
	merged := base.Merge(Partial{
		Playback: &PlaybackConfig{
			ProgressThreshold: 30 * time.Second,
			ProgressInterval:  10 * time.Second,
			NearEndEpsilon:    2 * time.Second,
			FreshStartEpsilon: time.Second,
		},
	})

	if merged.Playback.ProgressThreshold != 30*time.Second {
		t.Errorf("expected 30s threshold, got %v", merged.Playback.ProgressThreshold)
	}
	if base.Playback.ProgressThreshold != 15*time.Second {
		t.Error("merge must not mutate the receiver's nested config")
	}
}

func TestEnvTransform(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"PLAYLYTICS_BATCH_SIZE", "batch_size"},
		{"PLAYLYTICS_TRANSPORT__NATS_URL", "transport.nats_url"},
		{"PLAYLYTICS_LOG__LEVEL", "log.level"},
		{"PLAYLYTICS_COLLECT_PLAYBACK_DATA", "collect_playback_data"},
	}
	for _, tt := range tests {
		if got := envTransform(tt.in); got != tt.want {
			t.Errorf("envTransform(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadLayersFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "playlytics.yaml")
	yaml := []byte("batch_size: 25\nflush_interval: 30s\nlog:\n  level: debug\n")
	if err := os.WriteFile(path, yaml, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("PLAYLYTICS_MAX_BUFFER_SIZE", "250")
	t.Setenv("PLAYLYTICS_LOG__FORMAT", "console")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.BatchSize != 25 {
		t.Errorf("file layer: expected batch size 25, got %d", cfg.BatchSize)
	}
	if cfg.FlushInterval != 30*time.Second {
		t.Errorf("file layer: expected 30s flush interval, got %v", cfg.FlushInterval)
	}
	if cfg.MaxBufferSize != 250 {
		t.Errorf("env layer: expected max buffer 250, got %d", cfg.MaxBufferSize)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "console" {
		t.Errorf("expected log debug/console, got %+v", cfg.Log)
	}
	// Defaults survive under the overridden layers.
	if cfg.DataRetentionDays != 90 {
		t.Errorf("defaults layer: expected 90 retention days, got %d", cfg.DataRetentionDays)
	}
}

func TestLoadRejectsInvalidLayeredConfig(t *testing.T) {
	t.Setenv("PLAYLYTICS_BATCH_SIZE", "9999") // exceeds max_buffer_size default of 500

	if _, err := Load(); err == nil {
		t.Error("expected layered config to fail cross-field validation")
	}
}
