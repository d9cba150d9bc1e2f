// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/streamfan/streamfan/internal/config"
	"github.com/streamfan/streamfan/internal/registry"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

// stubTranscoder puts a fake ffmpeg on PATH so relay sessions spawn a
// long-sleeping child instead of the real binary.
func stubTranscoder(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	script := filepath.Join(dir, "ffmpeg")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nexec sleep 30\n"), 0o755); err != nil {
		t.Fatalf("write stub transcoder: %v", err)
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Version: "1.0",
		StreamManager: config.StreamManager{
			Ingest: config.IngestConfig{
				Host:      "127.0.0.1",
				Port:      freePort(t),
				App:       "live",
				StreamKey: "ingest-secret",
				Enabled:   false,
			},
			Destinations: []config.Destination{
				{ID: "main-dest", Name: "twitch", URL: "rtmp://ingest.twitch.tv/app", StreamKey: "twitch-key", Enabled: true},
				{ID: "backup", Name: "custom", URL: "rtmp://backup.example.com/live", StreamKey: "backup-key", Enabled: false},
			},
		},
		UI: config.UIConfig{Host: "127.0.0.1", Port: 8080},
	}
}

// newActiveApp wires an App from cfg and drives the registry to ACTIVE.
// Deactivation and destruction run on test cleanup.
func newActiveApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	ctx := context.Background()

	store := config.NewStore(filepath.Join(t.TempDir(), "config.json"))
	if err := store.Save(ctx, cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}

	app, err := newApp(store, cfg, appOptions{Version: "test"})
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	if err := app.registry.InitializeAll(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := app.registry.ActivateAll(ctx); err != nil {
		t.Fatalf("activate: %v", err)
	}
	t.Cleanup(func() {
		_ = app.registry.DeactivateAll(context.Background())
		_ = app.registry.DestroyAll(context.Background())
	})
	return app
}

func TestAppLifecycle(t *testing.T) {
	app := newActiveApp(t, testConfig(t))

	for name, state := range map[string]registry.State{
		"ingest": app.ing.Status().State,
		"relay":  app.sup.Status().State,
		"hub":    app.hub.Status().State,
	} {
		if state != registry.StateActive {
			t.Fatalf("%s state = %v, want %v", name, state, registry.StateActive)
		}
	}
	if app.ing.Snapshot().Listening {
		t.Fatal("ingest listening despite enabled=false")
	}
}

func TestApplyConfigStopsDisabledSessions(t *testing.T) {
	stubTranscoder(t)
	cfg := testConfig(t)
	app := newActiveApp(t, cfg)

	if err := app.sup.Start("main-dest"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if ids := app.sup.ActiveIDs(); len(ids) != 1 {
		t.Fatalf("active ids = %v, want one", ids)
	}

	next := cfg.Clone()
	next.StreamManager.Destinations[0].Enabled = false
	if err := app.ApplyConfig(context.Background(), next); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if ids := app.sup.ActiveIDs(); len(ids) != 0 {
		t.Fatalf("active ids after disable = %v, want none", ids)
	}
}

func TestApplyConfigRestartsIngestOnTupleChange(t *testing.T) {
	cfg := testConfig(t)
	cfg.StreamManager.Ingest.Enabled = true
	app := newActiveApp(t, cfg)

	if snap := app.ing.Snapshot(); !snap.Listening {
		t.Fatalf("ingest not listening after activate: %+v", snap)
	}

	next := cfg.Clone()
	next.StreamManager.Ingest.Port = freePort(t)
	if err := app.ApplyConfig(context.Background(), next); err != nil {
		t.Fatalf("apply: %v", err)
	}

	snap := app.ing.Snapshot()
	if !snap.Listening {
		t.Fatalf("ingest not listening after reconfigure: %+v", snap)
	}
	if want := strconv.Itoa(next.StreamManager.Ingest.Port); !strings.Contains(snap.IngestURL, want) {
		t.Fatalf("ingest url %q does not carry new port %s", snap.IngestURL, want)
	}
}

func TestSplitOrigins(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"   ", nil},
		{"https://studio.example.com", []string{"https://studio.example.com"}},
		{"https://a.example, https://b.example ,,", []string{"https://a.example", "https://b.example"}},
	}
	for _, tt := range tests {
		got := splitOrigins(tt.in)
		if len(got) != len(tt.want) {
			t.Fatalf("splitOrigins(%q) = %v, want %v", tt.in, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Fatalf("splitOrigins(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
			}
		}
	}
}

func TestSamplingRate(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{"", 1.0},
		{"0.25", 0.25},
		{"0", 0},
		{"not-a-number", 1.0},
		{"-0.5", 1.0},
	}
	for _, tt := range tests {
		if tt.raw == "" {
			_ = os.Unsetenv("TRACING_SAMPLING_RATE")
		} else {
			t.Setenv("TRACING_SAMPLING_RATE", tt.raw)
		}
		if got := samplingRate(); got != tt.want {
			t.Fatalf("samplingRate() with %q = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestTelemetryConfigDefaults(t *testing.T) {
	for _, key := range []string{
		"TRACING_ENABLED", "TRACING_SERVICE", "TRACING_ENVIRONMENT",
		"TRACING_EXPORTER", "TRACING_ENDPOINT", "TRACING_SAMPLING_RATE",
	} {
		_ = os.Unsetenv(key)
	}

	cfg := telemetryConfig()
	if cfg.Enabled {
		t.Fatal("tracing enabled by default")
	}
	if cfg.ServiceName != "streamfan" || cfg.Environment != "production" {
		t.Fatalf("unexpected identity defaults: %+v", cfg)
	}
	if cfg.ExporterType != "grpc" || cfg.Endpoint != "localhost:4317" {
		t.Fatalf("unexpected exporter defaults: %+v", cfg)
	}
	if cfg.SamplingRate != 1.0 {
		t.Fatalf("sampling rate = %v, want 1.0", cfg.SamplingRate)
	}

	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("TRACING_SERVICE", "streamfan-staging")
	cfg = telemetryConfig()
	if !cfg.Enabled || cfg.ServiceName != "streamfan-staging" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}
