// SPDX-License-Identifier: MIT

// Command streamfand runs the fan-out relay daemon: one inbound RTMP ingest,
// per-destination relay children, and the HTTP control plane.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/streamfan/streamfan/internal/config"
	"github.com/streamfan/streamfan/internal/log"
	"github.com/streamfan/streamfan/internal/netutil"
	"github.com/streamfan/streamfan/internal/preflight"
	"github.com/streamfan/streamfan/internal/telemetry"
)

// Populated at build time via -ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print build information and exit")
	configPath := flag.String("config", "", "config file (overrides $CONFIG_PATH, default ./config.yaml)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("streamfand %s\ncommit: %s\nbuilt:  %s\n", version, commit, buildDate)
		os.Exit(0)
	}

	log.Configure(log.Config{Service: "streamfan"})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path := config.ResolvePath(*configPath)
	store := config.NewStore(path)
	cfg, err := store.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(log.FieldEvent, "startup.config_failed").
			Str("path", path).
			Msg("cannot load config")
	}
	if cfg.UI.Debug {
		log.Configure(log.Config{Level: "debug", Service: "streamfan"})
	}

	tel, err := telemetry.NewProvider(ctx, telemetryConfig())
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(log.FieldEvent, "startup.tracing_failed").
			Msg("tracing provider init failed")
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	// Port conflicts are fatal before any module comes up; a missing
	// transcoder only downgrades to a warning so the control plane stays
	// reachable for diagnosis.
	ports := []preflight.Port{
		{Name: "control plane", Host: cfg.UI.Host, Port: cfg.UI.Port},
	}
	if cfg.StreamManager.Ingest.Enabled {
		ports = append(ports, preflight.Port{
			Name: "rtmp ingest",
			Host: cfg.StreamManager.Ingest.Host,
			Port: cfg.StreamManager.Ingest.Port,
		})
	}
	if err := preflight.CheckPorts(ctx, ports); err != nil {
		logger.Fatal().
			Err(err).
			Str(log.FieldEvent, "startup.ports_unavailable").
			Msg("required ports are unavailable")
	}
	if banner, err := preflight.CheckTranscoder(ctx, ""); err != nil {
		logger.Warn().
			Err(err).
			Str(log.FieldEvent, "startup.transcoder_missing").
			Msg("relay launches will fail until ffmpeg is installed")
	} else {
		logger.Info().
			Str(log.FieldEvent, "startup.transcoder").
			Str("banner", banner).
			Msg("transcoder available")
	}

	logger.Info().
		Str(log.FieldEvent, "daemon.starting").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("config_path", store.Path()).
		Msg("starting streamfand")
	logger.Info().Msgf("→ Control plane: http://%s", netutil.JoinHostPort(netutil.RewriteBindAll(cfg.UI.Host), cfg.UI.Port))
	logger.Info().Msgf("→ Destinations: %d configured, %d enabled",
		len(cfg.StreamManager.Destinations), len(cfg.EnabledDestinations()))
	if cfg.StreamManager.Ingest.Enabled {
		logger.Info().Msgf("→ RTMP ingest: %s", netutil.JoinHostPort(cfg.StreamManager.Ingest.Host, cfg.StreamManager.Ingest.Port))
	} else {
		logger.Info().Msg("→ RTMP ingest: disabled (enable via POST /api/stream/connect)")
	}

	app, err := newApp(store, cfg, appOptions{Version: version})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(log.FieldEvent, "startup.wiring_failed").
			Msg("failed to assemble modules")
	}

	if err := app.Run(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str(log.FieldEvent, "daemon.failed").
			Msg("daemon exited with error")
	}
	logger.Info().Msg("shutdown complete")
}

// telemetryConfig assembles tracing options from the environment. Tracing is
// opt-in; without TRACING_ENABLED=true every span is a no-op.
func telemetryConfig() telemetry.Config {
	return telemetry.Config{
		Enabled:        config.ParseBool("TRACING_ENABLED", false),
		ServiceName:    config.ParseString("TRACING_SERVICE", "streamfan"),
		ServiceVersion: version,
		Environment:    config.ParseString("TRACING_ENVIRONMENT", "production"),
		ExporterType:   config.ParseString("TRACING_EXPORTER", "grpc"),
		Endpoint:       config.ParseString("TRACING_ENDPOINT", "localhost:4317"),
		SamplingRate:   samplingRate(),
	}
}

func samplingRate() float64 {
	raw := config.ParseString("TRACING_SAMPLING_RATE", "1.0")
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 {
		return 1.0
	}
	return f
}
