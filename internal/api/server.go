// SPDX-License-Identifier: MIT

// Package api serves the HTTP control plane: stream and destination
// operations, configuration, health and the telemetry websocket mount.
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/streamfan/streamfan/internal/config"
	"github.com/streamfan/streamfan/internal/hub"
	"github.com/streamfan/streamfan/internal/ingest"
	"github.com/streamfan/streamfan/internal/log"
	"github.com/streamfan/streamfan/internal/relay"
)

const (
	defaultRateLimit  = 100
	defaultRateWindow = 15 * time.Minute

	// platformsCacheTTL caps how stale the destination list may be served.
	// Every mutation invalidates the cache immediately.
	platformsCacheTTL = time.Second

	maxBodyBytes = 1 << 20
)

// Deps wires the control plane to the modules it fronts.
type Deps struct {
	Store      *config.Store
	Supervisor *relay.Supervisor
	Ingest     *ingest.Module
	Hub        *hub.Hub

	// Apply propagates a freshly persisted configuration into the running
	// modules. The daemon wiring owns the policy (stopping removed
	// sessions, reconfiguring drivers and ingest).
	Apply func(ctx context.Context, cfg *config.Config) error
}

// Options tune the HTTP surface.
type Options struct {
	Version         string
	RateLimit       int
	RateLimitWindow time.Duration
	AllowedOrigins  []string
}

// Server is the control-plane handler set. It holds no session state of its
// own; everything it serves is projected from the wired modules.
type Server struct {
	store      *config.Store
	sup        *relay.Supervisor
	ing        *ingest.Module
	hub        *hub.Hub
	apply      func(ctx context.Context, cfg *config.Config) error
	logger     zerolog.Logger
	version    string
	rateLimit  int
	rateWindow time.Duration
	origins    []string

	platformsMu   sync.Mutex
	platformsAt   time.Time
	platformsView []PlatformView
}

// New assembles the control plane server.
func New(deps Deps, opts Options) *Server {
	limit := opts.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}
	window := opts.RateLimitWindow
	if window <= 0 {
		window = defaultRateWindow
	}
	return &Server{
		store:      deps.Store,
		sup:        deps.Supervisor,
		ing:        deps.Ingest,
		hub:        deps.Hub,
		apply:      deps.Apply,
		logger:     log.WithComponent("api"),
		version:    opts.Version,
		rateLimit:  limit,
		rateWindow: window,
		origins:    opts.AllowedOrigins,
	}
}

// StreamStatus is the combined status document: the ingest snapshot plus the
// per-destination supervisor projection.
type StreamStatus struct {
	Ingest    ingest.Snapshot           `json:"ingest"`
	Platforms []relay.DestinationStatus `json:"platforms"`
	Timestamp int64                     `json:"timestamp"`
}

// StatusPayload builds the status document. The telemetry hub uses it as its
// status provider, so websocket status envelopes and GET /api/stream/status
// serve the same projection.
func (s *Server) StatusPayload() any {
	return StreamStatus{
		Ingest:    s.ing.Snapshot(),
		Platforms: s.sup.Snapshot(),
		Timestamp: time.Now().UnixMilli(),
	}
}

// InvalidatePlatforms drops the cached destination list. The daemon calls it
// when the configuration changes underneath the API (file watch, SIGHUP).
func (s *Server) InvalidatePlatforms() {
	s.platformsMu.Lock()
	s.platformsAt = time.Time{}
	s.platformsView = nil
	s.platformsMu.Unlock()
}

// platformList serves the masked destination views, cached briefly. Unmasked
// requests bypass the cache so stream keys never sit in it.
func (s *Server) platformList(includeKeys bool) ([]PlatformView, error) {
	if includeKeys {
		cfg, err := s.store.Load()
		if err != nil {
			return nil, err
		}
		return platformViews(cfg.StreamManager.Destinations, true), nil
	}

	s.platformsMu.Lock()
	defer s.platformsMu.Unlock()
	if s.platformsView != nil && time.Since(s.platformsAt) < platformsCacheTTL {
		return s.platformsView, nil
	}
	cfg, err := s.store.Load()
	if err != nil {
		return nil, err
	}
	s.platformsView = platformViews(cfg.StreamManager.Destinations, false)
	s.platformsAt = time.Now()
	return s.platformsView, nil
}

// persist validates, saves and applies a new configuration document, then
// drops the platform cache.
func (s *Server) persist(ctx context.Context, cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if err := s.store.Save(ctx, cfg); err != nil {
		return err
	}
	if s.apply != nil {
		if err := s.apply(ctx, cfg); err != nil {
			return err
		}
	}
	s.InvalidatePlatforms()
	return nil
}
