// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/streamfan/streamfan/internal/api"
	"github.com/streamfan/streamfan/internal/config"
	"github.com/streamfan/streamfan/internal/drivers"
	"github.com/streamfan/streamfan/internal/hub"
	"github.com/streamfan/streamfan/internal/ingest"
	"github.com/streamfan/streamfan/internal/log"
	"github.com/streamfan/streamfan/internal/netutil"
	"github.com/streamfan/streamfan/internal/registry"
	"github.com/streamfan/streamfan/internal/relay"
	"github.com/streamfan/streamfan/internal/telemetry"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

type appOptions struct {
	Version string
}

// App owns the module registry, the control-plane HTTP server and
// configuration propagation into the running modules.
type App struct {
	logger   zerolog.Logger
	store    *config.Store
	registry *registry.Registry

	ing     *ingest.Module
	sup     *relay.Supervisor
	hub     *hub.Hub
	drivers []drivers.Driver
	api     *api.Server

	httpAddr string
}

func newApp(store *config.Store, cfg *config.Config, opts appOptions) (*App, error) {
	a := &App{
		logger:   log.WithComponent("daemon"),
		store:    store,
		registry: registry.New(),
		httpAddr: netutil.JoinHostPort(cfg.UI.Host, cfg.UI.Port),
	}

	origins := splitOrigins(config.ParseString("ALLOWED_ORIGINS", ""))

	a.ing = ingest.New(cfg.StreamManager.Ingest)
	a.hub = hub.New(hub.Options{AllowedOrigins: origins})
	a.sup = relay.New(a.ing, relay.Options{Sink: a.hub})
	a.sup.Configure(cfg.StreamManager.Destinations)
	a.drivers = drivers.All()

	a.api = api.New(api.Deps{
		Store:      store,
		Supervisor: a.sup,
		Ingest:     a.ing,
		Hub:        a.hub,
		Apply:      a.ApplyConfig,
	}, api.Options{
		Version:        opts.Version,
		AllowedOrigins: origins,
	})
	a.hub.SetStatusProvider(a.api.StatusPayload)

	// Publisher transitions reach websocket clients as fresh status
	// documents.
	a.ing.Subscribe(func(ingest.Notification) { a.hub.PublishStatus() })

	if err := a.register(); err != nil {
		return nil, err
	}

	for _, d := range a.drivers {
		if err := d.Configure(cfg.StreamManager.Destinations); err != nil {
			a.logger.Warn().
				Err(err).
				Str(log.FieldPlatform, d.Platform()).
				Msg("driver rejected destinations")
		}
	}
	return a, nil
}

// register declares the lifecycle order: ingest, relay, hub, drivers, then
// the config watcher. The watcher goes last so reloads only fire once every
// module is active, and it is the first thing stopped on shutdown.
func (a *App) register() error {
	singletons := []struct {
		name string
		mod  registry.Module
		opts registry.Options
	}{
		{ingest.ModuleName, a.ing, registry.Options{}},
		{relay.ModuleName, a.sup, registry.Options{Deps: []string{ingest.ModuleName}}},
		{hub.ModuleName, a.hub, registry.Options{}},
	}
	for _, s := range singletons {
		mod := s.mod
		if err := a.registry.Register(s.name, func() (registry.Module, error) { return mod, nil }, s.opts); err != nil {
			return err
		}
	}
	for _, d := range a.drivers {
		drv := d
		name := drv.Platform() + "-driver"
		err := a.registry.Register(name, func() (registry.Module, error) { return drv, nil }, registry.Options{
			Exports: []string{drivers.Export},
		})
		if err != nil {
			return err
		}
	}

	watch := newWatchModule(a.store, func(cfg *config.Config) {
		if err := a.ApplyConfig(context.Background(), cfg); err != nil {
			a.logger.Error().
				Err(err).
				Str(log.FieldEvent, "config.apply_failed").
				Msg("failed to apply reloaded configuration")
		}
	})
	return a.registry.Register(watchModuleName, func() (registry.Module, error) { return watch, nil }, registry.Options{})
}

// ApplyConfig propagates a validated configuration into the running modules:
// sessions for removed or disabled destinations stop, the supervisor and
// drivers learn the new set, the ingest listener restarts only if its bind
// tuple changed, and websocket clients get a fresh status document.
func (a *App) ApplyConfig(ctx context.Context, cfg *config.Config) error {
	ctx, span := telemetry.Tracer("streamfan.daemon").Start(ctx, "config.apply")
	defer span.End()
	span.SetAttributes(telemetry.ConfigAttributes(
		len(cfg.StreamManager.Destinations),
		len(cfg.EnabledDestinations()),
		cfg.StreamManager.Ingest.Enabled,
		cfg.StreamManager.Ingest.Port,
	)...)

	enabled := make(map[string]bool, len(cfg.StreamManager.Destinations))
	for _, d := range cfg.StreamManager.Destinations {
		if d.Enabled {
			enabled[d.ID] = true
		}
	}
	for _, id := range a.sup.ActiveIDs() {
		if !enabled[id] {
			_ = a.sup.Stop(id)
		}
	}
	a.sup.Configure(cfg.StreamManager.Destinations)

	for _, d := range a.drivers {
		if err := d.Configure(cfg.StreamManager.Destinations); err != nil {
			a.logger.Warn().
				Err(err).
				Str(log.FieldPlatform, d.Platform()).
				Msg("driver rejected destinations")
		}
	}

	if err := a.ing.Reconfigure(ctx, cfg.StreamManager.Ingest); err != nil {
		span.SetAttributes(telemetry.ErrorAttributes("reconfigure")...)
		return fmt.Errorf("reconfigure ingest: %w", err)
	}

	a.hub.PublishStatus()
	a.api.InvalidatePlatforms()
	return nil
}

// Run brings every module up, serves the control plane and blocks until the
// context is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	if err := a.registry.InitializeAll(ctx); err != nil {
		return err
	}
	if err := a.registry.ActivateAll(ctx); err != nil {
		_ = a.registry.DeactivateAll(context.Background())
		return err
	}

	server := &http.Server{
		Addr:              a.httpAddr,
		Handler:           a.api.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info().
			Str(log.FieldEvent, "http.listening").
			Str(log.FieldAddr, a.httpAddr).
			Msg("control plane listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// SIGHUP forces a reload even when the file watcher missed the change
	// (editors that rewrite inodes, network filesystems).
	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				a.logger.Info().Str(log.FieldEvent, "config.sighup").Msg("reloading configuration")
				a.store.Invalidate()
				cfg, err := a.store.Load()
				if err != nil {
					a.logger.Error().Err(err).Msg("sighup reload failed")
					continue
				}
				if err := a.ApplyConfig(gctx, cfg); err != nil {
					a.logger.Error().Err(err).Msg("sighup apply failed")
				}
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown(server)
	})

	return g.Wait()
}

// shutdown stops the modules first, so relay children and the ingest
// listener die before the control plane stops answering, then drains the
// HTTP server and destroys the registry.
func (a *App) shutdown(server *http.Server) error {
	a.logger.Info().Str(log.FieldEvent, "daemon.stopping").Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	derr := a.registry.DeactivateAll(ctx)
	herr := server.Shutdown(ctx)
	dsterr := a.registry.DestroyAll(ctx)
	return errors.Join(derr, herr, dsterr)
}

func splitOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
