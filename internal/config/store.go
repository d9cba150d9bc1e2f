// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/streamfan/streamfan/internal/log"
)

const (
	// cacheTTL bounds how long a parsed snapshot is served without a re-read.
	cacheTTL = time.Second
	// pollInterval is the mtime polling cadence for Watch.
	pollInterval = time.Second
	// watchDebounce coalesces editor write bursts seen via fsnotify.
	watchDebounce = 500 * time.Millisecond
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamfan_config_cache_hits_total",
		Help: "Config loads served from the in-memory snapshot.",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamfan_config_cache_misses_total",
		Help: "Config loads that re-read and re-parsed the file.",
	})
	reloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamfan_config_reloads_total",
		Help: "Config reloads triggered by the file watcher.",
	})
)

type cacheEntry struct {
	absPath  string
	modTime  time.Time
	loadedAt time.Time
	cfg      *Config
}

// Store owns the on-disk configuration file: cached loads, atomic saves and
// change watching. All methods are safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	path   string
	loader *Loader
	cache  *cacheEntry
	parses int // incremented on every real parse, read by tests
	logger zerolog.Logger
}

// NewStore creates a store bound to path.
func NewStore(path string) *Store {
	return &Store{
		path:   path,
		loader: NewLoader(path),
		logger: log.WithComponent("config"),
	}
}

// Path returns the configured file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the current configuration. A snapshot cached under the same
// (absolute path, mtime) within the TTL is served without touching the
// parser; callers always receive a private deep copy.
func (s *Store) Load() (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	abs, err := filepath.Abs(s.path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	var modTime time.Time
	if fi, err := os.Stat(abs); err == nil {
		modTime = fi.ModTime()
	}

	if c := s.cache; c != nil &&
		c.absPath == abs &&
		c.modTime.Equal(modTime) &&
		time.Since(c.loadedAt) < cacheTTL {
		cacheHits.Inc()
		return c.cfg.Clone(), nil
	}

	cacheMisses.Inc()
	cfg, err := s.loader.Load()
	if err != nil {
		return nil, err
	}
	s.parses++
	s.cache = &cacheEntry{
		absPath:  abs,
		modTime:  modTime,
		loadedAt: time.Now(),
		cfg:      cfg,
	}
	return cfg.Clone(), nil
}

// Save validates and writes the configuration atomically (temp file +
// rename), creating the parent directory when missing, then invalidates the
// cache so the next Load observes the new document.
func (s *Store) Save(ctx context.Context, cfg *Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	pending, err := renameio.NewPendingFile(s.path, renameio.WithPermissions(0o600))
	if err != nil {
		return fmt.Errorf("create pending config file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			s.logger.Debug().Err(err).Msg("cleanup pending config file")
		}
	}()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace config: %w", err)
	}

	s.cache = nil
	s.logger.Info().
		Str(log.FieldEvent, "config.saved").
		Str("path", s.path).
		Int("destinations", len(cfg.StreamManager.Destinations)).
		Msg("configuration saved")
	return nil
}

// Invalidate drops the cached snapshot.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cache = nil
	s.mu.Unlock()
}

// Watch observes the file for changes until ctx is cancelled and invokes
// onChange with each successfully reloaded configuration. Detection combines
// a one-second mtime poll with fsnotify events on the parent directory so
// atomic renames are caught promptly. onChange runs on the watch goroutine
// and must not block.
func (s *Store) Watch(ctx context.Context, onChange func(*Config)) {
	abs, err := filepath.Abs(s.path)
	if err != nil {
		s.logger.Error().Err(err).Str("path", s.path).Msg("config watch disabled: unresolvable path")
		return
	}

	var lastMod time.Time
	if fi, err := os.Stat(abs); err == nil {
		lastMod = fi.ModTime()
	}

	watcher, werr := fsnotify.NewWatcher()
	if werr == nil {
		if err := watcher.Add(filepath.Dir(abs)); err != nil {
			s.logger.Warn().Err(err).Msg("fsnotify unavailable, falling back to mtime polling")
			_ = watcher.Close()
			watcher = nil
		}
	} else {
		s.logger.Warn().Err(werr).Msg("fsnotify unavailable, falling back to mtime polling")
		watcher = nil
	}

	go s.watchLoop(ctx, abs, lastMod, watcher, onChange)
	s.logger.Info().
		Str(log.FieldEvent, "config.watcher_started").
		Str("path", abs).
		Msg("watching config file for changes")
}

func (s *Store) watchLoop(ctx context.Context, abs string, lastMod time.Time, watcher *fsnotify.Watcher, onChange func(*Config)) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	if watcher != nil {
		defer func() { _ = watcher.Close() }()
	}

	// Debounced fsnotify events funnel through trigger so every reload runs
	// on this goroutine.
	trigger := make(chan struct{}, 1)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	reload := func() {
		fi, err := os.Stat(abs)
		if err != nil {
			return
		}
		if fi.ModTime().Equal(lastMod) {
			return
		}
		lastMod = fi.ModTime()
		cfg, err := s.Load()
		if err != nil {
			s.logger.Error().
				Err(err).
				Str(log.FieldEvent, "config.reload_failed").
				Msg("config changed on disk but failed to load")
			return
		}
		reloads.Inc()
		s.logger.Info().
			Str(log.FieldEvent, "config.reloaded").
			Str("path", abs).
			Msg("configuration reloaded")
		onChange(cfg)
	}

	var events chan fsnotify.Event
	var errs chan error
	if watcher != nil {
		events = watcher.Events
		errs = watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Str(log.FieldEvent, "config.watcher_stopped").Msg("config watcher stopped")
			return

		case <-ticker.C:
			reload()

		case <-trigger:
			reload()

		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			})

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.logger.Error().Err(err).Str(log.FieldEvent, "config.watcher_error").Msg("config watcher error")
		}
	}
}
