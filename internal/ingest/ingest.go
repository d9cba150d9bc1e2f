// SPDX-License-Identifier: MIT

// Package ingest runs the inbound RTMP listener and tracks the publisher
// lifecycle. It gates publishes on the configured stream key and fans status
// transitions out to subscribers (relay supervisor, websocket hub).
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/streamfan/streamfan/internal/config"
	"github.com/streamfan/streamfan/internal/log"
	"github.com/streamfan/streamfan/internal/netutil"
	"github.com/streamfan/streamfan/internal/registry"
	"github.com/streamfan/streamfan/internal/rtmp"
)

// ModuleName is the registry name of the ingest module.
const ModuleName = "ingest"

// eventQueueSize bounds pending status notifications. Hooks run on RTMP
// connection goroutines and never wait on subscribers.
const eventQueueSize = 32

// ErrKeyRejected is returned to the listener when a publish carries a stream
// key that does not match the configured one.
var ErrKeyRejected = errors.New("ingest: stream key rejected")

// StreamStatus is the publisher-facing state of the ingest endpoint.
type StreamStatus string

const (
	// StatusIdle means no publisher is connected.
	StatusIdle StreamStatus = "idle"
	// StatusConnecting means a publish was accepted but media has not
	// started flowing yet.
	StatusConnecting StreamStatus = "connecting"
	// StatusStreaming means a publisher is live on the listener.
	StatusStreaming StreamStatus = "streaming"
)

// Notification is delivered to subscribers on every status transition.
type Notification struct {
	Status     StreamStatus `json:"status"`
	StreamPath string       `json:"streamPath"`
}

// StatusCallback receives status notifications. Callbacks for all
// subscribers run serially on one event goroutine, so they must return
// promptly.
type StatusCallback func(Notification)

// Snapshot is the ingest state surfaced over the control API.
type Snapshot struct {
	Enabled    bool         `json:"enabled"`
	Listening  bool         `json:"listening"`
	Status     StreamStatus `json:"status"`
	StreamPath string       `json:"streamPath"`
	IngestURL  string       `json:"ingestUrl"`
}

type subscription struct {
	id string
	cb StatusCallback
}

// Module owns the embedded RTMP server. It implements registry.Module; the
// listener binds on Activate and is torn down on Deactivate.
type Module struct {
	registry.Base
	logger zerolog.Logger

	mu         sync.Mutex
	cfg        config.IngestConfig
	srv        *rtmp.Server
	boundPort  int
	status     StreamStatus
	actualPath string
	subs       []subscription

	events   chan Notification
	pumpDone chan struct{}
}

// New returns an unstarted ingest module for the given listener config.
func New(cfg config.IngestConfig) *Module {
	return &Module{
		Base:   registry.NewBase(ModuleName),
		logger: log.WithComponent("ingest"),
		cfg:    cfg,
		status: StatusIdle,
	}
}

// Initialize moves the module to INITIALIZED. The listener is not bound yet.
func (m *Module) Initialize(ctx context.Context) error {
	if err := m.BeginInitialize(); err != nil {
		return err
	}
	m.CompleteInitialize()
	return nil
}

// Activate starts the event pump and binds the RTMP listener. A bind failure
// (port already in use) marks the module errored and aborts activation.
func (m *Module) Activate(ctx context.Context) error {
	if err := m.BeginActivate(); err != nil {
		return err
	}
	m.startPump()
	if err := m.ensureStarted(); err != nil {
		m.stopPump()
		m.Fail(err)
		return err
	}
	m.CompleteActivate()
	return nil
}

// Deactivate closes the listener, disconnecting any publisher, and stops the
// event pump. Subscriptions survive for the next activation.
func (m *Module) Deactivate(ctx context.Context) error {
	if err := m.BeginDeactivate(); err != nil {
		return err
	}
	m.stopServer()
	m.stopPump()
	m.CompleteDeactivate()
	return nil
}

// Destroy releases all module resources.
func (m *Module) Destroy(ctx context.Context) error {
	if err := m.BeginDestroy(); err != nil {
		return err
	}
	m.stopServer()
	m.stopPump()
	m.mu.Lock()
	m.subs = nil
	m.mu.Unlock()
	m.CompleteDestroy()
	return nil
}

// Subscribe registers a status callback and returns its subscription id.
func (m *Module) Subscribe(cb StatusCallback) string {
	id := uuid.NewString()
	m.mu.Lock()
	m.subs = append(m.subs, subscription{id: id, cb: cb})
	m.mu.Unlock()
	return id
}

// Unsubscribe removes a subscription. Unknown ids report false.
func (m *Module) Unsubscribe(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.subs {
		if s.id == id {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return true
		}
	}
	return false
}

// StreamPath returns the path relay children subscribe to: the live
// publisher's actual path, or the configured "/app/key" default.
func (m *Module) StreamPath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamPathLocked()
}

// IngestURL is the publisher-facing server URL. Wildcard binds are rewritten
// to localhost so the URL is dialable as shown.
func (m *Module) IngestURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ingestURLLocked()
}

// SourceURL is the full local URL relay children read from, including the
// stream path.
func (m *Module) SourceURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	host := netutil.RewriteBindAll(m.cfg.Host)
	return "rtmp://" + netutil.JoinHostPort(host, m.portLocked()) + m.streamPathLocked()
}

// Snapshot reports the ingest state for the control API and websocket hub.
func (m *Module) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Enabled:    m.cfg.Enabled,
		Listening:  m.srv != nil,
		Status:     m.status,
		StreamPath: m.streamPathLocked(),
		IngestURL:  m.ingestURLLocked(),
	}
}

// StreamingActive reports whether a publisher is currently live.
func (m *Module) StreamingActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status == StatusStreaming
}

// Reconfigure applies a new listener configuration. The listener restarts
// only when the bind tuple (host, port, app, stream key) or the enabled flag
// changed; anything else is a plain field update.
func (m *Module) Reconfigure(ctx context.Context, cfg config.IngestConfig) error {
	m.mu.Lock()
	same := m.cfg.Tuple() == cfg.Tuple() && m.cfg.Enabled == cfg.Enabled
	m.cfg = cfg
	m.mu.Unlock()
	if same {
		return nil
	}
	if m.State() != registry.StateActive {
		return nil
	}

	m.stopServer()
	if err := m.ensureStarted(); err != nil {
		m.Fail(err)
		return err
	}
	m.logger.Info().
		Str(log.FieldEvent, "ingest.reconfigured").
		Str(log.FieldAddr, netutil.JoinHostPort(cfg.Host, cfg.Port)).
		Msg("ingest listener restarted")
	return nil
}

// SetEnabled switches the listener on or off without touching the rest of
// the configuration.
func (m *Module) SetEnabled(ctx context.Context, enabled bool) error {
	m.mu.Lock()
	cfg := m.cfg
	m.mu.Unlock()
	cfg.Enabled = enabled
	return m.Reconfigure(ctx, cfg)
}

// ensureStarted binds the listener if the config enables it. Calling it with
// a live listener is a no-op.
func (m *Module) ensureStarted() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.cfg.Enabled {
		m.logger.Info().Str(log.FieldEvent, "ingest.disabled").Msg("rtmp ingest disabled")
		return nil
	}
	if m.srv != nil {
		return nil
	}

	srv := rtmp.NewServer(netutil.JoinHostPort(m.cfg.Host, m.cfg.Port), rtmp.Hooks{
		OnConnect:     m.handleConnect,
		AcceptPublish: m.acceptPublish,
		OnPublish:     m.handlePublish,
		OnPublishDone: m.handlePublishDone,
	})
	if err := srv.Start(); err != nil {
		return fmt.Errorf("ingest: start rtmp listener: %w", err)
	}
	m.srv = srv
	m.boundPort = netutil.SplitPort(srv.Addr().String())
	m.status = StatusIdle
	m.actualPath = ""
	return nil
}

func (m *Module) stopServer() {
	m.mu.Lock()
	srv := m.srv
	m.srv = nil
	m.boundPort = 0
	m.status = StatusIdle
	m.actualPath = ""
	m.mu.Unlock()
	if srv != nil {
		// Close waits for connection goroutines, which may be inside a
		// hook that takes m.mu. Never hold the lock here.
		_ = srv.Close()
	}
}

// handleConnect observes RTMP connects. Key checks happen at publish time.
func (m *Module) handleConnect(remoteAddr, app, tcURL string) {
	m.logger.Info().
		Str(log.FieldAddr, remoteAddr).
		Str("app", app).
		Str(log.FieldURL, tcURL).
		Str(log.FieldEvent, "ingest.connect").
		Msg("rtmp client connected")
}

// acceptPublish gates a publish on the configured stream key. The key is the
// trailing path segment; an empty configured key accepts any publisher.
func (m *Module) acceptPublish(streamPath string) error {
	key := streamPath[strings.LastIndex(streamPath, "/")+1:]

	m.mu.Lock()
	want := m.cfg.StreamKey
	m.mu.Unlock()
	if want != "" && key != want {
		m.logger.Warn().
			Str(log.FieldStreamPath, streamPath).
			Str(log.FieldEvent, "ingest.key_rejected").
			Msg("publish rejected: stream key mismatch")
		return ErrKeyRejected
	}

	m.transition(StatusConnecting, "")
	return nil
}

func (m *Module) handlePublish(streamPath string) {
	m.transition(StatusStreaming, streamPath)
}

func (m *Module) handlePublishDone(streamPath string) {
	m.transition(StatusIdle, "")
}

// transition records the new status and actual path, logs the change and
// queues a notification for subscribers.
func (m *Module) transition(status StreamStatus, actualPath string) {
	m.mu.Lock()
	old := m.status
	m.status = status
	m.actualPath = actualPath
	n := Notification{Status: status, StreamPath: m.streamPathLocked()}
	events := m.events
	m.mu.Unlock()

	m.logger.Info().
		Str(log.FieldOldState, string(old)).
		Str(log.FieldNewState, string(status)).
		Str(log.FieldStreamPath, n.StreamPath).
		Str(log.FieldEvent, "ingest.status").
		Msg("ingest status changed")

	if events == nil {
		return
	}
	select {
	case events <- n:
	default:
		m.logger.Warn().
			Str(log.FieldEvent, "ingest.notify_dropped").
			Msg("status notification dropped: event queue full")
	}
}

func (m *Module) startPump() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.events != nil {
		return
	}
	events := make(chan Notification, eventQueueSize)
	done := make(chan struct{})
	m.events = events
	m.pumpDone = done
	go m.pump(events, done)
}

// stopPump closes the event channel and waits for in-flight callbacks. Must
// only run after the server is stopped, so no hook can still send.
func (m *Module) stopPump() {
	m.mu.Lock()
	events := m.events
	done := m.pumpDone
	m.events = nil
	m.pumpDone = nil
	m.mu.Unlock()
	if events == nil {
		return
	}
	close(events)
	<-done
}

// pump delivers notifications to subscribers one at a time, preserving
// transition order across all callbacks.
func (m *Module) pump(events <-chan Notification, done chan<- struct{}) {
	defer close(done)
	for n := range events {
		m.mu.Lock()
		subs := make([]subscription, len(m.subs))
		copy(subs, m.subs)
		m.mu.Unlock()
		for _, s := range subs {
			s.cb(n)
		}
	}
}

func (m *Module) streamPathLocked() string {
	if m.actualPath != "" {
		return m.actualPath
	}
	return "/" + m.cfg.App + "/" + m.cfg.StreamKey
}

func (m *Module) ingestURLLocked() string {
	host := netutil.RewriteBindAll(m.cfg.Host)
	return "rtmp://" + netutil.JoinHostPort(host, m.portLocked()) + "/" + m.cfg.App
}

// portLocked prefers the bound listener port so ":0" test binds surface the
// real port.
func (m *Module) portLocked() int {
	if m.boundPort != 0 {
		return m.boundPort
	}
	return m.cfg.Port
}
