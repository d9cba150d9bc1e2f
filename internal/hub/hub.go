// SPDX-License-Identifier: MIT

// Package hub is the telemetry bus: it fans status, statistics and log
// events out to websocket observers with batching and per-destination
// change tracking.
package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/streamfan/streamfan/internal/log"
	"github.com/streamfan/streamfan/internal/registry"
	"github.com/streamfan/streamfan/internal/stats"
)

// ModuleName is the registry name of the telemetry bus.
const ModuleName = "hub"

// Envelope types on the wire.
const (
	TypeConnected  = "connected"
	TypeStatus     = "status"
	TypeStatistics = "statistics"
	TypeLog        = "log"
	TypePong       = "pong"
	TypeSubscribed = "subscribed"

	// Inbound client message types.
	TypePing      = "ping"
	TypeSubscribe = "subscribe"
)

const (
	// batchInterval is the broadcast tick; each tick drains at most
	// batchLimit envelopes so one burst cannot monopolize the writers.
	batchInterval = 50 * time.Millisecond
	batchLimit    = 10

	// statsDebounce coalesces per-destination statistics; only
	// destinations that changed since the previous emission are included.
	statsDebounce = 100 * time.Millisecond

	// queueLimit caps the outbound queue. Overflow drops the oldest
	// envelope first.
	queueLimit = 1024
)

var (
	clientsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamfan_hub_clients",
		Help: "Connected websocket observers.",
	})

	broadcastTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamfan_hub_broadcast_total",
		Help: "Envelopes broadcast to observers.",
	})

	droppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamfan_hub_dropped_total",
		Help: "Envelopes or clients dropped, by reason.",
	}, []string{"reason"})
)

// Envelope is the wire frame for every hub message. Timestamp is Unix
// milliseconds.
type Envelope struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func newEnvelope(typ string, data any) Envelope {
	return Envelope{Type: typ, Data: data, Timestamp: time.Now().UnixMilli()}
}

// StreamStats couples one statistics snapshot with its destination.
type StreamStats struct {
	DestinationID string `json:"destinationId"`
	stats.Stats
}

// LogEvent is the payload of a log envelope.
type LogEvent struct {
	Level         string `json:"level"`
	Source        string `json:"source,omitempty"`
	Message       string `json:"message"`
	DestinationID string `json:"destinationId,omitempty"`
}

// Options tune the hub. The zero value allows only same-host browser
// origins (and non-browser clients, which send no Origin header).
type Options struct {
	AllowedOrigins []string
}

// Hub broadcasts envelopes to connected websocket clients. The run goroutine
// exclusively owns the client table; everything else reaches it through the
// register and unregister channels or the locked queue.
type Hub struct {
	registry.Base
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	register   chan *client
	unregister chan *client

	mu         sync.Mutex
	running    bool
	done       chan struct{}
	queue      [][]byte
	latest     map[string]*stats.Stats
	changed    map[string]struct{}
	statsTimer *time.Timer
	statusFn   func() any

	clients     map[string]*client
	clientCount atomic.Int64

	wg       sync.WaitGroup
	clientWG sync.WaitGroup
}

// New returns an unstarted hub.
func New(opts Options) *Hub {
	return &Hub{
		Base:   registry.NewBase(ModuleName),
		logger: log.WithComponent("hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:    1024,
			WriteBufferSize:   1024,
			EnableCompression: true,
			CheckOrigin:       originChecker(opts.AllowedOrigins),
		},
		// Unbuffered: a registration either rendezvouses with the run
		// goroutine (which then owns the client) or loses the race against
		// shutdown and is cleaned up by the caller. A buffered handoff
		// could strand a client neither side owns.
		register:   make(chan *client),
		unregister: make(chan *client),
		clients:    map[string]*client{},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

// SetStatusProvider installs the callback that builds the status payload for
// PublishStatus broadcasts.
func (h *Hub) SetStatusProvider(fn func() any) {
	h.mu.Lock()
	h.statusFn = fn
	h.mu.Unlock()
}

// Initialize moves the hub to INITIALIZED.
func (h *Hub) Initialize(ctx context.Context) error {
	if err := h.BeginInitialize(); err != nil {
		return err
	}
	h.CompleteInitialize()
	return nil
}

// Activate starts the broadcast loop.
func (h *Hub) Activate(ctx context.Context) error {
	if err := h.BeginActivate(); err != nil {
		return err
	}
	h.mu.Lock()
	h.done = make(chan struct{})
	h.queue = nil
	h.latest = map[string]*stats.Stats{}
	h.changed = map[string]struct{}{}
	h.running = true
	done := h.done
	h.mu.Unlock()

	h.wg.Add(1)
	go h.run(done)
	h.CompleteActivate()
	return nil
}

// Deactivate disconnects every client and stops the broadcast loop.
func (h *Hub) Deactivate(ctx context.Context) error {
	if err := h.BeginDeactivate(); err != nil {
		return err
	}
	h.shutdown()
	h.CompleteDeactivate()
	return nil
}

// Destroy releases the hub.
func (h *Hub) Destroy(ctx context.Context) error {
	if err := h.BeginDestroy(); err != nil {
		return err
	}
	h.CompleteDestroy()
	return nil
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	h.running = false
	if h.statsTimer != nil {
		h.statsTimer.Stop()
		h.statsTimer = nil
	}
	done := h.done
	h.done = nil
	h.mu.Unlock()

	if done != nil {
		close(done)
	}
	h.wg.Wait()
	h.clientWG.Wait()

	h.mu.Lock()
	h.queue = nil
	h.latest = nil
	h.changed = nil
	h.mu.Unlock()
}

// ClientCount reports the number of connected observers.
func (h *Hub) ClientCount() int {
	return int(h.clientCount.Load())
}

// ServeHTTP upgrades the request and registers the client. The first message
// every client receives is a connected envelope carrying its assigned id.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		http.Error(w, "telemetry bus unavailable", http.StatusServiceUnavailable)
		return
	}
	done := h.done
	h.clientWG.Add(2)
	h.mu.Unlock()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.clientWG.Done()
		h.clientWG.Done()
		return
	}

	c := newClient(conn)
	select {
	case h.register <- c:
	case <-done:
		h.clientWG.Done()
		h.clientWG.Done()
		_ = conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c, done)
}

// run owns the client table: registrations, drops and the broadcast tick all
// funnel through this goroutine.
func (h *Hub) run(done chan struct{}) {
	defer h.wg.Done()
	ticker := time.NewTicker(batchInterval)
	defer ticker.Stop()

	for {
		select {
		case c := <-h.register:
			h.clients[c.id] = c
			h.clientCount.Store(int64(len(h.clients)))
			clientsGauge.Set(float64(len(h.clients)))
			h.logger.Info().
				Str(log.FieldEvent, "hub.client_connected").
				Str(log.FieldClientID, c.id).
				Msg("observer connected")
			h.sendTo(c, newEnvelope(TypeConnected, map[string]string{"clientId": c.id}))

		case c := <-h.unregister:
			h.dropClient(c, "closed")

		case <-ticker.C:
			h.flushQueue()

		case <-done:
			for _, c := range h.clients {
				h.dropClient(c, "shutdown")
			}
			return
		}
	}
}

// dropClient removes a client from the table. Only the run goroutine calls
// it, so the close of c.done happens exactly once.
func (h *Hub) dropClient(c *client, reason string) {
	if h.clients[c.id] != c {
		return
	}
	delete(h.clients, c.id)
	h.clientCount.Store(int64(len(h.clients)))
	clientsGauge.Set(float64(len(h.clients)))
	close(c.done)
	_ = c.conn.Close()
	h.logger.Info().
		Str(log.FieldEvent, "hub.client_disconnected").
		Str(log.FieldClientID, c.id).
		Str("reason", reason).
		Msg("observer disconnected")
}

// flushQueue drains up to batchLimit envelopes to every client. A client
// whose buffer is full is evicted; the bus never blocks on a slow reader.
func (h *Hub) flushQueue() {
	h.mu.Lock()
	n := len(h.queue)
	if n > batchLimit {
		n = batchLimit
	}
	batch := h.queue[:n:n]
	h.queue = h.queue[n:]
	if len(h.queue) == 0 {
		h.queue = nil
	}
	h.mu.Unlock()

	for _, payload := range batch {
		for _, c := range h.clients {
			if !c.trySend(payload) {
				droppedTotal.WithLabelValues("slow_client").Inc()
				h.dropClient(c, "send queue full")
			}
		}
		broadcastTotal.Inc()
	}
}

// enqueue appends an envelope to the broadcast queue, dropping the oldest
// entry on overflow.
func (h *Hub) enqueue(env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		h.logger.Error().Err(err).
			Str(log.FieldEvent, "hub.marshal_failed").
			Str("type", env.Type).
			Msg("dropping unmarshalable envelope")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return
	}
	if len(h.queue) >= queueLimit {
		h.queue = h.queue[1:]
		droppedTotal.WithLabelValues("queue_overflow").Inc()
	}
	h.queue = append(h.queue, payload)
}

// PublishStatus broadcasts a fresh status payload from the installed
// provider.
func (h *Hub) PublishStatus() {
	h.mu.Lock()
	fn := h.statusFn
	h.mu.Unlock()
	if fn == nil {
		return
	}
	h.enqueue(newEnvelope(TypeStatus, fn()))
}

// PublishStats records a statistics sample for one destination. Samples are
// debounced; the eventual statistics envelope carries only destinations that
// changed since the previous emission, each with its latest sample.
func (h *Hub) PublishStats(destinationID string, s *stats.Stats) {
	if s == nil {
		return
	}
	cp := *s

	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return
	}
	h.latest[destinationID] = &cp
	h.changed[destinationID] = struct{}{}
	if h.statsTimer == nil {
		h.statsTimer = time.AfterFunc(statsDebounce, h.flushStats)
	}
}

// DropStats forgets a destination's samples, typically after its relay
// stopped.
func (h *Hub) DropStats(destinationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.latest != nil {
		delete(h.latest, destinationID)
	}
	if h.changed != nil {
		delete(h.changed, destinationID)
	}
}

// PublishLog broadcasts a log event.
func (h *Hub) PublishLog(level, source, message, destinationID string) {
	h.enqueue(newEnvelope(TypeLog, LogEvent{
		Level:         level,
		Source:        source,
		Message:       message,
		DestinationID: destinationID,
	}))
}

// flushStats emits the coalesced statistics envelope and clears the changed
// set.
func (h *Hub) flushStats() {
	h.mu.Lock()
	h.statsTimer = nil
	if !h.running || len(h.changed) == 0 {
		h.mu.Unlock()
		return
	}
	entries := make([]StreamStats, 0, len(h.changed))
	for id := range h.changed {
		if st := h.latest[id]; st != nil {
			entries = append(entries, StreamStats{DestinationID: id, Stats: *st})
		}
	}
	h.changed = map[string]struct{}{}
	h.mu.Unlock()

	if len(entries) == 0 {
		return
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].DestinationID < entries[j].DestinationID
	})
	h.enqueue(newEnvelope(TypeStatistics, entries))
}
