// SPDX-License-Identifier: MIT

// Package relay supervises one transcoder child per destination, fanning the
// single ingest feed out to every configured platform as a stream copy.
package relay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/streamfan/streamfan/internal/config"
	"github.com/streamfan/streamfan/internal/log"
	"github.com/streamfan/streamfan/internal/procgroup"
	"github.com/streamfan/streamfan/internal/registry"
	"github.com/streamfan/streamfan/internal/stats"
)

// ModuleName is the registry name of the relay supervisor.
const ModuleName = "relay"

const (
	defaultBinary = "ffmpeg"

	// drainTimeout bounds how long Deactivate waits for signaled children
	// before escalating to SIGKILL.
	drainTimeout = 5 * time.Second
)

var (
	startTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamfan_relay_start_total",
		Help: "Relay child process starts, by result.",
	}, []string{"result"})

	exitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamfan_relay_exit_total",
		Help: "Relay child process exits, by reason.",
	}, []string{"reason"})

	sessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamfan_relay_sessions",
		Help: "Relay sessions currently tracked.",
	})
)

// StreamState is the per-destination state projected for the control plane.
type StreamState string

const (
	StateIdle      StreamState = "idle"
	StateConnected StreamState = "connected"
	StateStreaming StreamState = "streaming"
)

// Source provides the local publish URL the relay children read from.
// The ingest module implements it.
type Source interface {
	SourceURL() string
}

// Sink receives supervisor output for fan-out to observers. The telemetry
// hub implements it; a nil sink disables fan-out.
type Sink interface {
	PublishStatus()
	PublishStats(destinationID string, s *stats.Stats)
	DropStats(destinationID string)
	PublishLog(level, source, message, destinationID string)
}

// Options tune the supervisor. The zero value selects the stock transcoder.
type Options struct {
	// Binary overrides the transcoder executable looked up on PATH.
	Binary string

	// Sink receives status, statistics and log fan-out.
	Sink Sink
}

// DestinationStatus is one row of the supervisor snapshot.
type DestinationStatus struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	DisplayName string       `json:"displayName,omitempty"`
	URL         string       `json:"rtmpUrl"`
	Enabled     bool         `json:"enabled"`
	Status      StreamState  `json:"status"`
	Connected   bool         `json:"connected"`
	Streaming   bool         `json:"streaming"`
	Stats       *stats.Stats `json:"stats,omitempty"`
}

// Supervisor owns the relay session table. Sessions are keyed by destination
// id only, so two destinations pointing at the same platform never share a
// child process.
type Supervisor struct {
	registry.Base
	logger zerolog.Logger
	source Source
	sink   Sink
	binary string

	mu       sync.Mutex
	dests    []config.Destination
	lookup   map[string]config.Destination
	sessions map[string]*session

	wg sync.WaitGroup
}

// New returns an unstarted supervisor reading from source.
func New(source Source, opts Options) *Supervisor {
	binary := opts.Binary
	if binary == "" {
		binary = defaultBinary
	}
	return &Supervisor{
		Base:     registry.NewBase(ModuleName),
		logger:   log.WithComponent("relay"),
		source:   source,
		sink:     opts.Sink,
		binary:   binary,
		lookup:   map[string]config.Destination{},
		sessions: map[string]*session{},
	}
}

// Initialize moves the supervisor to INITIALIZED.
func (s *Supervisor) Initialize(ctx context.Context) error {
	if err := s.BeginInitialize(); err != nil {
		return err
	}
	s.CompleteInitialize()
	return nil
}

// Activate makes the supervisor ready to start sessions. Children are only
// spawned on explicit Start calls.
func (s *Supervisor) Activate(ctx context.Context) error {
	if err := s.BeginActivate(); err != nil {
		return err
	}
	if _, err := exec.LookPath(s.binary); err != nil {
		s.logger.Warn().
			Str(log.FieldEvent, "relay.transcoder_missing").
			Str("binary", s.binary).
			Msg("transcoder not found; starting a relay will fail until it is installed")
	}
	s.CompleteActivate()
	return nil
}

// Deactivate stops every session and waits briefly for the children to exit.
func (s *Supervisor) Deactivate(ctx context.Context) error {
	if err := s.BeginDeactivate(); err != nil {
		return err
	}
	s.shutdownSessions()
	s.CompleteDeactivate()
	return nil
}

// Destroy releases the supervisor. Any sessions that survived Deactivate are
// force-stopped.
func (s *Supervisor) Destroy(ctx context.Context) error {
	if err := s.BeginDestroy(); err != nil {
		return err
	}
	s.shutdownSessions()
	s.CompleteDestroy()
	return nil
}

// Configure replaces the destination set. Running sessions are left alone;
// callers stop sessions for removed or disabled destinations before applying.
func (s *Supervisor) Configure(dests []config.Destination) {
	lookup := make(map[string]config.Destination, len(dests)*2)
	ordered := make([]config.Destination, len(dests))
	for i, d := range dests {
		ordered[i] = d.Clone()
		lookup[d.ID] = ordered[i]
	}
	// Name lookups resolve to the first match in document order.
	for _, d := range ordered {
		if _, taken := lookup[d.Name]; !taken {
			lookup[d.Name] = d
		}
	}

	s.mu.Lock()
	s.dests = ordered
	s.lookup = lookup
	s.mu.Unlock()
}

// Start spawns a relay child for the destination identified by id or name.
// Starting a destination that already has a session is a no-op.
func (s *Supervisor) Start(idOrName string) error {
	s.mu.Lock()
	dest, ok := s.lookup[idOrName]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownDestination, idOrName)
	}
	if !dest.Enabled {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrDestinationDisabled, dest.ID)
	}
	if _, running := s.sessions[dest.ID]; running {
		s.mu.Unlock()
		return nil
	}

	sess, err := s.spawnLocked(dest)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.sessions[dest.ID] = sess
	sessionsGauge.Set(float64(len(s.sessions)))
	s.mu.Unlock()

	s.logger.Info().
		Str(log.FieldEvent, "relay.started").
		Str(log.FieldDestinationID, dest.ID).
		Str(log.FieldPlatform, dest.Name).
		Int(log.FieldPID, sess.cmd.Process.Pid).
		Msg("relay session started")
	s.publishLog("info", "relay", "relay started for "+displayName(dest), dest.ID)
	s.publishStatus()
	return nil
}

// StartAll starts every enabled destination, collecting per-destination
// failures instead of aborting at the first one.
func (s *Supervisor) StartAll() error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.dests))
	for _, d := range s.dests {
		if d.Enabled {
			ids = append(ids, d.ID)
		}
	}
	s.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := s.Start(id); err != nil {
			errs = append(errs, fmt.Errorf("start %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Stop terminates the session for the destination identified by id or name.
// Stopping an idle destination is a no-op. The session leaves the table and
// status flips to idle before the child is signaled, so the projection never
// depends on exit timing.
func (s *Supervisor) Stop(idOrName string) error {
	s.mu.Lock()
	dest, ok := s.lookup[idOrName]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownDestination, idOrName)
	}
	sess := s.detachLocked(dest.ID)
	s.mu.Unlock()

	if sess == nil {
		return nil
	}
	s.terminate(sess)
	return nil
}

// StopAll terminates every tracked session, including sessions whose
// destination has since left the configuration.
func (s *Supervisor) StopAll() {
	for _, sess := range s.detachAll() {
		s.terminate(sess)
	}
}

// ActiveIDs lists the destination ids with a tracked session.
func (s *Supervisor) ActiveIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Snapshot projects the per-destination status rows in configuration order.
func (s *Supervisor) Snapshot() []DestinationStatus {
	s.mu.Lock()
	dests := s.dests
	sessions := make(map[string]*session, len(s.sessions))
	for id, sess := range s.sessions {
		sessions[id] = sess
	}
	s.mu.Unlock()

	out := make([]DestinationStatus, 0, len(dests))
	for _, d := range dests {
		row := DestinationStatus{
			ID:          d.ID,
			Name:        d.Name,
			DisplayName: d.DisplayName,
			URL:         d.URL,
			Enabled:     d.Enabled,
			Status:      StateIdle,
		}
		if sess := sessions[d.ID]; sess != nil {
			row.Connected, row.Streaming = sess.flags()
			row.Status = project(sess, row.Connected, row.Streaming)
			row.Stats = sess.latestStats()
		}
		out = append(out, row)
	}
	return out
}

// project derives the surfaced state from the supervisor-owned flags. The
// child's exit code never feeds the projection; only flag state and whether
// the child has been reaped do.
func project(sess *session, connected, streaming bool) StreamState {
	if !connected && !streaming {
		return StateIdle
	}
	alive := sess.alive()
	switch {
	case alive && streaming:
		return StateStreaming
	case alive && connected:
		return StateConnected
	default:
		return StateIdle
	}
}

// spawnLocked builds and starts the child. Callers hold s.mu, which keeps
// concurrent starts for the same destination serialized.
func (s *Supervisor) spawnLocked(dest config.Destination) (*session, error) {
	if _, err := exec.LookPath(s.binary); err != nil {
		startTotal.WithLabelValues("err_missing_binary").Inc()
		return nil, TranscoderMissingError(s.binary)
	}

	inputURL := s.source.SourceURL()
	outputURL := ComposeOutputURL(dest.URL, dest.StreamKey)
	args := BuildArgs(inputURL, outputURL)

	cmd := exec.Command(s.binary, args...) // #nosec G204 -- argv assembled from validated config
	procgroup.Set(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		startTotal.WithLabelValues("err_pipe").Inc()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		startTotal.WithLabelValues("err_pipe").Inc()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		startTotal.WithLabelValues("err_start").Inc()
		return nil, fmt.Errorf("transcoder start: %w", err)
	}
	startTotal.WithLabelValues("ok").Inc()

	sess := newSession(dest, cmd)
	s.wg.Add(3)
	go s.consumeStdout(sess, stdout)
	go s.consumeStderr(sess, stderr)
	go s.wait(sess)
	return sess, nil
}

// detachLocked removes a session from the table and flips its flags to
// stopped. Callers hold s.mu.
func (s *Supervisor) detachLocked(id string) *session {
	sess := s.sessions[id]
	if sess == nil {
		return nil
	}
	delete(s.sessions, id)
	sessionsGauge.Set(float64(len(s.sessions)))
	sess.markStopped()
	return sess
}

func (s *Supervisor) detachAll() []*session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*session, 0, len(s.sessions))
	for id := range s.sessions {
		out = append(out, s.detachLocked(id))
	}
	return out
}

// terminate broadcasts the idle status, then signals the already-detached
// session's process group. It does not wait for the exit; the waiter
// goroutine reaps the child whenever it lands.
func (s *Supervisor) terminate(sess *session) {
	s.publishStatus()
	if err := procgroup.Kill(sess.cmd, syscall.SIGTERM); err != nil {
		s.logger.Warn().Err(err).
			Str(log.FieldEvent, "relay.signal_failed").
			Str(log.FieldDestinationID, sess.dest.ID).
			Msg("failed to signal relay child")
	}
	s.dropStats(sess.dest.ID)
	s.logger.Info().
		Str(log.FieldEvent, "relay.stopped").
		Str(log.FieldDestinationID, sess.dest.ID).
		Str(log.FieldPlatform, sess.dest.Name).
		Msg("relay session stopped")
	s.publishLog("info", "relay", "relay stopped for "+displayName(sess.dest), sess.dest.ID)
}

// shutdownSessions stops everything and drains the children, escalating to
// SIGKILL when the grace window expires.
func (s *Supervisor) shutdownSessions() {
	detached := s.detachAll()
	for _, sess := range detached {
		s.terminate(sess)
	}

	deadline := time.NewTimer(drainTimeout)
	defer deadline.Stop()
	expired := false
	for _, sess := range detached {
		if !expired {
			select {
			case <-sess.done:
				continue
			case <-deadline.C:
				expired = true
			}
		}
		_ = procgroup.Kill(sess.cmd, syscall.SIGKILL)
		select {
		case <-sess.done:
		case <-time.After(2 * time.Second):
			s.logger.Warn().
				Str(log.FieldEvent, "relay.drain_timeout").
				Str(log.FieldDestinationID, sess.dest.ID).
				Msg("relay child did not exit after SIGKILL")
		}
	}
	s.wg.Wait()
}

// consumeStdout drains the child's stdout. Output is counted and discarded;
// nothing useful arrives on this pipe during a stream copy.
func (s *Supervisor) consumeStdout(sess *session, r io.Reader) {
	defer s.wg.Done()
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			count(&sess.stdoutBytes, n)
		}
		if err != nil {
			return
		}
	}
}

// consumeStderr scans the child's stderr for progress lines and folds them
// into per-destination statistics. Everything else is debug chatter,
// throttled so a looping child cannot flood the log.
func (s *Supervisor) consumeStderr(sess *session, r io.Reader) {
	defer s.wg.Done()
	limiter := rate.NewLimiter(rate.Every(time.Second), 5)
	sc := bufio.NewScanner(r)
	sc.Split(scanCRorLF)
	sc.Buffer(make([]byte, 0, 4096), 256*1024)
	for sc.Scan() {
		line := sc.Text()
		count(&sess.stderrBytes, len(line)+1)
		if line == "" {
			continue
		}
		if st := stats.Parse(line); st != nil {
			sess.setStats(st)
			s.publishStats(sess.dest.ID, st)
			continue
		}
		if limiter.Allow() {
			s.logger.Debug().
				Str(log.FieldEvent, "relay.child_output").
				Str(log.FieldDestinationID, sess.dest.ID).
				Str("line", line).
				Msg("transcoder output")
		}
	}
}

// wait reaps the child and reconciles the session table. A session that is
// still tracked here exited on its own; one already detached was stopped and
// only needs its exit recorded.
func (s *Supervisor) wait(sess *session) {
	defer s.wg.Done()
	err := sess.cmd.Wait()
	close(sess.done)
	code := exitCode(err)

	s.mu.Lock()
	tracked := s.sessions[sess.dest.ID] == sess
	if tracked {
		delete(s.sessions, sess.dest.ID)
		sessionsGauge.Set(float64(len(s.sessions)))
	}
	s.mu.Unlock()

	switch {
	case sess.wasStopped():
		// Deliberate stop; the transcoder exits non-zero on SIGTERM, so the
		// code carries no signal here.
		exitTotal.WithLabelValues("stopped").Inc()
		evt := s.logger.Info().
			Str(log.FieldEvent, "relay.exited").
			Str(log.FieldDestinationID, sess.dest.ID).
			Int("exit_code", code)
		if mean := sess.meanStats(); mean != nil {
			evt = evt.
				Float64("avg_fps", mean.FPS).
				Float64("avg_bitrate_kbps", mean.BitrateKbps).
				Float64("avg_speed", mean.Speed)
		}
		evt.Msg("relay child exited after stop")
	default:
		exitTotal.WithLabelValues("error").Inc()
		s.logger.Error().
			Str(log.FieldEvent, "relay.exited").
			Str(log.FieldDestinationID, sess.dest.ID).
			Int("exit_code", code).
			Msg("relay child terminated")
		s.publishLog("error", "relay",
			fmt.Sprintf("relay for %s terminated (exit code %d)", displayName(sess.dest), code),
			sess.dest.ID)
	}

	if tracked {
		sess.markStopped()
		s.dropStats(sess.dest.ID)
		s.publishStatus()
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func displayName(d config.Destination) string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.Name
}

func (s *Supervisor) publishStatus() {
	if s.sink != nil {
		s.sink.PublishStatus()
	}
}

func (s *Supervisor) publishStats(id string, st *stats.Stats) {
	if s.sink != nil {
		s.sink.PublishStats(id, st)
	}
}

func (s *Supervisor) dropStats(id string) {
	if s.sink != nil {
		s.sink.DropStats(id)
	}
}

func (s *Supervisor) publishLog(level, source, message, destinationID string) {
	if s.sink != nil {
		s.sink.PublishLog(level, source, message, destinationID)
	}
}
