// SPDX-License-Identifier: MIT

package relay

import (
	"bytes"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/streamfan/streamfan/internal/config"
	"github.com/streamfan/streamfan/internal/stats"
)

// outputCounterReset caps the per-pipe byte counters. Child output is
// consumed and counted, never buffered; the counter folds back to zero at
// this threshold so it cannot grow without bound.
const outputCounterReset = 1 << 20

// statsWindow bounds the per-session sample history kept for the exit
// summary. Progress lines land roughly once a second, so this covers about
// the last minute of the run.
const statsWindow = 60

// session tracks one live transcoder child. The supervisor owns the flag
// fields; the stderr reader only updates latest stats.
type session struct {
	dest config.Destination
	cmd  *exec.Cmd

	// done closes when the waiter goroutine has reaped the child.
	done chan struct{}

	stdoutBytes atomic.Int64
	stderrBytes atomic.Int64

	mu        sync.Mutex
	connected bool
	streaming bool
	stopped   bool
	latest    *stats.Stats
	samples   []*stats.Stats
}

func newSession(dest config.Destination, cmd *exec.Cmd) *session {
	return &session{
		dest:      dest,
		cmd:       cmd,
		done:      make(chan struct{}),
		connected: true,
		streaming: true,
	}
}

// alive reports whether the child has not been reaped yet.
func (s *session) alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// flags returns the supervisor-owned state pair.
func (s *session) flags() (connected, streaming bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected, s.streaming
}

// markStopped clears the flags ahead of signaling the child, so status
// surfaces idle no matter when the exit lands.
func (s *session) markStopped() {
	s.mu.Lock()
	s.stopped = true
	s.connected = false
	s.streaming = false
	s.latest = nil
	s.mu.Unlock()
}

func (s *session) wasStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *session) setStats(st *stats.Stats) {
	s.mu.Lock()
	s.latest = st
	if len(s.samples) == statsWindow {
		copy(s.samples, s.samples[1:])
		s.samples[statsWindow-1] = st
	} else {
		s.samples = append(s.samples, st)
	}
	s.mu.Unlock()
}

// meanStats averages the sample window, nil when no stats were ever parsed.
func (s *session) meanStats() *stats.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return stats.Mean(s.samples)
}

func (s *session) latestStats() *stats.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return nil
	}
	cp := *s.latest
	return &cp
}

// count adds n to a pipe counter, folding back to zero at the reset
// threshold.
func count(c *atomic.Int64, n int) {
	if c.Add(int64(n)) >= outputCounterReset {
		c.Store(0)
	}
}

// scanCRorLF is a bufio.SplitFunc that terminates tokens on either newline
// or carriage return. Transcoder progress updates rewrite one CR-terminated
// line, so a plain line scanner would never surface them.
func scanCRorLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
