// SPDX-License-Identifier: MIT

// Package preflight verifies the runtime environment before any module binds
// a listener: port availability and the external transcoder.
package preflight

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"

	"github.com/streamfan/streamfan/internal/netutil"
	"github.com/streamfan/streamfan/internal/relay"
)

// probeTimeout bounds each individual check.
const probeTimeout = 3 * time.Second

// Port labels one TCP listen port for probing.
type Port struct {
	Name string
	Host string
	Port int
}

// Conflict is one port that could not be bound.
type Conflict struct {
	Name string
	Addr string
	Err  error
}

// PortError aggregates every conflicting port so startup output names all
// offenders at once instead of failing one by one.
type PortError struct {
	Conflicts []Conflict
}

func (e *PortError) Error() string {
	parts := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		parts[i] = fmt.Sprintf("%s %s (%v)", c.Name, c.Addr, c.Err)
	}
	return "ports unavailable: " + strings.Join(parts, ", ")
}

// CheckPorts binds and immediately releases every port. A *PortError listing
// all conflicts is returned when any bind fails.
func CheckPorts(ctx context.Context, ports []Port) error {
	var conflicts []Conflict
	for _, p := range ports {
		addr := netutil.JoinHostPort(p.Host, p.Port)
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		var lc net.ListenConfig
		ln, err := lc.Listen(probeCtx, "tcp", addr)
		cancel()
		if err != nil {
			conflicts = append(conflicts, Conflict{Name: p.Name, Addr: addr, Err: err})
			continue
		}
		_ = ln.Close()
	}
	if len(conflicts) > 0 {
		return &PortError{Conflicts: conflicts}
	}
	return nil
}

// CheckTranscoder probes for the transcoder binary and returns the first
// line of its version banner. A missing binary maps to
// relay.ErrTranscoderMissing so callers can branch on the kind.
func CheckTranscoder(ctx context.Context, binary string) (string, error) {
	if binary == "" {
		binary = "ffmpeg"
	}
	if _, err := exec.LookPath(binary); err != nil {
		return "", relay.TranscoderMissingError(binary)
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	out, err := exec.CommandContext(probeCtx, binary, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("preflight: %s -version: %w", binary, err)
	}
	banner := strings.TrimSpace(string(out))
	if i := strings.IndexAny(banner, "\r\n"); i >= 0 {
		banner = banner[:i]
	}
	return banner, nil
}
