// SPDX-License-Identifier: MIT

package preflight

import (
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamfan/streamfan/internal/relay"
)

func TestCheckPortsAllFree(t *testing.T) {
	err := CheckPorts(context.Background(), []Port{
		{Name: "ui", Host: "127.0.0.1", Port: 0},
		{Name: "ingest", Host: "127.0.0.1", Port: 0},
	})
	require.NoError(t, err)
}

func TestCheckPortsReportsEveryConflict(t *testing.T) {
	ln1, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln1.Close()
	ln2, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln2.Close()

	port1 := ln1.Addr().(*net.TCPAddr).Port
	port2 := ln2.Addr().(*net.TCPAddr).Port

	err = CheckPorts(context.Background(), []Port{
		{Name: "ui", Host: "127.0.0.1", Port: port1},
		{Name: "ingest", Host: "127.0.0.1", Port: port2},
	})
	require.Error(t, err)

	var portErr *PortError
	require.ErrorAs(t, err, &portErr)
	require.Len(t, portErr.Conflicts, 2, "all conflicts reported together")
	assert.Contains(t, err.Error(), "ui")
	assert.Contains(t, err.Error(), "ingest")
	assert.Contains(t, err.Error(), strconv.Itoa(port1))
	assert.Contains(t, err.Error(), strconv.Itoa(port2))
}

func TestCheckPortsReleasesProbe(t *testing.T) {
	// The probe must not keep the port; binding right after has to work.
	require.NoError(t, CheckPorts(context.Background(), []Port{
		{Name: "ui", Host: "127.0.0.1", Port: 0},
	}))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ln.Close()
}

func TestCheckTranscoderMissing(t *testing.T) {
	_, err := CheckTranscoder(context.Background(), "definitely-not-a-real-binary-4711")
	require.ErrorIs(t, err, relay.ErrTranscoderMissing)
	assert.Contains(t, err.Error(), "install")
}

func TestCheckTranscoderBanner(t *testing.T) {
	// echo stands in for the transcoder: it prints its argv and exits 0,
	// which exercises the banner extraction without requiring ffmpeg.
	banner, err := CheckTranscoder(context.Background(), "echo")
	require.NoError(t, err)
	assert.Equal(t, "-version", banner)
}
