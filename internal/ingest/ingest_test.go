// SPDX-License-Identifier: MIT

package ingest

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/streamfan/streamfan/internal/config"
	"github.com/streamfan/streamfan/internal/netutil"
	"github.com/streamfan/streamfan/internal/registry"
)

func testConfig(port int, enabled bool) config.IngestConfig {
	return config.IngestConfig{
		Host:      "127.0.0.1",
		Port:      port,
		App:       "live",
		StreamKey: "abc",
		Enabled:   enabled,
	}
}

func TestModuleLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	m := New(testConfig(0, true))
	require.Equal(t, registry.StateCreated, m.State())

	require.NoError(t, m.Initialize(ctx))
	require.NoError(t, m.Activate(ctx))
	require.Equal(t, registry.StateActive, m.State())

	snap := m.Snapshot()
	assert.True(t, snap.Listening)
	assert.Equal(t, StatusIdle, snap.Status)
	assert.Equal(t, "/live/abc", snap.StreamPath)
	assert.Contains(t, snap.IngestURL, "rtmp://127.0.0.1:")
	assert.NotContains(t, snap.IngestURL, ":0/", "snapshot must surface the bound port")

	require.NoError(t, m.Deactivate(ctx))
	assert.False(t, m.Snapshot().Listening)
	require.NoError(t, m.Destroy(ctx))
	assert.Equal(t, registry.StateDestroyed, m.State())
}

func TestActivateReportsBindFailure(t *testing.T) {
	ctx := context.Background()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	m := New(testConfig(netutil.SplitPort(ln.Addr().String()), true))
	require.NoError(t, m.Initialize(ctx))

	err = m.Activate(ctx)
	require.Error(t, err)
	assert.Equal(t, registry.StateErrored, m.State())
}

func TestActivateDisabledSkipsListener(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	m := New(testConfig(0, false))
	require.NoError(t, m.Initialize(ctx))
	require.NoError(t, m.Activate(ctx))

	snap := m.Snapshot()
	assert.False(t, snap.Listening)
	assert.False(t, snap.Enabled)
	assert.Equal(t, registry.StateActive, m.State())

	require.NoError(t, m.Deactivate(ctx))
	require.NoError(t, m.Destroy(ctx))
}

func TestRepeatStartIsNoOp(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	m := New(testConfig(0, true))
	require.NoError(t, m.Initialize(ctx))
	require.NoError(t, m.Activate(ctx))
	defer func() {
		require.NoError(t, m.Deactivate(ctx))
		require.NoError(t, m.Destroy(ctx))
	}()

	m.mu.Lock()
	before := m.srv
	m.mu.Unlock()
	require.NotNil(t, before)

	require.NoError(t, m.ensureStarted())

	m.mu.Lock()
	after := m.srv
	m.mu.Unlock()
	assert.Same(t, before, after)
}

func TestAcceptPublishGatesOnConfiguredKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		path    string
		wantErr error
	}{
		{name: "matching key accepted", key: "abc", path: "/live/abc"},
		{name: "wrong key rejected", key: "abc", path: "/live/nope", wantErr: ErrKeyRejected},
		{name: "key checked regardless of app", key: "abc", path: "/other/abc"},
		{name: "empty key accepts anything", key: "", path: "/live/whatever"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := New(config.IngestConfig{Host: "127.0.0.1", App: "live", StreamKey: tc.key})

			err := m.acceptPublish(tc.path)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				assert.Equal(t, StatusIdle, m.Snapshot().Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StatusConnecting, m.Snapshot().Status)
		})
	}
}

func TestTransitionsNotifySubscribersInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	m := New(config.IngestConfig{Host: "127.0.0.1", App: "live", StreamKey: "abc"})
	require.NoError(t, m.Initialize(ctx))
	require.NoError(t, m.Activate(ctx))
	defer func() {
		require.NoError(t, m.Deactivate(ctx))
		require.NoError(t, m.Destroy(ctx))
	}()

	got := make(chan Notification, 8)
	id := m.Subscribe(func(n Notification) { got <- n })
	require.NotEmpty(t, id)

	require.NoError(t, m.acceptPublish("/live/abc"))
	m.handlePublish("/live/abc")
	m.handlePublishDone("/live/abc")

	want := []Notification{
		{Status: StatusConnecting, StreamPath: "/live/abc"},
		{Status: StatusStreaming, StreamPath: "/live/abc"},
		{Status: StatusIdle, StreamPath: "/live/abc"},
	}
	for i, w := range want {
		select {
		case n := <-got:
			assert.Equal(t, w, n, "notification %d", i)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for notification %d", i)
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	m := New(config.IngestConfig{Host: "127.0.0.1", App: "live", StreamKey: "abc"})
	require.NoError(t, m.Initialize(ctx))
	require.NoError(t, m.Activate(ctx))

	got := make(chan Notification, 8)
	id := m.Subscribe(func(n Notification) { got <- n })
	require.True(t, m.Unsubscribe(id))
	assert.False(t, m.Unsubscribe(id), "second unsubscribe reports unknown id")

	m.handlePublish("/live/abc")

	// Deactivate drains the pump, so anything queued was delivered by now.
	require.NoError(t, m.Deactivate(ctx))
	assert.Empty(t, got)
	require.NoError(t, m.Destroy(ctx))
}

func TestStreamPathPrefersActualPath(t *testing.T) {
	m := New(config.IngestConfig{App: "live", StreamKey: "abc"})
	assert.Equal(t, "/live/abc", m.StreamPath())

	m.handlePublish("/live/actual")
	assert.Equal(t, "/live/actual", m.StreamPath())
	assert.True(t, m.StreamingActive())

	m.handlePublishDone("/live/actual")
	assert.Equal(t, "/live/abc", m.StreamPath())
	assert.False(t, m.StreamingActive())
}

func TestURLsRewriteWildcardHost(t *testing.T) {
	m := New(config.IngestConfig{Host: "0.0.0.0", Port: 1935, App: "live", StreamKey: "abc", Enabled: true})

	assert.Equal(t, "rtmp://localhost:1935/live", m.IngestURL())
	assert.Equal(t, "rtmp://localhost:1935/live/abc", m.SourceURL())
	assert.Equal(t, "/live/abc", m.StreamPath())
}

func TestReconfigureRestartsOnlyWhenTupleChanges(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	cfg := testConfig(0, true)
	m := New(cfg)
	require.NoError(t, m.Initialize(ctx))
	require.NoError(t, m.Activate(ctx))
	defer func() {
		require.NoError(t, m.Deactivate(ctx))
		require.NoError(t, m.Destroy(ctx))
	}()

	m.mu.Lock()
	first := m.srv
	m.mu.Unlock()
	require.NotNil(t, first)

	// Identical tuple keeps the running listener.
	require.NoError(t, m.Reconfigure(ctx, cfg))
	m.mu.Lock()
	same := m.srv
	m.mu.Unlock()
	assert.Same(t, first, same)

	// A changed app restarts it.
	changed := cfg
	changed.App = "studio"
	require.NoError(t, m.Reconfigure(ctx, changed))
	m.mu.Lock()
	second := m.srv
	m.mu.Unlock()
	require.NotNil(t, second)
	assert.NotSame(t, first, second)
	assert.Equal(t, "/studio/abc", m.StreamPath())

	// Disabling tears the listener down without failing the module.
	disabled := changed
	disabled.Enabled = false
	require.NoError(t, m.Reconfigure(ctx, disabled))
	assert.False(t, m.Snapshot().Listening)
	assert.Equal(t, registry.StateActive, m.State())
}

func TestSetEnabledTogglesListener(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	m := New(testConfig(0, true))
	require.NoError(t, m.Initialize(ctx))
	require.NoError(t, m.Activate(ctx))
	require.True(t, m.Snapshot().Listening)

	require.NoError(t, m.SetEnabled(ctx, false))
	assert.False(t, m.Snapshot().Listening)

	require.NoError(t, m.SetEnabled(ctx, true))
	assert.True(t, m.Snapshot().Listening)
	assert.Equal(t, "/live/abc", m.StreamPath(), "listener keeps its tuple across toggles")

	require.NoError(t, m.Deactivate(ctx))
	require.NoError(t, m.Destroy(ctx))
}
