// SPDX-License-Identifier: MIT

package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/streamfan/streamfan/internal/stats"
)

func newActiveHub(t *testing.T) *Hub {
	t.Helper()
	h := New(Options{})
	ctx := context.Background()
	require.NoError(t, h.Initialize(ctx))
	require.NoError(t, h.Activate(ctx))
	return h
}

func dialHub(t *testing.T, h *Hub) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(h)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

// readUntil skips envelopes until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) Envelope {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		env := readEnvelope(t, conn)
		if env.Type == typ {
			return env
		}
	}
	t.Fatalf("no %q envelope arrived", typ)
	return Envelope{}
}

func TestClientReceivesConnectedEnvelope(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newActiveHub(t)
	conn, cleanup := dialHub(t, h)

	env := readEnvelope(t, conn)
	assert.Equal(t, TypeConnected, env.Type)
	assert.Greater(t, env.Timestamp, int64(0))

	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	id, _ := data["clientId"].(string)
	assert.NotEmpty(t, id, "server assigns the client id")

	cleanup()
	require.NoError(t, h.Deactivate(context.Background()))
}

func TestPingPong(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newActiveHub(t)
	conn, cleanup := dialHub(t, h)

	readUntil(t, conn, TypeConnected)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))

	env := readUntil(t, conn, TypePong)
	assert.Equal(t, TypePong, env.Type)

	cleanup()
	require.NoError(t, h.Deactivate(context.Background()))
}

func TestSubscribeIsAcknowledged(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newActiveHub(t)
	conn, cleanup := dialHub(t, h)

	readUntil(t, conn, TypeConnected)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"subscribe","data":{"events":["status"]}}`)))

	env := readUntil(t, conn, TypeSubscribed)
	assert.Equal(t, TypeSubscribed, env.Type)

	cleanup()
	require.NoError(t, h.Deactivate(context.Background()))
}

func TestStatusBroadcastUsesProvider(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newActiveHub(t)
	h.SetStatusProvider(func() any {
		return map[string]string{"phase": "streaming"}
	})
	conn, cleanup := dialHub(t, h)
	readUntil(t, conn, TypeConnected)

	h.PublishStatus()

	env := readUntil(t, conn, TypeStatus)
	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "streaming", data["phase"])

	cleanup()
	require.NoError(t, h.Deactivate(context.Background()))
}

func TestStatisticsDebounceEmitsOnlyChangedDestinations(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newActiveHub(t)
	conn, cleanup := dialHub(t, h)
	readUntil(t, conn, TypeConnected)

	// Two samples for a within one debounce window: only the latest
	// survives. b changes as well.
	h.PublishStats("a", &stats.Stats{Frame: 1, FPS: 30})
	h.PublishStats("a", &stats.Stats{Frame: 2, FPS: 30})
	h.PublishStats("b", &stats.Stats{Frame: 7, FPS: 60})

	env := readUntil(t, conn, TypeStatistics)
	entries := decodeStatsEntries(t, env)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].DestinationID)
	assert.Equal(t, 2, entries[0].Frame, "latest sample wins within a window")
	assert.Equal(t, "b", entries[1].DestinationID)

	// Only b changes now, so the next emission excludes a.
	h.PublishStats("b", &stats.Stats{Frame: 8, FPS: 60})
	env = readUntil(t, conn, TypeStatistics)
	entries = decodeStatsEntries(t, env)
	require.Len(t, entries, 1)
	assert.Equal(t, "b", entries[0].DestinationID)
	assert.Equal(t, 8, entries[0].Frame)

	cleanup()
	require.NoError(t, h.Deactivate(context.Background()))
}

func decodeStatsEntries(t *testing.T, env Envelope) []StreamStats {
	t.Helper()
	raw, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var entries []StreamStats
	require.NoError(t, json.Unmarshal(raw, &entries))
	return entries
}

func TestDropStatsForgetsDestination(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newActiveHub(t)

	h.PublishStats("a", &stats.Stats{Frame: 1})
	h.DropStats("a")

	h.mu.Lock()
	_, hasLatest := h.latest["a"]
	_, hasChanged := h.changed["a"]
	h.mu.Unlock()
	assert.False(t, hasLatest)
	assert.False(t, hasChanged)

	require.NoError(t, h.Deactivate(context.Background()))
}

func TestBroadcastPreservesOrder(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newActiveHub(t)
	conn, cleanup := dialHub(t, h)
	readUntil(t, conn, TypeConnected)

	// More than two full ticks worth of envelopes.
	const total = 25
	for i := 0; i < total; i++ {
		h.PublishLog("info", "test", fmt.Sprintf("message-%02d", i), "")
	}

	for i := 0; i < total; i++ {
		env := readUntil(t, conn, TypeLog)
		data, ok := env.Data.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("message-%02d", i), data["message"])
	}

	cleanup()
	require.NoError(t, h.Deactivate(context.Background()))
}

func TestQueueOverflowDropsOldest(t *testing.T) {
	h := New(Options{})
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()

	for i := 0; i < queueLimit+5; i++ {
		h.enqueue(Envelope{Type: TypeLog, Data: i, Timestamp: int64(i)})
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.queue, queueLimit)

	var first Envelope
	require.NoError(t, json.Unmarshal(h.queue[0], &first))
	assert.Equal(t, int64(5), first.Timestamp, "the oldest five envelopes were dropped")
}

func TestServeHTTPWhenInactive(t *testing.T) {
	h := New(Options{})
	srv := httptest.NewServer(h)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, 503, resp.StatusCode)
}

func TestDeactivateDisconnectsClients(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newActiveHub(t)
	conn, cleanup := dialHub(t, h)
	defer cleanup()
	readUntil(t, conn, TypeConnected)

	require.NoError(t, h.Deactivate(context.Background()))
	assert.Equal(t, 0, h.ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "server side closed the connection")
}

func TestClientDisconnectLeavesTable(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newActiveHub(t)
	conn, cleanup := dialHub(t, h)
	readUntil(t, conn, TypeConnected)

	require.Eventually(t, func() bool { return h.ClientCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return h.ClientCount() == 0 },
		2*time.Second, 10*time.Millisecond, "closed client must leave the table")

	cleanup()
	require.NoError(t, h.Deactivate(context.Background()))
}
