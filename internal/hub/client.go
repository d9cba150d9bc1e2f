// SPDX-License-Identifier: MIT

package hub

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/streamfan/streamfan/internal/log"
)

const (
	// sendQueueSize bounds the per-client outbound buffer. A client that
	// falls this far behind is dropped rather than backpressuring the bus.
	sendQueueSize = 64

	// compressionFloor is the payload size below which per-message deflate
	// is skipped; small frames cost more to compress than to send.
	compressionFloor = 1024

	writeTimeout    = 10 * time.Second
	maxInboundBytes = 4096
)

// client is one websocket observer. The hub goroutine owns its table entry
// and closes done exactly once when the client is dropped; send is never
// closed, so targeted sends cannot panic.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
}

// trySend enqueues a payload without blocking. False means the client's
// buffer is full and it should be dropped.
func (c *client) trySend(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// writePump is the sole writer on the connection. It exits when the hub
// closes done or the peer goes away.
func (h *Hub) writePump(c *client) {
	defer h.clientWG.Done()
	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			c.conn.EnableWriteCompression(len(payload) >= compressionFloor)
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump consumes inbound control messages until the connection drops,
// then asks the hub to unregister the client.
func (h *Hub) readPump(c *client, hubDone <-chan struct{}) {
	defer h.clientWG.Done()
	defer func() {
		select {
		case h.unregister <- c:
		case <-hubDone:
		}
	}()

	c.conn.SetReadLimit(maxInboundBytes)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleInbound(c, data)
	}
}

// handleInbound dispatches one client control message.
func (h *Hub) handleInbound(c *client, data []byte) {
	var msg struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data,omitempty"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Debug().
			Str(log.FieldEvent, "hub.bad_message").
			Str(log.FieldClientID, c.id).
			Msg("unparseable client message")
		return
	}

	switch msg.Type {
	case TypePing:
		h.sendTo(c, newEnvelope(TypePong, nil))
	case TypeSubscribe:
		// Subscriptions are acknowledged; every client currently receives
		// the full feed.
		var filter any
		if len(msg.Data) > 0 {
			_ = json.Unmarshal(msg.Data, &filter)
		}
		h.sendTo(c, newEnvelope(TypeSubscribed, filter))
	default:
		h.logger.Debug().
			Str(log.FieldEvent, "hub.unknown_type").
			Str(log.FieldClientID, c.id).
			Str("type", msg.Type).
			Msg("ignoring unknown client message type")
	}
}

// sendTo delivers an envelope to a single client, bypassing the broadcast
// queue. Full buffers drop the message, not the client; the broadcast path
// handles eviction.
func (h *Hub) sendTo(c *client, env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		return
	}
	_ = c.trySend(payload)
}
