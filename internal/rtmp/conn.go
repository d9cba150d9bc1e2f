// SPDX-License-Identifier: MIT

package rtmp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/streamfan/streamfan/internal/log"
)

const (
	serverChunkSize   = 4096
	outboundQueueSize = 512
)

var connSequence atomic.Uint64

// serverConn drives one accepted RTMP connection: a read loop that
// dechunks and dispatches inbound messages, and a write loop that drains the
// outbound queue. A connection publishes at most one stream and plays at most
// one stream.
type serverConn struct {
	id      string
	conn    net.Conn
	srv     *Server
	logger  zerolog.Logger
	reader  *chunkReader
	counter *countingReader

	// writer state is guarded by writeMu: the write loop drains the queue
	// and the read goroutine writes terminal responses directly before
	// closing.
	writeMu sync.Mutex
	writer  *chunkWriter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	outbound chan *Message

	// Session state, touched only by the read loop.
	app          string
	tcURL        string
	nextStreamID uint32
	publishing   *stream
	publishPath  string
	playing      *stream
	playPath     string
	playStreamID uint32
	windowSize   uint32
	ackedBytes   uint64

	// Subscriber keyframe gate, read by the publisher's goroutine.
	awaitKeyframe atomic.Bool
}

// countingReader tracks total bytes consumed so the connection can emit
// Acknowledgement messages each time the peer's window elapses.
type countingReader struct {
	r io.Reader
	n atomic.Uint64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(uint64(n))
	return n, err
}

func newServerConn(parent context.Context, conn net.Conn, srv *Server) *serverConn {
	ctx, cancel := context.WithCancel(parent)
	id := fmt.Sprintf("c%06d", connSequence.Add(1))
	counter := &countingReader{r: conn}
	return &serverConn{
		id:      id,
		conn:    conn,
		srv:     srv,
		logger:  srv.logger.With().Str("conn_id", id).Str(log.FieldAddr, conn.RemoteAddr().String()).Logger(),
		reader:  newChunkReader(counter),
		writer:  newChunkWriter(conn),
		counter: counter,
		ctx:     ctx,
		cancel:  cancel,

		outbound:   make(chan *Message, outboundQueueSize),
		windowSize: defaultWindowBytes,
	}
}

// serve runs both loops and cleans up stream membership when either exits.
func (c *serverConn) serve() {
	defer c.teardown()

	c.wg.Add(1)
	go c.writeLoop()

	for {
		msg, err := c.reader.readMessage()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && c.ctx.Err() == nil {
				c.logger.Debug().Err(err).Str(log.FieldEvent, "rtmp.read_failed").Msg("connection read ended")
			}
			return
		}
		c.maybeAcknowledge()
		if err := c.handle(msg); err != nil {
			c.logger.Warn().Err(err).
				Uint8("type_id", msg.TypeID).
				Str(log.FieldEvent, "rtmp.message_failed").
				Msg("closing connection after protocol error")
			return
		}
	}
}

func (c *serverConn) teardown() {
	c.cancel()
	_ = c.conn.Close()
	c.finishPublish()
	c.finishPlay()
	c.srv.removeConn(c)
	c.wg.Wait()
}

func (c *serverConn) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.outbound:
			if err := c.writeNow(msg); err != nil {
				c.logger.Debug().Err(err).Str(log.FieldEvent, "rtmp.write_failed").Msg("connection write ended")
				c.cancel()
				_ = c.conn.Close()
				return
			}
		}
	}
}

// writeNow serializes msg to the socket immediately. Our own Set Chunk Size
// announcement takes effect for every message written after it.
func (c *serverConn) writeNow(msg *Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.writer.writeMessage(msg); err != nil {
		return err
	}
	if msg.TypeID == typeSetChunkSize && msg.StreamID == 0 && len(msg.Payload) >= 4 {
		c.writer.setChunkSize(binary.BigEndian.Uint32(msg.Payload[:4]))
	}
	return nil
}

// trySend enqueues msg without blocking. Fan-out paths use it so one slow
// subscriber cannot stall the publisher.
func (c *serverConn) trySend(msg *Message) bool {
	select {
	case c.outbound <- msg:
		return true
	default:
		return false
	}
}

// send enqueues msg, giving up when the connection is shutting down.
func (c *serverConn) send(msg *Message) error {
	select {
	case <-c.ctx.Done():
		return c.ctx.Err()
	case c.outbound <- msg:
		return nil
	}
}

// wantsVideo implements keyframe-aligned handoff: after subscribing, video is
// withheld until a sequence header or keyframe arrives so decoders never see
// a mid-GOP start.
func (c *serverConn) wantsVideo(payload []byte) bool {
	if !c.awaitKeyframe.Load() {
		return true
	}
	if isAVCSequenceHeader(payload) {
		return true
	}
	if isKeyframe(payload) {
		c.awaitKeyframe.Store(false)
		return true
	}
	return false
}

// maybeAcknowledge emits an Acknowledgement whenever another peer window of
// bytes has been read.
func (c *serverConn) maybeAcknowledge() {
	if c.windowSize == 0 {
		return
	}
	total := c.counter.n.Load()
	if total-c.ackedBytes >= uint64(c.windowSize) {
		c.ackedBytes = total
		_ = c.send(ackMessage(uint32(total)))
	}
}

func (c *serverConn) handle(msg *Message) error {
	switch msg.TypeID {
	case typeSetChunkSize:
		if len(msg.Payload) >= 4 {
			c.reader.setChunkSize(binary.BigEndian.Uint32(msg.Payload[:4]) & 0x7FFFFFFF)
		}
		return nil
	case typeAbort, typeAck:
		return nil
	case typeWindowAckSize:
		if len(msg.Payload) >= 4 {
			c.windowSize = binary.BigEndian.Uint32(msg.Payload[:4])
		}
		return nil
	case typeUserControl:
		return c.handleUserControl(msg)
	case typeCommandAMF0:
		return c.handleCommand(msg)
	case typeDataAMF0:
		return c.handleData(msg)
	case typeAudio, typeVideo:
		c.handleMedia(msg)
		return nil
	default:
		c.logger.Debug().Uint8("type_id", msg.TypeID).Str(log.FieldEvent, "rtmp.message_ignored").Msg("ignoring message type")
		return nil
	}
}

func (c *serverConn) handleUserControl(msg *Message) error {
	if len(msg.Payload) < 2 {
		return nil
	}
	event := binary.BigEndian.Uint16(msg.Payload[:2])
	if event == eventPingRequest && len(msg.Payload) >= 6 {
		return c.send(pingResponseMessage(binary.BigEndian.Uint32(msg.Payload[2:6])))
	}
	return nil
}

func (c *serverConn) handleCommand(msg *Message) error {
	values, err := DecodeAMF(msg.Payload)
	if err != nil {
		return fmt.Errorf("command decode: %w", err)
	}
	if len(values) == 0 {
		return errors.New("empty command payload")
	}
	name, ok := values[0].(string)
	if !ok {
		return errors.New("command name is not a string")
	}

	switch name {
	case "connect":
		return c.handleConnect(values)
	case "createStream":
		return c.handleCreateStream(values)
	case "publish":
		return c.handlePublish(values, msg.StreamID)
	case "play":
		return c.handlePlay(values, msg.StreamID)
	case "deleteStream", "closeStream", "FCUnpublish":
		c.finishPublish()
		return nil
	case "releaseStream", "FCPublish":
		// Pre-publish announcements; no response required.
		c.logger.Debug().Str("command", name).Str(log.FieldEvent, "rtmp.command_noop").Msg("accepted announcement command")
		return nil
	default:
		c.logger.Warn().Str("command", name).Str(log.FieldEvent, "rtmp.command_unknown").Msg("ignoring unknown command")
		return nil
	}
}

func (c *serverConn) handleConnect(values []any) error {
	txn, _ := amfNumberAt(values, 1)
	if obj, ok := amfObjectAt(values, 2); ok {
		if app, ok := obj["app"].(string); ok {
			c.app = app
		}
		if tcURL, ok := obj["tcUrl"].(string); ok {
			c.tcURL = tcURL
		}
	}
	c.logger.Info().
		Str("app", c.app).
		Str(log.FieldURL, c.tcURL).
		Str(log.FieldEvent, "rtmp.connect").
		Msg("client connected")

	if c.srv.hooks.OnConnect != nil {
		c.srv.hooks.OnConnect(c.conn.RemoteAddr().String(), c.app, c.tcURL)
	}

	// Connection setup burst: window size, peer bandwidth (dynamic), then our
	// chunk size before any chunk that would exceed the 128-byte default.
	if err := c.send(windowAckSizeMessage(defaultWindowBytes)); err != nil {
		return err
	}
	if err := c.send(setPeerBandwidthMessage(defaultWindowBytes, 2)); err != nil {
		return err
	}
	if err := c.send(setChunkSizeMessage(serverChunkSize)); err != nil {
		return err
	}

	result, err := commandMessage(0, "_result", txn,
		map[string]any{
			"fmsVer":       "FMS/3,5,7,7009",
			"capabilities": float64(31),
		},
		map[string]any{
			"level":          "status",
			"code":           "NetConnection.Connect.Success",
			"description":    "Connection succeeded.",
			"objectEncoding": float64(0),
		})
	if err != nil {
		return err
	}
	return c.send(result)
}

func (c *serverConn) handleCreateStream(values []any) error {
	txn, _ := amfNumberAt(values, 1)
	c.nextStreamID++
	result, err := commandMessage(0, "_result", txn, nil, float64(c.nextStreamID))
	if err != nil {
		return err
	}
	return c.send(result)
}

func (c *serverConn) handlePublish(values []any, streamID uint32) error {
	name, ok := amfStringAt(values, 3)
	if !ok || name == "" {
		return errors.New("publish: missing stream name")
	}
	if c.app == "" {
		return errors.New("publish: no prior connect")
	}
	path := "/" + c.app + "/" + name

	if accept := c.srv.hooks.AcceptPublish; accept != nil {
		if err := accept(path); err != nil {
			c.logger.Warn().
				Str(log.FieldStreamPath, path).
				Err(err).
				Str(log.FieldEvent, "rtmp.publish_rejected").
				Msg("publish rejected")
			status, berr := onStatusMessage(streamID, "error", "NetStream.Publish.BadName", err.Error())
			if berr == nil {
				_ = c.writeNow(status)
			}
			return fmt.Errorf("publish rejected: %w", err)
		}
	}

	s := c.srv.table.getOrCreate(path)
	if err := s.setPublisher(c); err != nil {
		status, berr := onStatusMessage(streamID, "error", "NetStream.Publish.BadName", "Stream already publishing")
		if berr == nil {
			_ = c.writeNow(status)
		}
		return err
	}
	c.publishing = s
	c.publishPath = path

	c.logger.Info().
		Str(log.FieldStreamPath, path).
		Str(log.FieldEvent, "rtmp.publish_start").
		Msg("publish started")
	// Hook runs before the client is acknowledged so downstream state is in
	// place when the first media message arrives.
	if c.srv.hooks.OnPublish != nil {
		c.srv.hooks.OnPublish(path)
	}

	if err := c.send(streamBeginMessage(streamID)); err != nil {
		return err
	}
	status, err := onStatusMessage(streamID, "status", "NetStream.Publish.Start", fmt.Sprintf("%s is now published.", path))
	if err != nil {
		return err
	}
	return c.send(status)
}

func (c *serverConn) handlePlay(values []any, streamID uint32) error {
	name, ok := amfStringAt(values, 3)
	if !ok || name == "" {
		return errors.New("play: missing stream name")
	}
	if c.app == "" {
		return errors.New("play: no prior connect")
	}
	path := "/" + c.app + "/" + name

	s := c.srv.table.getOrCreate(path)
	c.playing = s
	c.playPath = path
	c.playStreamID = streamID
	c.awaitKeyframe.Store(true)

	if err := c.send(streamBeginMessage(streamID)); err != nil {
		return err
	}
	status, err := onStatusMessage(streamID, "status", "NetStream.Play.Start", fmt.Sprintf("Started playing %s.", path))
	if err != nil {
		return err
	}
	if err := c.send(status); err != nil {
		return err
	}

	// Replay cached metadata and sequence headers so the decoder can start
	// on the next keyframe.
	for _, m := range s.cached() {
		replay := *m
		replay.StreamID = streamID
		if err := c.send(&replay); err != nil {
			return err
		}
	}
	s.addSubscriber(c)

	c.logger.Info().
		Str(log.FieldStreamPath, path).
		Str(log.FieldEvent, "rtmp.play_start").
		Msg("subscriber attached")
	return nil
}

// handleData caches and forwards metadata. Encoders wrap onMetaData in a
// @setDataFrame call; the wrapper is stripped before fan-out.
func (c *serverConn) handleData(msg *Message) error {
	if c.publishing == nil {
		return nil
	}
	values, err := DecodeAMF(msg.Payload)
	if err != nil {
		c.logger.Debug().Err(err).Str(log.FieldEvent, "rtmp.data_undecodable").Msg("ignoring undecodable data message")
		return nil
	}
	if len(values) > 0 {
		if name, ok := values[0].(string); ok && name == "@setDataFrame" {
			payload, err := EncodeAMF(values[1:]...)
			if err != nil {
				return nil
			}
			msg = &Message{
				ChunkStreamID: csidData,
				Timestamp:     msg.Timestamp,
				TypeID:        typeDataAMF0,
				StreamID:      msg.StreamID,
				Payload:       payload,
			}
		}
	}
	c.publishing.broadcast(msg)
	return nil
}

func (c *serverConn) handleMedia(msg *Message) {
	if c.publishing == nil {
		return
	}
	c.publishing.broadcast(msg)
}

// finishPublish tears down publisher state and notifies the unpublish hook
// exactly once.
func (c *serverConn) finishPublish() {
	s := c.publishing
	if s == nil {
		return
	}
	path := c.publishPath
	c.publishing = nil
	c.publishPath = ""
	if s.clearPublisher(c) {
		// Signal EOF so attached players know the source went away.
		s.mu.RLock()
		subs := make([]*serverConn, 0, len(s.subscribers))
		for sub := range s.subscribers {
			subs = append(subs, sub)
		}
		s.mu.RUnlock()
		for _, sub := range subs {
			_ = sub.trySend(streamEOFMessage(sub.playStreamID))
		}

		c.logger.Info().
			Str(log.FieldStreamPath, path).
			Str(log.FieldEvent, "rtmp.publish_stop").
			Msg("publish ended")
		if c.srv.hooks.OnPublishDone != nil {
			c.srv.hooks.OnPublishDone(path)
		}
	}
	c.srv.table.removeIfIdle(path)
}

func (c *serverConn) finishPlay() {
	s := c.playing
	if s == nil {
		return
	}
	path := c.playPath
	c.playing = nil
	c.playPath = ""
	s.removeSubscriber(c)
	c.srv.table.removeIfIdle(path)
}

func amfNumberAt(values []any, i int) (float64, bool) {
	if i >= len(values) {
		return 0, false
	}
	v, ok := values[i].(float64)
	return v, ok
}

func amfStringAt(values []any, i int) (string, bool) {
	if i >= len(values) {
		return "", false
	}
	v, ok := values[i].(string)
	return v, ok
}

func amfObjectAt(values []any, i int) (map[string]any, bool) {
	if i >= len(values) {
		return nil, false
	}
	switch v := values[i].(type) {
	case map[string]any:
		return v, true
	case ECMAArray:
		return map[string]any(v), true
	default:
		return nil, false
	}
}
