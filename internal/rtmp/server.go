// SPDX-License-Identifier: MIT

// Package rtmp implements the embedded RTMP ingest server: simple handshake,
// chunk codec, AMF0 command dispatch and publisher-to-subscriber media
// fan-out. The ingest module installs hooks to gate and observe publishes;
// relay children attach as local subscribers over the same listener.
package rtmp

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/streamfan/streamfan/internal/log"
)

// Hooks are the notification points the ingest layer installs. All callbacks
// run on the connection's read goroutine and must not block.
type Hooks struct {
	// OnConnect fires after a successful connect command.
	OnConnect func(remoteAddr, app, tcURL string)
	// AcceptPublish gates a publish request by full stream path
	// ("/app/name"). A non-nil error rejects the publish.
	AcceptPublish func(streamPath string) error
	// OnPublish fires once a publish has been accepted.
	OnPublish func(streamPath string)
	// OnPublishDone fires when an accepted publish ends.
	OnPublishDone func(streamPath string)
}

// Server accepts RTMP connections on one listener and routes publishes and
// plays through a shared stream table.
type Server struct {
	addr   string
	hooks  Hooks
	logger zerolog.Logger
	table  *streamTable

	mu       sync.Mutex
	listener net.Listener
	conns    map[*serverConn]struct{}
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer returns an unstarted server for addr ("host:port").
func NewServer(addr string, hooks Hooks) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:   addr,
		hooks:  hooks,
		logger: log.WithComponent("rtmp"),
		table:  newStreamTable(),
		conns:  make(map[*serverConn]struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start binds the listener and begins accepting. A bind failure (port in
// use, bad address) is returned to the caller; accepting then proceeds in
// the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("rtmp: server closed")
	}
	if s.listener != nil {
		return errors.New("rtmp: server already started")
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Info().
		Str(log.FieldAddr, ln.Addr().String()).
		Str(log.FieldEvent, "rtmp.listening").
		Msg("rtmp server listening")

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn().Err(err).Str(log.FieldEvent, "rtmp.accept_failed").Msg("accept failed")
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
		}()
	}
}

func (s *Server) serveConn(conn net.Conn) {
	if err := serverHandshake(conn); err != nil {
		s.logger.Debug().Err(err).
			Str(log.FieldAddr, conn.RemoteAddr().String()).
			Str(log.FieldEvent, "rtmp.handshake_failed").
			Msg("handshake failed")
		_ = conn.Close()
		return
	}

	c := newServerConn(s.ctx, conn, s)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	c.serve()
}

func (s *Server) removeConn(c *serverConn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// Close stops the listener, closes every connection and waits for all
// goroutines to drain. Safe to call more than once.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	conns := make([]*serverConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	s.cancel()
	var err error
	if ln != nil {
		err = ln.Close()
	}
	for _, c := range conns {
		c.cancel()
		_ = c.conn.Close()
	}
	s.wg.Wait()
	s.logger.Info().Str(log.FieldEvent, "rtmp.closed").Msg("rtmp server closed")
	return err
}

// PublisherActive reports whether path currently has a live publisher.
func (s *Server) PublisherActive(path string) bool {
	st := s.table.get(path)
	if st == nil {
		return false
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.publisher != nil
}

// SubscriberCount returns the number of attached players for path.
func (s *Server) SubscriberCount(path string) int {
	st := s.table.get(path)
	if st == nil {
		return 0
	}
	return st.subscriberCount()
}
