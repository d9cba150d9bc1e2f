// SPDX-License-Identifier: MIT

package rtmp

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrPublisherExists is returned when a second publisher attempts to claim a
// stream path that already has a live publisher.
var ErrPublisherExists = errors.New("rtmp: stream already has a publisher")

var droppedMessages = promauto.NewCounter(prometheus.CounterOpts{
	Name: "streamfan_ingest_dropped_messages_total",
	Help: "Media messages dropped because a subscriber queue was full.",
})

// stream is one publish path with a single publisher and any number of
// subscribers. Metadata and codec sequence headers are cached so subscribers
// that join mid-stream can decode from the next keyframe.
type stream struct {
	path string

	mu          sync.RWMutex
	publisher   *serverConn
	subscribers map[*serverConn]struct{}
	metadata    *Message
	audioHeader *Message
	videoHeader *Message
}

func newStream(path string) *stream {
	return &stream{path: path, subscribers: make(map[*serverConn]struct{})}
}

// setPublisher claims the stream for c. A stream holds at most one publisher.
func (s *stream) setPublisher(c *serverConn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publisher != nil && s.publisher != c {
		return ErrPublisherExists
	}
	s.publisher = c
	return nil
}

// clearPublisher releases the stream if c holds it and drops the cached
// stream state. Returns true when c was the publisher.
func (s *stream) clearPublisher(c *serverConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publisher != c {
		return false
	}
	s.publisher = nil
	s.metadata = nil
	s.audioHeader = nil
	s.videoHeader = nil
	return true
}

func (s *stream) addSubscriber(c *serverConn) {
	s.mu.Lock()
	s.subscribers[c] = struct{}{}
	s.mu.Unlock()
}

func (s *stream) removeSubscriber(c *serverConn) {
	s.mu.Lock()
	delete(s.subscribers, c)
	s.mu.Unlock()
}

// cached returns the metadata and sequence-header messages a new subscriber
// must replay before media starts.
func (s *stream) cached() []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Message
	for _, m := range []*Message{s.metadata, s.videoHeader, s.audioHeader} {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

// broadcast caches decoder state carried by msg and fans it out to every
// subscriber. Sends never block: a subscriber with a full queue loses the
// message and the drop is counted.
func (s *stream) broadcast(msg *Message) {
	s.cacheDecoderState(msg)

	s.mu.RLock()
	subs := make([]*serverConn, 0, len(s.subscribers))
	for c := range s.subscribers {
		subs = append(subs, c)
	}
	s.mu.RUnlock()

	for _, c := range subs {
		if msg.TypeID == typeVideo && !c.wantsVideo(msg.Payload) {
			continue
		}
		if !c.trySend(msg) {
			droppedMessages.Inc()
		}
	}
}

// cacheDecoderState stores metadata and AAC/AVC sequence headers for late
// joiners.
func (s *stream) cacheDecoderState(msg *Message) {
	switch {
	case msg.TypeID == typeDataAMF0:
		s.mu.Lock()
		s.metadata = msg
		s.mu.Unlock()
	case msg.TypeID == typeAudio && isAACSequenceHeader(msg.Payload):
		s.mu.Lock()
		s.audioHeader = msg
		s.mu.Unlock()
	case msg.TypeID == typeVideo && isAVCSequenceHeader(msg.Payload):
		s.mu.Lock()
		s.videoHeader = msg
		s.mu.Unlock()
	}
}

// subscriberCount is used by status surfaces and tests.
func (s *stream) subscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

// FLV tag inspection. The first payload byte carries frame type (video, high
// nibble) or sound format (audio, high nibble); the second byte distinguishes
// sequence headers from media for AAC and AVC/HEVC packaging.
func isAACSequenceHeader(p []byte) bool {
	return len(p) >= 2 && p[0]>>4 == 10 && p[1] == 0x00
}

func isAVCSequenceHeader(p []byte) bool {
	return len(p) >= 2 && p[0]&0x0F == 7 && p[1] == 0x00
}

func isKeyframe(p []byte) bool {
	return len(p) >= 1 && p[0]>>4 == 1
}

// streamTable maps publish paths to streams.
type streamTable struct {
	mu      sync.RWMutex
	streams map[string]*stream
}

func newStreamTable() *streamTable {
	return &streamTable{streams: make(map[string]*stream)}
}

// getOrCreate returns the stream for path, creating it on first use so play
// requests can attach before the publisher arrives.
func (t *streamTable) getOrCreate(path string) *stream {
	t.mu.RLock()
	s := t.streams[path]
	t.mu.RUnlock()
	if s != nil {
		return s
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if s = t.streams[path]; s == nil {
		s = newStream(path)
		t.streams[path] = s
	}
	return s
}

func (t *streamTable) get(path string) *stream {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.streams[path]
}

// removeIfIdle drops the stream when it has neither publisher nor
// subscribers.
func (t *streamTable) removeIfIdle(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.streams[path]
	if s == nil {
		return
	}
	s.mu.RLock()
	idle := s.publisher == nil && len(s.subscribers) == 0
	s.mu.RUnlock()
	if idle {
		delete(t.streams, path)
	}
}
