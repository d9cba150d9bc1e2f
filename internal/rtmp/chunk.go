// SPDX-License-Identifier: MIT

package rtmp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	defaultChunkSize   = 128
	maxChunkSize       = 65536
	extendedTimestamp  = 0xFFFFFF
	maxMessageSize     = 16 << 20 // hard cap on a single reassembled message
	defaultWindowBytes = 2_500_000
)

// chunkState tracks the rolling header fields and assembly buffer for one
// inbound chunk stream. Type 1-3 headers inherit the missing fields from the
// previous chunk on the same chunk stream ID.
type chunkState struct {
	timestamp uint32
	delta     uint32
	length    uint32
	typeID    uint8
	streamID  uint32
	extended  bool

	buf      []byte
	received uint32
	active   bool
}

// chunkReader reassembles RTMP messages from an interleaved chunk stream.
// Single-goroutine use only; each connection owns exactly one reader.
type chunkReader struct {
	r         io.Reader
	chunkSize uint32
	states    map[uint32]*chunkState
}

func newChunkReader(r io.Reader) *chunkReader {
	return &chunkReader{
		r:         r,
		chunkSize: defaultChunkSize,
		states:    make(map[uint32]*chunkState),
	}
}

// setChunkSize applies the peer's Set Chunk Size announcement. Out-of-range
// values are ignored.
func (cr *chunkReader) setChunkSize(size uint32) {
	if size >= 1 && size <= maxChunkSize {
		cr.chunkSize = size
	}
}

// readMessage blocks until the next complete message is assembled.
func (cr *chunkReader) readMessage() (*Message, error) {
	for {
		fmtVal, csid, err := cr.readBasicHeader()
		if err != nil {
			return nil, err
		}
		st := cr.states[csid]
		if st == nil {
			st = &chunkState{}
			cr.states[csid] = st
		}
		if err := cr.readMessageHeader(fmtVal, csid, st); err != nil {
			return nil, err
		}
		if st.length > maxMessageSize {
			return nil, fmt.Errorf("rtmp: message length %d exceeds limit on csid %d", st.length, csid)
		}

		want := st.length - st.received
		if want > cr.chunkSize {
			want = cr.chunkSize
		}
		if want > 0 {
			start := len(st.buf)
			st.buf = st.buf[:start+int(want)]
			if _, err := io.ReadFull(cr.r, st.buf[start:]); err != nil {
				return nil, fmt.Errorf("rtmp: chunk payload: %w", err)
			}
			st.received += want
		}
		if st.received < st.length {
			continue
		}

		msg := &Message{
			ChunkStreamID: csid,
			Timestamp:     st.timestamp,
			TypeID:        st.typeID,
			StreamID:      st.streamID,
			Payload:       append([]byte(nil), st.buf...),
		}
		st.buf = st.buf[:0]
		st.received = 0
		st.active = false
		return msg, nil
	}
}

// readBasicHeader parses the 1-3 byte basic header into format and chunk
// stream ID.
func (cr *chunkReader) readBasicHeader() (uint8, uint32, error) {
	var b [1]byte
	if _, err := io.ReadFull(cr.r, b[:]); err != nil {
		return 0, 0, err
	}
	fmtVal := b[0] >> 6
	switch raw := uint32(b[0] & 0x3F); raw {
	case 0: // 2-byte form, csid 64-319
		var ext [1]byte
		if _, err := io.ReadFull(cr.r, ext[:]); err != nil {
			return 0, 0, fmt.Errorf("rtmp: basic header: %w", err)
		}
		return fmtVal, uint32(ext[0]) + 64, nil
	case 1: // 3-byte form, csid 64-65599
		var ext [2]byte
		if _, err := io.ReadFull(cr.r, ext[:]); err != nil {
			return 0, 0, fmt.Errorf("rtmp: basic header: %w", err)
		}
		return fmtVal, uint32(ext[0]) + 64 + uint32(ext[1])<<8, nil
	default:
		return fmtVal, raw, nil
	}
}

// readMessageHeader parses the per-format message header and folds it into
// the chunk stream state, starting a new message for formats 0-2 and for a
// type 3 header that arrives between messages.
func (cr *chunkReader) readMessageHeader(fmtVal uint8, csid uint32, st *chunkState) error {
	switch fmtVal {
	case 0:
		var h [11]byte
		if _, err := io.ReadFull(cr.r, h[:]); err != nil {
			return fmt.Errorf("rtmp: type 0 header: %w", err)
		}
		ts := readUint24(h[0:3])
		st.length = readUint24(h[3:6])
		st.typeID = h[6]
		st.streamID = binary.LittleEndian.Uint32(h[7:11])
		st.delta = 0
		st.extended = ts == extendedTimestamp
		if st.extended {
			ext, err := cr.readExtendedTimestamp()
			if err != nil {
				return err
			}
			ts = ext
		}
		st.timestamp = ts
		st.restartMessage()
	case 1:
		var h [7]byte
		if _, err := io.ReadFull(cr.r, h[:]); err != nil {
			return fmt.Errorf("rtmp: type 1 header: %w", err)
		}
		delta := readUint24(h[0:3])
		st.length = readUint24(h[3:6])
		st.typeID = h[6]
		st.extended = delta == extendedTimestamp
		if st.extended {
			ext, err := cr.readExtendedTimestamp()
			if err != nil {
				return err
			}
			delta = ext
		}
		st.delta = delta
		st.timestamp += delta
		st.restartMessage()
	case 2:
		var h [3]byte
		if _, err := io.ReadFull(cr.r, h[:]); err != nil {
			return fmt.Errorf("rtmp: type 2 header: %w", err)
		}
		delta := readUint24(h[0:3])
		st.extended = delta == extendedTimestamp
		if st.extended {
			ext, err := cr.readExtendedTimestamp()
			if err != nil {
				return err
			}
			delta = ext
		}
		if st.length == 0 {
			return fmt.Errorf("rtmp: type 2 header without prior state on csid %d", csid)
		}
		st.delta = delta
		st.timestamp += delta
		st.restartMessage()
	case 3:
		if st.length == 0 {
			return fmt.Errorf("rtmp: type 3 header without prior state on csid %d", csid)
		}
		if st.extended {
			if _, err := cr.readExtendedTimestamp(); err != nil {
				return err
			}
		}
		if !st.active {
			// Header reuse between messages: the previous delta applies again.
			st.timestamp += st.delta
			st.restartMessage()
		}
	}
	return nil
}

func (cr *chunkReader) readExtendedTimestamp() (uint32, error) {
	var ext [4]byte
	if _, err := io.ReadFull(cr.r, ext[:]); err != nil {
		return 0, fmt.Errorf("rtmp: extended timestamp: %w", err)
	}
	return binary.BigEndian.Uint32(ext[:]), nil
}

// restartMessage begins assembly of a new message, discarding any abandoned
// partial. The buffer is sized for the declared message length so chunk
// appends never grow it.
func (st *chunkState) restartMessage() {
	if uint32(cap(st.buf)) < st.length {
		st.buf = make([]byte, 0, st.length)
	} else {
		st.buf = st.buf[:0]
	}
	st.received = 0
	st.active = true
}

func readUint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

// chunkWriter fragments outbound messages. New messages use a type 0 header;
// continuation chunks use type 3. Single-goroutine use only.
type chunkWriter struct {
	w         io.Writer
	chunkSize uint32
	buf       bytes.Buffer
}

func newChunkWriter(w io.Writer) *chunkWriter {
	return &chunkWriter{w: w, chunkSize: defaultChunkSize}
}

// setChunkSize switches the outbound fragment size. The caller must announce
// the change to the peer with a Set Chunk Size message before the next write.
func (cw *chunkWriter) setChunkSize(size uint32) {
	if size >= 1 && size <= maxChunkSize {
		cw.chunkSize = size
	}
}

// writeMessage serializes msg as one type 0 chunk plus type 3 continuations
// and flushes them in a single Write call.
func (cw *chunkWriter) writeMessage(msg *Message) error {
	if msg == nil {
		return fmt.Errorf("rtmp: nil message")
	}
	csid := msg.ChunkStreamID
	if csid < 2 {
		csid = csidCommand
	}
	cw.buf.Reset()

	extended := msg.Timestamp >= extendedTimestamp
	cw.writeBasicHeader(0, csid)
	var h [11]byte
	if extended {
		putUint24(h[0:3], extendedTimestamp)
	} else {
		putUint24(h[0:3], msg.Timestamp)
	}
	putUint24(h[3:6], uint32(len(msg.Payload)))
	h[6] = msg.TypeID
	binary.LittleEndian.PutUint32(h[7:11], msg.StreamID)
	cw.buf.Write(h[:])
	if extended {
		var ext [4]byte
		binary.BigEndian.PutUint32(ext[:], msg.Timestamp)
		cw.buf.Write(ext[:])
	}

	payload := msg.Payload
	first := payload
	if uint32(len(first)) > cw.chunkSize {
		first = first[:cw.chunkSize]
	}
	cw.buf.Write(first)
	payload = payload[len(first):]

	for len(payload) > 0 {
		cw.writeBasicHeader(3, csid)
		if extended {
			var ext [4]byte
			binary.BigEndian.PutUint32(ext[:], msg.Timestamp)
			cw.buf.Write(ext[:])
		}
		n := uint32(len(payload))
		if n > cw.chunkSize {
			n = cw.chunkSize
		}
		cw.buf.Write(payload[:n])
		payload = payload[n:]
	}

	if _, err := cw.w.Write(cw.buf.Bytes()); err != nil {
		return fmt.Errorf("rtmp: write message: %w", err)
	}
	return nil
}

func (cw *chunkWriter) writeBasicHeader(fmtVal uint8, csid uint32) {
	switch {
	case csid <= 63:
		cw.buf.WriteByte(fmtVal<<6 | byte(csid))
	case csid <= 319:
		cw.buf.WriteByte(fmtVal << 6)
		cw.buf.WriteByte(byte(csid - 64))
	default:
		cw.buf.WriteByte(fmtVal<<6 | 1)
		cw.buf.WriteByte(byte((csid - 64) & 0xFF))
		cw.buf.WriteByte(byte((csid - 64) >> 8))
	}
}
