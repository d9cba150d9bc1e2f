// SPDX-License-Identifier: MIT

package rtmp

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// Simple (non-digest) RTMP handshake, version 3. C0/S0 are one version byte;
// C1/S1/C2/S2 are 1536-byte blocks of timestamp + zero + random data. S2
// echoes C1, C2 echoes S1.
const (
	handshakeVersion    = 0x03
	handshakeBlockSize  = 1536
	handshakeRandOffset = 8
	handshakeTimeout    = 5 * time.Second
)

// serverHandshake runs the server side of the handshake and leaves the
// connection positioned at the first chunk. Deadlines cover each blocking
// phase and are cleared on success.
func serverHandshake(conn net.Conn) error {
	if err := conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return fmt.Errorf("handshake: set deadline: %w", err)
	}

	c0c1 := make([]byte, 1+handshakeBlockSize)
	if _, err := io.ReadFull(conn, c0c1); err != nil {
		return fmt.Errorf("handshake: read c0+c1: %w", err)
	}
	if c0c1[0] != handshakeVersion {
		return fmt.Errorf("handshake: unsupported version 0x%02x", c0c1[0])
	}
	c1 := c0c1[1:]

	// S0 + S1 + S2 go out in one write. S1 carries our clock and fresh
	// random bytes; S2 echoes C1 verbatim.
	out := make([]byte, 1+2*handshakeBlockSize)
	out[0] = handshakeVersion
	s1 := out[1 : 1+handshakeBlockSize]
	binary.BigEndian.PutUint32(s1[:4], uint32(time.Now().UnixMilli()))
	if _, err := rand.Read(s1[handshakeRandOffset:]); err != nil {
		return fmt.Errorf("handshake: random s1: %w", err)
	}
	copy(out[1+handshakeBlockSize:], c1)

	if err := conn.SetWriteDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return fmt.Errorf("handshake: set write deadline: %w", err)
	}
	if _, err := conn.Write(out); err != nil {
		return fmt.Errorf("handshake: write s0+s1+s2: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return fmt.Errorf("handshake: set read deadline: %w", err)
	}
	c2 := make([]byte, handshakeBlockSize)
	if _, err := io.ReadFull(conn, c2); err != nil {
		return fmt.Errorf("handshake: read c2: %w", err)
	}

	// Some encoders do not echo S1 exactly; tolerate any C2 content.
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return fmt.Errorf("handshake: clear deadline: %w", err)
	}
	return nil
}

// clientHandshake runs the client side, used by the relay child probe and by
// tests that publish into the embedded server.
func clientHandshake(conn net.Conn) error {
	if err := conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return fmt.Errorf("handshake: set deadline: %w", err)
	}

	out := make([]byte, 1+handshakeBlockSize)
	out[0] = handshakeVersion
	c1 := out[1:]
	binary.BigEndian.PutUint32(c1[:4], uint32(time.Now().UnixMilli()))
	if _, err := rand.Read(c1[handshakeRandOffset:]); err != nil {
		return fmt.Errorf("handshake: random c1: %w", err)
	}
	if _, err := conn.Write(out); err != nil {
		return fmt.Errorf("handshake: write c0+c1: %w", err)
	}

	in := make([]byte, 1+2*handshakeBlockSize)
	if _, err := io.ReadFull(conn, in); err != nil {
		return fmt.Errorf("handshake: read s0+s1+s2: %w", err)
	}
	if in[0] != handshakeVersion {
		return fmt.Errorf("handshake: unsupported version 0x%02x", in[0])
	}

	// C2 echoes S1.
	if _, err := conn.Write(in[1 : 1+handshakeBlockSize]); err != nil {
		return fmt.Errorf("handshake: write c2: %w", err)
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return fmt.Errorf("handshake: clear deadline: %w", err)
	}
	return nil
}
