// SPDX-License-Identifier: MIT

package rtmp

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerHandshakeEchoesC1(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	errc := make(chan error, 1)
	go func() { errc <- serverHandshake(server) }()

	// C0 + C1 with a known random block.
	c0c1 := make([]byte, 1+handshakeBlockSize)
	c0c1[0] = handshakeVersion
	binary.BigEndian.PutUint32(c0c1[1:5], 12345)
	_, err := rand.Read(c0c1[1+handshakeRandOffset:])
	require.NoError(t, err)
	_, err = client.Write(c0c1)
	require.NoError(t, err)

	s0s1s2 := make([]byte, 1+2*handshakeBlockSize)
	_, err = io.ReadFull(client, s0s1s2)
	require.NoError(t, err)

	assert.Equal(t, byte(handshakeVersion), s0s1s2[0])
	s1 := s0s1s2[1 : 1+handshakeBlockSize]
	s2 := s0s1s2[1+handshakeBlockSize:]
	assert.Equal(t, c0c1[1:], s2, "S2 must echo C1 byte for byte")

	// C2 echoes S1.
	_, err = client.Write(s1)
	require.NoError(t, err)

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("handshake did not complete")
	}
}

func TestServerHandshakeRejectsBadVersion(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	errc := make(chan error, 1)
	go func() { errc <- serverHandshake(server) }()

	bad := make([]byte, 1+handshakeBlockSize)
	bad[0] = 0x06
	_, err := client.Write(bad)
	require.NoError(t, err)

	select {
	case err := <-errc:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported version")
	case <-time.After(2 * time.Second):
		t.Fatal("handshake did not fail")
	}
}

func TestClientAndServerHandshakeInterlock(t *testing.T) {
	client, server := net.Pipe()

	serverErr := make(chan error, 1)
	clientErr := make(chan error, 1)
	go func() { serverErr <- serverHandshake(server) }()
	go func() { clientErr <- clientHandshake(client) }()

	deadline := time.After(2 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case err := <-serverErr:
			require.NoError(t, err, "server side")
		case err := <-clientErr:
			require.NoError(t, err, "client side")
		case <-deadline:
			t.Fatal("handshake did not complete on both sides")
		}
	}
}
