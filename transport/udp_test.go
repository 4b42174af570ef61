package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopbackServer is a UDP socket standing in for a media server.
func loopbackServer(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestMediaConn_WriteReachesRemote(t *testing.T) {
	srv := loopbackServer(t)
	addr := srv.LocalAddr().(*net.UDPAddr)

	m, err := NewMediaConn("127.0.0.1", addr.Port)
	require.NoError(t, err)
	defer m.Close()

	n, err := m.Write([]byte("frame"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 64)
	require.NoError(t, srv.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, from, err := srv.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, "frame", string(buf[:n]))
	assert.Equal(t, m.LocalAddr().(*net.UDPAddr).Port, from.Port)
	assert.Equal(t, addr.String(), m.RemoteAddr().String())
}

func TestMediaConn_HandlerReceivesFromRemote(t *testing.T) {
	srv := loopbackServer(t)
	addr := srv.LocalAddr().(*net.UDPAddr)

	m, err := NewMediaConn("127.0.0.1", addr.Port)
	require.NoError(t, err)
	defer m.Close()

	received := make(chan []byte, 4)
	m.RegisterHandler(func(data []byte, _ net.Addr) {
		received <- data
	})

	// Learn the client's address the way a media server would.
	_, err = m.Write([]byte("hello"))
	require.NoError(t, err)
	buf := make([]byte, 64)
	require.NoError(t, srv.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, client, err := srv.ReadFromUDP(buf)
	require.NoError(t, err)

	_, err = srv.WriteToUDP([]byte("reply"), client)
	require.NoError(t, err)

	select {
	case data := <-received:
		assert.Equal(t, "reply", string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
	}
}

func TestMediaConn_IgnoresOtherSenders(t *testing.T) {
	srv := loopbackServer(t)
	stranger := loopbackServer(t)
	addr := srv.LocalAddr().(*net.UDPAddr)

	m, err := NewMediaConn("127.0.0.1", addr.Port)
	require.NoError(t, err)
	defer m.Close()

	received := make(chan []byte, 4)
	m.RegisterHandler(func(data []byte, _ net.Addr) {
		received <- data
	})

	local := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: m.LocalAddr().(*net.UDPAddr).Port}
	_, err = stranger.WriteToUDP([]byte("spoofed"), local)
	require.NoError(t, err)
	_, err = srv.WriteToUDP([]byte("genuine"), local)
	require.NoError(t, err)

	select {
	case data := <-received:
		assert.Equal(t, "genuine", string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
	}
}

func TestMediaConn_Close(t *testing.T) {
	srv := loopbackServer(t)
	addr := srv.LocalAddr().(*net.UDPAddr)

	m, err := NewMediaConn("127.0.0.1", addr.Port)
	require.NoError(t, err)

	require.NoError(t, m.Close())
	assert.NoError(t, m.Close())

	_, err = m.Write([]byte("late"))
	assert.ErrorIs(t, err, ErrMediaClosed)
}

func TestNewMediaConn_InvalidAddress(t *testing.T) {
	tests := []struct {
		name string
		ip   string
		port int
	}{
		{"zero port", "127.0.0.1", 0},
		{"port too large", "127.0.0.1", 70000},
		{"bad host", "not a host name", 5000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewMediaConn(tt.ip, tt.port)
			assert.Error(t, err)
			assert.Nil(t, m)
		})
	}
}
