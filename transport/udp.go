package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// maxDatagramSize is the largest UDP payload over IPv4.
const maxDatagramSize = 65507

// readPollInterval bounds each read so the loop can observe cancellation.
const readPollInterval = 100 * time.Millisecond

// MediaConn is a UDP socket bound to a single remote media server.
type MediaConn struct {
	conn    *net.UDPConn
	remote  *net.UDPAddr
	handler DatagramHandler
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// NewMediaConn opens a UDP socket on an ephemeral local port connected to
// ip:port and starts its receive loop. The socket is connected so that
// LocalAddr reports the interface address used to reach the media server.
func NewMediaConn(ip string, port int) (*MediaConn, error) {
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid media port %d", port)
	}

	remote, err := net.ResolveUDPAddr("udp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve media address: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, remote)
	if err != nil {
		return nil, fmt.Errorf("failed to open media socket: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &MediaConn{
		conn:   conn,
		remote: remote,
		ctx:    ctx,
		cancel: cancel,
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewMediaConn",
		"local":    conn.LocalAddr().String(),
		"remote":   remote.String(),
	}).Debug("Media socket open")

	go m.processDatagrams()

	return m, nil
}

// RegisterHandler sets the handler for inbound datagrams. Datagrams from
// addresses other than the remote are discarded.
func (m *MediaConn) RegisterHandler(handler DatagramHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handler = handler
}

// Write sends data to the remote address.
func (m *MediaConn) Write(data []byte) (int, error) {
	select {
	case <-m.ctx.Done():
		return 0, ErrMediaClosed
	default:
	}

	n, err := m.conn.Write(data)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return n, ErrMediaClosed
		}
		return n, err
	}
	return n, nil
}

// LocalAddr returns the local socket address.
func (m *MediaConn) LocalAddr() net.Addr {
	return m.conn.LocalAddr()
}

// RemoteAddr returns the media server address.
func (m *MediaConn) RemoteAddr() net.Addr {
	return m.remote
}

// Close stops the receive loop and releases the socket. A handler that is
// running when Close is called completes normally.
func (m *MediaConn) Close() error {
	m.closeOnce.Do(func() {
		m.cancel()
		m.closeErr = m.conn.Close()
	})
	return m.closeErr
}

func (m *MediaConn) processDatagrams() {
	buffer := make([]byte, maxDatagramSize)

	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		data, addr, err := m.readDatagram(buffer)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		m.dispatch(data, addr)
	}
}

func (m *MediaConn) readDatagram(buffer []byte) ([]byte, *net.UDPAddr, error) {
	_ = m.conn.SetReadDeadline(time.Now().Add(readPollInterval))

	n, addr, err := m.conn.ReadFromUDP(buffer)
	if err != nil {
		return nil, nil, m.handleReadError(err)
	}

	return buffer[:n], addr, nil
}

func (m *MediaConn) handleReadError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return err
	}
	if errors.Is(err, net.ErrClosed) {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "MediaConn.handleReadError",
		"error":    err.Error(),
	}).Debug("Media read failed")
	return err
}

func (m *MediaConn) dispatch(data []byte, addr *net.UDPAddr) {
	if !addr.IP.Equal(m.remote.IP) || addr.Port != m.remote.Port {
		return
	}

	m.mu.RLock()
	handler := m.handler
	m.mu.RUnlock()

	if handler == nil {
		return
	}

	// The buffer is reused by the next read.
	packet := make([]byte, len(data))
	copy(packet, data)
	handler(packet, addr)
}
