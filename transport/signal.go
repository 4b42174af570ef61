package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Default signaling connection constants.
const (
	DefaultDialTimeout      = 10 * time.Second
	DefaultWriteWait        = 10 * time.Second
	DefaultMaxMessageSize   = 1 << 20
	DefaultCloseGracePeriod = 5 * time.Second
)

// SignalConfig configures a signaling connection.
type SignalConfig struct {
	// URL is the WebSocket endpoint, ws:// or wss://.
	URL string

	// Header is sent during the WebSocket handshake.
	Header http.Header

	// DialTimeout bounds the handshake. Defaults to DefaultDialTimeout.
	DialTimeout time.Duration

	// WriteWait is the write deadline for each message. Defaults to DefaultWriteWait.
	WriteWait time.Duration

	// MaxMessageSize is the read limit. Defaults to DefaultMaxMessageSize.
	MaxMessageSize int64

	// CloseGracePeriod is how long a local close waits for the peer's close
	// frame before dropping the socket. Defaults to DefaultCloseGracePeriod.
	CloseGracePeriod time.Duration
}

func (c *SignalConfig) defaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WriteWait == 0 {
		c.WriteWait = DefaultWriteWait
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.CloseGracePeriod == 0 {
		c.CloseGracePeriod = DefaultCloseGracePeriod
	}
}

// SignalConn is an event-driven WebSocket client.
type SignalConn struct {
	cfg     SignalConfig
	handler SignalHandler

	mu      sync.Mutex
	writeMu sync.Mutex // serializes writes (gorilla/websocket requirement)
	conn    *websocket.Conn
	state   ReadyState
	cancel  context.CancelFunc
	done    chan struct{}
}

// DialSignal starts connecting to cfg.URL and returns immediately. The
// outcome is reported to h: OnOpen on success, OnError with a *DialError on
// failure.
func DialSignal(ctx context.Context, cfg SignalConfig, h SignalHandler) *SignalConn {
	cfg.defaults()
	dialCtx, cancel := context.WithCancel(ctx)

	c := &SignalConn{
		cfg:     cfg,
		handler: h,
		state:   StateConnecting,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	logrus.WithFields(logrus.Fields{
		"function": "DialSignal",
		"url":      cfg.URL,
	}).Debug("Opening signaling connection")

	go c.run(dialCtx)
	return c
}

func (c *SignalConn) run(ctx context.Context) {
	defer close(c.done)
	defer c.cancel()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.DialTimeout,
		TLSClientConfig:  &tls.Config{MinVersion: tls.VersionTLS12},
	}

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.mu.Lock()
		local := c.state != StateConnecting
		c.state = StateClosed
		c.mu.Unlock()

		if !local {
			logrus.WithFields(logrus.Fields{
				"function": "SignalConn.run",
				"url":      c.cfg.URL,
				"error":    err.Error(),
			}).Warn("Signaling dial failed")
			c.handler.OnError(&DialError{URL: c.cfg.URL, Err: err})
		}
		return
	}

	conn.SetReadLimit(c.cfg.MaxMessageSize)

	c.mu.Lock()
	if c.state != StateConnecting {
		// Closed while the handshake was in flight.
		c.state = StateClosed
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.state = StateOpen
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "SignalConn.run",
		"url":      c.cfg.URL,
	}).Debug("Signaling connection open")

	c.handler.OnOpen()
	c.readLoop(conn)
}

func (c *SignalConn) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			local := c.state == StateClosing || c.state == StateClosed
			c.state = StateClosed
			c.mu.Unlock()
			_ = conn.Close()

			if local {
				return
			}

			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				c.handler.OnClose(closeErr.Code, closeErr.Text)
			} else {
				c.handler.OnError(err)
			}
			return
		}

		if c.closing() {
			continue
		}
		c.handler.OnMessage(data)
	}
}

func (c *SignalConn) closing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateClosing || c.state == StateClosed
}

// Send JSON-encodes msg and writes it as a text message.
func (c *SignalConn) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return c.SendRaw(data)
}

// SendRaw writes pre-encoded data as a text message.
func (c *SignalConn) SendRaw(data []byte) error {
	c.mu.Lock()
	if c.state != StateOpen || c.conn == nil {
		c.mu.Unlock()
		return ErrNotOpen
	}
	conn := c.conn
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}

// Close requests a close with the given code and reason. It returns once the
// close frame has been written; the socket itself is released when the peer
// answers or after CloseGracePeriod. Calling Close on a connection that is
// still connecting abandons the handshake. Safe to call multiple times.
func (c *SignalConn) Close(code int, reason string) error {
	c.mu.Lock()
	switch c.state {
	case StateClosing, StateClosed:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		c.state = StateClosed
		c.mu.Unlock()
		c.cancel()
		return nil
	}
	c.state = StateClosing
	conn := c.conn
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.CloseGracePeriod))
	err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	c.writeMu.Unlock()

	time.AfterFunc(c.cfg.CloseGracePeriod, func() { _ = conn.Close() })

	logrus.WithFields(logrus.Fields{
		"function": "SignalConn.Close",
		"code":     code,
		"reason":   reason,
	}).Debug("Signaling close requested")

	return err
}

// State returns the current ready state.
func (c *SignalConn) State() ReadyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the connection goroutine has exited.
func (c *SignalConn) Done() <-chan struct{} {
	return c.done
}
