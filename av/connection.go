package av

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/voicelink/av/rtp"
	"github.com/opd-ai/voicelink/crypto"
	"github.com/opd-ai/voicelink/transport"
	"github.com/sirupsen/logrus"
)

// Close codes this client sends. A normal closure ends the session on the
// server; resumeCloseCode keeps it resumable.
const (
	normalCloseCode = 1000
	resumeCloseCode = 4000
)

// AudioHandler receives decrypted inbound audio packets.
type AudioHandler func(pkt *rtp.AudioPacket)

// Connection is the voice session for one room.
//
// It owns one signaling connection at a time and, once the gateway sends
// Ready, one media channel. Each signaling connection is tagged with a
// generation so that callbacks from a replaced connection are ignored.
type Connection struct {
	identity Identity
	server   ServerInfo
	opts     Options
	resolver PeerResolver
	manager  *Manager

	heartbeat *Heartbeater
	events    *dispatcher

	// sendMu serializes SendAudio callers.
	sendMu sync.Mutex

	mu           sync.Mutex
	state        ConnectionState
	ctx          context.Context
	cancel       context.CancelFunc
	signal       *transport.SignalConn
	generation   uint64
	resume       bool
	readyEmitted bool
	reconnects   int
	retryTimer   *time.Timer
	media        *transport.MediaConn
	session      *rtp.Session
	pendingKey   *crypto.Key
	remoteIP     string
	remotePort   int
	audioHandler AudioHandler
	readyCh      chan struct{}
	closedCh     chan struct{}
	readyErr     error
}

// NewConnection creates an idle connection. Connections created this way are
// not tracked by a Manager; use Manager.Establish for registry semantics.
func NewConnection(id Identity, server ServerInfo, opts Options, resolver PeerResolver) (*Connection, error) {
	if err := validateIdentity(id, server); err != nil {
		return nil, err
	}
	return newConnection(nil, id, server, opts, resolver), nil
}

func newConnection(m *Manager, id Identity, server ServerInfo, opts Options, resolver PeerResolver) *Connection {
	opts.normalize()

	c := &Connection{
		identity: id,
		server:   server,
		opts:     opts,
		resolver: resolver,
		manager:  m,
		events:   newDispatcher(),
		state:    StateIdle,
		readyCh:  make(chan struct{}),
		closedCh: make(chan struct{}),
	}
	c.heartbeat = NewHeartbeater(c.sendHeartbeat, opts.TimeProvider)
	c.heartbeat.OnRTT(func(rtt time.Duration) {
		heartbeatRTT.Observe(rtt.Seconds())
	})
	return c
}

// Connect starts opening the signaling connection and returns without
// waiting for it. ctx contributes values only; the connection lives until
// Disconnect or an unrecoverable failure. Use WaitReady or EventReady to
// observe readiness.
func (c *Connection) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateIdle:
	case StateDisconnected:
		return ErrSessionClosed
	default:
		return fmt.Errorf("%w: connection is %s", ErrAlreadyConnected, c.state)
	}

	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	sessionsActive.Inc()

	logrus.WithFields(logrus.Fields{
		"function": "Connection.Connect",
		"room_id":  c.identity.RoomID,
		"endpoint": c.server.Endpoint,
	}).Info("Connecting to voice gateway")

	c.openSignalLocked()
	return nil
}

func (c *Connection) openSignalLocked() {
	c.generation++
	c.setStateLocked(StateConnecting)

	cfg := transport.SignalConfig{
		URL:              GatewayURL(c.server.Endpoint, c.opts.GatewayVersion),
		Header:           c.opts.Header,
		DialTimeout:      c.opts.DialTimeout,
		WriteWait:        c.opts.WriteWait,
		CloseGracePeriod: c.opts.CloseGracePeriod,
	}
	c.signal = transport.DialSignal(c.ctx, cfg, &signalHandler{conn: c, generation: c.generation})
}

func (c *Connection) setStateLocked(state ConnectionState) {
	if c.state == state {
		return
	}
	logrus.WithFields(logrus.Fields{
		"function": "Connection.setState",
		"room_id":  c.identity.RoomID,
		"from":     c.state.String(),
		"to":       state.String(),
	}).Debug("Connection state change")

	c.state = state
	recordState(state)
}

// currentLocked reports whether generation still owns the connection.
func (c *Connection) currentLocked(generation uint64) bool {
	return c.generation == generation && c.state != StateDisconnected
}

func (c *Connection) isCurrent(generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLocked(generation)
}

// signalHandler binds transport callbacks to one signaling generation.
type signalHandler struct {
	conn       *Connection
	generation uint64
}

func (h *signalHandler) OnOpen()                 { h.conn.handleOpen(h.generation) }
func (h *signalHandler) OnMessage(data []byte)   { h.conn.handleMessage(h.generation, data) }
func (h *signalHandler) OnClose(c int, r string) { h.conn.handleClose(h.generation, c, r) }
func (h *signalHandler) OnError(err error)       { h.conn.handleError(h.generation, err) }

func (c *Connection) handleOpen(generation uint64) {
	c.mu.Lock()
	if !c.currentLocked(generation) {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateHandshaking)
	resume := c.resume
	c.resume = false
	sig := c.signal
	c.mu.Unlock()

	var msg outgoingPayload
	if resume {
		msg = outgoingPayload{Op: OpResume, D: resumePayload{
			ServerID:  c.identity.RoomID,
			SessionID: c.server.SessionID,
			Token:     c.server.Token,
		}}
	} else {
		msg = outgoingPayload{Op: OpIdentify, D: identifyPayload{
			ServerID:  c.identity.RoomID,
			UserID:    c.identity.UserID,
			SessionID: c.server.SessionID,
			Token:     c.server.Token,
		}}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Connection.handleOpen",
		"room_id":  c.identity.RoomID,
		"op":       msg.Op.String(),
	}).Info("Signaling open, starting handshake")

	if err := sig.Send(msg); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Connection.handleOpen",
			"room_id":  c.identity.RoomID,
			"error":    err.Error(),
		}).Error("Failed to send handshake")
	}
}

func (c *Connection) handleMessage(generation uint64, data []byte) {
	if !c.isCurrent(generation) {
		return
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		c.violation(Opcode(-1), fmt.Errorf("%w: %v", ErrProtocolViolation, err))
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "Connection.handleMessage",
		"room_id":  c.identity.RoomID,
		"op":       p.Op.String(),
	}).Debug("Gateway message")

	var err error
	switch p.Op {
	case OpReady:
		err = c.handleReady(generation, p.D)
	case OpSessionDescription:
		err = c.handleSessionDescription(generation, p.D)
	case OpResumed:
		err = c.handleResumed(generation)
	case OpSpeaking:
		err = c.handleSpeaking(generation, p.D)
	case OpHello:
		err = c.handleHello(generation, p.D)
	case OpHeartbeatAck:
		err = c.handleHeartbeatAck(p.D)
	case OpClientDisconnect:
		err = c.handleClientDisconnect(p.D)
	default:
		// Unknown and client-bound opcodes are ignored.
	}

	if err != nil {
		c.violation(p.Op, err)
	}
}

func (c *Connection) violation(op Opcode, err error) {
	recordViolation(op)
	logrus.WithFields(logrus.Fields{
		"function": "Connection.violation",
		"room_id":  c.identity.RoomID,
		"op":       op.String(),
		"error":    err.Error(),
	}).Warn("Ignoring invalid gateway message")
}

func decodePayload(d json.RawMessage, v interface{}) error {
	if len(d) == 0 {
		return fmt.Errorf("%w: missing payload", ErrProtocolViolation)
	}
	if err := json.Unmarshal(d, v); err != nil {
		return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	return nil
}

func (c *Connection) handleReady(generation uint64, d json.RawMessage) error {
	var ready readyPayload
	if err := decodePayload(d, &ready); err != nil {
		return err
	}
	ssrc, ip, port, err := ready.routing()
	if err != nil {
		return err
	}

	c.mu.Lock()
	if !c.currentLocked(generation) {
		c.mu.Unlock()
		return nil
	}
	if c.readyEmitted {
		c.mu.Unlock()
		return fmt.Errorf("%w: duplicate ready", ErrProtocolViolation)
	}
	c.mu.Unlock()

	if len(ready.Modes) > 0 && !containsMode(ready.Modes, EncryptionMode) {
		logrus.WithFields(logrus.Fields{
			"function": "Connection.handleReady",
			"room_id":  c.identity.RoomID,
			"modes":    ready.Modes,
		}).Warn("Gateway does not advertise the supported encryption mode")
	}

	media, err := transport.NewMediaConn(ip, port)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Connection.handleReady",
			"room_id":  c.identity.RoomID,
			"error":    err.Error(),
		}).Error("Failed to open media channel")
		c.disconnect(fmt.Errorf("%w: %v", ErrTransport, err))
		return nil
	}

	session, err := rtp.NewSession(ssrc, media)
	if err != nil {
		_ = media.Close()
		return err
	}

	c.mu.Lock()
	if !c.currentLocked(generation) || c.readyEmitted {
		c.mu.Unlock()
		_ = media.Close()
		return nil
	}
	c.media = media
	c.session = session
	c.remoteIP = ip
	c.remotePort = port
	if c.pendingKey != nil {
		session.SetKey(*c.pendingKey)
		crypto.WipeKey(c.pendingKey)
		c.pendingKey = nil
	}
	c.readyEmitted = true
	c.reconnects = 0
	c.setStateLocked(StateReady)
	close(c.readyCh)
	sig := c.signal
	c.mu.Unlock()

	media.RegisterHandler(c.handleDatagram)

	logrus.WithFields(logrus.Fields{
		"function": "Connection.handleReady",
		"room_id":  c.identity.RoomID,
		"ssrc":     ssrc,
		"remote":   media.RemoteAddr().String(),
	}).Info("Voice connection ready")

	c.emit(Event{Kind: EventReady, SSRC: ssrc})

	return c.selectProtocol(sig, media.LocalAddr())
}

func containsMode(modes []string, mode string) bool {
	for _, m := range modes {
		if m == mode {
			return true
		}
	}
	return false
}

func (c *Connection) selectProtocol(sig *transport.SignalConn, local net.Addr) error {
	addr, ok := local.(*net.UDPAddr)
	if !ok {
		return fmt.Errorf("unexpected media address type %T", local)
	}

	msg := outgoingPayload{Op: OpSelectProtocol, D: selectProtocolPayload{
		Protocol: "udp",
		Data: selectProtocolData{
			Address: addr.IP.String(),
			Port:    addr.Port,
			Mode:    EncryptionMode,
		},
	}}

	if err := sig.Send(msg); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Connection.selectProtocol",
			"room_id":  c.identity.RoomID,
			"error":    err.Error(),
		}).Error("Failed to send protocol selection")
	}
	return nil
}

func (c *Connection) handleSessionDescription(generation uint64, d json.RawMessage) error {
	var desc sessionDescriptionPayload
	if err := decodePayload(d, &desc); err != nil {
		return err
	}
	key, err := desc.key()
	if err != nil {
		return err
	}
	defer crypto.WipeKey(&key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.currentLocked(generation) {
		return nil
	}
	if c.session != nil {
		c.session.SetKey(key)
		return nil
	}

	// Description ahead of Ready: hold the key until the session exists.
	if c.pendingKey == nil {
		c.pendingKey = new(crypto.Key)
	}
	*c.pendingKey = key
	return nil
}

func (c *Connection) handleResumed(generation uint64) error {
	c.mu.Lock()
	if !c.currentLocked(generation) {
		c.mu.Unlock()
		return nil
	}
	if !c.readyEmitted {
		c.mu.Unlock()
		return fmt.Errorf("%w: resumed before ready", ErrProtocolViolation)
	}
	c.reconnects = 0
	c.setStateLocked(StateReady)
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Connection.handleResumed",
		"room_id":  c.identity.RoomID,
	}).Info("Voice session resumed")

	c.emit(Event{Kind: EventResumed})
	return nil
}

func (c *Connection) handleSpeaking(generation uint64, d json.RawMessage) error {
	var sp speakingPayload
	if err := decodePayload(d, &sp); err != nil {
		return err
	}
	if sp.UserID == "" {
		return fmt.Errorf("%w: speaking without user id", ErrProtocolViolation)
	}

	c.mu.Lock()
	ready := c.readyEmitted
	ctx := c.ctx
	c.mu.Unlock()
	if !ready {
		return fmt.Errorf("%w: speaking before ready", ErrProtocolViolation)
	}

	speaking := sp.Speaking != 0
	peer := c.resolvePeer(ctx, sp.UserID)

	if !c.isCurrent(generation) {
		return nil
	}

	if peer == nil {
		c.emit(Event{Kind: EventSpeakingUnresolved, UserID: sp.UserID, Speaking: speaking, SSRC: sp.SSRC})
		return nil
	}
	c.emit(Event{Kind: EventSpeaking, Peer: peer, UserID: sp.UserID, Speaking: speaking, SSRC: sp.SSRC})
	return nil
}

func (c *Connection) resolvePeer(ctx context.Context, userID string) Peer {
	if c.resolver == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.ResolveTimeout)
	defer cancel()

	peer, err := c.resolver.Resolve(ctx, userID)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Connection.resolvePeer",
			"room_id":  c.identity.RoomID,
			"user_id":  userID,
			"error":    err.Error(),
		}).Debug("Peer lookup failed")
		return nil
	}
	return peer
}

func (c *Connection) handleHello(generation uint64, d json.RawMessage) error {
	var hello helloPayload
	if err := decodePayload(d, &hello); err != nil {
		return err
	}
	interval := time.Duration(hello.HeartbeatInterval * float64(time.Millisecond))
	if interval <= 0 {
		return fmt.Errorf("%w: heartbeat interval %v", ErrProtocolViolation, hello.HeartbeatInterval)
	}

	if !c.isCurrent(generation) {
		return nil
	}
	if err := c.heartbeat.Begin(interval); err != nil {
		return err
	}
	// Lost a race with reconnect or Disconnect.
	if !c.isCurrent(generation) {
		c.heartbeat.Stop()
	}
	return nil
}

func (c *Connection) handleHeartbeatAck(d json.RawMessage) error {
	nonce, err := decodeHeartbeatNonce(d)
	if err != nil {
		return err
	}
	c.heartbeat.Ack(nonce)
	return nil
}

// decodeHeartbeatNonce accepts a bare number or an object with a t field.
func decodeHeartbeatNonce(d json.RawMessage) (int64, error) {
	d = bytes.TrimSpace(d)
	if len(d) > 0 && d[0] == '{' {
		var wrapped struct {
			T float64 `json:"t"`
		}
		if err := json.Unmarshal(d, &wrapped); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
		}
		return int64(wrapped.T), nil
	}

	var n float64
	if err := decodePayload(d, &n); err != nil {
		return 0, err
	}
	return int64(n), nil
}

func (c *Connection) handleClientDisconnect(d json.RawMessage) error {
	var cd clientDisconnectPayload
	if err := decodePayload(d, &cd); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Connection.handleClientDisconnect",
		"room_id":  c.identity.RoomID,
		"user_id":  cd.UserID,
	}).Info("Participant left")

	c.emit(Event{Kind: EventClientDisconnect, UserID: cd.UserID})
	return nil
}

func (c *Connection) handleClose(generation uint64, code int, reason string) {
	if !c.isCurrent(generation) {
		return
	}
	c.heartbeat.Stop()

	closeErr := &CloseError{Code: CloseCode(code), Reason: reason}
	class := ClassifyClose(closeErr.Code)

	logrus.WithFields(logrus.Fields{
		"function": "Connection.handleClose",
		"room_id":  c.identity.RoomID,
		"code":     code,
		"reason":   reason,
		"class":    class.String(),
	}).Warn("Signaling connection closed")

	if class == CloseInvalidated {
		c.disconnect(closeErr)
		return
	}
	c.reconnect(closeErr)
}

func (c *Connection) handleError(generation uint64, err error) {
	if !c.isCurrent(generation) {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "Connection.handleError",
		"room_id":  c.identity.RoomID,
		"error":    err.Error(),
	}).Warn("Signaling connection failed")

	c.reconnect(err)
}

// reconnect replaces the signaling connection and resumes the session on it.
// A session that never reached Ready identifies again instead of resuming.
// Consecutive attempts are bounded by MaxReconnectAttempts; once they run
// out the connection is torn down with ErrTransport.
func (c *Connection) reconnect(cause error) {
	c.heartbeat.Stop()

	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	if c.reconnects >= c.opts.MaxReconnectAttempts {
		attempts := c.reconnects
		c.mu.Unlock()
		c.disconnect(fmt.Errorf("%w: gave up after %d reconnect attempts: %w", ErrTransport, attempts, cause))
		return
	}

	c.reconnects++
	attempt := c.reconnects
	// A session that never reached Ready has nothing to resume.
	c.resume = c.readyEmitted
	c.generation++
	generation := c.generation
	old := c.signal
	c.signal = nil
	c.setStateLocked(StateConnecting)
	delay := reconnectDelay(attempt, c.opts.ReconnectBackoff, c.opts.ReconnectBackoffMax)
	c.mu.Unlock()

	reconnectsTotal.Inc()

	if old != nil {
		_ = old.Close(resumeCloseCode, "reconnecting")
	}

	logrus.WithFields(logrus.Fields{
		"function": "Connection.reconnect",
		"room_id":  c.identity.RoomID,
		"attempt":  attempt,
		"delay":    delay.String(),
	}).Info("Reconnecting to voice gateway")

	open := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.generation != generation || c.state != StateConnecting {
			return
		}
		c.retryTimer = nil
		c.openSignalLocked()
	}

	if delay == 0 {
		open()
		return
	}

	c.mu.Lock()
	if c.generation == generation {
		c.retryTimer = time.AfterFunc(delay, open)
	}
	c.mu.Unlock()
}

// Disconnect tears the connection down. It stops heartbeats, requests the
// signaling close, closes the media channel, emits EventDisconnect and
// removes the connection from its Manager. Safe to call from any state and
// more than once.
func (c *Connection) Disconnect() {
	c.disconnect(nil)
}

func (c *Connection) disconnect(cause error) {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	started := c.state != StateIdle
	c.setStateLocked(StateDisconnected)
	c.generation++
	sig := c.signal
	c.signal = nil
	media := c.media
	c.media = nil
	session := c.session
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.pendingKey != nil {
		crypto.WipeKey(c.pendingKey)
		c.pendingKey = nil
	}
	if !c.readyEmitted {
		switch {
		case cause == nil:
			c.readyErr = ErrSessionClosed
		case errors.Is(cause, ErrTransport):
			c.readyErr = cause
		default:
			c.readyErr = fmt.Errorf("%w: %w", ErrSessionClosed, cause)
		}
	}
	cancel := c.cancel
	close(c.closedCh)
	c.mu.Unlock()

	c.heartbeat.Stop()

	if sig != nil {
		if st := sig.State(); st != transport.StateClosing && st != transport.StateClosed {
			_ = sig.Close(normalCloseCode, "")
		}
	}
	if cancel != nil {
		cancel()
	}
	if session != nil {
		_ = session.Close()
	}
	if media != nil {
		_ = media.Close()
	}
	if started {
		sessionsActive.Dec()
	}

	fields := logrus.Fields{
		"function": "Connection.Disconnect",
		"room_id":  c.identity.RoomID,
	}
	if cause != nil {
		fields["cause"] = cause.Error()
	}
	logrus.WithFields(fields).Info("Voice connection closed")

	c.emit(Event{Kind: EventDisconnect, Err: cause})

	if c.manager != nil {
		c.manager.release(c.identity.RoomID, c)
	}
}

func (c *Connection) emit(ev Event) {
	ev.RoomID = c.identity.RoomID
	c.events.emit(ev)
}

func (c *Connection) sendHeartbeat(nonce int64) error {
	c.mu.Lock()
	sig := c.signal
	c.mu.Unlock()

	if sig == nil {
		return transport.ErrNotOpen
	}
	return sig.Send(outgoingPayload{Op: OpHeartbeat, D: nonce})
}

// SendAudio frames, seals and sends one encoded audio frame. It returns the
// datagram size. Concurrent callers are serialized.
//
// ErrNotReady is returned until the media channel is open and the session
// key has arrived; write failures are wrapped in ErrTransport.
func (c *Connection) SendAudio(payload []byte) (int, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	state := c.state
	session := c.session
	c.mu.Unlock()

	if state == StateDisconnected {
		return 0, ErrSessionClosed
	}
	if session == nil || !session.HasKey() {
		return 0, ErrNotReady
	}

	n, err := session.SendAudio(payload)
	switch {
	case err == nil:
		recordSent(n)
		return n, nil
	case errors.Is(err, rtp.ErrNoKey):
		return 0, ErrNotReady
	case errors.Is(err, rtp.ErrSessionClosed), errors.Is(err, transport.ErrMediaClosed):
		return 0, ErrSessionClosed
	case errors.Is(err, crypto.ErrEmptyMessage), errors.Is(err, crypto.ErrMessageTooLarge):
		return 0, err
	default:
		sendErrorsTotal.Inc()
		return n, fmt.Errorf("%w: %w", ErrTransport, err)
	}
}

func (c *Connection) handleDatagram(data []byte, _ net.Addr) {
	c.mu.Lock()
	session := c.session
	handler := c.audioHandler
	c.mu.Unlock()

	if session == nil || !session.HasKey() {
		return
	}

	pkt, err := session.ReceivePacket(data)
	if err != nil {
		recordReceived(false)
		logrus.WithFields(logrus.Fields{
			"function": "Connection.handleDatagram",
			"room_id":  c.identity.RoomID,
			"size":     len(data),
			"error":    err.Error(),
		}).Debug("Dropping media datagram")
		return
	}
	recordReceived(true)

	if handler != nil {
		handler(pkt)
	}
}

// OnEvent registers a notification handler. Handlers run one at a time on
// the connection's dispatcher goroutine, in emission order.
//
// Speaking updates that arrive before EventReady are dropped as protocol
// violations rather than delivered. Nothing is delivered after
// EventDisconnect. A connection that is never connected starts no
// dispatcher goroutine.
func (c *Connection) OnEvent(h EventHandler) {
	c.events.subscribe(h)
}

// OnAudio sets the handler for decrypted inbound audio. It runs on the media
// receive goroutine.
func (c *Connection) OnAudio(h AudioHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audioHandler = h
}

// WaitReady blocks until the connection is ready, disconnected or ctx ends.
// A signaling connection that could not be opened yields an error wrapping
// ErrTransport; any other teardown yields ErrSessionClosed.
func (c *Connection) WaitReady(ctx context.Context) error {
	select {
	case <-c.readyCh:
		return nil
	case <-c.closedCh:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.readyErr != nil {
			return c.readyErr
		}
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the connection is disconnected.
func (c *Connection) Done() <-chan struct{} {
	return c.closedCh
}

// State returns the current connection state.
func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Identity returns the room identity.
func (c *Connection) Identity() Identity {
	return c.identity
}

// RoomID returns the room this connection serves.
func (c *Connection) RoomID() string {
	return c.identity.RoomID
}

// SSRC returns the synchronization source assigned in Ready, or zero.
func (c *Connection) SSRC() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return 0
	}
	return c.session.SSRC()
}

// RemoteAddr returns the media server address from Ready.
func (c *Connection) RemoteAddr() (string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteIP, c.remotePort
}

// Ping returns the latest heartbeat round-trip time.
func (c *Connection) Ping() time.Duration {
	return c.heartbeat.RTT()
}

// Heartbeat exposes the heartbeat scheduler for inspection.
func (c *Connection) Heartbeat() *Heartbeater {
	return c.heartbeat
}

// Stats returns media counters. It is zero before Ready.
func (c *Connection) Stats() rtp.Statistics {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return rtp.Statistics{}
	}
	return session.GetStatistics()
}
