package av

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/opd-ai/voicelink/crypto"
	"github.com/stretchr/testify/require"
)

const (
	testTimeout = 3 * time.Second
	testSSRC    = uint32(0x1234)
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// fakeGateway is a scripted voice gateway. Each accepted WebSocket is handed
// to the test through accept.
type fakeGateway struct {
	srv   *httptest.Server
	conns chan *gatewayConn

	// dials counts handshake attempts; the first reject of them get 503.
	dials  atomic.Int32
	reject atomic.Int32

	mu  sync.Mutex
	all []*websocket.Conn
}

type gatewayConn struct {
	ws     *websocket.Conn
	msgs   chan Payload
	closes chan int
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()

	g := &fakeGateway{conns: make(chan *gatewayConn, 8)}
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if n := g.dials.Add(1); n <= g.reject.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		ws, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		g.mu.Lock()
		g.all = append(g.all, ws)
		g.mu.Unlock()

		gc := &gatewayConn{
			ws:     ws,
			msgs:   make(chan Payload, 64),
			closes: make(chan int, 1),
		}
		g.conns <- gc
		gc.readLoop()
	}))

	t.Cleanup(func() {
		g.mu.Lock()
		for _, ws := range g.all {
			_ = ws.Close()
		}
		g.mu.Unlock()
		g.srv.Close()
	})
	return g
}

func (g *fakeGateway) endpoint() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http") + "/?v=4"
}

func (g *fakeGateway) accept(t *testing.T) *gatewayConn {
	t.Helper()
	select {
	case gc := <-g.conns:
		return gc
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for a gateway connection")
		return nil
	}
}

func (gc *gatewayConn) readLoop() {
	defer close(gc.msgs)
	for {
		_, data, err := gc.ws.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				select {
				case gc.closes <- closeErr.Code:
				default:
				}
			}
			return
		}
		var p Payload
		if json.Unmarshal(data, &p) == nil {
			gc.msgs <- p
		}
	}
}

// expect returns the next message with opcode op, skipping heartbeats.
func (gc *gatewayConn) expect(t *testing.T, op Opcode) Payload {
	t.Helper()
	deadline := time.After(testTimeout)
	for {
		select {
		case p, ok := <-gc.msgs:
			if !ok {
				t.Fatalf("gateway connection closed while waiting for %s", op)
			}
			if p.Op == op {
				return p
			}
			if p.Op != OpHeartbeat {
				t.Fatalf("expected %s, got %s", op, p.Op)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", op)
		}
	}
}

func (gc *gatewayConn) send(t *testing.T, op Opcode, d interface{}) {
	t.Helper()
	require.NoError(t, gc.ws.WriteJSON(outgoingPayload{Op: op, D: d}))
}

func (gc *gatewayConn) closeWith(t *testing.T, code int, reason string) {
	t.Helper()
	msg := websocket.FormatCloseMessage(code, reason)
	require.NoError(t, gc.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))
}

func (gc *gatewayConn) waitClose(t *testing.T) int {
	t.Helper()
	select {
	case code := <-gc.closes:
		return code
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for client close")
		return 0
	}
}

// fakeMedia is a loopback UDP socket standing in for the media server.
type fakeMedia struct {
	conn *net.UDPConn
}

func newFakeMedia(t *testing.T) *fakeMedia {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &fakeMedia{conn: conn}
}

func (m *fakeMedia) port() int {
	return m.conn.LocalAddr().(*net.UDPAddr).Port
}

func (m *fakeMedia) read(t *testing.T) ([]byte, *net.UDPAddr) {
	t.Helper()
	buf := make([]byte, 2048)
	require.NoError(t, m.conn.SetReadDeadline(time.Now().Add(testTimeout)))
	n, from, err := m.conn.ReadFromUDP(buf)
	require.NoError(t, err)
	return buf[:n], from
}

// eventRecorder buffers notifications for assertions.
type eventRecorder struct {
	ch chan Event
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{ch: make(chan Event, 64)}
}

func (r *eventRecorder) handle(ev Event) {
	r.ch <- ev
}

func (r *eventRecorder) next(t *testing.T, kind EventKind) Event {
	t.Helper()
	select {
	case ev := <-r.ch:
		require.Equal(t, kind, ev.Kind, "unexpected event %s", ev.Kind)
		return ev
	case <-time.After(testTimeout):
		t.Fatalf("timed out waiting for %s", kind)
		return Event{}
	}
}

func (r *eventRecorder) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-r.ch:
		t.Fatalf("unexpected event %s", ev.Kind)
	case <-time.After(wait):
	}
}

func testKeyInts() []int {
	key := make([]int, crypto.KeySize)
	for i := range key {
		key[i] = i + 1
	}
	return key
}

func testKey(t *testing.T) crypto.Key {
	t.Helper()
	raw := make([]byte, crypto.KeySize)
	for i, v := range testKeyInts() {
		raw[i] = byte(v)
	}
	key, err := crypto.NewKey(raw)
	require.NoError(t, err)
	return key
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.DialTimeout = time.Second
	opts.CloseGracePeriod = 200 * time.Millisecond
	opts.ResolveTimeout = 500 * time.Millisecond
	opts.ReconnectBackoff = 10 * time.Millisecond
	opts.ReconnectBackoffMax = 50 * time.Millisecond
	return opts
}

func testIdentity(room string) Identity {
	return Identity{RoomID: room, ChannelID: "channel-1", UserID: "user-1"}
}

func testServer(g *fakeGateway) ServerInfo {
	return ServerInfo{Endpoint: g.endpoint(), SessionID: "session-1", Token: "token-1"}
}

func readyPayloadFor(m *fakeMedia) map[string]interface{} {
	return map[string]interface{}{
		"ssrc":  testSSRC,
		"ip":    "127.0.0.1",
		"port":  m.port(),
		"modes": []string{EncryptionMode},
	}
}

// readySession drives a fresh connection through identify, Hello, Ready and
// SessionDescription.
type readySession struct {
	conn   *Connection
	gw     *gatewayConn
	events *eventRecorder
	media  *fakeMedia
}

func establishReady(t *testing.T, mgr *Manager, g *fakeGateway, room string) *readySession {
	t.Helper()

	media := newFakeMedia(t)
	rec := newEventRecorder()

	conn, err := mgr.Establish(context.Background(), testIdentity(room), testServer(g))
	require.NoError(t, err)
	conn.OnEvent(rec.handle)

	gc := g.accept(t)
	gc.expect(t, OpIdentify)
	gc.send(t, OpHello, helloPayload{HeartbeatInterval: 60000})
	gc.send(t, OpReady, readyPayloadFor(media))
	gc.expect(t, OpSelectProtocol)
	gc.send(t, OpSessionDescription, map[string]interface{}{
		"mode":       EncryptionMode,
		"secret_key": testKeyInts(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, conn.WaitReady(ctx))
	rec.next(t, EventReady)

	require.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return conn.session != nil && conn.session.HasKey()
	}, testTimeout, 5*time.Millisecond)

	return &readySession{conn: conn, gw: gc, events: rec, media: media}
}

// steppingClock advances by step on every reading.
type steppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func (c *steppingClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}
