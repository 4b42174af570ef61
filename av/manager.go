package av

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Manager is the registry of voice connections, at most one per room.
//
// Establish inserts and connects under a single critical section check, so
// concurrent calls for one room create exactly one Connection.
type Manager struct {
	opts     Options
	resolver PeerResolver

	mu          sync.Mutex
	connections map[string]*Connection
	handlers    []EventHandler
}

// NewManager creates a registry whose connections use opts and resolve
// speakers through resolver. resolver may be nil, in which case every
// speaker is reported unresolved.
func NewManager(opts Options, resolver PeerResolver) *Manager {
	opts.normalize()

	logrus.WithFields(logrus.Fields{
		"function":        "NewManager",
		"gateway_version": opts.GatewayVersion,
		"max_reconnects":  opts.MaxReconnectAttempts,
	}).Debug("Creating voice connection manager")

	return &Manager{
		opts:        opts,
		resolver:    resolver,
		connections: make(map[string]*Connection),
	}
}

// OnEvent registers a handler that is attached to every connection created
// by later Establish calls.
func (m *Manager) OnEvent(h EventHandler) {
	if h == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Establish creates, registers and starts a connection for id.RoomID. It
// returns once the signaling connection is being opened; readiness is
// reported through EventReady or Connection.WaitReady.
func (m *Manager) Establish(ctx context.Context, id Identity, server ServerInfo) (*Connection, error) {
	if err := validateIdentity(id, server); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, exists := m.connections[id.RoomID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyConnected, id.RoomID)
	}
	conn := newConnection(m, id, server, m.opts, m.resolver)
	for _, h := range m.handlers {
		conn.OnEvent(h)
	}
	m.connections[id.RoomID] = conn
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":   "Manager.Establish",
		"room_id":    id.RoomID,
		"channel_id": id.ChannelID,
	}).Info("Establishing voice connection")

	if err := conn.Connect(ctx); err != nil {
		conn.Disconnect()
		return nil, err
	}
	return conn, nil
}

// Get returns the connection for roomID, or nil.
func (m *Manager) Get(roomID string) *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connections[roomID]
}

// Count returns the number of registered connections.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.connections)
}

// Rooms returns the registered room ids in sorted order.
func (m *Manager) Rooms() []string {
	m.mu.Lock()
	rooms := make([]string, 0, len(m.connections))
	for room := range m.connections {
		rooms = append(rooms, room)
	}
	m.mu.Unlock()

	sort.Strings(rooms)
	return rooms
}

// Remove disconnects the connection for roomID, if any. Idempotent.
func (m *Manager) Remove(roomID string) {
	if conn := m.Get(roomID); conn != nil {
		conn.Disconnect()
	}
}

// DisconnectAll disconnects every registered connection.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, conn := range m.connections {
		conns = append(conns, conn)
	}
	m.mu.Unlock()

	for _, conn := range conns {
		conn.Disconnect()
	}
}

// release drops roomID only while it still maps to conn, so a finished
// connection cannot evict its successor.
func (m *Manager) release(roomID string, conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connections[roomID] == conn {
		delete(m.connections, roomID)
	}
}
