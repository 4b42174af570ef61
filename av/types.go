package av

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// ConnectionState is the lifecycle state of a voice connection.
type ConnectionState uint32

const (
	// StateIdle means the connection was created but not started.
	StateIdle ConnectionState = iota
	// StateConnecting means a signaling connection is being opened.
	StateConnecting
	// StateHandshaking means identify or resume was sent and the gateway has
	// not yet answered with session parameters.
	StateHandshaking
	// StateReady means the media channel is open and heartbeats are running.
	StateReady
	// StateDisconnected is terminal.
	StateDisconnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("ConnectionState(%d)", uint32(s))
	}
}

// Identity names the room a connection belongs to and the account using it.
type Identity struct {
	RoomID    string
	ChannelID string
	UserID    string
}

// ServerInfo carries the voice server assignment for a room.
type ServerInfo struct {
	// Endpoint is the gateway host, or a full ws:// or wss:// URL.
	Endpoint  string
	SessionID string
	Token     string
}

func validateIdentity(id Identity, server ServerInfo) error {
	switch {
	case id.RoomID == "":
		return fmt.Errorf("%w: room id is empty", ErrInvalidIdentity)
	case id.UserID == "":
		return fmt.Errorf("%w: user id is empty", ErrInvalidIdentity)
	case server.Endpoint == "":
		return fmt.Errorf("%w: endpoint is empty", ErrInvalidIdentity)
	case server.SessionID == "":
		return fmt.Errorf("%w: session id is empty", ErrInvalidIdentity)
	case server.Token == "":
		return fmt.Errorf("%w: token is empty", ErrInvalidIdentity)
	}
	return nil
}

// Peer is a resolved room participant.
type Peer interface {
	ID() string
}

// PeerResolver maps a speaker id to a Peer. A nil Peer with a nil error
// means the id is unknown.
type PeerResolver interface {
	Resolve(ctx context.Context, userID string) (Peer, error)
}

// PeerResolverFunc adapts a function to PeerResolver.
type PeerResolverFunc func(ctx context.Context, userID string) (Peer, error)

// Resolve calls f.
func (f PeerResolverFunc) Resolve(ctx context.Context, userID string) (Peer, error) {
	return f(ctx, userID)
}

// NamedPeer is a Peer with a display name.
type NamedPeer struct {
	UserID string
	Name   string
}

// ID returns the peer id.
func (p NamedPeer) ID() string { return p.UserID }

// StaticResolver resolves ids from a fixed id to name table.
type StaticResolver map[string]string

// Resolve returns a NamedPeer for known ids and nil otherwise.
func (r StaticResolver) Resolve(_ context.Context, userID string) (Peer, error) {
	name, ok := r[userID]
	if !ok {
		return nil, nil
	}
	return NamedPeer{UserID: userID, Name: name}, nil
}

// Options configures voice connections.
type Options struct {
	// GatewayVersion is sent as the v query parameter.
	GatewayVersion int

	// Header is added to the WebSocket handshake.
	Header http.Header

	// DialTimeout bounds each signaling handshake.
	DialTimeout time.Duration

	// WriteWait bounds each signaling write.
	WriteWait time.Duration

	// CloseGracePeriod is how long a closing signaling connection waits for
	// the gateway's close frame.
	CloseGracePeriod time.Duration

	// ResolveTimeout bounds one PeerResolver call.
	ResolveTimeout time.Duration

	// MaxReconnectAttempts is the number of consecutive resume attempts
	// before the connection gives up. Zero disables reconnects.
	MaxReconnectAttempts int

	// ReconnectBackoff is the delay before the second attempt. The first
	// attempt is immediate; later delays double up to ReconnectBackoffMax.
	ReconnectBackoff    time.Duration
	ReconnectBackoffMax time.Duration

	// TimeProvider supplies heartbeat timestamps. Nil means DefaultTimeProvider.
	TimeProvider TimeProvider
}

// DefaultOptions returns the recommended connection settings.
func DefaultOptions() Options {
	return Options{
		GatewayVersion:       DefaultGatewayVersion,
		DialTimeout:          10 * time.Second,
		WriteWait:            10 * time.Second,
		CloseGracePeriod:     5 * time.Second,
		ResolveTimeout:       5 * time.Second,
		MaxReconnectAttempts: 5,
		ReconnectBackoff:     time.Second,
		ReconnectBackoffMax:  30 * time.Second,
		TimeProvider:         DefaultTimeProvider{},
	}
}

func (o *Options) normalize() {
	d := DefaultOptions()
	if o.GatewayVersion <= 0 {
		o.GatewayVersion = d.GatewayVersion
	}
	if o.ResolveTimeout <= 0 {
		o.ResolveTimeout = d.ResolveTimeout
	}
	if o.MaxReconnectAttempts < 0 {
		o.MaxReconnectAttempts = 0
	}
	if o.ReconnectBackoff <= 0 {
		o.ReconnectBackoff = d.ReconnectBackoff
	}
	if o.ReconnectBackoffMax < o.ReconnectBackoff {
		o.ReconnectBackoffMax = o.ReconnectBackoff
	}
	if o.TimeProvider == nil {
		o.TimeProvider = DefaultTimeProvider{}
	}
}
