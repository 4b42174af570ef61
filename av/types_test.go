package av

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, DefaultGatewayVersion, opts.GatewayVersion)
	assert.Equal(t, 10*time.Second, opts.DialTimeout)
	assert.Equal(t, 5*time.Second, opts.ResolveTimeout)
	assert.Equal(t, 5, opts.MaxReconnectAttempts)
	assert.Equal(t, time.Second, opts.ReconnectBackoff)
	assert.Equal(t, 30*time.Second, opts.ReconnectBackoffMax)
	assert.NotNil(t, opts.TimeProvider)
}

func TestOptions_Normalize(t *testing.T) {
	opts := Options{
		MaxReconnectAttempts: -3,
		ReconnectBackoff:     2 * time.Second,
		ReconnectBackoffMax:  time.Second,
	}
	opts.normalize()

	assert.Equal(t, DefaultGatewayVersion, opts.GatewayVersion)
	assert.Equal(t, 5*time.Second, opts.ResolveTimeout)
	assert.Equal(t, 0, opts.MaxReconnectAttempts)
	assert.Equal(t, 2*time.Second, opts.ReconnectBackoff)
	assert.Equal(t, 2*time.Second, opts.ReconnectBackoffMax)
	assert.NotNil(t, opts.TimeProvider)
}

func TestConnectionState_String(t *testing.T) {
	tests := map[ConnectionState]string{
		StateIdle:           "idle",
		StateConnecting:     "connecting",
		StateHandshaking:    "handshaking",
		StateReady:          "ready",
		StateDisconnected:   "disconnected",
		ConnectionState(42): "ConnectionState(42)",
	}
	for state, want := range tests {
		assert.Equal(t, want, state.String())
	}
}

func TestStaticResolver(t *testing.T) {
	r := StaticResolver{"42": "alice"}

	peer, err := r.Resolve(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, NamedPeer{UserID: "42", Name: "alice"}, peer)
	assert.Equal(t, "42", peer.ID())

	peer, err = r.Resolve(context.Background(), "7")
	assert.NoError(t, err)
	assert.Nil(t, peer)
}

func TestPeerResolverFunc(t *testing.T) {
	boom := errors.New("lookup failed")
	r := PeerResolverFunc(func(_ context.Context, id string) (Peer, error) {
		if id == "bad" {
			return nil, boom
		}
		return NamedPeer{UserID: id}, nil
	})

	_, err := r.Resolve(context.Background(), "bad")
	assert.ErrorIs(t, err, boom)

	peer, err := r.Resolve(context.Background(), "ok")
	require.NoError(t, err)
	assert.Equal(t, "ok", peer.ID())
}

func TestReconnectDelay(t *testing.T) {
	base := 100 * time.Millisecond
	maxDelay := time.Second

	assert.Zero(t, reconnectDelay(0, base, maxDelay))
	assert.Zero(t, reconnectDelay(1, base, maxDelay))

	tests := []struct {
		attempt int
		nominal time.Duration
	}{
		{2, 100 * time.Millisecond},
		{3, 200 * time.Millisecond},
		{4, 400 * time.Millisecond},
		{5, 800 * time.Millisecond},
	}
	for _, tt := range tests {
		for i := 0; i < 20; i++ {
			d := reconnectDelay(tt.attempt, base, maxDelay)
			assert.GreaterOrEqual(t, d, tt.nominal*3/4, "attempt %d", tt.attempt)
			assert.LessOrEqual(t, d, tt.nominal*5/4, "attempt %d", tt.attempt)
		}
	}

	for i := 0; i < 20; i++ {
		assert.LessOrEqual(t, reconnectDelay(12, base, maxDelay), maxDelay)
	}
}
