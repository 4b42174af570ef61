package transport

import (
	"errors"
	"net"
)

// ReadyState mirrors the lifecycle of a signaling connection.
type ReadyState int32

const (
	// StateConnecting means the WebSocket handshake is in progress.
	StateConnecting ReadyState = iota
	// StateOpen means messages can be sent and received.
	StateOpen
	// StateClosing means a close was requested locally.
	StateClosing
	// StateClosed means the connection is gone.
	StateClosed
)

// String returns a readable name for the state.
func (s ReadyState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SignalHandler receives signaling connection events.
//
// All methods are called from the connection's read goroutine, one at a
// time, in the order the events happened.
type SignalHandler interface {
	// OnOpen is called once the WebSocket handshake completed.
	OnOpen()
	// OnMessage is called for every text or binary message.
	OnMessage(data []byte)
	// OnClose is called when the peer closed the connection with a close frame.
	OnClose(code int, reason string)
	// OnError is called when the connection could not be opened (*DialError)
	// or failed without a close frame.
	OnError(err error)
}

// DatagramHandler processes one inbound datagram. Handlers run on the receive
// goroutine and own data.
type DatagramHandler func(data []byte, addr net.Addr)

var (
	// ErrNotOpen indicates a send on a signaling connection that is not open.
	ErrNotOpen = errors.New("signaling connection is not open")

	// ErrMediaClosed indicates use of a closed media connection.
	ErrMediaClosed = errors.New("media connection closed")
)

// DialError reports a failure to open the signaling connection.
type DialError struct {
	URL string
	Err error
}

func (e *DialError) Error() string {
	return "failed to connect to " + e.URL + ": " + e.Err.Error()
}

func (e *DialError) Unwrap() error {
	return e.Err
}
