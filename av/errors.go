package av

import "errors"

// Sentinel errors for av package operations.
// These errors enable reliable error classification using errors.Is().

// Registry errors.
var (
	// ErrAlreadyConnected indicates the room already has a live connection.
	ErrAlreadyConnected = errors.New("room already has a voice connection")

	// ErrInvalidIdentity indicates missing identity or server fields.
	ErrInvalidIdentity = errors.New("invalid voice identity")
)

// Session errors.
var (
	// ErrNotReady indicates a media send before the media channel is open
	// and the session key is installed.
	ErrNotReady = errors.New("voice connection not ready")

	// ErrSessionClosed indicates the connection was disconnected.
	ErrSessionClosed = errors.New("voice connection closed")
)

// Transport and protocol errors.
var (
	// ErrTransport indicates a signaling or media channel I/O failure.
	ErrTransport = errors.New("voice transport error")

	// ErrProtocolViolation indicates a malformed or unexpected gateway
	// message. It is logged and never fatal.
	ErrProtocolViolation = errors.New("voice protocol violation")
)
