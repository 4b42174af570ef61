package av

import "strconv"

// CloseCode is a WebSocket close code sent by the voice gateway.
type CloseCode int

// Voice gateway close codes.
const (
	CloseNormal               CloseCode = 1000
	CloseUnknownOpcode        CloseCode = 4001
	CloseDecodeFailure        CloseCode = 4002
	CloseNotAuthenticated     CloseCode = 4003
	CloseAuthenticationFailed CloseCode = 4004
	CloseAlreadyAuthenticated CloseCode = 4005
	CloseSessionInvalid       CloseCode = 4006
	CloseSessionTimeout       CloseCode = 4009
	CloseServerNotFound       CloseCode = 4011
	CloseUnknownProtocol      CloseCode = 4012
	CloseDisconnected         CloseCode = 4014
	CloseServerCrashed        CloseCode = 4015
	CloseUnknownEncryption    CloseCode = 4016
)

var closeCodeNames = map[CloseCode]string{
	CloseNormal:               "normal closure",
	CloseUnknownOpcode:        "unknown opcode",
	CloseDecodeFailure:        "failed to decode payload",
	CloseNotAuthenticated:     "not authenticated",
	CloseAuthenticationFailed: "authentication failed",
	CloseAlreadyAuthenticated: "already authenticated",
	CloseSessionInvalid:       "session no longer valid",
	CloseSessionTimeout:       "session timeout",
	CloseServerNotFound:       "server not found",
	CloseUnknownProtocol:      "unknown protocol",
	CloseDisconnected:         "disconnected",
	CloseServerCrashed:        "voice server crashed",
	CloseUnknownEncryption:    "unknown encryption mode",
}

func (c CloseCode) String() string {
	if name, ok := closeCodeNames[c]; ok {
		return name
	}
	return "close code " + strconv.Itoa(int(c))
}

// CloseClass tells a connection how to react to a close.
type CloseClass int

const (
	// CloseResumable means the session survives and should be resumed on a
	// fresh signaling connection.
	CloseResumable CloseClass = iota
	// CloseInvalidated means the session is gone and the connection must be
	// torn down.
	CloseInvalidated
)

func (c CloseClass) String() string {
	if c == CloseInvalidated {
		return "invalidated"
	}
	return "resumable"
}

// ClassifyClose maps a close code to the reaction it requires.
func ClassifyClose(code CloseCode) CloseClass {
	switch code {
	case CloseNormal,
		CloseNotAuthenticated,
		CloseAuthenticationFailed,
		CloseAlreadyAuthenticated,
		CloseSessionInvalid,
		CloseSessionTimeout,
		CloseServerNotFound,
		CloseUnknownProtocol,
		CloseDisconnected,
		CloseUnknownEncryption:
		return CloseInvalidated
	default:
		return CloseResumable
	}
}

// CloseError reports that the gateway closed the signaling connection.
type CloseError struct {
	Code   CloseCode
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return "voice gateway closed: " + e.Code.String()
	}
	return "voice gateway closed: " + e.Code.String() + ": " + e.Reason
}
