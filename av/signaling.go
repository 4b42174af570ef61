package av

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/opd-ai/voicelink/crypto"
)

// Opcode identifies a voice gateway message.
type Opcode int

// Voice gateway opcodes.
const (
	OpIdentify           Opcode = 0
	OpSelectProtocol     Opcode = 1
	OpReady              Opcode = 2
	OpHeartbeat          Opcode = 3
	OpSessionDescription Opcode = 4
	OpSpeaking           Opcode = 5
	OpHeartbeatAck       Opcode = 6
	OpResume             Opcode = 7
	OpHello              Opcode = 8
	OpResumed            Opcode = 9
	OpClientDisconnect   Opcode = 13
)

var opcodeNames = map[Opcode]string{
	OpIdentify:           "Identify",
	OpSelectProtocol:     "SelectProtocol",
	OpReady:              "Ready",
	OpHeartbeat:          "Heartbeat",
	OpSessionDescription: "SessionDescription",
	OpSpeaking:           "Speaking",
	OpHeartbeatAck:       "HeartbeatAck",
	OpResume:             "Resume",
	OpHello:              "Hello",
	OpResumed:            "Resumed",
	OpClientDisconnect:   "ClientDisconnect",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return "Opcode(" + strconv.Itoa(int(o)) + ")"
}

// DefaultGatewayVersion is the voice gateway protocol version requested.
const DefaultGatewayVersion = 4

// EncryptionMode is the only media encryption mode this client speaks.
const EncryptionMode = "xsalsa20_poly1305"

// Payload is the signaling envelope.
type Payload struct {
	Op Opcode          `json:"op"`
	D  json.RawMessage `json:"d"`
}

// outgoingPayload is the envelope for messages this client sends.
type outgoingPayload struct {
	Op Opcode      `json:"op"`
	D  interface{} `json:"d"`
}

type identifyPayload struct {
	ServerID  string `json:"server_id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

type resumePayload struct {
	ServerID  string `json:"server_id"`
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

type selectProtocolData struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
	Mode    string `json:"mode"`
}

type selectProtocolPayload struct {
	Protocol string             `json:"protocol"`
	Data     selectProtocolData `json:"data"`
}

// readyPayload uses pointers so absent fields can be told apart from zero.
type readyPayload struct {
	SSRC  *uint32  `json:"ssrc"`
	IP    *string  `json:"ip"`
	Port  *int     `json:"port"`
	Modes []string `json:"modes"`
}

type helloPayload struct {
	HeartbeatInterval float64 `json:"heartbeat_interval"`
}

type sessionDescriptionPayload struct {
	Mode      string `json:"mode"`
	SecretKey []int  `json:"secret_key"`
}

type speakingPayload struct {
	UserID   string       `json:"user_id"`
	SSRC     uint32       `json:"ssrc"`
	Speaking speakingCode `json:"speaking"`
}

type clientDisconnectPayload struct {
	UserID string `json:"user_id"`
}

// speakingCode is the numeric activity bitfield. Some gateways send a bool.
type speakingCode int

func (s *speakingCode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "true":
		*s = 1
		return nil
	case "false", "null":
		*s = 0
		return nil
	}

	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("speaking: %w", err)
	}
	*s = speakingCode(n)
	return nil
}

// routing validates that ssrc, ip and port all arrived together.
func (r *readyPayload) routing() (ssrc uint32, ip string, port int, err error) {
	if r.SSRC == nil || r.IP == nil || r.Port == nil {
		return 0, "", 0, fmt.Errorf("%w: ready is missing ssrc, ip or port", ErrProtocolViolation)
	}
	if *r.IP == "" || *r.Port <= 0 || *r.Port > 65535 {
		return 0, "", 0, fmt.Errorf("%w: ready has invalid address %q:%d", ErrProtocolViolation, *r.IP, *r.Port)
	}
	return *r.SSRC, *r.IP, *r.Port, nil
}

// key validates the negotiated mode and converts the secret key.
func (s *sessionDescriptionPayload) key() (crypto.Key, error) {
	if s.Mode != "" && s.Mode != EncryptionMode {
		return crypto.Key{}, fmt.Errorf("%w: unsupported encryption mode %q", ErrProtocolViolation, s.Mode)
	}
	if len(s.SecretKey) != crypto.KeySize {
		return crypto.Key{}, fmt.Errorf("%w: secret key has %d bytes", ErrProtocolViolation, len(s.SecretKey))
	}

	raw := make([]byte, crypto.KeySize)
	defer crypto.ZeroBytes(raw)
	for i, v := range s.SecretKey {
		if v < 0 || v > 255 {
			return crypto.Key{}, fmt.Errorf("%w: secret key byte %d out of range", ErrProtocolViolation, i)
		}
		raw[i] = byte(v)
	}

	return crypto.NewKey(raw)
}

// GatewayURL builds the signaling URL for endpoint. Endpoints that already
// carry a ws:// or wss:// scheme are returned unchanged.
func GatewayURL(endpoint string, version int) string {
	if strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://") {
		return endpoint
	}
	if version <= 0 {
		version = DefaultGatewayVersion
	}
	return "wss://" + strings.TrimSuffix(endpoint, "/") + "/?v=" + strconv.Itoa(version)
}
