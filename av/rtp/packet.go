package rtp

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/voicelink/crypto"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

const (
	// HeaderSize is the size of the fixed RTP header that prefixes every datagram.
	HeaderSize = 12

	// PayloadType is the RTP payload type the voice server expects for Opus.
	PayloadType uint8 = 0x78

	// ClockRate is the Opus RTP clock rate in Hz.
	ClockRate = 48000

	// FrameDuration is the duration of one audio frame.
	FrameDuration = 20 * time.Millisecond

	// FrameSamples is the timestamp increment per frame (960 at 48 kHz / 20 ms).
	FrameSamples uint32 = ClockRate / uint32(time.Second/FrameDuration)

	// MaxPayloadSize bounds a single encoded frame.
	MaxPayloadSize = 3 * 1276
)

var (
	// ErrNoKey indicates sealing or opening was attempted without key material.
	ErrNoKey = errors.New("no session key installed")

	// ErrShortPacket indicates a datagram too small to hold a header and tag.
	ErrShortPacket = errors.New("packet too short")

	// ErrUnsupportedVersion indicates a datagram that is not RTP version 2.
	ErrUnsupportedVersion = errors.New("unsupported RTP version")
)

// AudioPacketizer builds sealed RTP datagrams for one synchronization source.
//
// The header, nonce and datagram scratch space belong to the packetizer, so
// two packetizers never share buffers. The slice returned by Packetize is
// only valid until the next call.
type AudioPacketizer struct {
	mu              sync.Mutex
	ssrc            uint32
	sequenceNumber  uint16
	timestamp       uint32
	samplesPerFrame uint32

	header rtp.Header
	nonce  crypto.Nonce
	buf    []byte
}

// NewAudioPacketizer creates a packetizer for ssrc with both counters at zero.
func NewAudioPacketizer(ssrc uint32) *AudioPacketizer {
	logrus.WithFields(logrus.Fields{
		"function": "NewAudioPacketizer",
		"ssrc":     ssrc,
	}).Debug("Creating audio packetizer")

	return &AudioPacketizer{
		ssrc:            ssrc,
		samplesPerFrame: FrameSamples,
		header: rtp.Header{
			Version:     2,
			PayloadType: PayloadType,
			SSRC:        ssrc,
		},
		buf: make([]byte, 0, HeaderSize+MaxPayloadSize+crypto.Overhead),
	}
}

// SSRC returns the synchronization source identifier.
func (ap *AudioPacketizer) SSRC() uint32 {
	return ap.ssrc
}

// Counters returns the sequence number and timestamp of the last packet built.
func (ap *AudioPacketizer) Counters() (uint16, uint32) {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	return ap.sequenceNumber, ap.timestamp
}

// SetCounters overrides the sequence number and timestamp. The next packet
// carries seq+1 and ts+FrameSamples.
func (ap *AudioPacketizer) SetCounters(seq uint16, ts uint32) {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	ap.sequenceNumber = seq
	ap.timestamp = ts
}

// Packetize advances the counters and returns header || secretbox(payload).
//
// Sequence and timestamp arithmetic relies on unsigned overflow, which is
// exactly mod 2^16 and mod 2^32.
func (ap *AudioPacketizer) Packetize(payload []byte, key *crypto.Key) ([]byte, error) {
	if key == nil || key.IsZero() {
		return nil, ErrNoKey
	}
	if len(payload) == 0 {
		return nil, crypto.ErrEmptyMessage
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", crypto.ErrMessageTooLarge, len(payload))
	}

	ap.mu.Lock()
	defer ap.mu.Unlock()

	ap.sequenceNumber++
	ap.timestamp += ap.samplesPerFrame

	ap.header.SequenceNumber = ap.sequenceNumber
	ap.header.Timestamp = ap.timestamp

	out := ap.buf[:HeaderSize]
	if _, err := ap.header.MarshalTo(out); err != nil {
		return nil, fmt.Errorf("failed to marshal RTP header: %w", err)
	}

	if err := ap.nonce.SetPrefix(out); err != nil {
		return nil, err
	}

	sealed, err := crypto.Seal(out, payload, &ap.nonce, key)
	if err != nil {
		return nil, fmt.Errorf("failed to seal payload: %w", err)
	}
	ap.buf = sealed[:0]

	logrus.WithFields(logrus.Fields{
		"function":        "AudioPacketizer.Packetize",
		"sequence_number": ap.sequenceNumber,
		"timestamp":       ap.timestamp,
		"size":            len(sealed),
	}).Debug("Built audio packet")

	return sealed, nil
}

// AudioPacket is a decrypted datagram received on the media channel.
type AudioPacket struct {
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	Payload        []byte
}

// Depacketize authenticates and decrypts a datagram sealed with key.
//
// The nonce covers the 12 fixed header bytes. When the extension bit is set
// the extension is part of the sealed payload and is stripped after opening.
func Depacketize(datagram []byte, key *crypto.Key) (*AudioPacket, error) {
	if key == nil || key.IsZero() {
		return nil, ErrNoKey
	}
	if len(datagram) < HeaderSize+crypto.Overhead {
		return nil, ErrShortPacket
	}
	if datagram[0]>>6 != 2 {
		return nil, ErrUnsupportedVersion
	}

	headerLen := HeaderSize + 4*int(datagram[0]&0x0f)
	if len(datagram) < headerLen+crypto.Overhead {
		return nil, ErrShortPacket
	}

	fixed := make([]byte, headerLen)
	copy(fixed, datagram[:headerLen])
	hasExtension := fixed[0]&0x10 != 0
	fixed[0] &^= 0x10

	var header rtp.Header
	if _, err := header.Unmarshal(fixed); err != nil {
		return nil, fmt.Errorf("failed to parse RTP header: %w", err)
	}

	nonce, err := crypto.NonceFromPrefix(datagram[:HeaderSize])
	if err != nil {
		return nil, err
	}

	payload, err := crypto.Open(nil, datagram[headerLen:], &nonce, key)
	if err != nil {
		return nil, err
	}

	if hasExtension {
		if len(payload) < 4 {
			return nil, ErrShortPacket
		}
		extLen := 4 + 4*(int(payload[2])<<8|int(payload[3]))
		if len(payload) < extLen {
			return nil, ErrShortPacket
		}
		payload = payload[extLen:]
	}

	return &AudioPacket{
		SequenceNumber: header.SequenceNumber,
		Timestamp:      header.Timestamp,
		SSRC:           header.SSRC,
		Payload:        payload,
	}, nil
}
