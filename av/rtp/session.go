package rtp

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/voicelink/crypto"
	"github.com/sirupsen/logrus"
)

// ErrSessionClosed indicates use of a closed media session.
var ErrSessionClosed = errors.New("media session closed")

// PacketWriter delivers one datagram to the remote media endpoint.
type PacketWriter interface {
	Write(datagram []byte) (int, error)
}

// Session represents the outgoing media stream of one voice connection.
//
// It owns the packetizer counters and the session key. The key is installed
// once the gateway describes the session and is wiped on Close.
type Session struct {
	mu      sync.Mutex
	ssrc    uint32
	created time.Time
	closed  bool

	packetizer *AudioPacketizer
	writer     PacketWriter
	key        crypto.Key

	stats Statistics
}

// Statistics reports media counters for a session.
type Statistics struct {
	PacketsSent     uint64
	BytesSent       uint64
	SendErrors      uint64
	PacketsReceived uint64
	PacketsDropped  uint64
}

// NewSession creates a media session for ssrc writing through w.
func NewSession(ssrc uint32, w PacketWriter) (*Session, error) {
	if w == nil {
		return nil, fmt.Errorf("packet writer cannot be nil")
	}

	return &Session{
		ssrc:       ssrc,
		created:    time.Now(),
		packetizer: NewAudioPacketizer(ssrc),
		writer:     w,
	}, nil
}

// SSRC returns the synchronization source of the stream.
func (s *Session) SSRC() uint32 {
	return s.ssrc
}

// Packetizer exposes the underlying packetizer.
func (s *Session) Packetizer() *AudioPacketizer {
	return s.packetizer
}

// SetKey installs the secretbox key. The previous key, if any, is wiped.
func (s *Session) SetKey(key crypto.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	crypto.WipeKey(&s.key)
	s.key = key

	logrus.WithFields(logrus.Fields{
		"function": "Session.SetKey",
		"ssrc":     s.ssrc,
	}).Info("Installed media session key")
}

// HasKey reports whether a non-zero key is installed.
func (s *Session) HasKey() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.key.IsZero()
}

// SendAudio seals payload into one datagram and writes it.
//
// The lock is held for the whole call so that counter advancement and the
// write happen in the same order for every caller.
func (s *Session) SendAudio(payload []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrSessionClosed
	}

	datagram, err := s.packetizer.Packetize(payload, &s.key)
	if err != nil {
		return 0, err
	}

	n, err := s.writer.Write(datagram)
	if err != nil {
		s.stats.SendErrors++
		return n, err
	}

	s.stats.PacketsSent++
	s.stats.BytesSent += uint64(n)
	return n, nil
}

// ReceivePacket opens a datagram sealed with the session key.
func (s *Session) ReceivePacket(datagram []byte) (*AudioPacket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}

	pkt, err := Depacketize(datagram, &s.key)
	if err != nil {
		s.stats.PacketsDropped++
		return nil, err
	}

	s.stats.PacketsReceived++
	return pkt, nil
}

// GetStatistics returns a snapshot of the session counters.
func (s *Session) GetStatistics() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close wipes the key. Further sends fail with ErrSessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	crypto.WipeKey(&s.key)

	logrus.WithFields(logrus.Fields{
		"function": "Session.Close",
		"ssrc":     s.ssrc,
		"sent":     s.stats.PacketsSent,
		"lifetime": time.Since(s.created).String(),
	}).Debug("Media session closed")

	return nil
}
