package rtp

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockWriter records every datagram written to it.
type MockWriter struct {
	mu      sync.Mutex
	packets [][]byte
	err     error
}

func (mw *MockWriter) Write(b []byte) (int, error) {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	if mw.err != nil {
		return 0, mw.err
	}
	mw.packets = append(mw.packets, append([]byte(nil), b...))
	return len(b), nil
}

func (mw *MockWriter) Packets() [][]byte {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	return mw.packets
}

func TestNewSession(t *testing.T) {
	s, err := NewSession(10, &MockWriter{})
	require.NoError(t, err)
	assert.Equal(t, uint32(10), s.SSRC())
	assert.False(t, s.HasKey())

	s, err = NewSession(10, nil)
	assert.Error(t, err)
	assert.Nil(t, s)
}

func TestSessionSendAudio(t *testing.T) {
	w := &MockWriter{}
	s, err := NewSession(123, w)
	require.NoError(t, err)

	_, err = s.SendAudio([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrNoKey)
	assert.Empty(t, w.Packets())

	key := newTestKey(t, 1)
	s.SetKey(key)
	assert.True(t, s.HasKey())

	n, err := s.SendAudio([]byte{1, 2, 3})
	require.NoError(t, err)
	require.Len(t, w.Packets(), 1)
	assert.Equal(t, len(w.Packets()[0]), n)

	pkt, err := s.ReceivePacket(w.Packets()[0])
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, pkt.Payload)

	stats := s.GetStatistics()
	assert.Equal(t, uint64(1), stats.PacketsSent)
	assert.Equal(t, uint64(n), stats.BytesSent)
	assert.Equal(t, uint64(1), stats.PacketsReceived)
}

func TestSessionWriteError(t *testing.T) {
	w := &MockWriter{err: errors.New("network unreachable")}
	s, err := NewSession(1, w)
	require.NoError(t, err)
	s.SetKey(newTestKey(t, 2))

	_, err = s.SendAudio([]byte{1})
	assert.EqualError(t, err, "network unreachable")
	assert.Equal(t, uint64(1), s.GetStatistics().SendErrors)
}

func TestSessionReceiveDropsGarbage(t *testing.T) {
	s, err := NewSession(1, &MockWriter{})
	require.NoError(t, err)
	s.SetKey(newTestKey(t, 3))

	_, err = s.ReceivePacket([]byte{0x80, 0x78})
	assert.ErrorIs(t, err, ErrShortPacket)
	assert.Equal(t, uint64(1), s.GetStatistics().PacketsDropped)
}

func TestSessionClose(t *testing.T) {
	s, err := NewSession(1, &MockWriter{})
	require.NoError(t, err)
	s.SetKey(newTestKey(t, 4))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.False(t, s.HasKey(), "key must be wiped on close")

	_, err = s.SendAudio([]byte{1})
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSessionConcurrentSendsAreSerialized(t *testing.T) {
	w := &MockWriter{}
	s, err := NewSession(5, w)
	require.NoError(t, err)
	s.SetKey(newTestKey(t, 5))

	const workers, perWorker = 8, 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, err := s.SendAudio([]byte{0x01})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	packets := w.Packets()
	require.Len(t, packets, workers*perWorker)

	// Writes happen in counter order because the lock spans the write.
	for i, p := range packets {
		seq, ts, _ := headerFields(p)
		assert.Equal(t, uint16(i+1), seq)
		assert.Equal(t, uint32(i+1)*FrameSamples, ts)
	}
}
