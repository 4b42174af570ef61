package av

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// maxPendingHeartbeats bounds how many unacknowledged heartbeats are kept
// for RTT matching.
const maxPendingHeartbeats = 8

// Heartbeater keeps a signaling connection alive and measures its latency.
//
// Each heartbeat carries its send time in unix milliseconds. The gateway
// echoes that value in HeartbeatAck, which lets Ack pair the two.
type Heartbeater struct {
	send  func(nonce int64) error
	clock TimeProvider
	onRTT func(time.Duration)

	ctrl sync.Mutex // serializes Begin and Stop

	mu       sync.Mutex
	interval time.Duration
	lastSent time.Time
	lastAck  time.Time
	rtt      time.Duration
	pending  map[int64]time.Time

	stop chan struct{}
	done chan struct{}
}

// NewHeartbeater creates a stopped Heartbeater that delivers heartbeats
// through send.
func NewHeartbeater(send func(nonce int64) error, clock TimeProvider) *Heartbeater {
	if clock == nil {
		clock = DefaultTimeProvider{}
	}
	return &Heartbeater{
		send:    send,
		clock:   clock,
		pending: make(map[int64]time.Time),
	}
}

// OnRTT registers a callback for each new round-trip measurement.
func (h *Heartbeater) OnRTT(fn func(time.Duration)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRTT = fn
}

// Begin stops any running schedule, sends one heartbeat immediately and then
// one every interval until Stop.
func (h *Heartbeater) Begin(interval time.Duration) error {
	if interval <= 0 {
		return errors.New("heartbeat interval must be positive")
	}

	h.ctrl.Lock()
	defer h.ctrl.Unlock()

	h.stopSchedule()

	h.mu.Lock()
	h.interval = interval
	h.pending = make(map[int64]time.Time)
	stop := make(chan struct{})
	done := make(chan struct{})
	h.stop = stop
	h.done = done
	h.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Heartbeater.Begin",
		"interval": interval.String(),
	}).Debug("Starting heartbeats")

	h.beat()
	go h.loop(interval, stop, done)
	return nil
}

func (h *Heartbeater) loop(interval time.Duration, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.beat()
		}
	}
}

func (h *Heartbeater) beat() {
	now := h.clock.Now()
	nonce := now.UnixMilli()

	h.mu.Lock()
	h.lastSent = now
	h.pending[nonce] = now
	if len(h.pending) > maxPendingHeartbeats {
		h.dropOldestLocked()
	}
	h.mu.Unlock()

	if err := h.send(nonce); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Heartbeater.beat",
			"nonce":    nonce,
			"error":    err.Error(),
		}).Warn("Failed to send heartbeat")
	}
}

func (h *Heartbeater) dropOldestLocked() {
	var oldest int64
	first := true
	for nonce := range h.pending {
		if first || nonce < oldest {
			oldest = nonce
			first = false
		}
	}
	delete(h.pending, oldest)
}

// Ack records an acknowledgment echoing nonce. It returns the measured RTT
// and true when nonce matches an outstanding heartbeat; otherwise the
// estimate is left untouched.
func (h *Heartbeater) Ack(nonce int64) (time.Duration, bool) {
	now := h.clock.Now()

	h.mu.Lock()
	h.lastAck = now
	sent, ok := h.pending[nonce]
	if !ok {
		h.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Heartbeater.Ack",
			"nonce":    nonce,
		}).Debug("Acknowledgment matches no pending heartbeat")
		return 0, false
	}
	// Anything sent before the acknowledged heartbeat is lost.
	for n, t := range h.pending {
		if !t.After(sent) {
			delete(h.pending, n)
		}
	}
	rtt := now.Sub(sent)
	h.rtt = rtt
	onRTT := h.onRTT
	h.mu.Unlock()

	if onRTT != nil {
		onRTT(rtt)
	}
	return rtt, true
}

// Stop cancels the schedule and waits for the timer goroutine to exit. It is
// safe to call when not running.
func (h *Heartbeater) Stop() {
	h.ctrl.Lock()
	defer h.ctrl.Unlock()

	h.stopSchedule()
}

func (h *Heartbeater) stopSchedule() {
	h.mu.Lock()
	stop, done := h.stop, h.done
	h.stop, h.done = nil, nil
	h.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Running reports whether a schedule is active.
func (h *Heartbeater) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stop != nil
}

// RTT returns the most recent round-trip estimate.
func (h *Heartbeater) RTT() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rtt
}

// Interval returns the interval of the current or last schedule.
func (h *Heartbeater) Interval() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interval
}

// LastSent returns when the last heartbeat was sent.
func (h *Heartbeater) LastSent() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastSent
}

// LastAck returns when the last acknowledgment arrived.
func (h *Heartbeater) LastAck() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastAck
}
