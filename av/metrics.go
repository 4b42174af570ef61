package av

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "voicelink"

var (
	// sessionsActive is a gauge of connections between Connect and Disconnect.
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_active",
			Help:      "Number of voice connections that are connecting or connected",
		},
	)

	// stateTransitionsTotal counts entries into each connection state.
	stateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "state_transitions_total",
			Help:      "Total number of connection state transitions by target state",
		},
		[]string{"state"},
	)

	// packetsSentTotal counts media datagrams written.
	packetsSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "packets_sent_total",
			Help:      "Total number of audio datagrams sent",
		},
	)

	// bytesSentTotal counts media bytes written, headers included.
	bytesSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "bytes_sent_total",
			Help:      "Total number of audio bytes sent",
		},
	)

	// sendErrorsTotal counts failed media writes.
	sendErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "send_errors_total",
			Help:      "Total number of failed audio sends",
		},
	)

	// packetsReceivedTotal counts inbound media datagrams by outcome.
	packetsReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "packets_received_total",
			Help:      "Total number of audio datagrams received",
		},
		[]string{"status"}, // status: ok, dropped
	)

	// reconnectsTotal counts resume attempts.
	reconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconnects_total",
			Help:      "Total number of signaling reconnect attempts",
		},
	)

	// protocolViolationsTotal counts malformed gateway messages by opcode.
	protocolViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "protocol_violations_total",
			Help:      "Total number of malformed or unexpected gateway messages",
		},
		[]string{"op"},
	)

	// heartbeatRTT is a histogram of heartbeat round trips in seconds.
	heartbeatRTT = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "heartbeat_rtt_seconds",
			Help:      "Histogram of signaling heartbeat round-trip time in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	allMetrics = []prometheus.Collector{
		sessionsActive,
		stateTransitionsTotal,
		packetsSentTotal,
		bytesSentTotal,
		sendErrorsTotal,
		packetsReceivedTotal,
		reconnectsTotal,
		protocolViolationsTotal,
		heartbeatRTT,
	}
)

// Collectors returns every voice metric for registration.
func Collectors() []prometheus.Collector {
	out := make([]prometheus.Collector, len(allMetrics))
	copy(out, allMetrics)
	return out
}

// RegisterMetrics registers the voice metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func recordState(state ConnectionState) {
	stateTransitionsTotal.WithLabelValues(state.String()).Inc()
}

func recordSent(bytes int) {
	packetsSentTotal.Inc()
	bytesSentTotal.Add(float64(bytes))
}

func recordReceived(ok bool) {
	if ok {
		packetsReceivedTotal.WithLabelValues("ok").Inc()
		return
	}
	packetsReceivedTotal.WithLabelValues("dropped").Inc()
}

func recordViolation(op Opcode) {
	protocolViolationsTotal.WithLabelValues(op.String()).Inc()
}
