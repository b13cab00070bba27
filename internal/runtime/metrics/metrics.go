// Package metrics holds the Prometheus collectors exported by the relay.
// Every recorder is safe to call on a nil *Metrics so components can run
// without metrics configured.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dmxrelay"

// Disconnect reasons used as label values.
const (
	ReasonPeerClosed   = "peer_closed"
	ReasonPeerReset    = "peer_reset"
	ReasonPeerTimeout  = "peer_timeout"
	ReasonReadError    = "read_error"
	ReasonWriteError   = "write_error"
	ReasonHangup       = "hangup"
	ReasonBadPrefix    = "bad_prefix"
	ReasonNotifyFailed = "notify_failed"
	ReasonShutdown     = "shutdown"
)

// Metrics tracks connection, framing, control and feed activity.
type Metrics struct {
	mu sync.Mutex

	connectionsCurrent prometheus.Gauge
	acceptedTotal      prometheus.Counter
	disconnectsTotal   *prometheus.CounterVec
	framesDecoded      *prometheus.CounterVec
	framesCorrupt      prometheus.Counter
	commandsTotal      *prometheus.CounterVec
	broadcastsTotal    *prometheus.CounterVec
	bytesQueuedTotal   prometheus.Counter
	outboundBytes      prometheus.Gauge
	feedBuffersTotal   prometheus.Counter
	feedLightsTotal    prometheus.Counter
	mirrorDropped      prometheus.Counter

	registerer prometheus.Registerer
	registered bool
}

func newCounter(subsystem, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

func newCounterVec(subsystem, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func newGauge(subsystem, name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

// New creates the collectors. A nil registerer selects the Prometheus default.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		registerer:         registerer,
		connectionsCurrent: newGauge("connections", "current", "Number of connected clients"),
		acceptedTotal:      newCounter("connections", "accepted_total", "Total number of accepted client connections"),
		disconnectsTotal:   newCounterVec("connections", "closed_total", "Total number of closed client connections by reason", []string{"reason"}),
		framesDecoded:      newCounterVec("frames", "decoded_total", "Total number of frames decoded from clients by tag", []string{"tag"}),
		framesCorrupt:      newCounter("frames", "corrupt_total", "Total number of frames skipped because the envelope did not parse"),
		commandsTotal:      newCounterVec("control", "commands_total", "Total number of control commands by subtype and outcome", []string{"subtype", "outcome"}),
		broadcastsTotal:    newCounterVec("broadcast", "messages_total", "Total number of messages broadcast by tag", []string{"tag"}),
		bytesQueuedTotal:   newCounter("broadcast", "bytes_queued_total", "Total number of bytes appended to outbound buffers"),
		outboundBytes:      newGauge("broadcast", "outbound_bytes", "Bytes currently waiting in outbound buffers"),
		feedBuffersTotal:   newCounter("feed", "buffers_total", "Total number of universe buffers received from the feed"),
		feedLightsTotal:    newCounter("feed", "lights_total", "Total number of light states derived from the feed"),
		mirrorDropped:      newCounter("mirror", "dropped_total", "Total number of mutations dropped because the mirror queue was full"),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.connectionsCurrent,
		m.acceptedTotal,
		m.disconnectsTotal,
		m.framesDecoded,
		m.framesCorrupt,
		m.commandsTotal,
		m.broadcastsTotal,
		m.bytesQueuedTotal,
		m.outboundBytes,
		m.feedBuffersTotal,
		m.feedLightsTotal,
		m.mirrorDropped,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.acceptedTotal.Inc()
	m.connectionsCurrent.Inc()
}

func (m *Metrics) ConnectionClosed(reason string) {
	if m == nil {
		return
	}
	m.connectionsCurrent.Dec()
	m.disconnectsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) FrameDecoded(tag string) {
	if m == nil {
		return
	}
	m.framesDecoded.WithLabelValues(tag).Inc()
}

func (m *Metrics) FrameCorrupt() {
	if m == nil {
		return
	}
	m.framesCorrupt.Inc()
}

func (m *Metrics) Command(subtype, outcome string) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(subtype, outcome).Inc()
}

// Broadcast records one message of size bytes queued on recipients
// connections.
func (m *Metrics) Broadcast(tag string, size, recipients int) {
	if m == nil {
		return
	}
	m.broadcastsTotal.WithLabelValues(tag).Inc()
	m.bytesQueuedTotal.Add(float64(size * recipients))
}

// SetOutboundBytes reports the bytes currently buffered across connections.
func (m *Metrics) SetOutboundBytes(n int) {
	if m == nil {
		return
	}
	m.outboundBytes.Set(float64(n))
}

func (m *Metrics) FeedReceived(buffers, lights int) {
	if m == nil {
		return
	}
	m.feedBuffersTotal.Add(float64(buffers))
	m.feedLightsTotal.Add(float64(lights))
}

func (m *Metrics) MirrorDropped() {
	if m == nil {
		return
	}
	m.mirrorDropped.Inc()
}
