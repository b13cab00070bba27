// Package mirror copies registry mutations onto an external message bus.
//
// The event loop hands frames to Offer, which never blocks: frames go into a
// bounded queue and are dropped when it is full. A single goroutine drains
// the queue and publishes each frame as a Watermill message. The payload is
// the same length-prefixed envelope clients receive over TCP.
package mirror

import (
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/dmxrelay/internal/protocol"
	"github.com/drblury/dmxrelay/internal/runtime/ids"
	"github.com/drblury/dmxrelay/internal/runtime/logging"
	"github.com/drblury/dmxrelay/internal/runtime/metrics"
)

// MetadataTag is the message metadata key holding the envelope tag.
const MetadataTag = "tag"

// DefaultQueueSize is used when New is given a non-positive size.
const DefaultQueueSize = 256

type item struct {
	tag   protocol.Tag
	frame []byte
}

// Stats counts mirror activity since start.
type Stats struct {
	Offered   uint64
	Published uint64
	Dropped   uint64
	Failed    uint64
}

// Mirror publishes offered frames to a topic.
type Mirror struct {
	pub     message.Publisher
	topic   string
	logger  logging.ServiceLogger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan item
	done   chan struct{}

	offered   atomic.Uint64
	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// New starts a mirror publishing to topic through pub.
func New(pub message.Publisher, topic string, queueSize int, logger logging.ServiceLogger, m *metrics.Metrics) *Mirror {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	mr := &Mirror{
		pub:     pub,
		topic:   topic,
		logger:  logger.With(logging.LogFields{"component": "mirror", "topic": topic}),
		metrics: m,
		queue:   make(chan item, queueSize),
		done:    make(chan struct{}),
	}
	go mr.run()
	return mr
}

// Offer queues frame for publication. It reports false when the frame was
// dropped because the queue is full or the mirror is closed. A nil Mirror
// accepts nothing.
func (m *Mirror) Offer(tag protocol.Tag, frame []byte) bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false
	}

	m.offered.Add(1)
	select {
	case m.queue <- item{tag: tag, frame: frame}:
		return true
	default:
		m.dropped.Add(1)
		m.metrics.MirrorDropped()
		return false
	}
}

func (m *Mirror) run() {
	defer close(m.done)
	for it := range m.queue {
		msg := message.NewMessage(ids.CreateULID(), it.frame)
		msg.Metadata.Set(MetadataTag, string(it.tag))
		if err := m.pub.Publish(m.topic, msg); err != nil {
			m.failed.Add(1)
			m.logger.Error("Mirror publish failed", err, logging.LogFields{"message_uuid": msg.UUID, "tag": string(it.tag)})
			continue
		}
		m.published.Add(1)
	}
}

// Stats returns the current counters.
func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		Offered:   m.offered.Load(),
		Published: m.published.Load(),
		Dropped:   m.dropped.Load(),
		Failed:    m.failed.Load(),
	}
}

// Close publishes whatever is already queued, then closes the publisher.
func (m *Mirror) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()

	<-m.done
	stats := m.Stats()
	m.logger.Info("Mirror closed", logging.LogFields{
		"offered":   stats.Offered,
		"published": stats.Published,
		"dropped":   stats.Dropped,
		"failed":    stats.Failed,
	})
	return m.pub.Close()
}
