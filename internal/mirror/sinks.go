package mirror

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	nc "github.com/nats-io/nats.go"

	errspkg "github.com/drblury/dmxrelay/internal/runtime/errors"
	"github.com/drblury/dmxrelay/internal/runtime/logging"
	"github.com/drblury/dmxrelay/internal/runtime/metrics"
)

const (
	SinkNone    = ""
	SinkChannel = "channel"
	SinkNATS    = "nats"
)

// Config provides the values mirror sinks need.
type Config interface {
	GetMirrorSink() string
	GetMirrorTopic() string
	GetNATSURL() string
}

// ChannelFactory allows overriding the in-process pub/sub for testing.
var ChannelFactory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) message.Publisher {
	return gochannel.NewGoChannel(cfg, logger)
}

// NATSPublisherFactory allows overriding the NATS publisher for testing.
var NATSPublisherFactory = func(cfg wmnats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return wmnats.NewPublisher(cfg, logger)
}

// Sinks returns the supported sink names.
func Sinks() []string {
	return []string{SinkChannel, SinkNATS}
}

// NewPublisher creates the publisher for cfg's sink. It returns nil for
// SinkNone.
func NewPublisher(cfg Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	switch cfg.GetMirrorSink() {
	case SinkNone:
		return nil, nil
	case SinkChannel:
		return ChannelFactory(gochannel.Config{}, logger), nil
	case SinkNATS:
		return NATSPublisherFactory(wmnats.PublisherConfig{
			URL:         cfg.GetNATSURL(),
			Marshaler:   &wmnats.NATSMarshaler{},
			NatsOptions: []nc.Option{nc.Name("dmxrelay-mirror"), nc.MaxReconnects(-1)},
			JetStream:   wmnats.JetStreamConfig{Disabled: true},
		}, logger)
	default:
		return nil, fmt.Errorf("%w: %q (supported: %v)", errspkg.ErrUnknownMirrorSink, cfg.GetMirrorSink(), Sinks())
	}
}

// Build creates the mirror configured by cfg, or nil when no sink is set.
func Build(cfg Config, queueSize int, logger logging.ServiceLogger, m *metrics.Metrics) (*Mirror, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	pub, err := NewPublisher(cfg, logging.NewWatermillAdapter(logger))
	if err != nil {
		return nil, err
	}
	if pub == nil {
		return nil, nil
	}
	logger.Info("Mirroring registry mutations", logging.LogFields{"sink": cfg.GetMirrorSink(), "topic": cfg.GetMirrorTopic()})
	return New(pub, cfg.GetMirrorTopic(), queueSize, logger, m), nil
}
