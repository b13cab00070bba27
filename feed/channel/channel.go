//go:build linux

package channel

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"golang.org/x/sys/unix"

	"github.com/drblury/dmxrelay/feed"
	"github.com/drblury/dmxrelay/internal/runtime/ids"
)

// SourceName is the name used to register this source.
const SourceName = "channel"

// Topic carries injected universe buffers.
const Topic = "dmxrelay.feed"

// Factory allows overriding the pub/sub creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	feed.Register(SourceName, Build)
}

// Build creates a channel source.
func Build(ctx context.Context, cfg feed.Config, logger watermill.LoggerAdapter) (feed.Source, error) {
	return New(logger)
}

// Source queues injected buffers until the loop drains them.
type Source struct {
	pub    message.Publisher
	sub    message.Subscriber
	efd    int
	logger watermill.LoggerAdapter

	mu      sync.Mutex
	pending [][]byte

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// New starts a channel source.
func New(logger watermill.LoggerAdapter) (*Source, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("feed eventfd: %w", err)
	}

	// Publishing waits for the consumer's ack so buffers arrive in order.
	pub, sub := Factory(gochannel.Config{
		OutputChannelBuffer:            64,
		BlockPublishUntilSubscriberAck: true,
	}, logger)
	ctx, cancel := context.WithCancel(context.Background())
	messages, err := sub.Subscribe(ctx, Topic)
	if err != nil {
		cancel()
		unix.Close(efd)
		return nil, fmt.Errorf("feed subscribe: %w", err)
	}

	s := &Source{
		pub:    pub,
		sub:    sub,
		efd:    efd,
		logger: logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.consume(messages)
	return s, nil
}

func (s *Source) consume(messages <-chan *message.Message) {
	defer close(s.done)
	for msg := range messages {
		buf := append([]byte(nil), msg.Payload...)
		s.mu.Lock()
		s.pending = append(s.pending, buf)
		s.mu.Unlock()
		if err := s.signal(); err != nil {
			s.logger.Error("Feed wakeup failed", err, watermill.LogFields{"message_uuid": msg.UUID})
		}
		msg.Ack()
	}
}

func (s *Source) signal() error {
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	for {
		_, err := unix.Write(s.efd, one[:])
		if errors.Is(err, unix.EINTR) {
			continue
		}
		// EAGAIN means the counter is saturated, which still wakes the loop.
		if err == nil || errors.Is(err, unix.EAGAIN) {
			return nil
		}
		return err
	}
}

// Inject publishes one universe buffer.
func (s *Source) Inject(buf []byte) error {
	msg := message.NewMessage(ids.CreateULID(), append([]byte(nil), buf...))
	return s.pub.Publish(Topic, msg)
}

func (s *Source) FD() int { return s.efd }

// Receive resets the eventfd and returns every queued buffer.
func (s *Source) Receive() ([][]byte, error) {
	var counter [8]byte
	if _, err := unix.Read(s.efd, counter[:]); err != nil && !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EINTR) {
		return nil, fmt.Errorf("feed eventfd read: %w", err)
	}
	s.mu.Lock()
	out := s.pending
	s.pending = nil
	s.mu.Unlock()
	return out, nil
}

// Close stops the subscriber and releases the eventfd.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		errs := []error{s.pub.Close()}
		if any(s.sub) != any(s.pub) {
			errs = append(errs, s.sub.Close())
		}
		<-s.done
		errs = append(errs, unix.Close(s.efd))
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

var _ feed.Injector = (*Source)(nil)
