// Package reactor runs the relay's single-threaded event loop: one readiness
// poller multiplexes the client listener, every client socket and the
// hardware feed.
package reactor

import (
	"time"

	"github.com/drblury/dmxrelay/feed"
	"github.com/drblury/dmxrelay/internal/broadcast"
	"github.com/drblury/dmxrelay/internal/frame"
	"github.com/drblury/dmxrelay/internal/runtime/logging"
	"github.com/drblury/dmxrelay/internal/runtime/metrics"
)

// Options configures a Reactor.
type Options struct {
	ListenAddress string
	Port          int
	Backlog       int
	PollTimeout   time.Duration
	ReadChunkSize int
	MaxFrameSize  int

	// Feed is polled for universe buffers. Optional; the reactor does not
	// close it.
	Feed feed.Source
	// Mirror receives a copy of every registry mutation. Optional.
	Mirror broadcast.Mirror

	Hooks   Hooks
	Metrics *metrics.Metrics
	Logger  logging.ServiceLogger
}

func (o Options) withDefaults() Options {
	if o.ListenAddress == "" {
		o.ListenAddress = "0.0.0.0"
	}
	if o.Backlog <= 0 {
		o.Backlog = 128
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = time.Second
	}
	if o.ReadChunkSize <= 0 {
		o.ReadChunkSize = 4096
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = frame.DefaultMaxFrameSize
	}
	if o.Logger == nil {
		o.Logger = logging.NewNopLogger()
	}
	return o
}
