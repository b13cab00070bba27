// Package feed defines the hardware feed sources the relay reads DMX universe
// buffers from. Each source lives in its own sub-package and registers itself
// with the feed registry.
package feed

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
)

// Source delivers raw universe buffers. Its descriptor stays registered for
// read readiness with the event loop for the lifetime of the source.
type Source interface {
	// FD returns the descriptor that becomes readable when buffers are
	// pending.
	FD() int
	// Receive drains every pending buffer without blocking. It returns an
	// empty slice when nothing is pending.
	Receive() ([][]byte, error)
	Close() error
}

// Injector is implemented by sources that accept buffers from inside the
// process, such as simulators.
type Injector interface {
	Inject(buf []byte) error
}

// Builder creates a source from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Source, error)

// Config provides the values feed sources need without depending on the
// relay's config package.
type Config interface {
	// GetFeedSource returns the registered source name.
	GetFeedSource() string
	// GetFeedAddress returns the address network sources listen on.
	GetFeedAddress() string
	// GetUniverse returns the DMX universe to accept.
	GetUniverse() int
}
