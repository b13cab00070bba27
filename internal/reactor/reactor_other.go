//go:build !linux

package reactor

import (
	"context"
	"errors"

	"github.com/drblury/dmxrelay/internal/registry"
)

var errUnsupported = errors.New("dmxrelay: the event loop requires linux")

// Reactor is unavailable on this platform.
type Reactor struct{}

func New(Options) (*Reactor, error) { return nil, errUnsupported }

func (*Reactor) Addr() string                  { return "" }
func (*Reactor) Registry() *registry.Registry  { return nil }
func (*Reactor) Connections() int              { return 0 }
func (*Reactor) Run(ctx context.Context) error { return errUnsupported }
func (*Reactor) Close() error                  { return nil }
