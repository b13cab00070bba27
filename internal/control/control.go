// Package control executes build commands sent by clients against the
// fixture registry.
package control

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/dmxrelay/internal/protocol"
	errspkg "github.com/drblury/dmxrelay/internal/runtime/errors"
	"github.com/drblury/dmxrelay/internal/runtime/logging"
	"github.com/drblury/dmxrelay/internal/runtime/metrics"
)

const tracerName = "github.com/drblury/dmxrelay/internal/control"

// Registry is the subset of the fixture registry commands operate on.
type Registry interface {
	Add(x, y, z float64) protocol.Fixture
	Remove(id uint32) bool
	Get(id uint32) (protocol.Fixture, bool)
	List() []protocol.Fixture
}

// Replier queues a frame for a single connection.
type Replier interface {
	Send(fd int, frame []byte) bool
}

// Command describes one executed command.
type Command struct {
	// FD is the connection the command arrived on.
	FD int
	// Type is the requested subtype.
	Type protocol.BuildType
	// Fixture is the fixture added or removed. Unset for LIST_LIGHTS and
	// for commands that changed nothing.
	Fixture *protocol.Fixture
	// Duration is how long the command took.
	Duration time.Duration
	// Err is non-nil when the command was rejected.
	Err error
}

// CommandHook observes every command after it runs.
type CommandHook func(Command)

// Handler dispatches build messages. It runs on the event loop.
type Handler struct {
	registry Registry
	replier  Replier
	logger   logging.ServiceLogger
	metrics  *metrics.Metrics
	hook     CommandHook
}

// Option customises a Handler.
type Option func(*Handler)

// WithMetrics records command counts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithHook installs a CommandHook.
func WithHook(hook CommandHook) Option {
	return func(h *Handler) { h.hook = hook }
}

// NewHandler returns a handler mutating registry and answering through
// replier.
func NewHandler(registry Registry, replier Replier, logger logging.ServiceLogger, opts ...Option) *Handler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	h := &Handler{registry: registry, replier: replier, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle executes msg on behalf of the connection fd. Rejected commands are
// logged and reported as ErrEmptyCommand or ErrUnknownControlSubtype; they
// never affect the connection.
func (h *Handler) Handle(ctx context.Context, fd int, msg *protocol.Build) error {
	started := time.Now()
	_, span := otel.Tracer(tracerName).Start(ctx, "control.Handle", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	span.SetAttributes(
		attribute.Int("connection.fd", fd),
		attribute.String("control.subtype", msg.Type.String()),
		attribute.Int("control.fixtures", len(msg.Fixtures)),
	)

	cmd := Command{FD: fd, Type: msg.Type}
	cmd.Fixture, cmd.Err = h.execute(fd, msg)
	cmd.Duration = time.Since(started)

	fields := logging.LogFields{"fd": fd, "subtype": msg.Type.String()}
	if cmd.Err != nil {
		span.RecordError(cmd.Err)
		span.SetStatus(codes.Error, cmd.Err.Error())
		h.metrics.Command(msg.Type.String(), "rejected")
		h.logger.Error("Control command rejected", cmd.Err, fields)
	} else {
		h.metrics.Command(msg.Type.String(), "ok")
		if cmd.Fixture != nil {
			fields["fixture_id"] = cmd.Fixture.ID
		}
		h.logger.Debug("Control command handled", fields)
	}

	if h.hook != nil {
		h.hook(cmd)
	}
	return cmd.Err
}

func (h *Handler) execute(fd int, msg *protocol.Build) (*protocol.Fixture, error) {
	switch msg.Type {
	case protocol.BuildLight:
		if len(msg.Fixtures) == 0 {
			return nil, fmt.Errorf("%w: %s", errspkg.ErrEmptyCommand, msg.Type)
		}
		req := msg.Fixtures[0]
		if !req.Finite() {
			return nil, fmt.Errorf("%w: (%v, %v, %v)", errspkg.ErrInvalidFixture, req.X, req.Y, req.Z)
		}
		added := h.registry.Add(req.X, req.Y, req.Z)
		return &added, nil

	case protocol.ListLights:
		reply := &protocol.Build{Type: protocol.ListLights, Fixtures: h.registry.List()}
		h.replier.Send(fd, protocol.Encode(reply))
		return nil, nil

	case protocol.RemoveLight:
		if len(msg.Fixtures) == 0 {
			return nil, fmt.Errorf("%w: %s", errspkg.ErrEmptyCommand, msg.Type)
		}
		removed, ok := h.registry.Get(msg.Fixtures[0].ID)
		if !ok || !h.registry.Remove(removed.ID) {
			return nil, nil
		}
		return &removed, nil

	default:
		return nil, fmt.Errorf("%w: %d", errspkg.ErrUnknownControlSubtype, int32(msg.Type))
	}
}
