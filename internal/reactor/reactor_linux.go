package reactor

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/drblury/dmxrelay/feed"
	"github.com/drblury/dmxrelay/internal/broadcast"
	"github.com/drblury/dmxrelay/internal/conn"
	"github.com/drblury/dmxrelay/internal/control"
	"github.com/drblury/dmxrelay/internal/frame"
	"github.com/drblury/dmxrelay/internal/patch"
	"github.com/drblury/dmxrelay/internal/protocol"
	"github.com/drblury/dmxrelay/internal/registry"
	errspkg "github.com/drblury/dmxrelay/internal/runtime/errors"
	"github.com/drblury/dmxrelay/internal/runtime/ids"
	"github.com/drblury/dmxrelay/internal/runtime/logging"
	"github.com/drblury/dmxrelay/internal/runtime/metrics"
)

// Reactor owns the listener, every client connection, the fixture registry
// and the dispatcher. Everything except Close runs on the goroutine calling
// Run.
type Reactor struct {
	opts    Options
	logger  logging.ServiceLogger
	metrics *metrics.Metrics
	hooks   Hooks

	poller   *poller
	listenFD int
	addr     string
	feed     feed.Source

	dispatcher *broadcast.Dispatcher
	registry   *registry.Registry
	control    *control.Handler
	decoder    frame.Decoder

	// acceptResume is when a paused listener rejoins the poll set. Zero
	// while accepting.
	acceptResume time.Time

	closeOnce sync.Once
	closeErr  error
}

// acceptRetryDelay is how long the listener stays out of the poll set after
// accept runs out of descriptors or memory.
const acceptRetryDelay = 100 * time.Millisecond

// New binds the listener and registers it, and the feed if any, with a new
// poller. The returned reactor accepts nothing until Run is called.
func New(opts Options) (*Reactor, error) {
	opts = opts.withDefaults()

	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	lfd, err := listen(opts.ListenAddress, opts.Port, opts.Backlog)
	if err != nil {
		p.close()
		return nil, err
	}
	if err := p.add(lfd, unix.EPOLLIN); err != nil {
		unix.Close(lfd)
		p.close()
		return nil, err
	}

	r := &Reactor{
		opts:     opts,
		metrics:  opts.Metrics,
		hooks:    opts.Hooks,
		poller:   p,
		listenFD: lfd,
		addr:     localAddr(lfd),
		feed:     opts.Feed,
		decoder:  frame.Decoder{MaxFrameSize: opts.MaxFrameSize},
	}
	r.logger = opts.Logger.With(logging.LogFields{"component": "reactor"})
	r.dispatcher = broadcast.New(r, opts.Metrics)
	r.registry = registry.New(broadcast.NewFanout(r.dispatcher, opts.Mirror))
	r.control = control.NewHandler(r.registry, r.dispatcher, r.logger,
		control.WithMetrics(opts.Metrics),
		control.WithHook(opts.Hooks.OnCommand),
	)

	if r.feed != nil {
		if err := p.add(r.feed.FD(), unix.EPOLLIN); err != nil {
			unix.Close(lfd)
			p.close()
			return nil, err
		}
	}
	return r, nil
}

// Addr returns the bound listener address.
func (r *Reactor) Addr() string { return r.addr }

// Registry returns the fixture registry. It must only be used before Run or
// after Run has returned.
func (r *Reactor) Registry() *registry.Registry { return r.registry }

// Connections returns the number of attached clients.
func (r *Reactor) Connections() int { return r.dispatcher.Len() }

// Run polls until ctx is cancelled or the poller fails.
func (r *Reactor) Run(ctx context.Context) error {
	r.logger.Info("Relay listening", logging.LogFields{"address": r.addr})
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		events, err := r.poller.wait(r.waitTimeout(time.Now()))
		if err != nil {
			return err
		}
		for _, ev := range events {
			r.handle(int(ev.Fd), ev.Events)
		}
		r.pump(ctx)
		r.reap()
		r.resumeAccept(time.Now())
		r.metrics.SetOutboundBytes(r.dispatcher.Outbound())
	}
}

func (r *Reactor) waitTimeout(now time.Time) time.Duration {
	timeout := r.opts.PollTimeout
	if !r.acceptResume.IsZero() {
		timeout = min(timeout, max(r.acceptResume.Sub(now), time.Millisecond))
	}
	return timeout
}

func (r *Reactor) handle(fd int, events uint32) {
	switch {
	case fd == r.listenFD:
		r.accept()
		return
	case r.feed != nil && fd == r.feed.FD():
		r.receiveFeed()
		return
	}

	c, ok := r.dispatcher.Get(fd)
	if !ok {
		return
	}
	if events&unix.EPOLLIN != 0 {
		if !r.read(c) {
			return
		}
	} else if events&(unix.EPOLLHUP|unix.EPOLLERR|unix.EPOLLRDHUP) != 0 {
		r.closeConn(c, metrics.ReasonHangup, nil)
		return
	}
	if events&unix.EPOLLOUT != 0 {
		r.write(c)
	}
}

func (r *Reactor) accept() {
	for {
		nfd, sa, err := unix.Accept4(r.listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch {
			case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK):
			case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
				continue
			case errors.Is(err, unix.EMFILE), errors.Is(err, unix.ENFILE),
				errors.Is(err, unix.ENOBUFS), errors.Is(err, unix.ENOMEM):
				// The pending connection stays queued and keeps the
				// listener readable, so stop polling it for a while.
				r.pauseAccept(err, time.Now())
			default:
				r.logger.Error("Accept failed", err, nil)
			}
			return
		}

		if err := unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			r.logger.Debug("TCP_NODELAY failed", logging.LogFields{"fd": nfd, "error": err.Error()})
		}
		if err := r.poller.add(nfd, eventsRead); err != nil {
			r.logger.Error("Registering client failed", err, logging.LogFields{"fd": nfd})
			unix.Close(nfd)
			continue
		}

		c := conn.New(nfd, sockaddrString(sa))
		r.dispatcher.Attach(c)
		r.dispatcher.Send(nfd, r.registry.SyncFrame())
		r.metrics.ConnectionOpened()
		r.logger.Info("Client connected", connFields(c))
		r.hooks.connected(ConnContext{FD: nfd, Session: c.Session(), Addr: c.Addr()})
	}
}

func (r *Reactor) pauseAccept(err error, now time.Time) {
	if !r.acceptResume.IsZero() {
		return
	}
	if modErr := r.poller.modify(r.listenFD, 0); modErr != nil {
		r.logger.Error("Pausing listener failed", modErr, nil)
		return
	}
	r.acceptResume = now.Add(acceptRetryDelay)
	r.logger.Error("Accept paused", err, logging.LogFields{"retry_in": acceptRetryDelay.String()})
}

func (r *Reactor) resumeAccept(now time.Time) {
	if r.acceptResume.IsZero() || now.Before(r.acceptResume) {
		return
	}
	if err := r.poller.modify(r.listenFD, unix.EPOLLIN); err != nil {
		r.logger.Error("Resuming listener failed", err, nil)
		r.acceptResume = now.Add(acceptRetryDelay)
		return
	}
	r.acceptResume = time.Time{}
	r.logger.Debug("Accept resumed", nil)
}

// read performs one read and reports whether the connection is still open.
func (r *Reactor) read(c *conn.Conn) bool {
	_, err := c.Fill(conn.FD(c.FD()), r.opts.ReadChunkSize)
	if err == nil {
		return true
	}
	r.closeConn(c, readReason(err), err)
	return false
}

func readReason(err error) string {
	switch {
	case errors.Is(err, errspkg.ErrPeerClosed):
		return metrics.ReasonPeerClosed
	case errors.Is(err, errspkg.ErrPeerReset):
		return metrics.ReasonPeerReset
	case errors.Is(err, errspkg.ErrPeerTimeout):
		return metrics.ReasonPeerTimeout
	default:
		return metrics.ReasonReadError
	}
}

func (r *Reactor) write(c *conn.Conn) {
	if _, err := c.Flush(conn.FD(c.FD())); err != nil {
		reason := metrics.ReasonWriteError
		if errors.Is(err, errspkg.ErrPeerReset) {
			reason = metrics.ReasonPeerReset
		}
		r.closeConn(c, reason, err)
		return
	}
	if c.Pending() > 0 || c.Interest() == conn.InterestRead {
		return
	}
	if err := r.poller.modify(c.FD(), eventsRead); err != nil {
		r.closeConn(c, metrics.ReasonNotifyFailed, err)
		return
	}
	c.SetInterest(conn.InterestRead)
}

// WantWrite arms write readiness for c. Reads stay armed so requests keep
// arriving while a backlog drains.
func (r *Reactor) WantWrite(c *conn.Conn) error {
	return r.poller.modify(c.FD(), eventsWrite)
}

// receiveFeed turns every pending universe buffer into light frames for
// each registered fixture.
func (r *Reactor) receiveFeed() {
	bufs, err := r.feed.Receive()
	if err != nil {
		r.logger.Error("Feed receive failed", err, nil)
	}
	if len(bufs) == 0 {
		return
	}
	fixtureIDs := r.registry.IDs()
	lights := 0
	for _, buf := range bufs {
		for _, l := range patch.Lights(buf, fixtureIDs) {
			r.dispatcher.Publish(&l)
			lights++
		}
	}
	r.metrics.FeedReceived(len(bufs), lights)
}

// pump decodes every complete frame buffered on every connection.
func (r *Reactor) pump(ctx context.Context) {
	for _, c := range r.dispatcher.Conns() {
		r.drain(ctx, c)
	}
}

func (r *Reactor) drain(ctx context.Context, c *conn.Conn) {
	for {
		if current, ok := r.dispatcher.Get(c.FD()); !ok || current != c {
			return
		}
		env, n, err := r.decoder.Decode(c.Inbound())
		switch {
		case err == nil:
		case errors.Is(err, errspkg.ErrFrameIncomplete):
			return
		case errors.Is(err, errspkg.ErrFrameCorrupt):
			r.metrics.FrameCorrupt()
			r.logger.Error("Skipping corrupt frame", err, connFields(c))
			c.Consume(n)
			continue
		default:
			r.closeConn(c, metrics.ReasonBadPrefix, err)
			return
		}

		payload, err := protocol.Decode(env)
		c.Consume(n)
		if err != nil {
			r.metrics.FrameCorrupt()
			r.logger.Error("Skipping undecodable payload", err, connFields(c))
			continue
		}
		r.metrics.FrameDecoded(string(payload.Tag()))
		r.dispatch(ctx, c, payload)
	}
}

func (r *Reactor) dispatch(ctx context.Context, c *conn.Conn, payload protocol.Payload) {
	switch p := payload.(type) {
	case *protocol.Build:
		// Rejected commands are logged by the handler and leave the
		// connection open.
		_ = r.control.Handle(ctx, c.FD(), p)
	case *protocol.Light, *protocol.LightsUpdate:
		fields := connFields(c)
		fields["tag"] = string(p.Tag())
		r.logger.Debug("Ignoring server payload sent by client", fields)
	}
}

// reap closes connections the dispatcher could not arm for writing.
func (r *Reactor) reap() {
	for _, fd := range r.dispatcher.Failed() {
		if c, ok := r.dispatcher.Get(fd); ok {
			r.closeConn(c, metrics.ReasonNotifyFailed, nil)
		}
	}
}

func (r *Reactor) closeConn(c *conn.Conn, reason string, err error) {
	fd := c.FD()
	if rmErr := r.poller.remove(fd); rmErr != nil {
		r.logger.Debug("Deregistering client failed", logging.LogFields{"fd": fd, "error": rmErr.Error()})
	}
	_ = unix.Close(fd)
	r.dispatcher.Detach(fd)
	r.metrics.ConnectionClosed(reason)

	fields := connFields(c)
	fields["reason"] = reason
	fields["connected_for"] = ids.Age(c.Session(), time.Now()).String()
	if err != nil && !errspkg.IsPeerGone(err) {
		r.logger.Error("Client dropped", err, fields)
	} else {
		r.logger.Info("Client disconnected", fields)
	}
	r.hooks.disconnected(ConnContext{FD: fd, Session: c.Session(), Addr: c.Addr(), Reason: reason, Err: err})
}

// Close closes every client, the listener and the poller. It must not run
// concurrently with Run.
func (r *Reactor) Close() error {
	r.closeOnce.Do(func() {
		for _, c := range r.dispatcher.Conns() {
			r.closeConn(c, metrics.ReasonShutdown, nil)
		}
		var errs []error
		if r.feed != nil {
			if err := r.poller.remove(r.feed.FD()); err != nil {
				errs = append(errs, err)
			}
		}
		if err := r.poller.remove(r.listenFD); err != nil {
			errs = append(errs, err)
		}
		errs = append(errs, unix.Close(r.listenFD), r.poller.close())
		r.closeErr = errors.Join(errs...)
	})
	return r.closeErr
}

func connFields(c *conn.Conn) logging.LogFields {
	return logging.LogFields{"fd": c.FD(), "session": c.Session(), "addr": c.Addr()}
}
