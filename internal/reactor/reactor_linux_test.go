package reactor

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/dmxrelay/feed/channel"
	"github.com/drblury/dmxrelay/internal/control"
	"github.com/drblury/dmxrelay/internal/frame"
	"github.com/drblury/dmxrelay/internal/protocol"
	errspkg "github.com/drblury/dmxrelay/internal/runtime/errors"
)

type harness struct {
	t       *testing.T
	reactor *Reactor
	cancel  context.CancelFunc
	done    chan error
}

func startReactor(t *testing.T, opts Options, prepare func(*Reactor)) *harness {
	t.Helper()
	opts.ListenAddress = "127.0.0.1"
	opts.PollTimeout = 10 * time.Millisecond

	r, err := New(opts)
	require.NoError(t, err)
	if prepare != nil {
		prepare(r)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{t: t, reactor: r, cancel: cancel, done: make(chan error, 1)}
	go func() { h.done <- r.Run(ctx) }()
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	h.cancel = nil
	select {
	case err := <-h.done:
		assert.NoError(h.t, err)
	case <-time.After(2 * time.Second):
		h.t.Error("reactor did not stop")
	}
	assert.NoError(h.t, h.reactor.Close())
}

type client struct {
	t    *testing.T
	conn net.Conn
	buf  []byte
}

func (h *harness) dial() *client {
	h.t.Helper()
	c, err := net.Dial("tcp4", h.reactor.Addr())
	require.NoError(h.t, err)
	h.t.Cleanup(func() { c.Close() })
	return &client{t: h.t, conn: c}
}

func (c *client) send(p protocol.Payload) {
	c.t.Helper()
	_, err := c.conn.Write(protocol.Encode(p))
	require.NoError(c.t, err)
}

// next reads until one complete frame is buffered and decodes it.
func (c *client) next(timeout time.Duration) (protocol.Payload, error) {
	deadline := time.Now().Add(timeout)
	chunk := make([]byte, 4096)
	for {
		env, n, err := frame.Decode(c.buf)
		if err == nil {
			c.buf = c.buf[n:]
			return protocol.Decode(env)
		}
		if !errors.Is(err, errspkg.ErrFrameIncomplete) {
			return nil, err
		}
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
		m, err := c.conn.Read(chunk)
		if err != nil {
			return nil, err
		}
		c.buf = append(c.buf, chunk[:m]...)
	}
}

func (c *client) expect() protocol.Payload {
	c.t.Helper()
	p, err := c.next(2 * time.Second)
	require.NoError(c.t, err)
	return p
}

func (c *client) expectUpdate(kind protocol.UpdateType) *protocol.LightsUpdate {
	c.t.Helper()
	u, ok := c.expect().(*protocol.LightsUpdate)
	require.True(c.t, ok, "expected light_update")
	require.Equal(c.t, kind, u.Type)
	return u
}

func (c *client) expectSilence() {
	c.t.Helper()
	_, err := c.next(100 * time.Millisecond)
	require.ErrorIs(c.t, err, os.ErrDeadlineExceeded)
}

func (c *client) expectClosed() {
	c.t.Helper()
	_, err := c.next(2 * time.Second)
	require.Error(c.t, err)
	assert.True(c.t, errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || isReset(err), "got %v", err)
}

func isReset(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && !opErr.Timeout()
}

func TestNewClientReceivesFixtureList(t *testing.T) {
	fixtures := []protocol.Fixture{{ID: 0, X: 1, Y: 2, Z: 3}, {ID: 4, X: 5}}
	h := startReactor(t, Options{}, func(r *Reactor) {
		require.NoError(t, r.Registry().ReplaceAll(fixtures))
	})

	c := h.dial()
	assert.Equal(t, fixtures, c.expectUpdate(protocol.UpdateSetAll).Fixtures)
}

func TestBuildBroadcastsToEveryClient(t *testing.T) {
	h := startReactor(t, Options{}, nil)
	a, b := h.dial(), h.dial()
	a.expectUpdate(protocol.UpdateSetAll)
	b.expectUpdate(protocol.UpdateSetAll)

	a.send(&protocol.Build{Type: protocol.BuildLight, Fixtures: []protocol.Fixture{{X: 1, Y: 2, Z: 3}}})

	want := []protocol.Fixture{{ID: 0, X: 1, Y: 2, Z: 3}}
	assert.Equal(t, want, a.expectUpdate(protocol.UpdateAdd).Fixtures)
	assert.Equal(t, want, b.expectUpdate(protocol.UpdateAdd).Fixtures)

	b.send(&protocol.Build{Type: protocol.RemoveLight, Fixtures: []protocol.Fixture{{ID: 0}}})
	assert.Equal(t, want, a.expectUpdate(protocol.UpdateRemove).Fixtures)
	assert.Equal(t, want, b.expectUpdate(protocol.UpdateRemove).Fixtures)
}

func TestListRepliesOnlyToRequester(t *testing.T) {
	h := startReactor(t, Options{}, func(r *Reactor) {
		r.Registry().Add(1, 1, 1)
	})
	a, b := h.dial(), h.dial()
	a.expectUpdate(protocol.UpdateSetAll)
	b.expectUpdate(protocol.UpdateSetAll)

	a.send(&protocol.Build{Type: protocol.ListLights})

	reply, ok := a.expect().(*protocol.Build)
	require.True(t, ok)
	assert.Equal(t, protocol.ListLights, reply.Type)
	assert.Equal(t, []protocol.Fixture{{ID: 0, X: 1, Y: 1, Z: 1}}, reply.Fixtures)
	b.expectSilence()
}

func TestFramesSplitAcrossReads(t *testing.T) {
	h := startReactor(t, Options{}, nil)
	c := h.dial()
	c.expectUpdate(protocol.UpdateSetAll)

	payload := protocol.Encode(&protocol.Build{Type: protocol.ListLights})
	for _, b := range payload {
		_, err := c.conn.Write([]byte{b})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}
	_, ok := c.expect().(*protocol.Build)
	assert.True(t, ok)
}

func TestPipelinedFramesAllHandled(t *testing.T) {
	h := startReactor(t, Options{}, nil)
	c := h.dial()
	c.expectUpdate(protocol.UpdateSetAll)

	var batch []byte
	for i := 0; i < 3; i++ {
		batch = append(batch, protocol.Encode(&protocol.Build{Type: protocol.BuildLight, Fixtures: []protocol.Fixture{{X: float64(i)}}})...)
	}
	_, err := c.conn.Write(batch)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		u := c.expectUpdate(protocol.UpdateAdd)
		assert.Equal(t, uint32(i), u.Fixtures[0].ID)
	}
}

func TestCorruptFrameSkipped(t *testing.T) {
	h := startReactor(t, Options{}, nil)
	c := h.dial()
	c.expectUpdate(protocol.UpdateSetAll)

	garbage := []byte{0x04, 0xff, 0xff, 0xff, 0xff}
	unknownTag := frame.Encode(frame.Envelope{Tag: "telemetry", TypeURL: "type.googleapis.com/x.Y"})
	_, err := c.conn.Write(append(append(garbage, unknownTag...), protocol.Encode(&protocol.Build{Type: protocol.ListLights})...))
	require.NoError(t, err)

	_, ok := c.expect().(*protocol.Build)
	assert.True(t, ok, "connection survives corrupt frames")
}

func TestInvalidPrefixClosesConnection(t *testing.T) {
	var disconnects sync.WaitGroup
	disconnects.Add(1)
	var reason string
	h := startReactor(t, Options{
		MaxFrameSize: 64,
		Hooks: Hooks{OnDisconnect: func(ctx ConnContext) {
			reason = ctx.Reason
			disconnects.Done()
		}},
	}, nil)
	c := h.dial()
	c.expectUpdate(protocol.UpdateSetAll)

	// Declares 1000 bytes, over the 64 byte limit.
	_, err := c.conn.Write([]byte{0xe8, 0x07})
	require.NoError(t, err)

	c.expectClosed()
	disconnects.Wait()
	assert.Equal(t, "bad_prefix", reason)
}

func TestClientMessagesFromServerSideIgnored(t *testing.T) {
	h := startReactor(t, Options{}, nil)
	c := h.dial()
	c.expectUpdate(protocol.UpdateSetAll)

	c.send(&protocol.Light{ID: 1, Red: 9})
	c.send(&protocol.LightsUpdate{Type: protocol.UpdateAdd})
	c.expectSilence()
}

func TestFeedBroadcastsLightState(t *testing.T) {
	src, err := channel.New(nil)
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })

	h := startReactor(t, Options{Feed: src}, func(r *Reactor) {
		r.Registry().Add(0, 0, 0)
		r.Registry().Add(0, 0, 0)
	})
	a, b := h.dial(), h.dial()
	a.expectUpdate(protocol.UpdateSetAll)
	b.expectUpdate(protocol.UpdateSetAll)

	buf := make([]byte, 512)
	buf[0], buf[4] = 10, 20       // fixture 0 pan, red
	buf[11+1], buf[11+7] = 30, 40 // fixture 1 tilt, white
	require.NoError(t, src.Inject(buf))

	for _, c := range []*client{a, b} {
		first, ok := c.expect().(*protocol.Light)
		require.True(t, ok)
		assert.Equal(t, protocol.Light{ID: 0, Pan: 10, Red: 20}, *first)
		second, ok := c.expect().(*protocol.Light)
		require.True(t, ok)
		assert.Equal(t, protocol.Light{ID: 1, Tilt: 30, White: 40}, *second)
	}
}

func TestHooksObserveLifecycle(t *testing.T) {
	connected := make(chan ConnContext, 1)
	disconnected := make(chan ConnContext, 1)
	commands := make(chan control.Command, 1)

	h := startReactor(t, Options{
		Hooks: Hooks{
			OnConnect:    func(ctx ConnContext) { connected <- ctx },
			OnDisconnect: func(ctx ConnContext) { disconnected <- ctx },
		}.Merge(Hooks{
			OnCommand: func(cmd control.Command) { commands <- cmd },
		}),
	}, nil)

	c := h.dial()
	c.expectUpdate(protocol.UpdateSetAll)
	in := <-connected
	assert.NotEmpty(t, in.Session)

	c.send(&protocol.Build{Type: protocol.RemoveLight})
	cmd := <-commands
	assert.ErrorIs(t, cmd.Err, errspkg.ErrEmptyCommand)

	require.NoError(t, c.conn.Close())
	out := <-disconnected
	assert.Equal(t, in.Session, out.Session)
	assert.Equal(t, "peer_closed", out.Reason)
}

func TestCloseDisconnectsClients(t *testing.T) {
	h := startReactor(t, Options{}, nil)
	c := h.dial()
	c.expectUpdate(protocol.UpdateSetAll)

	h.stop()
	c.expectClosed()
}

func TestHooksMerge(t *testing.T) {
	var calls []string
	merged := Hooks{OnConnect: func(ConnContext) { calls = append(calls, "a") }}.
		Merge(Hooks{OnConnect: func(ConnContext) { calls = append(calls, "b") }})
	merged.connected(ConnContext{})
	assert.Equal(t, []string{"a", "b"}, calls)

	assert.Nil(t, Hooks{}.Merge(Hooks{}).OnDisconnect)
}
