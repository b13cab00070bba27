package reactor

import (
	"github.com/drblury/dmxrelay/internal/control"
)

// ConnContext describes a client connection to lifecycle hooks.
type ConnContext struct {
	// FD is the socket descriptor.
	FD int
	// Session is the connection's ULID, stable for its lifetime.
	Session string
	// Addr is the peer address.
	Addr string
	// Reason is why the connection closed. Only set in OnDisconnect.
	Reason string
	// Err is the error that closed the connection, if any.
	Err error
}

// Hooks defines callbacks for connection and command events. All hooks are
// optional and run on the event loop, so they must not block.
type Hooks struct {
	// OnConnect is called after a client is accepted and sent the fixture
	// list.
	OnConnect func(ConnContext)
	// OnDisconnect is called after a client socket is closed.
	OnDisconnect func(ConnContext)
	// OnCommand is called after every control command.
	OnCommand control.CommandHook
}

// Merge combines two Hooks. The hooks from other run after those from h.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnConnect:    chainConnHooks(h.OnConnect, other.OnConnect),
		OnDisconnect: chainConnHooks(h.OnDisconnect, other.OnDisconnect),
		OnCommand:    chainCommandHooks(h.OnCommand, other.OnCommand),
	}
}

func chainConnHooks(a, b func(ConnContext)) func(ConnContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx ConnContext) {
		a(ctx)
		b(ctx)
	}
}

func chainCommandHooks(a, b control.CommandHook) control.CommandHook {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(cmd control.Command) {
		a(cmd)
		b(cmd)
	}
}

func (h Hooks) connected(ctx ConnContext) {
	if h.OnConnect != nil {
		h.OnConnect(ctx)
	}
}

func (h Hooks) disconnected(ctx ConnContext) {
	if h.OnDisconnect != nil {
		h.OnDisconnect(ctx)
	}
}
