// Package broadcast fans encoded frames out to the outbound buffers of every
// attached connection.
//
// Outbound buffers are unbounded: a client that stops reading accumulates
// every broadcast until it disconnects. Outbound reports the total so the
// backlog can be watched.
package broadcast

import (
	"slices"

	"github.com/drblury/dmxrelay/internal/conn"
	"github.com/drblury/dmxrelay/internal/protocol"
	"github.com/drblury/dmxrelay/internal/runtime/metrics"
)

// Notifier arms write readiness for a connection that has just gained
// pending output.
type Notifier interface {
	WantWrite(c *conn.Conn) error
}

// Dispatcher holds the active connections in accept order. It is owned by
// the event loop and not safe for concurrent use.
type Dispatcher struct {
	conns    map[int]*conn.Conn
	order    []int
	failed   []int
	notifier Notifier
	metrics  *metrics.Metrics
}

// New returns an empty dispatcher. A nil notifier only updates the recorded
// interest.
func New(notifier Notifier, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		conns:    make(map[int]*conn.Conn),
		notifier: notifier,
		metrics:  m,
	}
}

// Attach adds c to the active set.
func (d *Dispatcher) Attach(c *conn.Conn) {
	if _, ok := d.conns[c.FD()]; ok {
		return
	}
	d.conns[c.FD()] = c
	d.order = append(d.order, c.FD())
}

// Detach removes the connection on fd and purges its buffers. It returns nil
// if fd is not attached.
func (d *Dispatcher) Detach(fd int) *conn.Conn {
	c, ok := d.conns[fd]
	if !ok {
		return nil
	}
	delete(d.conns, fd)
	d.order = slices.DeleteFunc(d.order, func(v int) bool { return v == fd })
	d.failed = slices.DeleteFunc(d.failed, func(v int) bool { return v == fd })
	c.Reset()
	return c
}

// Get returns the connection on fd.
func (d *Dispatcher) Get(fd int) (*conn.Conn, bool) {
	c, ok := d.conns[fd]
	return c, ok
}

// Conns returns the attached connections in accept order.
func (d *Dispatcher) Conns() []*conn.Conn {
	out := make([]*conn.Conn, 0, len(d.order))
	for _, fd := range d.order {
		out = append(out, d.conns[fd])
	}
	return out
}

func (d *Dispatcher) Len() int { return len(d.order) }

// Broadcast appends b to every attached connection and returns the number of
// recipients.
func (d *Dispatcher) Broadcast(b []byte) int {
	return d.BroadcastTagged("untagged", b)
}

// BroadcastTagged is Broadcast with the payload tag recorded in metrics.
func (d *Dispatcher) BroadcastTagged(tag protocol.Tag, b []byte) int {
	n := 0
	for _, fd := range d.order {
		if d.queue(d.conns[fd], b) {
			n++
		}
	}
	d.metrics.Broadcast(string(tag), len(b), n)
	return n
}

// Publish encodes p and broadcasts it.
func (d *Dispatcher) Publish(p protocol.Payload) int {
	return d.BroadcastTagged(p.Tag(), protocol.Encode(p))
}

// Send appends b to the connection on fd only.
func (d *Dispatcher) Send(fd int, b []byte) bool {
	c, ok := d.conns[fd]
	if !ok {
		return false
	}
	return d.queue(c, b)
}

// queue appends b to c and arms write readiness. A connection whose
// readiness cannot be changed is marked failed and skipped from then on.
func (d *Dispatcher) queue(c *conn.Conn, b []byte) bool {
	if d.isFailed(c.FD()) {
		return false
	}
	c.Enqueue(b)
	if c.Interest() == conn.InterestWrite {
		return true
	}
	if d.notifier != nil {
		if err := d.notifier.WantWrite(c); err != nil {
			d.failed = append(d.failed, c.FD())
			return false
		}
	}
	c.SetInterest(conn.InterestWrite)
	return true
}

func (d *Dispatcher) isFailed(fd int) bool {
	return slices.Contains(d.failed, fd)
}

// Failed returns and clears the connections that could not be armed for
// writing. The caller closes them.
func (d *Dispatcher) Failed() []int {
	if len(d.failed) == 0 {
		return nil
	}
	out := d.failed
	d.failed = nil
	return out
}

// Outbound returns the bytes waiting across every outbound buffer.
func (d *Dispatcher) Outbound() int {
	total := 0
	for _, c := range d.conns {
		total += c.Pending()
	}
	return total
}
