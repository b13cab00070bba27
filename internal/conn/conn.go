// Package conn holds the per-socket state of a client connection: its
// inbound and outbound byte queues and its readiness interest.
package conn

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	errspkg "github.com/drblury/dmxrelay/internal/runtime/errors"
	idspkg "github.com/drblury/dmxrelay/internal/runtime/ids"
)

// Interest is the readiness a connection is waiting for.
type Interest uint8

const (
	// InterestRead waits for inbound data only.
	InterestRead Interest = iota
	// InterestWrite also waits for the socket to accept more outbound bytes.
	InterestWrite
)

func (i Interest) String() string {
	if i == InterestWrite {
		return "write"
	}
	return "read"
}

// Reader is a non-blocking byte source such as a socket descriptor.
type Reader interface {
	Read(p []byte) (int, error)
}

// Writer is a non-blocking byte sink such as a socket descriptor.
type Writer interface {
	Write(p []byte) (int, error)
}

// Conn is one accepted client. It is owned by the event loop goroutine and is
// not safe for concurrent use.
type Conn struct {
	fd       int
	session  string
	addr     string
	in       []byte
	out      []byte
	interest Interest
	scratch  []byte
}

// New returns the state for a freshly accepted descriptor.
func New(fd int, addr string) *Conn {
	return &Conn{
		fd:      fd,
		session: idspkg.CreateULID(),
		addr:    addr,
	}
}

func (c *Conn) FD() int            { return c.fd }
func (c *Conn) Session() string    { return c.session }
func (c *Conn) Addr() string       { return c.addr }
func (c *Conn) Interest() Interest { return c.interest }

// SetInterest records the readiness the event loop registered for c.
func (c *Conn) SetInterest(i Interest) { c.interest = i }

// Fill performs one read of at most chunk bytes from r and appends the result
// to the inbound buffer. A read that would block is zero progress, not an
// error. Every returned error means the connection must be dropped.
func (c *Conn) Fill(r Reader, chunk int) (int, error) {
	if chunk <= 0 {
		chunk = 4096
	}
	if cap(c.scratch) < chunk {
		c.scratch = make([]byte, chunk)
	}
	buf := c.scratch[:chunk]

	n, err := r.Read(buf)
	if err != nil {
		if wouldBlock(err) {
			return 0, nil
		}
		return 0, classify("read", err)
	}
	if n <= 0 {
		return 0, errspkg.ErrPeerClosed
	}
	c.in = append(c.in, buf[:n]...)
	return n, nil
}

// Inbound returns the unconsumed inbound bytes. The slice is only valid until
// the next Fill or Consume.
func (c *Conn) Inbound() []byte { return c.in }

// Consume drops n bytes from the front of the inbound buffer.
func (c *Conn) Consume(n int) {
	if n >= len(c.in) {
		c.in = c.in[:0]
		return
	}
	c.in = append(c.in[:0], c.in[n:]...)
}

// Enqueue appends b to the outbound buffer.
func (c *Conn) Enqueue(b []byte) {
	c.out = append(c.out, b...)
}

// Pending reports the number of queued outbound bytes.
func (c *Conn) Pending() int { return len(c.out) }

// Flush writes queued bytes to w until the buffer is empty or w would block.
// Written bytes are removed from the front of the buffer; the remainder waits
// for the next writable event.
func (c *Conn) Flush(w Writer) (int, error) {
	total := 0
	for len(c.out) > total {
		n, err := w.Write(c.out[total:])
		if n > 0 {
			total += n
		}
		if err != nil {
			c.drop(total)
			if wouldBlock(err) {
				return total, nil
			}
			return total, classify("write", err)
		}
		if n <= 0 {
			break
		}
	}
	c.drop(total)
	return total, nil
}

func (c *Conn) drop(n int) {
	if n <= 0 {
		return
	}
	if n >= len(c.out) {
		c.out = c.out[:0]
		return
	}
	c.out = append(c.out[:0], c.out[n:]...)
}

// Reset discards both buffers.
func (c *Conn) Reset() {
	c.in = nil
	c.out = nil
	c.scratch = nil
}

func wouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}

func classify(op string, err error) error {
	switch {
	case errors.Is(err, unix.ECONNRESET), errors.Is(err, unix.EPIPE), errors.Is(err, unix.ECONNABORTED):
		return fmt.Errorf("%s: %w: %v", op, errspkg.ErrPeerReset, err)
	case errors.Is(err, unix.ETIMEDOUT):
		return fmt.Errorf("%s: %w: %v", op, errspkg.ErrPeerTimeout, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// FD adapts a raw non-blocking descriptor to Reader and Writer.
type FD int

func (fd FD) Read(p []byte) (int, error) {
	n, err := unix.Read(int(fd), p)
	if n < 0 {
		n = 0
	}
	return n, err
}

func (fd FD) Write(p []byte) (int, error) {
	n, err := unix.Write(int(fd), p)
	if n < 0 {
		n = 0
	}
	return n, err
}
