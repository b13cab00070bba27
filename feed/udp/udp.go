//go:build linux

// Package udp provides feed sources reading DMX universes from UDP
// datagrams: "udp" treats each datagram as a raw universe buffer, "artnet"
// accepts Art-Net ArtDmx packets for the configured universe.
package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/ThreeDotsLabs/watermill"
	"golang.org/x/sys/unix"

	"github.com/drblury/dmxrelay/feed"
)

const (
	// RawSourceName is the registered name of the raw datagram source.
	RawSourceName = "udp"
	// ArtNetSourceName is the registered name of the Art-Net source.
	ArtNetSourceName = "artnet"

	maxDatagram = 1 << 16
	// maxBatch bounds the datagrams read per readiness event so a flood
	// cannot starve client sockets. The socket stays readable and is
	// drained over later passes.
	maxBatch = 64
)

// Format selects how datagrams are interpreted.
type Format int

const (
	FormatRaw Format = iota
	FormatArtNet
)

func init() {
	feed.Register(RawSourceName, BuildRaw)
	feed.Register(ArtNetSourceName, BuildArtNet)
}

// BuildRaw creates a raw datagram source.
func BuildRaw(ctx context.Context, cfg feed.Config, logger watermill.LoggerAdapter) (feed.Source, error) {
	return Listen(cfg.GetFeedAddress(), FormatRaw, cfg.GetUniverse(), logger)
}

// BuildArtNet creates an Art-Net source.
func BuildArtNet(ctx context.Context, cfg feed.Config, logger watermill.LoggerAdapter) (feed.Source, error) {
	return Listen(cfg.GetFeedAddress(), FormatArtNet, cfg.GetUniverse(), logger)
}

// Source is a non-blocking UDP socket.
type Source struct {
	fd       int
	format   Format
	universe int
	buf      []byte
	logger   watermill.LoggerAdapter
}

// Listen binds a non-blocking IPv4 UDP socket on address.
func Listen(address string, format Format, universe int, logger watermill.LoggerAdapter) (*Source, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	sa, err := sockaddr(address)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_UDP)
	if err != nil {
		return nil, fmt.Errorf("feed socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("feed SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("feed bind %s: %w", address, err)
	}

	s := &Source{fd: fd, format: format, universe: universe, buf: make([]byte, maxDatagram), logger: logger}
	s.logger.Info("Feed listening", watermill.LogFields{"address": s.Addr(), "format": format.String(), "universe": universe})
	return s, nil
}

func (f Format) String() string {
	if f == FormatArtNet {
		return ArtNetSourceName
	}
	return RawSourceName
}

func sockaddr(address string) (*unix.SockaddrInet4, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("feed address %q: %w", address, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return nil, fmt.Errorf("feed address %q: invalid port", address)
	}
	sa := &unix.SockaddrInet4{Port: port}
	if host != "" {
		ip := net.ParseIP(host).To4()
		if ip == nil {
			return nil, fmt.Errorf("feed address %q: not an IPv4 address", address)
		}
		copy(sa.Addr[:], ip)
	}
	return sa, nil
}

func (s *Source) FD() int { return s.fd }

// Addr returns the bound address, useful when listening on port zero.
func (s *Source) Addr() string {
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return ""
	}
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return ""
	}
	return net.JoinHostPort(net.IP(in4.Addr[:]).String(), strconv.Itoa(in4.Port))
}

// Receive reads datagrams until the socket would block or maxBatch
// datagrams were read.
func (s *Source) Receive() ([][]byte, error) {
	var out [][]byte
	for read := 0; read < maxBatch; read++ {
		n, _, err := unix.Recvfrom(s.fd, s.buf, 0)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				return out, nil
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return out, fmt.Errorf("feed recvfrom: %w", err)
		}
		if buf, ok := s.decode(s.buf[:n]); ok {
			out = append(out, buf)
		}
	}
	return out, nil
}

func (s *Source) decode(pkt []byte) ([]byte, bool) {
	if s.format == FormatRaw {
		return append([]byte(nil), pkt...), true
	}
	universe, data, ok := ParseArtDmx(pkt)
	if !ok {
		s.logger.Trace("Ignoring non-ArtDmx packet", watermill.LogFields{"size": len(pkt)})
		return nil, false
	}
	if universe != s.universe {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

func (s *Source) Close() error {
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}
