// Package dmxrelay is a broadcast relay for a lighting control network. It
// reads DMX universe buffers from one upstream feed, turns them into per
// fixture light state, and fans that state out to every connected TCP client.
// Clients manage the set of fixtures with a small control protocol; every
// change is announced to all clients before the command completes.
//
// The relay runs a single event loop over epoll: the client listener, every
// client socket and the feed share one poller, and each connection keeps its
// own inbound and outbound buffers so partial reads and writes never block
// the loop. Messages on the wire are protobuf envelopes carrying a tag and a
// google.protobuf.Any, each preceded by its length as a varint.
//
// A minimal setup fills Config, creates a Service and calls Start; cancelling
// the context saves the fixture registry and closes every socket.
//
//	svc, err := dmxrelay.NewService(&dmxrelay.Config{Port: 6969, FeedSource: "artnet", FeedAddress: ":6454"},
//		dmxrelay.NewSlogServiceLogger(slog.Default()), ctx, dmxrelay.ServiceDependencies{})
//	if err != nil {
//		return err
//	}
//	return svc.Start(ctx)
//
// # Feeds
//
// Built-in feed sources:
//   - udp: every datagram is a raw universe buffer
//   - artnet: Art-Net ArtDmx packets for the configured universe
//   - channel: buffers injected in-process, for simulators and tests
//
// Custom sources register a FeedBuilder with RegisterFeedSource.
//
// # Mirror
//
// Registry changes can be copied to a message bus ("channel" or "nats") for
// consumers that do not hold a client connection. The mirror never blocks
// the event loop; when its queue is full, changes are dropped and counted.
//
// # Observability
//
// Logging goes through ServiceLogger, backed by log/slog. With
// MetricsEnabled the Service serves Prometheus metrics on /metrics, and
// control commands run inside OpenTelemetry spans. Hooks observe connections
// and commands as they happen.
package dmxrelay
