/*
Package runtime wires the relay together and owns its lifecycle.

# Architecture Overview

A Service is built from a validated Config and a small set of optional
dependencies. Everything that touches client sockets runs on one goroutine
inside the reactor; the Service only prepares the pieces and tears them
down again.

# Package Structure

## Core Service (service.go)

The Service struct is the central orchestrator that wires together:
  - Fixture registry snapshot (load on start, save on shutdown)
  - Feed source selected from the feed registry
  - Optional mirror publisher (watermill gochannel or NATS)
  - The epoll reactor serving clients
  - HTTP server exposing Prometheus metrics

## Subpackages

  - config: Config, defaults and validation
  - errors: sentinel errors shared by every package
  - ids: ULID generation for mirrored messages
  - jsoncodec: sonic-backed JSON used by the snapshot store
  - logging: ServiceLogger over log/slog and watermill
  - metrics: Prometheus collectors for connections, frames and commands

# Lifecycle

NewService loads the snapshot before anything binds, so a corrupt snapshot
fails startup without opening sockets. Start blocks until the context is
cancelled or the loop fails, then persists the registry and closes the feed,
the mirror and every HTTP server. Errors from all of these steps are joined.
*/
package runtime
