// Command dmxrelay relays DMX feed data to connected lighting clients.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/drblury/dmxrelay"
	configpkg "github.com/drblury/dmxrelay/internal/runtime/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "dmxrelay: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		cfg      dmxrelay.Config
		logLevel string
	)

	flags := pflag.NewFlagSet("dmxrelay", pflag.ContinueOnError)
	flags.StringVar(&cfg.ListenAddress, "listen", configpkg.DefaultListenAddress, "address the client listener binds to")
	flags.IntVarP(&cfg.Port, "port", "p", configpkg.DefaultPort, "client listener port")
	flags.IntVar(&cfg.Backlog, "backlog", configpkg.DefaultBacklog, "accept queue length")
	flags.DurationVar(&cfg.PollTimeout, "poll-timeout", configpkg.DefaultPollTimeout, "upper bound on a single readiness wait")
	flags.IntVar(&cfg.ReadChunkSize, "read-chunk-size", configpkg.DefaultReadChunkSize, "largest single read from a client socket")
	flags.IntVar(&cfg.MaxFrameSize, "max-frame-size", configpkg.DefaultMaxFrameSize, "largest inbound frame accepted from a client")
	flags.StringVarP(&cfg.SnapshotFile, "snapshot", "s", configpkg.DefaultSnapshotFile, "fixture registry snapshot file")
	flags.StringVar(&cfg.FeedSource, "feed", "", "feed source: udp, artnet, channel or empty for none")
	flags.StringVar(&cfg.FeedAddress, "feed-address", "", "UDP address the feed listens on")
	flags.IntVar(&cfg.Universe, "universe", configpkg.DefaultUniverse, "DMX universe accepted from an Art-Net feed")
	flags.StringVar(&cfg.MirrorSink, "mirror", "", "mirror registry changes to: channel, nats or empty for none")
	flags.StringVar(&cfg.MirrorTopic, "mirror-topic", configpkg.DefaultMirrorTopic, "topic mirrored changes are published to")
	flags.IntVar(&cfg.MirrorQueueSize, "mirror-queue-size", configpkg.DefaultMirrorQueueSize, "mirrored changes buffered before new ones are dropped")
	flags.StringVar(&cfg.NATSURL, "nats-url", "", "NATS server URL for the nats mirror")
	flags.BoolVar(&cfg.MetricsEnabled, "metrics", false, "serve Prometheus metrics")
	flags.IntVar(&cfg.MetricsPort, "metrics-port", 9090, "Prometheus metrics port")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("parsing --log-level: %w", err)
	}
	logger := dmxrelay.NewSlogServiceLogger(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := dmxrelay.NewService(&cfg, logger, ctx, dmxrelay.ServiceDependencies{})
	if err != nil {
		return err
	}

	logger.Info("dmxrelay started", dmxrelay.LogFields{"config": cfg.String(), "addr": svc.Addr()})
	return svc.Start(ctx)
}
