package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/dmxrelay/feed"
	_ "github.com/drblury/dmxrelay/feed/feeds"
	"github.com/drblury/dmxrelay/internal/broadcast"
	"github.com/drblury/dmxrelay/internal/mirror"
	"github.com/drblury/dmxrelay/internal/reactor"
	configpkg "github.com/drblury/dmxrelay/internal/runtime/config"
	errspkg "github.com/drblury/dmxrelay/internal/runtime/errors"
	loggingpkg "github.com/drblury/dmxrelay/internal/runtime/logging"
	metricspkg "github.com/drblury/dmxrelay/internal/runtime/metrics"
	"github.com/drblury/dmxrelay/internal/snapshot"
)

const httpShutdownTimeout = 5 * time.Second

// ServiceDependencies holds the optional collaborators the Service can use.
// Leave fields nil to use the defaults derived from the config.
type ServiceDependencies struct {
	// Store persists the registry. Defaults to a FileStore on
	// Config.SnapshotFile.
	Store snapshot.Store
	// Feed replaces the source named by Config.FeedSource. The Service
	// does not close a supplied feed.
	Feed feed.Source
	// FeedRegistry resolves Config.FeedSource. Defaults to
	// feed.DefaultRegistry.
	FeedRegistry *feed.Registry
	// Hooks observe connections and commands.
	Hooks reactor.Hooks
	// MetricsRegistry receives the relay's collectors. Defaults to the
	// Prometheus default registry.
	MetricsRegistry *prometheus.Registry
}

// Service wires the snapshot store, feed, mirror and event loop together.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	store    snapshot.Store
	reactor  *reactor.Reactor
	feed     feed.Source
	ownsFeed bool
	mirror   *mirror.Mirror
	metrics  *metricspkg.Metrics

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex
	running       []*http.Server
}

// NewService validates conf, restores the registry snapshot and binds the
// client listener. A snapshot that exists but does not parse is fatal.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	resolved := conf.WithDefaults()
	if err := resolved.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	log.Info("Creating relay service", loggingpkg.LogFields{"config": resolved.String()})

	s := &Service{
		Conf:   &resolved,
		Logger: log,
		store:  deps.Store,
	}
	if s.store == nil {
		s.store = snapshot.NewFileStore(resolved.SnapshotFile)
	}

	doc, err := s.store.Load()
	if err != nil {
		return nil, fmt.Errorf("restore registry: %w", err)
	}

	if err := s.setupMetrics(deps.MetricsRegistry); err != nil {
		return nil, err
	}
	if err := s.setupFeed(ctx, deps); err != nil {
		return nil, err
	}
	if s.mirror, err = mirror.Build(s.Conf, resolved.MirrorQueueSize, log, s.metrics); err != nil {
		s.closeFeed()
		return nil, err
	}

	var mirrorSink broadcast.Mirror
	if s.mirror != nil {
		mirrorSink = s.mirror
	}
	s.reactor, err = reactor.New(reactor.Options{
		ListenAddress: resolved.ListenAddress,
		Port:          resolved.Port,
		Backlog:       resolved.Backlog,
		PollTimeout:   resolved.PollTimeout,
		ReadChunkSize: resolved.ReadChunkSize,
		MaxFrameSize:  resolved.MaxFrameSize,
		Feed:          s.feed,
		Mirror:        mirrorSink,
		Hooks:         deps.Hooks,
		Metrics:       s.metrics,
		Logger:        log,
	})
	if err != nil {
		s.closeFeed()
		_ = s.mirror.Close()
		return nil, err
	}

	if err := s.reactor.Registry().Restore(doc); err != nil {
		_ = s.close()
		return nil, fmt.Errorf("restore registry: %w", err)
	}
	log.Info("Registry restored", loggingpkg.LogFields{"fixtures": s.reactor.Registry().Len()})
	return s, nil
}

func (s *Service) setupMetrics(reg *prometheus.Registry) error {
	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		handler                          = promhttp.Handler()
	)
	if reg != nil {
		registerer = reg
		handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
	s.metrics = metricspkg.New(registerer)
	if !s.Conf.MetricsEnabled {
		return nil
	}
	if err := s.metrics.Register(); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	s.RegisterHTTPHandler(s.Conf.MetricsPort, "/metrics", handler)
	return nil
}

func (s *Service) setupFeed(ctx context.Context, deps ServiceDependencies) error {
	if deps.Feed != nil {
		s.feed = deps.Feed
		return nil
	}
	if s.Conf.FeedSource == "" {
		return nil
	}
	registry := deps.FeedRegistry
	if registry == nil {
		registry = feed.DefaultRegistry
	}
	src, err := registry.Build(ctx, s.Conf, loggingpkg.NewWatermillAdapter(s.Logger))
	if err != nil {
		return fmt.Errorf("build feed: %w", err)
	}
	s.feed = src
	s.ownsFeed = true
	return nil
}

// Addr returns the client listener address.
func (s *Service) Addr() string { return s.reactor.Addr() }

// Feed returns the active feed source, or nil.
func (s *Service) Feed() feed.Source { return s.feed }

// MirrorStats reports mirror activity. It is zero when no sink is configured.
func (s *Service) MirrorStats() mirror.Stats { return s.mirror.Stats() }

// Start runs the event loop until ctx is cancelled, then saves the registry
// snapshot and releases every socket. A failed save is returned.
func (s *Service) Start(ctx context.Context) error {
	s.startHTTPServers()
	runErr := s.reactor.Run(ctx)
	if runErr != nil {
		s.Logger.Error("Event loop failed", runErr, nil)
	}

	s.Logger.Info("Shutting down relay", loggingpkg.LogFields{"fixtures": s.reactor.Registry().Len()})
	var saveErr error
	if err := s.store.Save(s.reactor.Registry().Snapshot()); err != nil {
		saveErr = fmt.Errorf("save registry: %w", err)
	}
	return errors.Join(runErr, saveErr, s.close())
}

func (s *Service) close() error {
	errs := []error{s.reactor.Close()}
	errs = append(errs, s.mirror.Close())
	if s.ownsFeed {
		errs = append(errs, s.feed.Close())
	}
	errs = append(errs, s.stopHTTPServers())
	return errors.Join(errs...)
}

func (s *Service) closeFeed() {
	if s.ownsFeed && s.feed != nil {
		_ = s.feed.Close()
	}
}

// RegisterHTTPHandler serves handler on pattern at port once Start runs.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		s.running = append(s.running, srv)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}(srv)
	}
}

func (s *Service) stopHTTPServers() error {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()

	var errs []error
	for _, srv := range s.running {
		errs = append(errs, srv.Shutdown(ctx))
	}
	s.running = nil
	return errors.Join(errs...)
}
