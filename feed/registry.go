package feed

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ThreeDotsLabs/watermill"

	errspkg "github.com/drblury/dmxrelay/internal/runtime/errors"
)

// Registry maps source names to their builders. Source packages register
// themselves using Register.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// DefaultRegistry is the global feed registry.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Register adds a builder under name, replacing any previous one.
func (r *Registry) Register(name string, builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
}

// Build creates the source named by cfg.GetFeedSource.
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Source, error) {
	if cfg == nil {
		return nil, fmt.Errorf("feed config is required")
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	name := cfg.GetFeedSource()

	r.mu.RLock()
	builder, ok := r.builders[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", errspkg.ErrUnknownFeedSource, name, r.Names())
	}
	return builder(ctx, cfg, logger)
}

// Names returns the registered source names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[name]
	return ok
}

// Register adds a builder to the default registry.
func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

// Build creates a source using the default registry.
func Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Source, error) {
	return DefaultRegistry.Build(ctx, cfg, logger)
}
