package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/resound/pkg/audio"
	"github.com/MrWong99/resound/pkg/audio/sink"
	"github.com/MrWong99/resound/pkg/spatial"
)

// ErrBackendNotRegistered is returned by Create* methods when no factory has
// been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: backend not registered")

// SinkFactory opens an output sink in the given device format.
type SinkFactory func(cfg OutputConfig, format audio.Format) (sink.Sink, error)

// ProcessorFactory creates a spatialization processor for settings.
type ProcessorFactory func(cfg SpatialConfig, settings spatial.Settings) (spatial.Processor, error)

// Registry maps backend names to their constructor functions for each
// backend kind. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	sinks      map[string]SinkFactory
	processors map[string]ProcessorFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		sinks:      make(map[string]SinkFactory),
		processors: make(map[string]ProcessorFactory),
	}
}

// RegisterSink registers a sink factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSink(name string, factory SinkFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[name] = factory
}

// RegisterProcessor registers a processor factory under name.
func (r *Registry) RegisterProcessor(name string, factory ProcessorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[name] = factory
}

// CreateSink opens the sink registered under name.
// Returns [ErrBackendNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateSink(name string, cfg OutputConfig, format audio.Format) (sink.Sink, error) {
	r.mu.RLock()
	factory, ok := r.sinks[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: output/%q", ErrBackendNotRegistered, name)
	}
	return factory(cfg, format)
}

// CreateProcessor instantiates the processor registered under cfg.Processor.
func (r *Registry) CreateProcessor(cfg SpatialConfig, settings spatial.Settings) (spatial.Processor, error) {
	r.mu.RLock()
	factory, ok := r.processors[cfg.Processor]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: processor/%q", ErrBackendNotRegistered, cfg.Processor)
	}
	return factory(cfg, settings)
}

// SinkNames returns the registered sink names in sorted order.
func (r *Registry) SinkNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sinks))
	for name := range r.sinks {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
