package config

import (
	"errors"
	"slices"
	"sync"

	"github.com/gaetschwartz/purr/pkg/provider/stt"
	"github.com/gaetschwartz/purr/pkg/types"
)

// ErrEngineNotRegistered is returned by [Registry.Create] when no factory has
// been registered under the requested engine.
var ErrEngineNotRegistered = errors.New("config: engine not registered")

// EngineFactory builds an stt engine from the transcription settings.
type EngineFactory func(TranscriptionConfig) (stt.Engine, error)

// Registry maps engine names to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[Engine]EngineFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{factories: make(map[Engine]EngineFactory)}
}

// Register registers an engine factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) Register(name Engine, factory EngineFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Names returns the registered engine names in sorted order.
func (r *Registry) Names() []Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]Engine, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Create instantiates the engine selected by t.Engine. An unregistered
// engine wraps [ErrEngineNotRegistered]; any failure is a Configuration
// error.
func (r *Registry) Create(t TranscriptionConfig) (stt.Engine, error) {
	name := t.Engine
	if name == "" {
		name = EngineNative
	}
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, types.Errorf(types.KindConfiguration, "config.Registry", "%w: %q", ErrEngineNotRegistered, name)
	}
	eng, err := factory(t)
	if err != nil {
		if types.KindOf(err) != types.KindUnknown {
			return nil, err
		}
		return nil, types.Errorf(types.KindConfiguration, "config.Registry", "create %s engine: %w", name, err)
	}
	return eng, nil
}
