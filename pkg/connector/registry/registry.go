// Package registry holds the report streams a source can expose. Streams
// register themselves at init time and are looked up by name when the
// catalog is discovered or read.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/drivepoint/source-quickbooks/pkg/errors"
	"github.com/drivepoint/source-quickbooks/pkg/logger"
)

// StreamDefinition describes one report stream
type StreamDefinition struct {
	// Name is the stream name used in catalogs and state
	Name string `json:"name"`
	// Report is the Reports API endpoint name, e.g. BalanceSheet
	Report      string `json:"report"`
	Description string `json:"description,omitempty"`
}

// Registry manages stream registration and lookup
type Registry struct {
	streams map[string]StreamDefinition
	mu      sync.RWMutex
	logger  *zap.Logger
}

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry creates a new stream registry
func NewRegistry() *Registry {
	return &Registry{
		streams: make(map[string]StreamDefinition),
		logger:  logger.Get().With(zap.String("component", "stream_registry")),
	}
}

// Register registers a stream definition
func (r *Registry) Register(def StreamDefinition) error {
	if def.Name == "" || def.Report == "" {
		return errors.New(errors.ErrorTypeConfig, "stream name and report are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.streams[def.Name]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("stream %s already registered", def.Name))
	}

	r.streams[def.Name] = def
	r.logger.Debug("stream registered", zap.String("name", def.Name), zap.String("report", def.Report))
	return nil
}

// Get returns the definition of a stream
func (r *Registry) Get(name string) (StreamDefinition, error) {
	r.mu.RLock()
	def, exists := r.streams[name]
	r.mu.RUnlock()

	if !exists {
		return StreamDefinition{}, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("stream %s not found", name)).
			WithDetail("stream", name)
	}
	return def, nil
}

// List returns registered streams ordered by name
func (r *Registry) List() []StreamDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]StreamDefinition, 0, len(r.streams))
	for _, def := range r.streams {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Has checks if a stream is registered
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.streams[name]
	return exists
}

// Clear removes all registered streams (mainly for testing)
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams = make(map[string]StreamDefinition)
}

// Global registry functions

// Register registers a stream in the global registry
func Register(def StreamDefinition) error {
	return globalRegistry.Register(def)
}

// MustRegister registers a stream in the global registry and panics on error
func MustRegister(def StreamDefinition) {
	if err := globalRegistry.Register(def); err != nil {
		panic(err)
	}
}

// Get returns a stream from the global registry
func Get(name string) (StreamDefinition, error) {
	return globalRegistry.Get(name)
}

// List returns the streams of the global registry
func List() []StreamDefinition {
	return globalRegistry.List()
}

// Has checks if a stream is registered in the global registry
func Has(name string) bool {
	return globalRegistry.Has(name)
}

// GetRegistry returns the global registry instance
func GetRegistry() *Registry {
	return globalRegistry
}
