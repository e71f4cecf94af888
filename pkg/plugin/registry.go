package plugin

import (
	"fmt"
	"sort"
	"sync"

	"firestige.xyz/tsswitch/internal/core"
)

// InputFactory creates an empty, uninitialised Input instance.
type InputFactory func() Input

// OutputFactory creates an empty, uninitialised Output instance.
type OutputFactory func() Output

// registry is a name → factory table for one plugin kind.
type registry[F any] struct {
	kind      string
	mu        sync.RWMutex
	factories map[string]F
}

func newRegistry[F any](kind string) *registry[F] {
	return &registry[F]{kind: kind, factories: make(map[string]F)}
}

// register panics on empty name, nil factory or duplicate name: these are
// wiring mistakes detected at init time.
func (r *registry[F]) register(name string, f F, isNil bool) {
	if name == "" {
		panic(fmt.Sprintf("plugin: empty %s name", r.kind))
	}
	if isNil {
		panic(fmt.Sprintf("plugin: nil %s factory for %q", r.kind, name))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		panic(fmt.Sprintf("plugin: %s %q already registered", r.kind, name))
	}
	r.factories[name] = f
}

func (r *registry[F]) get(name string) (F, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	if !ok {
		var zero F
		return zero, fmt.Errorf("%s %q: %w", r.kind, name, core.ErrPluginNotFound)
	}
	return f, nil
}

func (r *registry[F]) list() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset clears all registrations. Used by tests.
func (r *registry[F]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = make(map[string]F)
}

var (
	inputReg  = newRegistry[InputFactory]("input")
	outputReg = newRegistry[OutputFactory]("output")
)

// RegisterInput registers an input plugin factory. Called from plugin init().
func RegisterInput(name string, f InputFactory) {
	inputReg.register(name, f, f == nil)
}

// RegisterOutput registers an output plugin factory. Called from plugin init().
func RegisterOutput(name string, f OutputFactory) {
	outputReg.register(name, f, f == nil)
}

// GetInputFactory looks up an input plugin factory by name.
func GetInputFactory(name string) (InputFactory, error) {
	return inputReg.get(name)
}

// GetOutputFactory looks up an output plugin factory by name.
func GetOutputFactory(name string) (OutputFactory, error) {
	return outputReg.get(name)
}

// ListInputs returns the registered input plugin names, sorted.
func ListInputs() []string {
	return inputReg.list()
}

// ListOutputs returns the registered output plugin names, sorted.
func ListOutputs() []string {
	return outputReg.list()
}
