package eventsourced

import (
	"fmt"
	"reflect"
	"slices"
	"sync"
)

// Registry maps payload type tags to factories producing fresh event values.
// Serializers use it to turn a stored type tag back into a concrete Event.
//
// A Registry is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	factories   map[string]func() Event
	typeToNames map[reflect.Type][]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories:   map[string]func() Event{},
		typeToNames: map[reflect.Type][]string{},
	}
}

// DefaultRegistry backs the package-level registration functions and the
// default JSON serializer.
var DefaultRegistry = NewRegistry()

// RegisterByType registers the factory under the EventType() of the value it
// produces.
//
// Panics if fn is nil, returns nil, or the name is already registered.
//
// Example Usage:
//
//	registry.RegisterByType(func() Event { return TaskCreated{} })
func (r *Registry) RegisterByType(fn func() Event) {
	if fn == nil {
		panic("cannot register nil factory")
	}
	ev := fn()
	if ev == nil {
		panic("factory returned nil event")
	}
	r.RegisterByName(ev.EventType(), fn)
}

// RegisterByName registers the factory under a name that is independent of
// EventType(), which is useful when an event has been renamed.
//
// Panics if fn is nil, returns nil, or the name is already registered.
func (r *Registry) RegisterByName(name string, fn func() Event) {
	if fn == nil {
		panic("cannot register nil factory")
	}

	ev := fn()
	if ev == nil {
		panic(fmt.Sprintf("factory returned nil for event: %s", name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		panic(fmt.Sprintf("event already registered: %s", name))
	}

	r.factories[name] = fn
	t := reflect.TypeOf(ev)
	r.typeToNames[t] = append(r.typeToNames[t], name)
}

// New creates a new instance of the event registered under name.
func (r *Registry) New(name string) (Event, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEventNotRegistered, name)
	}
	ev := factory()
	if ev == nil {
		return nil, fmt.Errorf("factory returned nil for event: %s", name)
	}
	return ev, nil
}

// NamesFor returns every name the dynamic type of ev is registered under.
func (r *Registry) NamesFor(ev Event) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.typeToNames[reflect.TypeOf(ev)])
}

// RegisterEventByType registers fn in the DefaultRegistry.
func RegisterEventByType(fn func() Event) { DefaultRegistry.RegisterByType(fn) }

// RegisterEventByName registers fn under name in the DefaultRegistry.
func RegisterEventByName(name string, fn func() Event) { DefaultRegistry.RegisterByName(name, fn) }

// NewEventByName creates an event from the DefaultRegistry.
func NewEventByName(name string) (Event, error) { return DefaultRegistry.New(name) }

// EventNamesFor returns the names ev is registered under in the DefaultRegistry.
func EventNamesFor(ev Event) []string { return DefaultRegistry.NamesFor(ev) }
