package eventsourced

import (
	"fmt"
	"sync"
)

// ReconstituteFunc rebuilds an aggregate from its history.
type ReconstituteFunc func(stream *Stream) (EventSourcedAggregateRoot, error)

// Reconstitute is the bootstrap every aggregate type provides: create a blank
// instance without going through its regular constructor, then replay the
// stream into it.
func Reconstitute[A EventSourcedAggregateRoot](blank func() A, stream *Stream) (A, error) {
	a := blank()
	if err := InitializeFromStream(a, stream); err != nil {
		var zero A
		return zero, fmt.Errorf("reconstitute %s: %w", stream.Key(), err)
	}
	return a, nil
}

// AggregateFactory reconstitutes aggregates for callers that only know the
// aggregate type tag.
//
// An AggregateFactory is safe for concurrent use.
type AggregateFactory struct {
	mu    sync.RWMutex
	types map[AggregateType]ReconstituteFunc
}

// NewAggregateFactory returns an empty factory.
func NewAggregateFactory() *AggregateFactory {
	return &AggregateFactory{types: make(map[AggregateType]ReconstituteFunc)}
}

// Register adds the reconstitution entry point of typ.
//
// Panics if typ is empty, fn is nil or typ is already registered.
func (f *AggregateFactory) Register(typ AggregateType, fn ReconstituteFunc) {
	if typ == "" {
		panic("cannot register empty aggregate type")
	}
	if fn == nil {
		panic(fmt.Sprintf("cannot register nil reconstitute func for %q", typ))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.types[typ]; exists {
		panic(fmt.Sprintf("aggregate type already registered: %s", typ))
	}
	f.types[typ] = fn
}

// RegisterAggregate registers typ with the generic blank-then-replay bootstrap.
func RegisterAggregate[A EventSourcedAggregateRoot](f *AggregateFactory, typ AggregateType, blank func() A) {
	f.Register(typ, func(stream *Stream) (EventSourcedAggregateRoot, error) {
		return Reconstitute(blank, stream)
	})
}

// Types returns the registered aggregate types.
func (f *AggregateFactory) Types() []AggregateType {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]AggregateType, 0, len(f.types))
	for typ := range f.types {
		out = append(out, typ)
	}
	return out
}

// Reconstitute rebuilds an aggregate of type typ from stream. A *TypeError is
// returned when typ is not registered or the stream belongs to another type.
func (f *AggregateFactory) Reconstitute(typ AggregateType, stream *Stream) (EventSourcedAggregateRoot, error) {
	f.mu.RLock()
	fn, ok := f.types[typ]
	f.mu.RUnlock()

	if !ok {
		return nil, &TypeError{Type: typ, Reason: "not a registered event-sourced aggregate root"}
	}
	if stream.AggregateType() != typ {
		return nil, &TypeError{Type: typ, Reason: fmt.Sprintf("stream %s belongs to another aggregate type", stream.Key())}
	}
	return fn(stream)
}

// ReconstituteAs is Reconstitute with the result asserted to A.
func ReconstituteAs[A EventSourcedAggregateRoot](f *AggregateFactory, typ AggregateType, stream *Stream) (A, error) {
	var zero A
	a, err := f.Reconstitute(typ, stream)
	if err != nil {
		return zero, err
	}
	typed, ok := a.(A)
	if !ok {
		return zero, &TypeError{Type: typ, Reason: fmt.Sprintf("reconstituted %T, not %T", a, zero)}
	}
	return typed, nil
}
