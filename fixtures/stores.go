package fixtures

import (
	"context"
	"sync"

	es "github.com/terraskye/eventsourced"
	"github.com/terraskye/eventsourced/eventstore/memory"
)

// StoreSpy is a configurable mock EventStore for testing.
// It tracks calls and allows injecting custom behavior or failures. Calls
// without an override go to an in-memory store.
type StoreSpy struct {
	mu      sync.Mutex
	backing *memory.MemoryStore

	// Function overrides for custom behavior
	AppendFn       func(ctx context.Context, msg es.Message) error
	AppendStreamFn func(ctx context.Context, stream *es.Stream) error
	LoadFn         func(ctx context.Context, id string, typ es.AggregateType) (*es.Stream, error)
	CloseFn        func() error

	// Call tracking
	AppendCalls       int
	AppendStreamCalls int
	LoadCalls         int
	CloseCalls        int

	// Captured arguments from last call
	LastAppended es.Message
	LastStream   *es.Stream
	LastLoadKey  es.StreamKey

	// Error injection
	loadErr   error
	appendErr error
}

// NewStoreSpy creates a new StoreSpy with default behavior.
func NewStoreSpy() *StoreSpy {
	return &StoreSpy{backing: memory.NewMemoryStore()}
}

// WithHistory pre-populates the store with the history of an aggregate.
// Panics if the history cannot be appended.
func (s *StoreSpy) WithHistory(id string, typ es.AggregateType, events ...es.Event) *StoreSpy {
	if len(events) == 0 {
		return s
	}
	history := HistoryOf(id, typ, events...)
	stream := es.NewStream(id, typ, es.NoVersion, history.Version(), history.Messages())
	if err := s.backing.AppendStream(context.Background(), stream); err != nil {
		panic(err)
	}
	return s
}

// FailOnLoad configures the store to return an error on load operations.
func (s *StoreSpy) FailOnLoad(err error) *StoreSpy {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadErr = err
	return s
}

// FailOnAppend configures the store to return an error on append operations.
func (s *StoreSpy) FailOnAppend(err error) *StoreSpy {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendErr = err
	return s
}

// Append implements EventStore.Append.
func (s *StoreSpy) Append(ctx context.Context, msg es.Message) error {
	s.mu.Lock()
	s.AppendCalls++
	s.LastAppended = msg
	fn, injected := s.AppendFn, s.appendErr
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, msg)
	}
	if injected != nil {
		return injected
	}
	return s.backing.Append(ctx, msg)
}

// AppendStream implements EventStore.AppendStream.
func (s *StoreSpy) AppendStream(ctx context.Context, stream *es.Stream) error {
	s.mu.Lock()
	s.AppendStreamCalls++
	s.LastStream = stream
	fn, injected := s.AppendStreamFn, s.appendErr
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, stream)
	}
	if injected != nil {
		return injected
	}
	return s.backing.AppendStream(ctx, stream)
}

// Load implements EventStore.Load.
func (s *StoreSpy) Load(ctx context.Context, id string, typ es.AggregateType) (*es.Stream, error) {
	s.mu.Lock()
	s.LoadCalls++
	s.LastLoadKey = es.NewStreamKey(typ, id)
	fn, injected := s.LoadFn, s.loadErr
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, id, typ)
	}
	if injected != nil {
		return nil, injected
	}
	return s.backing.Load(ctx, id, typ)
}

// Close implements EventStore.Close.
func (s *StoreSpy) Close() error {
	s.mu.Lock()
	s.CloseCalls++
	fn := s.CloseFn
	s.mu.Unlock()

	if fn != nil {
		return fn()
	}
	return nil
}

// Backing returns the in-memory store behind the spy.
func (s *StoreSpy) Backing() *memory.MemoryStore {
	return s.backing
}

// Reset clears all call counts, stored data and injected errors.
func (s *StoreSpy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.AppendCalls = 0
	s.AppendStreamCalls = 0
	s.LoadCalls = 0
	s.CloseCalls = 0
	s.LastAppended = es.Message{}
	s.LastStream = nil
	s.LastLoadKey = es.StreamKey{}
	s.backing = memory.NewMemoryStore()
	s.loadErr = nil
	s.appendErr = nil
}

// Pre-built store scenarios.

// EmptyStore returns a StoreSpy with no events.
func EmptyStore() *StoreSpy {
	return NewStoreSpy()
}

// StoreWithEvents returns a StoreSpy holding n test events for id.
func StoreWithEvents(id string, n int) *StoreSpy {
	events := NewTestEvent().WithID(id).BuildN(n)
	return NewStoreSpy().WithHistory(id, TestAggregateType, events...)
}

// FailingStore returns a StoreSpy that fails on all operations.
func FailingStore(err error) *StoreSpy {
	return NewStoreSpy().FailOnLoad(err).FailOnAppend(err)
}

// ConflictingStore returns a StoreSpy whose first n stream appends fail with
// a concurrency conflict as if another writer had appended one event first.
// Later appends reach the backing store.
func ConflictingStore(n int) *StoreSpy {
	store := NewStoreSpy()
	conflicts := 0
	store.AppendStreamFn = func(ctx context.Context, stream *es.Stream) error {
		store.mu.Lock()
		conflict := conflicts < n
		conflicts++
		store.mu.Unlock()

		if conflict {
			return &es.ConcurrencyError{
				Stream:   stream.Key(),
				Expected: stream.Committed(),
				Actual:   es.VersionOf(stream.Committed().Next()),
			}
		}
		return store.backing.AppendStream(ctx, stream)
	}
	return store
}

// StreamNotFoundStore returns a StoreSpy whose Load reports an unknown id.
func StreamNotFoundStore() *StoreSpy {
	store := NewStoreSpy()
	store.LoadFn = func(ctx context.Context, id string, typ es.AggregateType) (*es.Stream, error) {
		return nil, &es.StreamNotFoundError{Stream: es.NewStreamKey(typ, id), TypeKnown: true}
	}
	return store
}
