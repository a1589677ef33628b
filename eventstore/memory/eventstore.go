// Package memory provides the in-memory reference EventStore. It is meant as
// a test double and correctness oracle for the other backends.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	es "github.com/terraskye/eventsourced"
)

var _ es.EventStore = (*MemoryStore)(nil)

// StreamData is what the store keeps for one aggregate instance.
type StreamData struct {
	// Version is the highest persisted sequence, NoVersion while empty.
	Version es.Version

	// Events maps sequence numbers to stored events.
	Events map[uint64]es.StoredEvent
}

func newStreamData() *StreamData {
	return &StreamData{
		Version: es.NoVersion,
		Events:  make(map[uint64]es.StoredEvent),
	}
}

// put stores e unless its sequence number is already present.
func (d *StreamData) put(e es.StoredEvent) {
	if _, exists := d.Events[e.Sequence]; exists {
		return
	}
	d.Events[e.Sequence] = e
}

// ordered returns the stored events in sequence order.
func (d *StreamData) ordered() []es.StoredEvent {
	seqs := slices.Sorted(maps.Keys(d.Events))
	out := make([]es.StoredEvent, len(seqs))
	for i, seq := range seqs {
		out[i] = d.Events[seq]
	}
	return out
}

// MemoryStore keeps streams in nested maps keyed by aggregate type and id.
// A mutex makes each version check and write atomic.
type MemoryStore struct {
	mu         sync.RWMutex
	serializer es.Serializer
	streams    map[es.AggregateType]map[string]*StreamData
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithSerializer sets the serializer used at the storage boundary. Defaults
// to JSON backed by the default event registry.
func WithSerializer(s es.Serializer) Option {
	return func(m *MemoryStore) { m.serializer = s }
}

// NewMemoryStore returns an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	m := &MemoryStore{
		serializer: es.NewJSONSerializer(nil),
		streams:    make(map[es.AggregateType]map[string]*StreamData),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// stream returns the data of key, or nil when there is none.
func (m *MemoryStore) stream(key es.StreamKey) *StreamData {
	return m.streams[key.Type][key.ID]
}

func (m *MemoryStore) currentVersion(key es.StreamKey) es.Version {
	if d := m.stream(key); d != nil {
		return d.Version
	}
	return es.NoVersion
}

func (m *MemoryStore) streamFor(key es.StreamKey) *StreamData {
	ids, ok := m.streams[key.Type]
	if !ok {
		ids = make(map[string]*StreamData)
		m.streams[key.Type] = ids
	}
	d, ok := ids[key.ID]
	if !ok {
		d = newStreamData()
		ids[key.ID] = d
	}
	return d
}

func (m *MemoryStore) Append(ctx context.Context, msg es.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stored, err := es.NewStoredEvent(msg, m.serializer)
	if err != nil {
		return es.WrapEventStoreError(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := msg.StreamKey()
	expected := es.ExpectedVersionFor(msg.Sequence())
	if current := m.currentVersion(key); current != expected {
		return &es.ConcurrencyError{Stream: key, Expected: expected, Actual: current}
	}

	d := m.streamFor(key)
	d.put(stored)
	d.Version = es.VersionOf(msg.Sequence())
	return nil
}

func (m *MemoryStore) AppendStream(ctx context.Context, stream *es.Stream) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stored := make([]es.StoredEvent, 0, stream.Len())
	for msg := range stream.All() {
		e, err := es.NewStoredEvent(msg, m.serializer)
		if err != nil {
			return es.WrapEventStoreError(err)
		}
		stored = append(stored, e)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := stream.Key()
	if current := m.currentVersion(key); current != stream.Committed() {
		return &es.ConcurrencyError{Stream: key, Expected: stream.Committed(), Actual: current}
	}
	if stream.IsEmpty() {
		return nil
	}

	d := m.streamFor(key)
	for _, e := range stored {
		d.put(e)
	}
	d.Version = stream.Version()
	return nil
}

func (m *MemoryStore) Load(ctx context.Context, id string, typ es.AggregateType) (*es.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	key := es.NewStreamKey(typ, id)
	ids, ok := m.streams[typ]
	if !ok {
		return nil, &es.StreamNotFoundError{Stream: key}
	}
	d, ok := ids[id]
	if !ok {
		return nil, &es.StreamNotFoundError{Stream: key, TypeKnown: true}
	}

	stream, err := es.StreamFromStoredEvents(key, d.Version, d.ordered(), m.serializer)
	if err != nil {
		return nil, es.WrapEventStoreError(err)
	}
	return stream, nil
}

// StreamData returns a copy of what the store holds for the aggregate.
func (m *MemoryStore) StreamData(id string, typ es.AggregateType) (StreamData, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d := m.stream(es.NewStreamKey(typ, id))
	if d == nil {
		return StreamData{}, false
	}
	return StreamData{Version: d.Version, Events: maps.Clone(d.Events)}, true
}

// Close drops all streams.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams = make(map[es.AggregateType]map[string]*StreamData)
	return nil
}
