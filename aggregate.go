package eventsourced

// Entity is anything that applies events to its own state: an aggregate root
// or one of the child entities it owns.
type Entity interface {
	// ApplyEvent applies msg and reports whether the entity handles its
	// payload type. Unhandled events are skipped.
	ApplyEvent(msg Message) bool
}

// EntityContainer is implemented by entities owning child entities. Every
// event applied to the container is also applied to each child, recursively.
type EntityContainer interface {
	ChildEntities() []Entity
}

// RootAware is implemented by child entities that want to know which
// aggregate root they belong to. EntityBase implements it.
type RootAware interface {
	RegisterAggregateRoot(root StreamKey) error
}

// EntityBase is embedded by child entities. It remembers the stream key of
// the owning aggregate root; the root itself is never referenced, so a child
// that needs to record further events receives the root as an argument.
type EntityBase struct {
	root StreamKey
}

// RegisterAggregateRoot binds the entity to root. Registering again with the
// same root is a no-op; registering with a different one fails.
func (e *EntityBase) RegisterAggregateRoot(root StreamKey) error {
	if e.root.IsZero() {
		e.root = root
		return nil
	}
	if e.root != root {
		return &RegisterAggregateError{Registered: e.root, Requested: root}
	}
	return nil
}

// AggregateRoot returns the key of the owning aggregate root.
func (e *EntityBase) AggregateRoot() (StreamKey, bool) {
	return e.root, !e.root.IsZero()
}

// EventSourcedAggregateRoot is the capability of aggregates whose state is
// derived from their events. It is satisfied by embedding AggregateRoot.
type EventSourcedAggregateRoot interface {
	Entity

	// AggregateID returns the identity of the aggregate.
	AggregateID() string

	// AggregateType returns the type tag of the aggregate.
	AggregateType() AggregateType

	// Commit and CommittedVersion are provided by AggregateRoot.
	Commit()
	CommittedVersion() Version

	eventCollection(key StreamKey) *EventCollection
}

// AggregateRoot is embedded by event-sourced aggregates and owns their
// EventCollection, which is created on first use.
type AggregateRoot struct {
	events *EventCollection
}

func (r *AggregateRoot) eventCollection(key StreamKey) *EventCollection {
	if r.events == nil {
		r.events = NewEventCollection(key.ID, key.Type)
	}
	return r.events
}

// Commit marks all recorded events as persisted. Call it only after the
// stream returned by RecordedEvents has been appended to the store.
func (r *AggregateRoot) Commit() {
	if r.events != nil {
		r.events.Commit()
	}
}

// CommittedVersion is the last version known to be persisted.
func (r *AggregateRoot) CommittedVersion() Version {
	if r.events == nil {
		return NoVersion
	}
	return r.events.CommittedSequence()
}

// CurrentVersion is the version including uncommitted events.
func (r *AggregateRoot) CurrentVersion() Version {
	if r.events == nil {
		return NoVersion
	}
	return r.events.LastSequence()
}

// HasUncommittedEvents reports whether recorded events await persistence.
func (r *AggregateRoot) HasUncommittedEvents() bool {
	return r.events != nil && !r.events.IsEmpty()
}

func keyOf(a EventSourcedAggregateRoot) StreamKey {
	return NewStreamKey(a.AggregateType(), a.AggregateID())
}

// RecordThat records event in the aggregate's collection and applies it to
// the aggregate and all of its child entities, so that state read right after
// recording already reflects the event.
func RecordThat(a EventSourcedAggregateRoot, event Event, opts ...MessageOption) error {
	key := keyOf(a)
	msg := a.eventCollection(key).Record(event, opts...)
	return play(a, key, msg)
}

// RecordedEvents returns the uncommitted events as a stream ready to be
// appended to a store.
func RecordedEvents(a EventSourcedAggregateRoot) *Stream {
	return a.eventCollection(keyOf(a)).Stream()
}

// InitializeFromStream replays history into a blank aggregate. Events are
// applied in sequence order without being recorded; afterwards the committed
// version is that of the last replayed event.
func InitializeFromStream(a EventSourcedAggregateRoot, stream *Stream) error {
	key := stream.Key()
	events := a.eventCollection(key)
	if !events.IsEmpty() {
		return &OperationError{Stream: key, Uncommitted: events.Len()}
	}

	last := stream.Version()
	for msg := range stream.All() {
		if err := play(a, key, msg); err != nil {
			return err
		}
		last = VersionOf(msg.Sequence())
	}
	return InitializeCommittedVersion(a, last)
}

// InitializeCommittedVersion sets the committed version of an aggregate that
// was hydrated from history. It fails while uncommitted events are buffered.
func InitializeCommittedVersion(a EventSourcedAggregateRoot, v Version) error {
	events := a.eventCollection(keyOf(a))
	if !events.IsEmpty() {
		return &OperationError{Stream: events.StreamKey(), Uncommitted: events.Len()}
	}
	events.InitializeSequence(v)
	return nil
}

// play is the single traversal shared by recording and replay: the root
// applies the message first, then every child entity, depth first.
func play(root EventSourcedAggregateRoot, key StreamKey, msg Message) error {
	root.ApplyEvent(msg)
	return playChildren(root, key, msg)
}

func playChildren(entity Entity, key StreamKey, msg Message) error {
	container, ok := entity.(EntityContainer)
	if !ok {
		return nil
	}
	for _, child := range container.ChildEntities() {
		if aware, ok := child.(RootAware); ok {
			if err := aware.RegisterAggregateRoot(key); err != nil {
				return err
			}
		}
		child.ApplyEvent(msg)
		if err := playChildren(child, key, msg); err != nil {
			return err
		}
	}
	return nil
}
