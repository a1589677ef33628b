package eventsourced

// EventCollection records the events of one aggregate instance. It assigns
// sequence numbers, buffers messages that have not been persisted yet and
// tracks how far the stream has been committed.
//
// An EventCollection is owned by a single aggregate and is not safe for
// concurrent use.
type EventCollection struct {
	key       StreamKey
	committed Version
	last      Version
	messages  []Message
}

// NewEventCollection returns an empty collection for a stream that has never
// been persisted.
func NewEventCollection(id string, typ AggregateType) *EventCollection {
	return &EventCollection{
		key:       NewStreamKey(typ, id),
		committed: NoVersion,
		last:      NoVersion,
	}
}

func (c *EventCollection) AggregateID() string          { return c.key.ID }
func (c *EventCollection) AggregateType() AggregateType { return c.key.Type }
func (c *EventCollection) StreamKey() StreamKey         { return c.key }

// CommittedSequence is the last sequence number known to be persisted.
func (c *EventCollection) CommittedSequence() Version { return c.committed }

// LastSequence is the highest sequence number recorded, committed or not.
func (c *EventCollection) LastSequence() Version { return c.last }

// NextSequence is the sequence number the next recorded event receives.
func (c *EventCollection) NextSequence() uint64 { return c.last.Next() }

// Len returns the number of uncommitted messages.
func (c *EventCollection) Len() int { return len(c.messages) }

// IsEmpty reports whether no uncommitted messages are buffered.
func (c *EventCollection) IsEmpty() bool { return len(c.messages) == 0 }

// Record wraps event into a message carrying the next sequence number and
// buffers it.
func (c *EventCollection) Record(event Event, opts ...MessageOption) Message {
	msg := NewMessage(c.key.ID, c.key.Type, c.NextSequence(), event, opts...)
	c.messages = append(c.messages, msg)
	c.last = VersionOf(msg.Sequence())
	return msg
}

// Stream returns the uncommitted messages as a stream going from the
// committed sequence to the last one. It does not change the collection.
func (c *EventCollection) Stream() *Stream {
	return NewStream(c.key.ID, c.key.Type, c.committed, c.last, c.messages)
}

// Commit marks everything recorded so far as persisted and clears the buffer.
// Call it only after the stream returned by the preceding Stream call has
// been appended to the store.
func (c *EventCollection) Commit() {
	c.committed = c.last
	c.messages = nil
}

// InitializeSequence sets the committed sequence of a collection that is
// being hydrated from history. Recording continues after v.
func (c *EventCollection) InitializeSequence(v Version) {
	assert(c.IsEmpty(), "cannot initialize sequence of %s with %d uncommitted messages", c.key, len(c.messages))
	c.committed = v
	c.last = v
}
