package eventsourced

import "fmt"

// Event is a domain event describing a change that has happened to an aggregate.
// Events are values: once recorded they are never modified.
type Event interface {
	// EventType returns the stable type tag used to serialize the event.
	EventType() string
}

// AggregateType tags the kind of aggregate a stream belongs to.
type AggregateType string

func (t AggregateType) String() string { return string(t) }

// StreamKey identifies the event stream of one aggregate instance.
type StreamKey struct {
	Type AggregateType
	ID   string
}

// NewStreamKey returns the key of the stream for the given aggregate.
func NewStreamKey(typ AggregateType, id string) StreamKey {
	return StreamKey{Type: typ, ID: id}
}

// IsZero reports whether k has neither type nor id.
func (k StreamKey) IsZero() bool { return k.Type == "" && k.ID == "" }

func (k StreamKey) String() string {
	return fmt.Sprintf("%s/%s", k.Type, k.ID)
}
