package eventsourced

import (
	"cmp"
	"maps"
	"math"
	"time"

	"github.com/google/uuid"
)

var now = time.Now

// Message pairs a domain event with the identity and ordering data needed to
// persist it. Messages are immutable; the With* methods return copies.
type Message struct {
	aggregateID   string
	aggregateType AggregateType
	messageID     uuid.UUID
	timestamp     time.Time
	payload       Event
	metadata      map[string]string
	sequence      uint64
}

// MessageOption configures a Message under construction.
type MessageOption func(*Message)

// WithMessageID sets the message id instead of generating one.
func WithMessageID(id uuid.UUID) MessageOption {
	return func(m *Message) { m.messageID = id }
}

// WithTimestamp sets the time the event was recorded.
func WithTimestamp(t time.Time) MessageOption {
	return func(m *Message) { m.timestamp = t }
}

// WithMetadata adds a single metadata entry.
func WithMetadata(key, value string) MessageOption {
	return func(m *Message) { m.metadata[key] = value }
}

// WithMetadataMap adds all given metadata entries.
func WithMetadataMap(md map[string]string) MessageOption {
	return func(m *Message) { maps.Copy(m.metadata, md) }
}

// NewMessage wraps payload for the aggregate identified by id and typ at the
// given sequence number.
func NewMessage(id string, typ AggregateType, sequence uint64, payload Event, opts ...MessageOption) Message {
	assert(payload != nil, "message payload for %s/%s is nil", typ, id)
	assert(sequence <= math.MaxInt64, "sequence %d of %s/%s exceeds the highest version", sequence, typ, id)

	m := Message{
		aggregateID:   id,
		aggregateType: typ,
		messageID:     uuid.New(),
		timestamp:     now(),
		payload:       payload,
		metadata:      make(map[string]string),
		sequence:      sequence,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func (m Message) AggregateID() string          { return m.aggregateID }
func (m Message) AggregateType() AggregateType { return m.aggregateType }
func (m Message) StreamKey() StreamKey         { return NewStreamKey(m.aggregateType, m.aggregateID) }
func (m Message) MessageID() uuid.UUID         { return m.messageID }
func (m Message) Timestamp() time.Time         { return m.timestamp }
func (m Message) Payload() Event               { return m.payload }
func (m Message) PayloadType() string          { return m.payload.EventType() }
func (m Message) Sequence() uint64             { return m.sequence }

// Metadata returns a copy of the message metadata.
func (m Message) Metadata() map[string]string {
	return maps.Clone(m.metadata)
}

// MetadataValue returns the metadata entry stored under key.
func (m Message) MetadataValue(key string) (string, bool) {
	v, ok := m.metadata[key]
	return v, ok
}

// WithMetadata returns a copy of m carrying the additional entries.
func (m Message) WithMetadata(md map[string]string) Message {
	out := m
	out.metadata = maps.Clone(m.metadata)
	if out.metadata == nil {
		out.metadata = make(map[string]string, len(md))
	}
	maps.Copy(out.metadata, md)
	return out
}

// Compare orders messages of the same aggregate by sequence number. Comparing
// messages of different aggregates is a programmer error and panics.
func (m Message) Compare(other Message) int {
	assert(m.aggregateType == other.aggregateType && m.aggregateID == other.aggregateID,
		"cannot compare message of %s with message of %s", m.StreamKey(), other.StreamKey())
	return cmp.Compare(m.sequence, other.sequence)
}

// Equal reports whether both values are the same message. Two messages
// carrying the same sequence number are not equal unless their ids match.
func (m Message) Equal(other Message) bool {
	return m.messageID == other.messageID
}
