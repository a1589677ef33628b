package fixtures

import (
	"time"

	es "github.com/terraskye/eventsourced"
)

// MessageBuilder provides a fluent API for constructing messages.
type MessageBuilder struct {
	id       string
	typ      es.AggregateType
	sequence uint64
	event    es.Event
	opts     []es.MessageOption
}

// NewMessageBuilder creates a new MessageBuilder with defaults: the first
// message of "aggregate-1" carrying a TestEvent.
func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{
		id:    "aggregate-1",
		typ:   TestAggregateType,
		event: TestEvent{ID: "aggregate-1"},
	}
}

// WithAggregate sets the stream the message belongs to.
func (b *MessageBuilder) WithAggregate(id string, typ es.AggregateType) *MessageBuilder {
	b.id = id
	b.typ = typ
	return b
}

// WithSequence sets the sequence number.
func (b *MessageBuilder) WithSequence(seq uint64) *MessageBuilder {
	b.sequence = seq
	return b
}

// WithEvent sets the payload.
func (b *MessageBuilder) WithEvent(e es.Event) *MessageBuilder {
	b.event = e
	return b
}

// WithTimestamp sets the recording time.
func (b *MessageBuilder) WithTimestamp(t time.Time) *MessageBuilder {
	b.opts = append(b.opts, es.WithTimestamp(t))
	return b
}

// WithMetadataField adds a single metadata field.
func (b *MessageBuilder) WithMetadataField(key, value string) *MessageBuilder {
	b.opts = append(b.opts, es.WithMetadata(key, value))
	return b
}

// Build constructs the Message.
func (b *MessageBuilder) Build() es.Message {
	return es.NewMessage(b.id, b.typ, b.sequence, b.event, b.opts...)
}

// MessagesFromEvents creates messages of one stream with sequence numbers
// counting up from first.
func MessagesFromEvents(id string, typ es.AggregateType, first uint64, events ...es.Event) []es.Message {
	messages := make([]es.Message, len(events))
	baseTime := time.Now().UTC()

	for i, event := range events {
		seq := first + uint64(i)
		messages[i] = es.NewMessage(id, typ, seq, event,
			es.WithTimestamp(baseTime.Add(time.Duration(i)*time.Millisecond)),
		)
	}
	return messages
}

// HistoryOf returns a fully committed stream holding events as the complete
// history of the aggregate, like a store returns from Load.
func HistoryOf(id string, typ es.AggregateType, events ...es.Event) *es.Stream {
	version := es.NoVersion
	if len(events) > 0 {
		version = es.VersionOf(uint64(len(events) - 1))
	}
	return es.NewStream(id, typ, version, version, MessagesFromEvents(id, typ, 0, events...))
}
