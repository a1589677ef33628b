package eventsourced

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StoredEvent is the persisted form of a Message: payload and metadata are
// serialized, everything else is kept as-is.
type StoredEvent struct {
	AggregateID   string        `json:"aggregate_id"`
	AggregateType AggregateType `json:"aggregate_type"`
	MessageID     uuid.UUID     `json:"message_id"`
	Timestamp     time.Time     `json:"timestamp"`
	PayloadType   string        `json:"payload_type"`
	Payload       []byte        `json:"payload"`
	Metadata      []byte        `json:"metadata"`
	Sequence      uint64        `json:"sequence"`
}

// NewStoredEvent serializes msg.
func NewStoredEvent(msg Message, serializer Serializer) (StoredEvent, error) {
	payload, err := serializer.Serialize(msg.Payload())
	if err != nil {
		return StoredEvent{}, fmt.Errorf("store message %s of %s: %w", msg.MessageID(), msg.StreamKey(), err)
	}
	metadata, err := serializer.Serialize(msg.Metadata())
	if err != nil {
		return StoredEvent{}, fmt.Errorf("store metadata of message %s: %w", msg.MessageID(), err)
	}
	return StoredEvent{
		AggregateID:   msg.AggregateID(),
		AggregateType: msg.AggregateType(),
		MessageID:     msg.MessageID(),
		Timestamp:     msg.Timestamp(),
		PayloadType:   msg.PayloadType(),
		Payload:       payload,
		Metadata:      metadata,
		Sequence:      msg.Sequence(),
	}, nil
}

// Message deserializes the stored event.
func (e StoredEvent) Message(serializer Serializer) (Message, error) {
	v, err := serializer.Deserialize(e.PayloadType, e.Payload)
	if err != nil {
		return Message{}, fmt.Errorf("load message %s of %s/%s: %w", e.MessageID, e.AggregateType, e.AggregateID, err)
	}
	payload, ok := v.(Event)
	if !ok {
		return Message{}, fmt.Errorf("load message %s: payload %T is not an event", e.MessageID, v)
	}

	md, err := serializer.Deserialize(MetadataType, e.Metadata)
	if err != nil {
		return Message{}, fmt.Errorf("load metadata of message %s: %w", e.MessageID, err)
	}
	metadata, ok := md.(map[string]string)
	if !ok {
		return Message{}, fmt.Errorf("load metadata of message %s: unexpected %T", e.MessageID, md)
	}

	return NewMessage(e.AggregateID, e.AggregateType, e.Sequence, payload,
		WithMessageID(e.MessageID),
		WithTimestamp(e.Timestamp),
		WithMetadataMap(metadata),
	), nil
}

// StreamFromStoredEvents deserializes a complete, ordered history into a
// fully committed stream at version.
func StreamFromStoredEvents(key StreamKey, version Version, events []StoredEvent, serializer Serializer) (*Stream, error) {
	messages := make([]Message, 0, len(events))
	for _, e := range events {
		msg, err := e.Message(serializer)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return NewStream(key.ID, key.Type, version, version, messages), nil
}
