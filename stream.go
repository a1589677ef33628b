package eventsourced

import (
	"iter"
	"slices"
)

// Stream is an immutable, ordered batch of messages of one aggregate.
//
// Committed is the version the stream had before the batch and Version the
// version after it. A stream loaded from a store is fully committed: both are
// equal and the messages hold the complete history.
type Stream struct {
	key       StreamKey
	committed Version
	version   Version
	messages  []Message
}

// NewStream builds a stream from messages, sorted by sequence number.
//
// Malformed input panics: messages of another aggregate, duplicate or
// missing sequence numbers, a first sequence after committed.Next(), or a
// highest sequence that is not version. Messages at or below committed may be
// resent and are skipped by stores.
func NewStream(id string, typ AggregateType, committed, version Version, messages []Message) *Stream {
	key := NewStreamKey(typ, id)
	for _, msg := range messages {
		assert(msg.StreamKey() == key, "stream %s cannot hold message of %s", key, msg.StreamKey())
	}
	sorted := slices.Clone(messages)
	slices.SortFunc(sorted, Message.Compare)

	assert(committed <= version, "stream %s committed version %s is ahead of version %s", key, committed, version)
	for i, msg := range sorted {
		if i == 0 {
			continue
		}
		prev := sorted[i-1].Sequence()
		assert(msg.Sequence() != prev,
			"stream %s holds messages %s and %s with the same sequence %d",
			key, sorted[i-1].MessageID(), msg.MessageID(), prev)
		assert(msg.Sequence() == prev+1, "stream %s has a gap between sequence %d and %d", key, prev, msg.Sequence())
	}
	if len(sorted) > 0 {
		first := sorted[0].Sequence()
		assert(first <= committed.Next(),
			"stream %s starts at sequence %d, after the next sequence %d of version %s",
			key, first, committed.Next(), committed)
		last := VersionOf(sorted[len(sorted)-1].Sequence())
		assert(last == version, "stream %s ends at sequence %s but declares version %s", key, last, version)
	} else {
		assert(committed == version, "empty stream %s moves from version %s to %s", key, committed, version)
	}

	return &Stream{
		key:       key,
		committed: committed,
		version:   version,
		messages:  sorted,
	}
}

func (s *Stream) AggregateID() string          { return s.key.ID }
func (s *Stream) AggregateType() AggregateType { return s.key.Type }
func (s *Stream) Key() StreamKey               { return s.key }

// Committed is the version of the stream before this batch.
func (s *Stream) Committed() Version { return s.committed }

// Version is the version of the stream after this batch.
func (s *Stream) Version() Version { return s.version }

func (s *Stream) Len() int      { return len(s.messages) }
func (s *Stream) IsEmpty() bool { return len(s.messages) == 0 }

// Messages returns a copy of the messages in sequence order.
func (s *Stream) Messages() []Message { return slices.Clone(s.messages) }

// All iterates the messages in sequence order.
func (s *Stream) All() iter.Seq[Message] {
	return slices.Values(s.messages)
}

// Payloads returns the events carried by the stream in sequence order.
func (s *Stream) Payloads() []Event {
	out := make([]Event, len(s.messages))
	for i, msg := range s.messages {
		out[i] = msg.Payload()
	}
	return out
}
