package eventsourced

import (
	"context"
)

// EventStore defines the contract for an append-only event store used in
// event-sourced systems. An EventStore persists the events of each
// aggregate instance in sequence order and loads them back as a stream.
//
// Implementations must guarantee:
//   - Appends are conditional writes keyed by the expected version: checking
//     the version, writing the events and advancing the version happen
//     atomically, so at most one writer succeeds per version number.
//   - A message whose sequence number is already stored is skipped rather
//     than written twice, which tolerates re-delivery.
//   - Load returns the full history in ascending sequence order.
type EventStore interface {
	// Append persists a single message. The store must currently be at the
	// version preceding the message's sequence number (NoVersion for
	// sequence 0); otherwise a *ConcurrencyError is returned.
	//
	// On success the stream version becomes the message's sequence number.
	Append(ctx context.Context, msg Message) error

	// AppendStream persists every message of the stream. The store must
	// currently be at stream.Committed(); otherwise a *ConcurrencyError is
	// returned.
	//
	// On success the stream version becomes stream.Version().
	AppendStream(ctx context.Context, stream *Stream) error

	// Load returns the complete history of the aggregate as a fully committed
	// stream. A *StreamNotFoundError is returned when the store has no stream
	// of the type at all, or none with the id.
	Load(ctx context.Context, id string, typ AggregateType) (*Stream, error)

	// Close releases any resources held by the EventStore, such as network
	// connections or file handles. After Close is called, the EventStore should
	// not be used.
	Close() error
}
