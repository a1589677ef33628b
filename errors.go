package eventsourced

import (
	"errors"
	"fmt"
)

var (
	// ErrConcurrency is matched by every *ConcurrencyError.
	ErrConcurrency = errors.New("concurrency conflict")

	// ErrStreamNotFound is matched by every *StreamNotFoundError.
	ErrStreamNotFound = errors.New("stream not found")

	// ErrUnknownAggregateType is matched when no stream of the type exists at all.
	ErrUnknownAggregateType = errors.New("unknown aggregate type")

	// ErrUnknownAggregateID is matched when the type is known but the id is not.
	ErrUnknownAggregateID = errors.New("unknown aggregate id")

	// ErrEventNotRegistered is returned when a payload type tag cannot be resolved.
	ErrEventNotRegistered = errors.New("event not registered")
)

// ConcurrencyError is returned by an append whose expected version does not
// match the version the store currently holds for the stream. Callers recover
// by reloading the aggregate and retrying.
type ConcurrencyError struct {
	Stream   StreamKey
	Expected Version
	Actual   Version
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("concurrency conflict on stream %q: (expected version %s, actual %s)",
		e.Stream.String(), e.Expected, e.Actual)
}

func (e *ConcurrencyError) Is(target error) bool { return target == ErrConcurrency }

// StreamNotFoundError is returned by Load when no history exists.
type StreamNotFoundError struct {
	Stream StreamKey

	// TypeKnown is false when the store holds no stream of Stream.Type at all.
	TypeKnown bool
}

func (e *StreamNotFoundError) Error() string {
	if !e.TypeKnown {
		return fmt.Sprintf("stream not found: no streams exist for aggregate type %q", e.Stream.Type)
	}
	return fmt.Sprintf("stream not found: aggregate type %q has no stream with id %q", e.Stream.Type, e.Stream.ID)
}

func (e *StreamNotFoundError) Unwrap() []error {
	if !e.TypeKnown {
		return []error{ErrStreamNotFound, ErrUnknownAggregateType}
	}
	return []error{ErrStreamNotFound, ErrUnknownAggregateID}
}

// TypeError is returned when reconstitution is requested for a type that is
// not a registered event-sourced aggregate root.
type TypeError struct {
	Type   AggregateType
	Reason string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("aggregate type %q cannot be reconstituted: %s", e.Type, e.Reason)
}

// OperationError is returned when the committed version is initialized while
// uncommitted events are still buffered.
type OperationError struct {
	Stream      StreamKey
	Uncommitted int
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("cannot initialize committed version of %q: %d uncommitted events are buffered",
		e.Stream.String(), e.Uncommitted)
}

// RegisterAggregateError is returned when a child entity that already belongs
// to one aggregate root is handed an event of another.
type RegisterAggregateError struct {
	Registered StreamKey
	Requested  StreamKey
}

func (e *RegisterAggregateError) Error() string {
	return fmt.Sprintf("entity is registered with aggregate root %q, cannot register with %q",
		e.Registered.String(), e.Requested.String())
}

// AssertionError is the panic value raised on programmer errors such as
// comparing messages of different aggregates or building a malformed stream.
// It is never recovered inside this module.
type AssertionError struct {
	Message string
}

func (e *AssertionError) Error() string { return "assertion failed: " + e.Message }

func assert(cond bool, format string, args ...any) {
	if !cond {
		panic(&AssertionError{Message: fmt.Sprintf(format, args...)})
	}
}

// EventStoreError wraps failures of a storage backend.
type EventStoreError struct {
	Err error
}

func (e *EventStoreError) Error() string {
	return fmt.Sprintf("eventstore error: %v", e.Err)
}

func (e *EventStoreError) Unwrap() error {
	return e.Err
}

// WrapEventStoreError wraps err in an EventStoreError. Typed errors of this
// package are returned unchanged so callers can keep matching them directly.
func WrapEventStoreError(err error) error {
	if err == nil {
		return nil
	}
	var (
		conflict *ConcurrencyError
		notFound *StreamNotFoundError
		wrapped  *EventStoreError
	)
	if errors.As(err, &conflict) || errors.As(err, &notFound) || errors.As(err, &wrapped) {
		return err
	}
	return &EventStoreError{Err: err}
}
