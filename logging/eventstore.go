// Package logging decorates an EventStore with structured logging, either
// through log/slog or through logrus.
package logging

import (
	"context"
	"errors"
	"log/slog"
	"time"

	es "github.com/terraskye/eventsourced"
)

type slogStore struct {
	logger *slog.Logger
	next   es.EventStore
}

// WithStoreLogging wraps an EventStore with slog logging. Successful
// operations are logged at debug level, concurrency conflicts and missing
// streams at warn level, and other failures at error level.
func WithStoreLogging(logger *slog.Logger, next es.EventStore) es.EventStore {
	return &slogStore{logger: logger, next: next}
}

func (s *slogStore) with(ctx context.Context, key es.StreamKey) *slog.Logger {
	l := s.logger.With(
		"aggregate-type", key.Type.String(),
		"aggregate-id", key.ID,
	)
	if causation := es.CausationFromContext(ctx); causation != "" {
		l = l.With("causation", causation)
	}
	if correlation := es.CorrelationFromContext(ctx); correlation != "" {
		l = l.With("correlation", correlation)
	}
	return l
}

func (s *slogStore) done(ctx context.Context, l *slog.Logger, op string, start time.Time, err error) {
	l = l.With("operation", op, "duration", time.Since(start))
	switch {
	case err == nil:
		l.DebugContext(ctx, "event store operation succeeded")
	case errors.Is(err, es.ErrConcurrency), errors.Is(err, es.ErrStreamNotFound):
		l.WarnContext(ctx, "event store operation rejected", "error", err)
	default:
		l.ErrorContext(ctx, "event store operation failed", "error", err)
	}
}

func (s *slogStore) Append(ctx context.Context, msg es.Message) error {
	l := s.with(ctx, msg.StreamKey()).With(
		"sequence", msg.Sequence(),
		"event-type", msg.PayloadType(),
	)
	start := time.Now()
	err := s.next.Append(ctx, msg)
	s.done(ctx, l, "append", start, err)
	return err
}

func (s *slogStore) AppendStream(ctx context.Context, stream *es.Stream) error {
	l := s.with(ctx, stream.Key()).With(
		stream.Committed().SlogAttrWithKey("committed"),
		stream.Version().SlogAttr(),
		"events", stream.Len(),
	)
	start := time.Now()
	err := s.next.AppendStream(ctx, stream)
	s.done(ctx, l, "append-stream", start, err)
	return err
}

func (s *slogStore) Load(ctx context.Context, id string, typ es.AggregateType) (*es.Stream, error) {
	l := s.with(ctx, es.NewStreamKey(typ, id))
	start := time.Now()
	stream, err := s.next.Load(ctx, id, typ)
	if err == nil {
		l = l.With(stream.Version().SlogAttr(), "events", stream.Len())
	}
	s.done(ctx, l, "load", start, err)
	return stream, err
}

func (s *slogStore) Close() error {
	return s.next.Close()
}
