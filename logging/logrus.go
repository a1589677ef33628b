package logging

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	es "github.com/terraskye/eventsourced"
)

type logrusStore struct {
	logger *logrus.Entry
	next   es.EventStore
}

// WithLogrusStoreLogging wraps an EventStore with logrus logging. Appends are
// logged at info level before they are handed to the store, failures at
// error level.
func WithLogrusStoreLogging(logger *logrus.Entry, next es.EventStore) es.EventStore {
	return &logrusStore{logger: logger, next: next}
}

func (s *logrusStore) entry(ctx context.Context, key es.StreamKey) *logrus.Entry {
	e := s.logger.WithContext(ctx).WithFields(logrus.Fields{
		"aggregate_type": key.Type.String(),
		"aggregate_id":   key.ID,
	})
	if correlation := es.CorrelationFromContext(ctx); correlation != "" {
		e = e.WithField("correlation", correlation)
	}
	return e
}

func (s *logrusStore) failed(e *logrus.Entry, op string, err error) {
	if errors.Is(err, es.ErrConcurrency) {
		e.WithError(err).Warnf("%s rejected: concurrent modification", op)
		return
	}
	e.WithError(err).Errorf("%s failed", op)
}

func (s *logrusStore) Append(ctx context.Context, msg es.Message) error {
	e := s.entry(ctx, msg.StreamKey())
	e.Infof("Append: %s (sequence: %d)", msg.PayloadType(), msg.Sequence())

	err := s.next.Append(ctx, msg)
	if err != nil {
		s.failed(e, "Append", err)
	}
	return err
}

func (s *logrusStore) AppendStream(ctx context.Context, stream *es.Stream) error {
	e := s.entry(ctx, stream.Key())
	e.Infof("AppendStream: %d events (version %s -> %s)", stream.Len(), stream.Committed(), stream.Version())

	err := s.next.AppendStream(ctx, stream)
	if err != nil {
		s.failed(e, "AppendStream", err)
	}
	return err
}

func (s *logrusStore) Load(ctx context.Context, id string, typ es.AggregateType) (*es.Stream, error) {
	e := s.entry(ctx, es.NewStreamKey(typ, id))

	stream, err := s.next.Load(ctx, id, typ)
	if err != nil {
		if errors.Is(err, es.ErrStreamNotFound) {
			e.WithError(err).Debug("Load: stream not found")
		} else {
			s.failed(e, "Load", err)
		}
		return nil, err
	}
	e.Debugf("Load: %d events (version %s)", stream.Len(), stream.Version())
	return stream, nil
}

func (s *logrusStore) Close() error {
	return s.next.Close()
}
