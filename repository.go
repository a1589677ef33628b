package eventsourced

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"
)

// Repository loads and saves aggregates of one type and follows the
// persistence protocol for them: the recorded stream is appended first and
// the aggregate is committed only once the append succeeded.
type Repository[A EventSourcedAggregateRoot] struct {
	store      EventStore
	typ        AggregateType
	blank      func() A
	newBackOff func() backoff.BackOff
	logger     *slog.Logger
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*repositoryOptions)

type repositoryOptions struct {
	// newBackOff creates the retry strategy for one Update call. Backoffs are
	// stateful, so every call gets its own. Defaults to no retries.
	newBackOff func() backoff.BackOff

	logger *slog.Logger
}

// WithRetryStrategy sets the strategy Update uses to retry after a
// concurrency conflict.
//
// Usage:
//
//	repo := NewRepository(store, "task", NewBlankTask, WithRetryStrategy(func() backoff.BackOff {
//	    return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
//	}))
func WithRetryStrategy(newBackOff func() backoff.BackOff) RepositoryOption {
	return func(o *repositoryOptions) { o.newBackOff = newBackOff }
}

// WithRepositoryLogger sets the logger used for retry diagnostics.
func WithRepositoryLogger(logger *slog.Logger) RepositoryOption {
	return func(o *repositoryOptions) { o.logger = logger }
}

// NewRepository returns a repository for aggregates of type typ. blank must
// return a new, empty aggregate ready to be replayed into.
func NewRepository[A EventSourcedAggregateRoot](store EventStore, typ AggregateType, blank func() A, opts ...RepositoryOption) *Repository[A] {
	cfg := &repositoryOptions{
		newBackOff: func() backoff.BackOff { return &backoff.StopBackOff{} },
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(cfg)
	}
	return &Repository[A]{
		store:      store,
		typ:        typ,
		blank:      blank,
		newBackOff: cfg.newBackOff,
		logger:     cfg.logger.With(slog.String("aggregate_type", typ.String())),
	}
}

// Load replays the history of aggregate id into a blank instance.
func (r *Repository[A]) Load(ctx context.Context, id string) (A, error) {
	var zero A
	stream, err := r.store.Load(ctx, id, r.typ)
	if err != nil {
		return zero, fmt.Errorf("load %s: %w", NewStreamKey(r.typ, id), err)
	}
	return Reconstitute(r.blank, stream)
}

// Save appends the recorded events of a and commits them on success. An
// aggregate without recorded events is left untouched.
func (r *Repository[A]) Save(ctx context.Context, a A) error {
	stream := RecordedEvents(a)
	if stream.IsEmpty() {
		return nil
	}
	if err := r.store.AppendStream(ctx, stream); err != nil {
		return fmt.Errorf("save %s: %w", stream.Key(), err)
	}
	a.Commit()
	return nil
}

// Update loads aggregate id, lets fn mutate it and saves the result. When the
// save loses a race against another writer the whole cycle is repeated
// according to the retry strategy. Errors other than concurrency conflicts
// are returned immediately.
func (r *Repository[A]) Update(ctx context.Context, id string, fn func(A) error) (A, error) {
	attempt := 0
	return backoff.RetryWithData(func() (A, error) {
		var zero A
		attempt++

		a, err := r.Load(ctx, id)
		if err != nil {
			return zero, backoff.Permanent(err)
		}
		if err := fn(a); err != nil {
			return zero, backoff.Permanent(fmt.Errorf("update %s: %w", NewStreamKey(r.typ, id), err))
		}
		if err := r.Save(ctx, a); err != nil {
			if errors.Is(err, ErrConcurrency) {
				r.logger.WarnContext(ctx, "concurrency conflict, reloading",
					slog.String("aggregate_id", id),
					slog.Int("attempt", attempt),
					slog.Any("error", err),
				)
				return zero, err
			}
			return zero, backoff.Permanent(err)
		}
		return a, nil
	}, backoff.WithContext(r.newBackOff(), ctx))
}
