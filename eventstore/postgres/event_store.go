// Package postgres provides a PostgreSQL-backed EventStore built on pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	es "github.com/terraskye/eventsourced"
)

var _ es.EventStore = (*EventStore)(nil)

// EventStore is a PostgreSQL-backed implementation of es.EventStore.
//
// Like the SQLite store it keeps one head row per stream and moves it with a
// compare-and-set in the transaction inserting the events. Row locks taken by
// the UPDATE make the second of two racing writers see the new version.
type EventStore struct {
	pool       *pgxpool.Pool
	schema     string
	serializer es.Serializer
	ownsPool   bool
}

// Option configures an EventStore.
type Option func(*EventStore)

// WithSerializer sets the serializer for payloads and metadata.
func WithSerializer(s es.Serializer) Option {
	return func(e *EventStore) { e.serializer = s }
}

// NewEventStore creates a new PostgreSQL event store on pool. The pool is not
// closed by Close.
func NewEventStore(pool *pgxpool.Pool, schema string, opts ...Option) *EventStore {
	if schema == "" {
		schema = "public"
	}
	s := &EventStore{
		pool:       pool,
		schema:     schema,
		serializer: es.NewJSONSerializer(nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to dsn, creates the tables if needed and returns a store that
// owns its pool.
func Open(ctx context.Context, dsn, schema string, opts ...Option) (*EventStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, es.WrapEventStoreError(fmt.Errorf("connect: %w", err))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, es.WrapEventStoreError(fmt.Errorf("connect: %w", err))
	}

	s := NewEventStore(pool, schema, opts...)
	s.ownsPool = true
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *EventStore) headsTable() string {
	return fmt.Sprintf("%s.stream_heads", pgx.Identifier{s.schema}.Sanitize())
}

func (s *EventStore) eventsTable() string {
	return fmt.Sprintf("%s.events", pgx.Identifier{s.schema}.Sanitize())
}

// Migrate creates the schema and tables if they don't exist.
func (s *EventStore) Migrate(ctx context.Context) error {
	// Timestamps are stored as unix nanoseconds, timestamptz would drop the
	// sub-microsecond part.
	schema := fmt.Sprintf(`
		CREATE SCHEMA IF NOT EXISTS %[1]s;
		CREATE TABLE IF NOT EXISTS %[2]s (
			aggregate_type TEXT NOT NULL,
			aggregate_id TEXT NOT NULL,
			version BIGINT NOT NULL,
			PRIMARY KEY (aggregate_type, aggregate_id)
		);
		CREATE TABLE IF NOT EXISTS %[3]s (
			aggregate_type TEXT NOT NULL,
			aggregate_id TEXT NOT NULL,
			sequence BIGINT NOT NULL,
			message_id TEXT NOT NULL,
			payload_type TEXT NOT NULL,
			payload BYTEA NOT NULL,
			metadata BYTEA NOT NULL,
			occurred_at BIGINT NOT NULL,
			PRIMARY KEY (aggregate_type, aggregate_id, sequence)
		);
	`, pgx.Identifier{s.schema}.Sanitize(), s.headsTable(), s.eventsTable())

	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return es.WrapEventStoreError(fmt.Errorf("migrate: %w", err))
	}
	return nil
}

func (s *EventStore) Append(ctx context.Context, msg es.Message) error {
	stream := es.NewStream(msg.AggregateID(), msg.AggregateType(),
		es.ExpectedVersionFor(msg.Sequence()), es.VersionOf(msg.Sequence()), []es.Message{msg})
	return s.AppendStream(ctx, stream)
}

func (s *EventStore) AppendStream(ctx context.Context, stream *es.Stream) error {
	events := make([]es.StoredEvent, 0, stream.Len())
	for msg := range stream.All() {
		e, err := es.NewStoredEvent(msg, s.serializer)
		if err != nil {
			return es.WrapEventStoreError(err)
		}
		events = append(events, e)
	}

	key := stream.Key()
	if stream.IsEmpty() {
		current, err := s.headVersion(ctx, s.pool, key)
		if err != nil {
			return s.wrapError(err)
		}
		if current != stream.Committed() {
			return &es.ConcurrencyError{Stream: key, Expected: stream.Committed(), Actual: current}
		}
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return s.wrapError(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	moved, err := s.moveHead(ctx, tx, key, stream.Committed(), stream.Version())
	if err != nil {
		return s.wrapError(err)
	}
	if !moved {
		current, err := s.headVersion(ctx, tx, key)
		if err != nil {
			return s.wrapError(err)
		}
		return &es.ConcurrencyError{Stream: key, Expected: stream.Committed(), Actual: current}
	}

	insert := fmt.Sprintf(`
		INSERT INTO %s (aggregate_type, aggregate_id, sequence, message_id, payload_type, payload, metadata, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING
	`, s.eventsTable())

	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(insert,
			string(e.AggregateType), e.AggregateID, int64(e.Sequence), e.MessageID.String(),
			e.PayloadType, e.Payload, e.Metadata, e.Timestamp.UnixNano(),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return s.wrapError(fmt.Errorf("insert events of %s: %w", key, err))
	}

	if err := tx.Commit(ctx); err != nil {
		return s.wrapError(err)
	}
	return nil
}

func (s *EventStore) moveHead(ctx context.Context, tx pgx.Tx, key es.StreamKey, expected, next es.Version) (bool, error) {
	var query string
	args := []any{string(key.Type), key.ID, int64(next)}
	if expected.IsNone() {
		query = fmt.Sprintf(`
			INSERT INTO %s (aggregate_type, aggregate_id, version) VALUES ($1, $2, $3)
			ON CONFLICT (aggregate_type, aggregate_id) DO NOTHING
		`, s.headsTable())
	} else {
		query = fmt.Sprintf(`
			UPDATE %s SET version = $3 WHERE aggregate_type = $1 AND aggregate_id = $2 AND version = $4
		`, s.headsTable())
		args = append(args, int64(expected))
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *EventStore) headVersion(ctx context.Context, q querier, key es.StreamKey) (es.Version, error) {
	var version int64
	err := q.QueryRow(ctx,
		fmt.Sprintf("SELECT version FROM %s WHERE aggregate_type = $1 AND aggregate_id = $2", s.headsTable()),
		string(key.Type), key.ID,
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return es.NoVersion, nil
	}
	if err != nil {
		return es.NoVersion, err
	}
	return es.Version(version), nil
}

func (s *EventStore) typeKnown(ctx context.Context, typ es.AggregateType) (bool, error) {
	var known bool
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE aggregate_type = $1)", s.headsTable()),
		string(typ),
	).Scan(&known)
	return known, err
}

func (s *EventStore) Load(ctx context.Context, id string, typ es.AggregateType) (*es.Stream, error) {
	key := es.NewStreamKey(typ, id)
	version, err := s.headVersion(ctx, s.pool, key)
	if err != nil {
		return nil, s.wrapError(err)
	}
	if version.IsNone() {
		known, err := s.typeKnown(ctx, typ)
		if err != nil {
			return nil, s.wrapError(err)
		}
		return nil, &es.StreamNotFoundError{Stream: key, TypeKnown: known}
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT sequence, message_id, payload_type, payload, metadata, occurred_at
		FROM %s
		WHERE aggregate_type = $1 AND aggregate_id = $2 AND sequence <= $3
		ORDER BY sequence ASC
	`, s.eventsTable()), string(typ), id, int64(version))
	if err != nil {
		return nil, s.wrapError(err)
	}
	defer rows.Close()

	var events []es.StoredEvent
	for rows.Next() {
		var (
			seq        int64
			messageID  string
			occurredAt int64
			e          = es.StoredEvent{AggregateID: id, AggregateType: typ}
		)
		if err := rows.Scan(&seq, &messageID, &e.PayloadType, &e.Payload, &e.Metadata, &occurredAt); err != nil {
			return nil, s.wrapError(err)
		}
		if e.MessageID, err = uuid.Parse(messageID); err != nil {
			return nil, es.WrapEventStoreError(fmt.Errorf("event %d of %s: %w", seq, key, err))
		}
		e.Sequence = uint64(seq)
		e.Timestamp = time.Unix(0, occurredAt).UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrapError(err)
	}

	stream, err := es.StreamFromStoredEvents(key, version, events, s.serializer)
	if err != nil {
		return nil, es.WrapEventStoreError(err)
	}
	return stream, nil
}

// Close closes the pool if the store opened it.
func (s *EventStore) Close() error {
	if s.ownsPool {
		s.pool.Close()
	}
	return nil
}

// wrapError keeps context errors matchable and wraps the rest as store
// failures.
func (s *EventStore) wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return es.WrapEventStoreError(err)
}
