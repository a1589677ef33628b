package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	es "github.com/terraskye/eventsourced"
)

var _ es.EventStore = (*EventStore)(nil)

// EventStore is a SQLite-backed implementation of es.EventStore.
//
// The heads table holds one row per stream with its current version. Every
// append moves the head with a compare-and-set inside the same transaction
// that inserts the events.
type EventStore struct {
	db         *sql.DB
	serializer es.Serializer
	ownsDB     bool
}

// NewEventStore creates a new SQLite event store with the given configuration.
func NewEventStore(cfg Config, opts ...Option) (*EventStore, error) {
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	s := newEventStore(db, cfg.Serializer)
	s.ownsDB = true

	if cfg.AutoMigrate {
		if err := s.migrate(); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return s, nil
}

// NewEventStoreFromDB creates an event store from an existing database
// connection. The connection is not closed by Close.
func NewEventStoreFromDB(db *sql.DB, serializer es.Serializer) (*EventStore, error) {
	s := newEventStore(db, serializer)
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func newEventStore(db *sql.DB, serializer es.Serializer) *EventStore {
	if serializer == nil {
		serializer = es.NewJSONSerializer(nil)
	}
	return &EventStore{db: db, serializer: serializer}
}

// migrate creates the tables if they don't exist.
func (s *EventStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS stream_heads (
			aggregate_type TEXT NOT NULL,
			aggregate_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			PRIMARY KEY (aggregate_type, aggregate_id)
		);
		CREATE TABLE IF NOT EXISTS events (
			aggregate_type TEXT NOT NULL,
			aggregate_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			message_id TEXT NOT NULL,
			payload_type TEXT NOT NULL,
			payload BLOB NOT NULL,
			metadata BLOB NOT NULL,
			occurred_at INTEGER NOT NULL,
			PRIMARY KEY (aggregate_type, aggregate_id, sequence)
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return errors.Join(ErrMigrationFailed, err)
	}
	return nil
}

func (s *EventStore) Append(ctx context.Context, msg es.Message) error {
	stream := es.NewStream(msg.AggregateID(), msg.AggregateType(),
		es.ExpectedVersionFor(msg.Sequence()), es.VersionOf(msg.Sequence()), []es.Message{msg})
	return s.AppendStream(ctx, stream)
}

func (s *EventStore) AppendStream(ctx context.Context, stream *es.Stream) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	events := make([]es.StoredEvent, 0, stream.Len())
	for msg := range stream.All() {
		e, err := es.NewStoredEvent(msg, s.serializer)
		if err != nil {
			return es.WrapEventStoreError(err)
		}
		events = append(events, e)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return es.WrapEventStoreError(err)
	}
	defer tx.Rollback() //nolint:errcheck

	key := stream.Key()
	if stream.IsEmpty() {
		current, err := headVersion(ctx, tx, key)
		if err != nil {
			return es.WrapEventStoreError(err)
		}
		if current != stream.Committed() {
			return &es.ConcurrencyError{Stream: key, Expected: stream.Committed(), Actual: current}
		}
		return nil
	}

	moved, err := moveHead(ctx, tx, key, stream.Committed(), stream.Version())
	if err != nil {
		return es.WrapEventStoreError(err)
	}
	if !moved {
		current, err := headVersion(ctx, tx, key)
		if err != nil {
			return es.WrapEventStoreError(err)
		}
		return &es.ConcurrencyError{Stream: key, Expected: stream.Committed(), Actual: current}
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO events
		 (aggregate_type, aggregate_id, sequence, message_id, payload_type, payload, metadata, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return es.WrapEventStoreError(err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range events {
		_, err := stmt.ExecContext(ctx,
			string(e.AggregateType), e.AggregateID, int64(e.Sequence), e.MessageID.String(),
			e.PayloadType, e.Payload, e.Metadata, e.Timestamp.UnixNano(),
		)
		if err != nil {
			return es.WrapEventStoreError(fmt.Errorf("insert event %d of %s: %w", e.Sequence, key, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return es.WrapEventStoreError(err)
	}
	return nil
}

// moveHead sets the head of key from expected to next and reports whether
// the head was at expected.
func moveHead(ctx context.Context, tx *sql.Tx, key es.StreamKey, expected, next es.Version) (bool, error) {
	var (
		res sql.Result
		err error
	)
	if expected.IsNone() {
		res, err = tx.ExecContext(ctx,
			`INSERT INTO stream_heads (aggregate_type, aggregate_id, version) VALUES (?, ?, ?)
			 ON CONFLICT (aggregate_type, aggregate_id) DO NOTHING`,
			string(key.Type), key.ID, int64(next),
		)
	} else {
		res, err = tx.ExecContext(ctx,
			`UPDATE stream_heads SET version = ? WHERE aggregate_type = ? AND aggregate_id = ? AND version = ?`,
			int64(next), string(key.Type), key.ID, int64(expected),
		)
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func headVersion(ctx context.Context, q queryer, key es.StreamKey) (es.Version, error) {
	var version int64
	err := q.QueryRowContext(ctx,
		"SELECT version FROM stream_heads WHERE aggregate_type = ? AND aggregate_id = ?",
		string(key.Type), key.ID,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return es.NoVersion, nil
	}
	if err != nil {
		return es.NoVersion, err
	}
	return es.Version(version), nil
}

func (s *EventStore) typeKnown(ctx context.Context, typ es.AggregateType) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM stream_heads WHERE aggregate_type = ? LIMIT 1",
		string(typ),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *EventStore) Load(ctx context.Context, id string, typ es.AggregateType) (*es.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := es.NewStreamKey(typ, id)
	version, err := headVersion(ctx, s.db, key)
	if err != nil {
		return nil, es.WrapEventStoreError(err)
	}
	if version.IsNone() {
		known, err := s.typeKnown(ctx, typ)
		if err != nil {
			return nil, es.WrapEventStoreError(err)
		}
		return nil, &es.StreamNotFoundError{Stream: key, TypeKnown: known}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT sequence, message_id, payload_type, payload, metadata, occurred_at
		 FROM events WHERE aggregate_type = ? AND aggregate_id = ? AND sequence <= ?
		 ORDER BY sequence`,
		string(typ), id, int64(version),
	)
	if err != nil {
		return nil, es.WrapEventStoreError(err)
	}
	defer func() { _ = rows.Close() }()

	var events []es.StoredEvent
	for rows.Next() {
		var (
			seq        int64
			messageID  string
			occurredAt int64
			e          = es.StoredEvent{AggregateID: id, AggregateType: typ}
		)
		if err := rows.Scan(&seq, &messageID, &e.PayloadType, &e.Payload, &e.Metadata, &occurredAt); err != nil {
			return nil, es.WrapEventStoreError(err)
		}
		if e.MessageID, err = uuid.Parse(messageID); err != nil {
			return nil, es.WrapEventStoreError(fmt.Errorf("event %d of %s: %w", seq, key, err))
		}
		e.Sequence = uint64(seq)
		e.Timestamp = time.Unix(0, occurredAt).UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, es.WrapEventStoreError(err)
	}

	stream, err := es.StreamFromStoredEvents(key, version, events, s.serializer)
	if err != nil {
		return nil, es.WrapEventStoreError(err)
	}
	return stream, nil
}

// Close closes the database if the store opened it.
func (s *EventStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}
