package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	es "github.com/terraskye/eventsourced"
)

var _ es.EventStore = (*EventStore)(nil)

// EventStore is a BadgerDB-backed implementation of es.EventStore.
//
// Keys, with parts separated by NUL and <seq> as 8 byte big-endian integer:
//
//	prefix type <type>                  marker for every type with a stream
//	prefix head <type> <id>             current version, 8 byte big-endian
//	prefix event <type> <id> <seq>      JSON encoded es.StoredEvent
//
// Appends read the head inside an update transaction. Badger's optimistic
// conflict detection fails the commit of the slower of two racing writers.
type EventStore struct {
	db         *badger.DB
	keyPrefix  string
	serializer es.Serializer
	ownsDB     bool

	gcStop chan struct{}
	gcWg   sync.WaitGroup
}

// NewEventStore creates a new BadgerDB event store with the given configuration.
func NewEventStore(cfg Config, opts ...Option) (*EventStore, error) {
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	s := NewEventStoreFromDB(db, cfg.KeyPrefix, cfg.Serializer)
	s.ownsDB = true

	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.startGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}

	return s, nil
}

// NewEventStoreFromDB creates an event store from an existing BadgerDB
// database. The database is not closed by Close.
func NewEventStoreFromDB(db *badger.DB, keyPrefix string, serializer es.Serializer) *EventStore {
	if serializer == nil {
		serializer = es.NewJSONSerializer(nil)
	}
	return &EventStore{
		db:         db,
		keyPrefix:  keyPrefix,
		serializer: serializer,
		gcStop:     make(chan struct{}),
	}
}

func (s *EventStore) startGC(interval time.Duration, discardRatio float64) {
	s.gcWg.Add(1)
	go func() {
		defer s.gcWg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.gcStop:
				return
			case <-ticker.C:
				// Run until there is nothing left to rewrite.
				for s.db.RunValueLogGC(discardRatio) == nil {
				}
			}
		}
	}()
}

func (s *EventStore) typeKey(typ es.AggregateType) []byte {
	return []byte(s.keyPrefix + "type\x00" + typ.String())
}

func (s *EventStore) headKey(key es.StreamKey) []byte {
	return []byte(s.keyPrefix + "head\x00" + key.Type.String() + "\x00" + key.ID)
}

func (s *EventStore) eventPrefix(key es.StreamKey) []byte {
	return []byte(s.keyPrefix + "event\x00" + key.Type.String() + "\x00" + key.ID + "\x00")
}

func (s *EventStore) eventKey(key es.StreamKey, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(s.eventPrefix(key), seq)
}

func encodeVersion(v es.Version) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(v))
}

func readHead(txn *badger.Txn, k []byte) (es.Version, error) {
	item, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return es.NoVersion, nil
	}
	if err != nil {
		return es.NoVersion, err
	}

	version := es.NoVersion
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("malformed head %q", k)
		}
		version = es.Version(binary.BigEndian.Uint64(val))
		return nil
	})
	return version, err
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

	key := stream.Key()
	values := make(map[uint64][]byte, stream.Len())
	for msg := range stream.All() {
		stored, err := es.NewStoredEvent(msg, s.serializer)
		if err != nil {
			return es.WrapEventStoreError(err)
		}
		data, err := json.Marshal(stored)
		if err != nil {
			return es.WrapEventStoreError(err)
		}
		values[msg.Sequence()] = data
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		current, err := readHead(txn, s.headKey(key))
		if err != nil {
			return err
		}
		if current != stream.Committed() {
			return &es.ConcurrencyError{Stream: key, Expected: stream.Committed(), Actual: current}
		}
		if stream.IsEmpty() {
			return nil
		}

		for seq, data := range values {
			k := s.eventKey(key, seq)
			if _, err := txn.Get(k); err == nil {
				continue
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := txn.Set(k, data); err != nil {
				return err
			}
		}
		if err := txn.Set(s.typeKey(key.Type), nil); err != nil {
			return err
		}
		return txn.Set(s.headKey(key), encodeVersion(stream.Version()))
	})

	if errors.Is(err, badger.ErrConflict) {
		return s.conflict(key, stream.Committed())
	}
	return es.WrapEventStoreError(err)
}

// conflict builds the error for a commit that lost against a concurrent
// writer, reporting the version that writer left behind.
func (s *EventStore) conflict(key es.StreamKey, expected es.Version) error {
	actual := es.NoVersion
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		actual, err = readHead(txn, s.headKey(key))
		return err
	})
	if err != nil {
		return es.WrapEventStoreError(err)
	}
	return &es.ConcurrencyError{Stream: key, Expected: expected, Actual: actual}
}

func (s *EventStore) Load(ctx context.Context, id string, typ es.AggregateType) (*es.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := es.NewStreamKey(typ, id)
	var (
		version es.Version
		events  []es.StoredEvent
	)

	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		version, err = readHead(txn, s.headKey(key))
		if err != nil {
			return err
		}
		if version.IsNone() {
			_, err := txn.Get(s.typeKey(typ))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return &es.StreamNotFoundError{Stream: key}
			}
			if err != nil {
				return err
			}
			return &es.StreamNotFoundError{Stream: key, TypeKnown: true}
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = s.eventPrefix(key)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var e es.StoredEvent
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("decode %q: %w", it.Item().Key(), err)
			}
			if es.VersionOf(e.Sequence) > version {
				break
			}
			events = append(events, e)
		}
		return nil
	})
	if err != nil {
		return nil, es.WrapEventStoreError(err)
	}

	stream, err := es.StreamFromStoredEvents(key, version, events, s.serializer)
	if err != nil {
		return nil, es.WrapEventStoreError(err)
	}
	return stream, nil
}

// Close stops GC and closes the database if the store opened it.
func (s *EventStore) Close() error {
	select {
	case <-s.gcStop:
		return nil
	default:
		close(s.gcStop)
	}
	s.gcWg.Wait()

	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}
