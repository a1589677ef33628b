package redis

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/redis/go-redis/v9"

	es "github.com/terraskye/eventsourced"
)

var _ es.EventStore = (*EventStore)(nil)

// EventStore is a Redis-backed implementation of es.EventStore.
//
// Keys:
//
//	<prefix>types                  set of aggregate types with a stream
//	<prefix>{<type>/<id>}:head     current version
//	<prefix>{<type>/<id>}:events   hash of sequence to JSON encoded es.StoredEvent
//
// Appends WATCH the head key, so a concurrent writer aborts the MULTI block
// of the slower one.
type EventStore struct {
	client     redis.UniversalClient
	keyPrefix  string
	serializer es.Serializer
	ownsClient bool
}

// NewEventStore connects to Redis with the given configuration.
func NewEventStore(cfg Config, opts ...ConfigOption) (*EventStore, error) {
	for _, opt := range opts {
		opt(&cfg)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, es.WrapEventStoreError(fmt.Errorf("connect %s: %w", cfg.Address, err))
	}

	s := NewEventStoreFromClient(client, cfg.KeyPrefix, cfg.Serializer)
	s.ownsClient = true
	return s, nil
}

// NewEventStoreFromClient creates a store from an existing client. The client
// is not closed by Close.
func NewEventStoreFromClient(client redis.UniversalClient, keyPrefix string, serializer es.Serializer) *EventStore {
	if serializer == nil {
		serializer = es.NewJSONSerializer(nil)
	}
	return &EventStore{
		client:     client,
		keyPrefix:  keyPrefix,
		serializer: serializer,
	}
}

func (s *EventStore) typesKey() string {
	return s.keyPrefix + "types"
}

func (s *EventStore) streamKey(key es.StreamKey) string {
	return s.keyPrefix + "{" + key.String() + "}"
}

func (s *EventStore) headKey(key es.StreamKey) string {
	return s.streamKey(key) + ":head"
}

func (s *EventStore) eventsKey(key es.StreamKey) string {
	return s.streamKey(key) + ":events"
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *EventStore) headVersion(ctx context.Context, c getter, key es.StreamKey) (es.Version, error) {
	v, err := c.Get(ctx, s.headKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return es.NoVersion, nil
	}
	if err != nil {
		return es.NoVersion, err
	}
	return es.Version(v), nil
}

func (s *EventStore) Append(ctx context.Context, msg es.Message) error {
	stream := es.NewStream(msg.AggregateID(), msg.AggregateType(),
		es.ExpectedVersionFor(msg.Sequence()), es.VersionOf(msg.Sequence()), []es.Message{msg})
	return s.AppendStream(ctx, stream)
}

func (s *EventStore) AppendStream(ctx context.Context, stream *es.Stream) error {
	key := stream.Key()

	values := make(map[string][]byte, stream.Len())
	for msg := range stream.All() {
		stored, err := es.NewStoredEvent(msg, s.serializer)
		if err != nil {
			return es.WrapEventStoreError(err)
		}
		data, err := json.Marshal(stored)
		if err != nil {
			return es.WrapEventStoreError(err)
		}
		values[strconv.FormatUint(msg.Sequence(), 10)] = data
	}

	txf := func(tx *redis.Tx) error {
		current, err := s.headVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if current != stream.Committed() {
			return &es.ConcurrencyError{Stream: key, Expected: stream.Committed(), Actual: current}
		}
		if stream.IsEmpty() {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for field, data := range values {
				pipe.HSetNX(ctx, s.eventsKey(key), field, data)
			}
			pipe.Set(ctx, s.headKey(key), int64(stream.Version()), 0)
			pipe.SAdd(ctx, s.typesKey(), key.Type.String())
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, s.headKey(key))
	if errors.Is(err, redis.TxFailedErr) {
		actual, rerr := s.headVersion(ctx, s.client, key)
		if rerr != nil {
			return es.WrapEventStoreError(rerr)
		}
		return &es.ConcurrencyError{Stream: key, Expected: stream.Committed(), Actual: actual}
	}
	if err != nil {
		return s.wrapError(err)
	}
	return nil
}

func (s *EventStore) Load(ctx context.Context, id string, typ es.AggregateType) (*es.Stream, error) {
	key := es.NewStreamKey(typ, id)

	version, err := s.headVersion(ctx, s.client, key)
	if err != nil {
		return nil, s.wrapError(err)
	}
	if version.IsNone() {
		known, err := s.client.SIsMember(ctx, s.typesKey(), typ.String()).Result()
		if err != nil {
			return nil, s.wrapError(err)
		}
		return nil, &es.StreamNotFoundError{Stream: key, TypeKnown: known}
	}

	raw, err := s.client.HGetAll(ctx, s.eventsKey(key)).Result()
	if err != nil {
		return nil, s.wrapError(err)
	}

	events := make([]es.StoredEvent, 0, len(raw))
	for field, data := range raw {
		var e es.StoredEvent
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, es.WrapEventStoreError(fmt.Errorf("decode event %s of %s: %w", field, key, err))
		}
		if es.VersionOf(e.Sequence) > version {
			continue
		}
		events = append(events, e)
	}
	slices.SortFunc(events, func(a, b es.StoredEvent) int { return cmp.Compare(a.Sequence, b.Sequence) })

	stream, err := es.StreamFromStoredEvents(key, version, events, s.serializer)
	if err != nil {
		return nil, es.WrapEventStoreError(err)
	}
	return stream, nil
}

// Close closes the client if the store created it.
func (s *EventStore) Close() error {
	if !s.ownsClient {
		return nil
	}
	return s.client.Close()
}

func (s *EventStore) wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return es.WrapEventStoreError(err)
}
