// Package storetest is a conformance suite for EventStore implementations.
// Every backend runs it from its own tests:
//
//	func TestConformance(t *testing.T) {
//	    storetest.Run(t, func(t *testing.T) es.EventStore { return memory.NewMemoryStore() })
//	}
package storetest

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	es "github.com/terraskye/eventsourced"
)

// AggregateType is used for every stream written by the suite.
const AggregateType es.AggregateType = "storetest.note"

// Noted is the event the suite appends.
type Noted struct {
	Text  string `json:"text"`
	Count int    `json:"count"`
}

func (Noted) EventType() string { return "storetest.Noted" }

// Tagged is a second event type, used to resend a stored sequence with a
// different payload.
type Tagged struct {
	Tag string `json:"tag"`
}

func (Tagged) EventType() string { return "storetest.Tagged" }

func init() {
	es.RegisterEventByType(func() es.Event { return Noted{} })
	es.RegisterEventByType(func() es.Event { return Tagged{} })
}

// Factory opens a fresh, empty store. Stores are closed by the suite.
type Factory func(t *testing.T) es.EventStore

// Run executes the whole suite against stores created by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, store es.EventStore)
	}{
		{"AppendFirstMessage", testAppendFirstMessage},
		{"AppendRequiresPredecessor", testAppendRequiresPredecessor},
		{"AppendRejectsStaleSequence", testAppendRejectsStaleSequence},
		{"AppendStream", testAppendStream},
		{"AppendStreamConflict", testAppendStreamConflict},
		{"AppendEmptyStream", testAppendEmptyStream},
		{"AppendStreamRedelivery", testAppendStreamRedelivery},
		{"AppendStreamRedeliveryWithOtherPayload", testAppendStreamRedeliveryWithOtherPayload},
		{"AppendStreamRejectsGap", testAppendStreamRejectsGap},
		{"LostWriteIsDetected", testLostWriteIsDetected},
		{"LoadRoundTrip", testLoadRoundTrip},
		{"LoadUnknownType", testLoadUnknownType},
		{"LoadUnknownID", testLoadUnknownID},
		{"StreamsAreIsolated", testStreamsAreIsolated},
		{"ConcurrentWriters", testConcurrentWriters},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			t.Cleanup(func() { _ = store.Close() })
			tt.fn(t, store)
		})
	}
}

// NewID returns a stream id unique to this run so that shared backends such
// as Postgres or Redis do not see leftovers of earlier runs.
func NewID() string {
	return "note-" + uuid.NewString()
}

// Message builds the message with sequence seq of stream id.
func Message(id string, seq uint64, text string) es.Message {
	return es.NewMessage(id, AggregateType, seq, Noted{Text: text, Count: int(seq)},
		es.WithTimestamp(time.Date(2024, 1, 1, 12, 0, int(seq), 0, time.UTC)),
		es.WithMetadata("source", "storetest"),
	)
}

// Messages builds messages first..last of stream id.
func Messages(id string, first, last uint64) []es.Message {
	out := make([]es.Message, 0, last-first+1)
	for seq := first; seq <= last; seq++ {
		out = append(out, Message(id, seq, fmt.Sprintf("note %d", seq)))
	}
	return out
}

func requireConflict(t *testing.T, err error, expected, actual es.Version) {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, es.ErrConcurrency)

	var conflict *es.ConcurrencyError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, expected, conflict.Expected, "expected version")
	assert.Equal(t, actual, conflict.Actual, "actual version")
}

func requireVersion(t *testing.T, store es.EventStore, id string, want es.Version) *es.Stream {
	t.Helper()
	stream, err := store.Load(t.Context(), id, AggregateType)
	require.NoError(t, err)
	require.Equal(t, want, stream.Version())
	require.Equal(t, want, stream.Committed())
	return stream
}

func testAppendFirstMessage(t *testing.T, store es.EventStore) {
	id := NewID()
	require.NoError(t, store.Append(t.Context(), Message(id, 0, "first")))
	requireVersion(t, store, id, 0)
}

func testAppendRequiresPredecessor(t *testing.T, store es.EventStore) {
	id := NewID()
	err := store.Append(t.Context(), Message(id, 1, "gap"))
	requireConflict(t, err, 0, es.NoVersion)
}

func testAppendRejectsStaleSequence(t *testing.T, store es.EventStore) {
	id := NewID()
	for _, msg := range Messages(id, 0, 2) {
		require.NoError(t, store.Append(t.Context(), msg))
	}

	err := store.Append(t.Context(), Message(id, 1, "stale"))
	requireConflict(t, err, 0, 2)
	requireVersion(t, store, id, 2)
}

func testAppendStream(t *testing.T, store es.EventStore) {
	id := NewID()
	stream := es.NewStream(id, AggregateType, es.NoVersion, 2, Messages(id, 0, 2))
	require.NoError(t, store.AppendStream(t.Context(), stream))

	next := es.NewStream(id, AggregateType, 2, 4, Messages(id, 3, 4))
	require.NoError(t, store.AppendStream(t.Context(), next))

	loaded := requireVersion(t, store, id, 4)
	require.Equal(t, 5, loaded.Len())
}

func testAppendStreamConflict(t *testing.T, store es.EventStore) {
	id := NewID()
	require.NoError(t, store.AppendStream(t.Context(),
		es.NewStream(id, AggregateType, es.NoVersion, 1, Messages(id, 0, 1))))

	stale := es.NewStream(id, AggregateType, es.NoVersion, 0, Messages(id, 0, 0))
	requireConflict(t, store.AppendStream(t.Context(), stale), es.NoVersion, 1)

	ahead := es.NewStream(id, AggregateType, 3, 4, Messages(id, 4, 4))
	requireConflict(t, store.AppendStream(t.Context(), ahead), 3, 1)

	requireVersion(t, store, id, 1)
}

func testAppendEmptyStream(t *testing.T, store es.EventStore) {
	id := NewID()
	empty := es.NewStream(id, AggregateType, es.NoVersion, es.NoVersion, nil)
	require.NoError(t, store.AppendStream(t.Context(), empty))

	_, err := store.Load(t.Context(), id, AggregateType)
	require.ErrorIs(t, err, es.ErrStreamNotFound)
}

// Stored sequences resent in front of new ones are skipped; the stored
// events stay as they were.
func testAppendStreamRedelivery(t *testing.T, store es.EventStore) {
	id := NewID()
	require.NoError(t, store.AppendStream(t.Context(),
		es.NewStream(id, AggregateType, es.NoVersion, 2, Messages(id, 0, 2))))

	resent := make([]es.Message, 0, 5)
	for seq := range uint64(5) {
		resent = append(resent, Message(id, seq, fmt.Sprintf("resent %d", seq)))
	}
	require.NoError(t, store.AppendStream(t.Context(),
		es.NewStream(id, AggregateType, 2, 4, resent)))

	loaded := requireVersion(t, store, id, 4)
	payloads := loaded.Payloads()
	require.Len(t, payloads, 5)
	assert.Equal(t, "note 0", payloads[0].(Noted).Text)
	assert.Equal(t, "note 2", payloads[2].(Noted).Text)
	assert.Equal(t, "resent 3", payloads[3].(Noted).Text)
	assert.Equal(t, "resent 4", payloads[4].(Noted).Text)

	// The whole history again, without new events.
	require.NoError(t, store.AppendStream(t.Context(),
		es.NewStream(id, AggregateType, 4, 4, Messages(id, 0, 4))))
	requireVersion(t, store, id, 4)
}

func testAppendStreamRedeliveryWithOtherPayload(t *testing.T, store es.EventStore) {
	id := NewID()
	require.NoError(t, store.Append(t.Context(), Message(id, 0, "created")))

	other := es.NewMessage(id, AggregateType, 0, Tagged{Tag: "other"})
	batch := es.NewStream(id, AggregateType, 0, 1, []es.Message{other, Message(id, 1, "second")})
	require.NoError(t, store.AppendStream(t.Context(), batch))

	loaded := requireVersion(t, store, id, 1)
	payloads := loaded.Payloads()
	require.Len(t, payloads, 2)
	assert.Equal(t, Noted{Text: "created", Count: 0}, payloads[0])
	assert.Equal(t, "second", payloads[1].(Noted).Text)
}

// A batch that skips sequences after the committed version cannot be built,
// so it never reaches the store.
func testAppendStreamRejectsGap(t *testing.T, store es.EventStore) {
	id := NewID()
	require.NoError(t, store.Append(t.Context(), Message(id, 0, "created")))

	assert.Panics(t, func() {
		_ = store.AppendStream(t.Context(), es.NewStream(id, AggregateType, 0, 5, Messages(id, 3, 5)))
	})
	requireVersion(t, store, id, 0)
}

// Two writers load version 0. The first appends sequence 1, the second
// appends sequence 1 as well and must be rejected instead of overwriting.
func testLostWriteIsDetected(t *testing.T, store es.EventStore) {
	id := NewID()
	require.NoError(t, store.Append(t.Context(), Message(id, 0, "created")))

	require.NoError(t, store.Append(t.Context(), Message(id, 1, "writer a")))
	err := store.Append(t.Context(), Message(id, 1, "writer b"))
	requireConflict(t, err, 0, 1)

	loaded := requireVersion(t, store, id, 1)
	payloads := loaded.Payloads()
	require.Len(t, payloads, 2)
	assert.Equal(t, "writer a", payloads[1].(Noted).Text)

	// A writer that skipped ahead of a version the store never saw.
	other := NewID()
	require.NoError(t, store.Append(t.Context(), Message(other, 0, "created")))
	err = store.Append(t.Context(), Message(other, 2, "skipped"))
	requireConflict(t, err, 1, 0)
}

func testLoadRoundTrip(t *testing.T, store es.EventStore) {
	id := NewID()
	want := Messages(id, 0, 3)
	require.NoError(t, store.AppendStream(t.Context(),
		es.NewStream(id, AggregateType, es.NoVersion, 3, want)))

	loaded := requireVersion(t, store, id, 3)
	got := loaded.Messages()
	require.Len(t, got, len(want))

	for i := range want {
		assert.Equal(t, want[i].MessageID(), got[i].MessageID())
		assert.Equal(t, want[i].Sequence(), got[i].Sequence())
		assert.Equal(t, want[i].AggregateID(), got[i].AggregateID())
		assert.Equal(t, want[i].AggregateType(), got[i].AggregateType())
		assert.Equal(t, want[i].Payload(), got[i].Payload())
		assert.Equal(t, want[i].Metadata(), got[i].Metadata())
		assert.True(t, want[i].Timestamp().Equal(got[i].Timestamp()),
			"timestamp %s != %s", want[i].Timestamp(), got[i].Timestamp())
	}
}

func testLoadUnknownType(t *testing.T, store es.EventStore) {
	typ := es.AggregateType("storetest.unknown-" + uuid.NewString())
	_, err := store.Load(t.Context(), "missing", typ)

	require.ErrorIs(t, err, es.ErrStreamNotFound)
	require.ErrorIs(t, err, es.ErrUnknownAggregateType)

	var notFound *es.StreamNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, typ, notFound.Stream.Type)
	assert.False(t, notFound.TypeKnown)
}

func testLoadUnknownID(t *testing.T, store es.EventStore) {
	require.NoError(t, store.Append(t.Context(), Message(NewID(), 0, "exists")))

	id := NewID()
	_, err := store.Load(t.Context(), id, AggregateType)

	require.ErrorIs(t, err, es.ErrStreamNotFound)
	require.ErrorIs(t, err, es.ErrUnknownAggregateID)
	require.False(t, errors.Is(err, es.ErrUnknownAggregateType))

	var notFound *es.StreamNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, id, notFound.Stream.ID)
}

func testStreamsAreIsolated(t *testing.T, store es.EventStore) {
	a, b := NewID(), NewID()
	for _, msg := range Messages(a, 0, 2) {
		require.NoError(t, store.Append(t.Context(), msg))
	}
	require.NoError(t, store.Append(t.Context(), Message(b, 0, "b")))

	requireVersion(t, store, a, 2)
	requireVersion(t, store, b, 0)
}

// Several writers race to append the same next sequence; exactly one wins.
func testConcurrentWriters(t *testing.T, store es.EventStore) {
	id := NewID()
	require.NoError(t, store.Append(t.Context(), Message(id, 0, "created")))

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
		others    []error
	)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stream := es.NewStream(id, AggregateType, 0, 1,
				[]es.Message{Message(id, 1, fmt.Sprintf("writer %d", i))})
			err := store.AppendStream(t.Context(), stream)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, es.ErrConcurrency):
				conflicts++
			default:
				others = append(others, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, others)
	require.Equal(t, 1, wins)
	require.Equal(t, writers-1, conflicts)
	requireVersion(t, store, id, 1)
}
