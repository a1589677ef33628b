package fixtures_test

import (
	"errors"
	"testing"

	es "github.com/terraskye/eventsourced"
	"github.com/terraskye/eventsourced/fixtures"
)

func TestStoreSpy_TracksCalls(t *testing.T) {
	store := fixtures.StoreWithEvents("order-1", 3)

	stream, err := store.Load(t.Context(), "order-1", fixtures.TestAggregateType)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if stream.Len() != 3 || stream.Version() != 2 {
		t.Errorf("expected 3 events at version 2, got %d at %s", stream.Len(), stream.Version())
	}

	msg := fixtures.NewMessageBuilder().
		WithAggregate("order-1", fixtures.TestAggregateType).
		WithSequence(3).
		WithEvent(fixtures.TestEvent{ID: "order-1", Data: "four"}).
		Build()
	if err := store.Append(t.Context(), msg); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if store.LoadCalls != 1 || store.AppendCalls != 1 {
		t.Errorf("unexpected call counts: load=%d append=%d", store.LoadCalls, store.AppendCalls)
	}
	if store.LastLoadKey != es.NewStreamKey(fixtures.TestAggregateType, "order-1") {
		t.Errorf("unexpected last load key %s", store.LastLoadKey)
	}
	if !store.LastAppended.Equal(msg) {
		t.Error("expected last appended message to be captured")
	}
}

func TestStoreSpy_FailureInjection(t *testing.T) {
	boom := errors.New("boom")
	store := fixtures.FailingStore(boom)

	if _, err := store.Load(t.Context(), "x", fixtures.TestAggregateType); !errors.Is(err, boom) {
		t.Errorf("expected boom on load, got %v", err)
	}
	msg := fixtures.NewMessageBuilder().Build()
	if err := store.Append(t.Context(), msg); !errors.Is(err, boom) {
		t.Errorf("expected boom on append, got %v", err)
	}

	store.Reset()
	if err := store.Append(t.Context(), msg); err != nil {
		t.Errorf("expected reset store to accept append, got %v", err)
	}
	if store.AppendCalls != 1 {
		t.Errorf("expected call counts to restart, got %d", store.AppendCalls)
	}
}

func TestConflictingStore(t *testing.T) {
	store := fixtures.ConflictingStore(2)
	stream := fixtures.HistoryOf("order-1", fixtures.TestAggregateType, fixtures.NewTestEvent().BuildN(1)...)
	pending := es.NewStream("order-1", fixtures.TestAggregateType, es.NoVersion, 0, stream.Messages())

	for i := range 2 {
		err := store.AppendStream(t.Context(), pending)
		var conflict *es.ConcurrencyError
		if !errors.As(err, &conflict) {
			t.Fatalf("append %d: expected conflict, got %v", i, err)
		}
		if conflict.Actual != 0 {
			t.Errorf("expected actual version 0, got %s", conflict.Actual)
		}
	}
	if err := store.AppendStream(t.Context(), pending); err != nil {
		t.Errorf("expected third append to succeed, got %v", err)
	}
}

func TestStreamNotFoundStore(t *testing.T) {
	_, err := fixtures.StreamNotFoundStore().Load(t.Context(), "x", fixtures.TestAggregateType)
	if !errors.Is(err, es.ErrUnknownAggregateID) {
		t.Errorf("expected ErrUnknownAggregateID, got %v", err)
	}
}

func TestHistoryOf_Empty(t *testing.T) {
	stream := fixtures.HistoryOf("x", fixtures.TestAggregateType)
	if !stream.IsEmpty() || stream.Version() != es.NoVersion {
		t.Errorf("expected empty stream without version, got %d at %s", stream.Len(), stream.Version())
	}
}
