package badger_test

import (
	"testing"

	es "github.com/terraskye/eventsourced"
	"github.com/terraskye/eventsourced/eventstore/badger"
	"github.com/terraskye/eventsourced/eventstore/storetest"
)

func newTestEventStore(t *testing.T, opts ...badger.Option) *badger.EventStore {
	t.Helper()
	store, err := badger.NewEventStore(badger.Config{InMemory: true}, opts...)
	if err != nil {
		t.Fatalf("NewEventStore failed: %v", err)
	}
	return store
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) es.EventStore { return newTestEventStore(t) })
}

func TestEventStore_KeyPrefixIsolation(t *testing.T) {
	dir := t.TempDir()
	id := storetest.NewID()

	tenantA, err := badger.NewEventStore(badger.DefaultConfig(), badger.WithDir(dir), badger.WithKeyPrefix("a/"))
	if err != nil {
		t.Fatalf("NewEventStore failed: %v", err)
	}
	if err := tenantA.Append(t.Context(), storetest.Message(id, 0, "a")); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := tenantA.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	tenantB, err := badger.NewEventStore(badger.DefaultConfig(), badger.WithDir(dir), badger.WithKeyPrefix("b/"))
	if err != nil {
		t.Fatalf("NewEventStore failed: %v", err)
	}
	defer tenantB.Close()

	if _, err := tenantB.Load(t.Context(), id, storetest.AggregateType); err == nil {
		t.Fatal("expected stream of another prefix to be invisible")
	}
	if err := tenantB.Append(t.Context(), storetest.Message(id, 0, "b")); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestEventStore_IDsSharingAPrefix(t *testing.T) {
	store := newTestEventStore(t)
	defer store.Close()

	for _, id := range []string{"a", "a:b", "ab"} {
		if err := store.Append(t.Context(), storetest.Message(id, 0, id)); err != nil {
			t.Fatalf("expected no error for %s, got %v", id, err)
		}
	}

	stream, err := store.Load(t.Context(), "a", storetest.AggregateType)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if stream.Len() != 1 {
		t.Errorf("expected 1 event for a, got %d", stream.Len())
	}
}

func TestEventStore_CloseTwice(t *testing.T) {
	store := newTestEventStore(t)
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}
