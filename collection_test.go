package eventsourced_test

import (
	"testing"

	es "github.com/terraskye/eventsourced"
)

func TestEventCollection(t *testing.T) {
	c := es.NewEventCollection("order-1", orderType)
	if c.CommittedSequence() != es.NoVersion || c.LastSequence() != es.NoVersion || c.NextSequence() != 0 {
		t.Fatalf("expected a fresh collection, got committed %s last %s", c.CommittedSequence(), c.LastSequence())
	}

	first := c.Record(OrderPlaced{OrderID: "order-1"})
	second := c.Record(LineAdded{LineID: "l1"})
	if first.Sequence() != 0 || second.Sequence() != 1 {
		t.Errorf("expected sequences 0 and 1, got %d and %d", first.Sequence(), second.Sequence())
	}
	if c.Len() != 2 || c.LastSequence() != 1 || c.CommittedSequence() != es.NoVersion {
		t.Errorf("unexpected collection state: len %d last %s committed %s", c.Len(), c.LastSequence(), c.CommittedSequence())
	}

	stream := c.Stream()
	if stream.Committed() != es.NoVersion || stream.Version() != 1 || stream.Len() != 2 {
		t.Errorf("expected stream none -> 1 with 2 events, got %s -> %s with %d",
			stream.Committed(), stream.Version(), stream.Len())
	}
	if c.Len() != 2 {
		t.Error("expected Stream to leave the buffer untouched")
	}

	c.Commit()
	if !c.IsEmpty() || c.CommittedSequence() != 1 {
		t.Errorf("expected committed collection at 1, got len %d committed %s", c.Len(), c.CommittedSequence())
	}

	third := c.Record(LineAdded{LineID: "l2"})
	if third.Sequence() != 2 {
		t.Errorf("expected sequence 2, got %d", third.Sequence())
	}
	stream = c.Stream()
	if stream.Committed() != 1 || stream.Version() != 2 {
		t.Errorf("expected stream 1 -> 2, got %s -> %s", stream.Committed(), stream.Version())
	}
}

func TestEventCollection_InitializeSequence(t *testing.T) {
	c := es.NewEventCollection("order-1", orderType)
	c.InitializeSequence(4)

	if c.CommittedSequence() != 4 || c.LastSequence() != 4 {
		t.Errorf("expected committed and last 4, got %s and %s", c.CommittedSequence(), c.LastSequence())
	}
	if m := c.Record(OrderNoted{}); m.Sequence() != 5 {
		t.Errorf("expected recording to continue at 5, got %d", m.Sequence())
	}

	expectPanic(t, func() { c.InitializeSequence(9) })
}

func TestEventCollection_RecordOptions(t *testing.T) {
	c := es.NewEventCollection("order-1", orderType)
	m := c.Record(OrderPlaced{}, es.WithMetadata("user", "u-1"))

	if v, ok := m.MetadataValue("user"); !ok || v != "u-1" {
		t.Errorf("expected metadata user=u-1, got %q", v)
	}
	if m.StreamKey() != c.StreamKey() {
		t.Errorf("expected message of %s, got %s", c.StreamKey(), m.StreamKey())
	}
}
