package eventsourced_test

import (
	"errors"
	"reflect"
	"slices"
	"testing"

	es "github.com/terraskye/eventsourced"
)

func TestRecordThat_AppliesImmediately(t *testing.T) {
	o := placeOrder(t, "order-1")
	if err := es.RecordThat(o, LineAdded{LineID: "l1", SKU: "sku-1"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if !o.placed || len(o.lines) != 1 || o.lines[0].sku != "sku-1" {
		t.Fatalf("expected state to reflect recorded events, got %+v", stateOf(o))
	}

	stream := es.RecordedEvents(o)
	if stream.Committed() != es.NoVersion || stream.Version() != 1 || stream.Len() != 2 {
		t.Errorf("expected uncommitted stream none -> 1 with 2 events, got %s -> %s with %d",
			stream.Committed(), stream.Version(), stream.Len())
	}
	if o.CommittedVersion() != es.NoVersion || o.CurrentVersion() != 1 {
		t.Errorf("expected committed none and current 1, got %s and %s", o.CommittedVersion(), o.CurrentVersion())
	}
	if !o.HasUncommittedEvents() {
		t.Error("expected uncommitted events")
	}
}

func TestRecordThat_TraversesChildrenDepthFirst(t *testing.T) {
	o := placeOrder(t, "order-1")
	for _, e := range []es.Event{
		LineAdded{LineID: "l1"},
		LineAdded{LineID: "l2"},
		LineShipped{LineID: "l1", ParcelID: "p1"},
	} {
		if err := es.RecordThat(o, e); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	}

	o.log.reset()
	if err := es.RecordThat(o, ParcelDelivered{ParcelID: "p1"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	want := []string{
		"order:test.ParcelDelivered",
		"line-l1:test.ParcelDelivered",
		"parcel-p1:test.ParcelDelivered",
		"line-l2:test.ParcelDelivered",
	}
	if !slices.Equal(o.log.calls, want) {
		t.Errorf("expected traversal %v, got %v", want, o.log.calls)
	}
	if !o.lines[0].parcels[0].delivered {
		t.Error("expected grandchild to be updated")
	}
}

func TestRecordThat_NewChildSeesCreatingEvent(t *testing.T) {
	o := placeOrder(t, "order-1")
	o.log.reset()
	if err := es.RecordThat(o, LineAdded{LineID: "l1", SKU: "sku-1"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	want := []string{"order:test.LineAdded", "line-l1:test.LineAdded"}
	if !slices.Equal(o.log.calls, want) {
		t.Errorf("expected %v, got %v", want, o.log.calls)
	}
}

func TestRecordThat_UnhandledEventIsRecorded(t *testing.T) {
	o := placeOrder(t, "order-1")
	if err := es.RecordThat(o, OrderNoted{Note: "n"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if es.RecordedEvents(o).Len() != 2 {
		t.Error("expected unhandled event to be recorded anyway")
	}
}

func TestRecordThat_RegistersChildrenWithRoot(t *testing.T) {
	o := placeOrder(t, "order-1")
	if err := es.RecordThat(o, LineAdded{LineID: "l1"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	root, ok := o.lines[0].AggregateRoot()
	if !ok || root != es.NewStreamKey(orderType, "order-1") {
		t.Errorf("expected line to be registered with order-1, got %s", root)
	}
}

func TestRecordThat_ChildOfAnotherRoot(t *testing.T) {
	first := placeOrder(t, "order-1")
	if err := es.RecordThat(first, LineAdded{LineID: "l1"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	second := placeOrder(t, "order-2")
	second.lines = append(second.lines, first.lines[0])

	err := es.RecordThat(second, OrderNoted{})
	var regErr *es.RegisterAggregateError
	if !errors.As(err, &regErr) {
		t.Fatalf("expected *RegisterAggregateError, got %v", err)
	}
	if regErr.Registered != es.NewStreamKey(orderType, "order-1") || regErr.Requested != es.NewStreamKey(orderType, "order-2") {
		t.Errorf("unexpected error %v", regErr)
	}
}

func TestEntityBase_RegisterAggregateRoot(t *testing.T) {
	var base es.EntityBase
	if _, ok := base.AggregateRoot(); ok {
		t.Fatal("expected unregistered entity")
	}

	first := es.NewStreamKey(orderType, "a")
	if err := base.RegisterAggregateRoot(first); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := base.RegisterAggregateRoot(first); err != nil {
		t.Errorf("expected re-registering the same root to succeed, got %v", err)
	}
	if err := base.RegisterAggregateRoot(es.NewStreamKey(orderType, "b")); err == nil {
		t.Error("expected registering another root to fail")
	}
}

func TestCommit(t *testing.T) {
	o := placeOrder(t, "order-1")
	if err := es.RecordThat(o, LineAdded{LineID: "l1"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	o.Commit()

	stream := es.RecordedEvents(o)
	if !stream.IsEmpty() || stream.Committed() != 1 || stream.Version() != 1 {
		t.Errorf("expected empty stream at version 1, got %d events %s -> %s",
			stream.Len(), stream.Committed(), stream.Version())
	}
	if o.HasUncommittedEvents() {
		t.Error("expected no uncommitted events")
	}

	if err := es.RecordThat(o, LineAdded{LineID: "l2"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	stream = es.RecordedEvents(o)
	if stream.Committed() != 1 || stream.Version() != 2 {
		t.Errorf("expected stream 1 -> 2, got %s -> %s", stream.Committed(), stream.Version())
	}
	if got := stream.Messages()[0].Sequence(); got != 2 {
		t.Errorf("expected sequence 2, got %d", got)
	}
}

func TestInitializeFromStream(t *testing.T) {
	live := placeOrder(t, "order-1")
	for _, e := range []es.Event{
		LineAdded{LineID: "l1", SKU: "a"},
		LineAdded{LineID: "l2", SKU: "b"},
		LineShipped{LineID: "l2", ParcelID: "p1"},
		ParcelDelivered{ParcelID: "p1"},
	} {
		if err := es.RecordThat(live, e); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	}
	recorded := es.RecordedEvents(live)
	live.Commit()

	history := es.NewStream("order-1", orderType, recorded.Version(), recorded.Version(), recorded.Messages())
	replayed := newBlankOrder()
	if err := es.InitializeFromStream(replayed, history); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if !reflect.DeepEqual(stateOf(replayed), stateOf(live)) {
		t.Errorf("expected replayed state %+v, got %+v", stateOf(live), stateOf(replayed))
	}
	if replayed.CommittedVersion() != 4 {
		t.Errorf("expected committed version 4, got %s", replayed.CommittedVersion())
	}
	if replayed.HasUncommittedEvents() {
		t.Error("expected replay not to record events")
	}
	if replayed.log.calls[0] != "order:test.OrderPlaced" {
		t.Errorf("expected replay to start with the first event, got %v", replayed.log.calls)
	}
}

func TestInitializeFromStream_WithUncommittedEvents(t *testing.T) {
	o := placeOrder(t, "order-1")
	history := es.NewStream("order-1", orderType, 0, 0, []es.Message{orderMessage("order-1", 0, OrderPlaced{OrderID: "order-1"})})

	err := es.InitializeFromStream(o, history)
	var opErr *es.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected *OperationError, got %v", err)
	}
	if opErr.Uncommitted != 1 {
		t.Errorf("expected 1 uncommitted event, got %d", opErr.Uncommitted)
	}
}

func TestInitializeCommittedVersion(t *testing.T) {
	o := newBlankOrder()
	o.id = "order-1"
	if err := es.InitializeCommittedVersion(o, 6); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if o.CommittedVersion() != 6 {
		t.Errorf("expected committed version 6, got %s", o.CommittedVersion())
	}
	if err := es.RecordThat(o, OrderNoted{}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := es.RecordedEvents(o).Messages()[0].Sequence(); got != 7 {
		t.Errorf("expected recording to continue at 7, got %d", got)
	}
}

func TestInitializeCommittedVersion_WithUncommittedEvents(t *testing.T) {
	o := placeOrder(t, "order-1")
	err := es.InitializeCommittedVersion(o, 3)
	var opErr *es.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected *OperationError, got %v", err)
	}
	if opErr.Stream != es.NewStreamKey(orderType, "order-1") {
		t.Errorf("unexpected stream %s", opErr.Stream)
	}
	if o.CurrentVersion() != 0 {
		t.Errorf("expected recorded events to be kept, got version %s", o.CurrentVersion())
	}
}
