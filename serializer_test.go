package eventsourced_test

import (
	"errors"
	"reflect"
	"testing"
	"time"

	es "github.com/terraskye/eventsourced"
)

func TestStoredEvent_RoundTrip(t *testing.T) {
	serializer := es.NewJSONSerializer(nil)
	original := es.NewMessage("order-1", orderType, 3, LineShipped{LineID: "l1", ParcelID: "p1"},
		es.WithTimestamp(time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC)),
		es.WithMetadata(es.MetadataCorrelationID, "req-1"),
	)

	stored, err := es.NewStoredEvent(original, serializer)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if stored.PayloadType != "test.LineShipped" || stored.Sequence != 3 {
		t.Errorf("unexpected stored event %+v", stored)
	}

	loaded, err := stored.Message(serializer)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !loaded.Equal(original) {
		t.Error("expected the message id to survive")
	}
	if loaded.Payload() != original.Payload() {
		t.Errorf("expected payload %v, got %v", original.Payload(), loaded.Payload())
	}
	if !loaded.Timestamp().Equal(original.Timestamp()) || loaded.StreamKey() != original.StreamKey() {
		t.Errorf("unexpected message %v at %s", loaded.StreamKey(), loaded.Timestamp())
	}
	if !reflect.DeepEqual(loaded.Metadata(), original.Metadata()) {
		t.Errorf("expected metadata %v, got %v", original.Metadata(), loaded.Metadata())
	}
}

func TestJSONSerializer_PointerEvent(t *testing.T) {
	serializer := es.NewJSONSerializer(nil)
	data, err := serializer.Serialize(&PointerEvent{Value: 42})
	if err != nil {
		t.Fatal(err)
	}

	v, err := serializer.Deserialize("test.PointerEvent", data)
	if err != nil {
		t.Fatal(err)
	}
	ev, ok := v.(*PointerEvent)
	if !ok || ev.Value != 42 {
		t.Errorf("expected *PointerEvent{42}, got %#v", v)
	}
}

func TestJSONSerializer_Metadata(t *testing.T) {
	serializer := es.NewJSONSerializer(nil)

	v, err := serializer.Deserialize(es.MetadataType, nil)
	if err != nil {
		t.Fatal(err)
	}
	if md, ok := v.(map[string]string); !ok || len(md) != 0 {
		t.Errorf("expected empty metadata, got %#v", v)
	}

	if _, err := serializer.Deserialize(es.MetadataType, []byte("{")); err == nil {
		t.Error("expected malformed metadata to fail")
	}
}

func TestJSONSerializer_UnknownEvent(t *testing.T) {
	serializer := es.NewJSONSerializer(es.NewRegistry())
	stored, err := es.NewStoredEvent(orderMessage("order-1", 0, OrderPlaced{}), serializer)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := stored.Message(serializer); !errors.Is(err, es.ErrEventNotRegistered) {
		t.Errorf("expected ErrEventNotRegistered, got %v", err)
	}
}

func TestStreamFromStoredEvents(t *testing.T) {
	serializer := es.NewJSONSerializer(nil)
	var stored []es.StoredEvent
	for i, e := range []es.Event{OrderPlaced{OrderID: "order-1"}, LineAdded{LineID: "l1"}} {
		se, err := es.NewStoredEvent(orderMessage("order-1", uint64(i), e), serializer)
		if err != nil {
			t.Fatal(err)
		}
		stored = append(stored, se)
	}

	stream, err := es.StreamFromStoredEvents(es.NewStreamKey(orderType, "order-1"), 1, stored, serializer)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if stream.Committed() != 1 || stream.Version() != 1 {
		t.Errorf("expected fully committed stream at 1, got %s -> %s", stream.Committed(), stream.Version())
	}
	want := []es.Event{OrderPlaced{OrderID: "order-1"}, LineAdded{LineID: "l1"}}
	if !reflect.DeepEqual(stream.Payloads(), want) {
		t.Errorf("expected payloads %v, got %v", want, stream.Payloads())
	}
}
