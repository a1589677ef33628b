package eventsourced_test

import (
	"slices"
	"strings"
	"testing"

	es "github.com/terraskye/eventsourced"
)

func TestNewStream_SortsMessages(t *testing.T) {
	m0 := orderMessage("order-1", 0, OrderPlaced{OrderID: "order-1"})
	m1 := orderMessage("order-1", 1, LineAdded{LineID: "l1"})
	m2 := orderMessage("order-1", 2, LineAdded{LineID: "l2"})

	stream := es.NewStream("order-1", orderType, es.NoVersion, 2, []es.Message{m2, m0, m1})

	var got []uint64
	for m := range stream.All() {
		got = append(got, m.Sequence())
	}
	if !slices.Equal(got, []uint64{0, 1, 2}) {
		t.Errorf("expected sorted sequences, got %v", got)
	}

	payloads := stream.Payloads()
	if payloads[1] != (LineAdded{LineID: "l1"}) {
		t.Errorf("unexpected payload %v", payloads[1])
	}
}

func TestStream_MessagesIsACopy(t *testing.T) {
	stream := es.NewStream("order-1", orderType, es.NoVersion, 0,
		[]es.Message{orderMessage("order-1", 0, OrderPlaced{})})

	msgs := stream.Messages()
	msgs[0] = orderMessage("order-1", 0, OrderNoted{})
	if stream.Messages()[0].PayloadType() != "test.OrderPlaced" {
		t.Error("expected the stream to be unaffected by changes to the returned slice")
	}
}

func TestNewStream_Empty(t *testing.T) {
	stream := es.NewStream("order-1", orderType, 3, 3, nil)
	if !stream.IsEmpty() || stream.Committed() != 3 || stream.Version() != 3 {
		t.Errorf("unexpected empty stream %d %s -> %s", stream.Len(), stream.Committed(), stream.Version())
	}
}

func TestNewStream_Rejects(t *testing.T) {
	m0 := orderMessage("order-1", 0, OrderPlaced{})
	m1 := orderMessage("order-1", 1, OrderNoted{})

	tests := []struct {
		name      string
		committed es.Version
		version   es.Version
		msgs      []es.Message
		contains  string
	}{
		{"message of another aggregate", es.NoVersion, 0, []es.Message{orderMessage("order-2", 0, OrderPlaced{})}, "cannot hold"},
		{"duplicate sequence", es.NoVersion, 0, []es.Message{m0, orderMessage("order-1", 0, OrderNoted{})}, "same sequence"},
		{"gap", es.NoVersion, 2, []es.Message{m0, orderMessage("order-1", 2, OrderNoted{})}, "gap"},
		{"version mismatch", es.NoVersion, 5, []es.Message{m0, m1}, "declares version"},
		{"committed ahead", 2, 1, []es.Message{m1}, "ahead of version"},
		{"empty with different versions", es.NoVersion, 1, nil, "empty stream"},
		{"starts after committed", 0, 3, []es.Message{orderMessage("order-1", 2, OrderNoted{}), orderMessage("order-1", 3, OrderNoted{})}, "after the next sequence"},
		{"first message of new stream missing", es.NoVersion, 1, []es.Message{m1}, "after the next sequence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := expectPanic(t, func() {
				es.NewStream("order-1", orderType, tt.committed, tt.version, tt.msgs)
			})
			if !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("expected %q in %q", tt.contains, err.Error())
			}
		})
	}
}

func TestNewStream_AcceptsResentHistory(t *testing.T) {
	msgs := []es.Message{
		orderMessage("order-1", 0, OrderPlaced{}),
		orderMessage("order-1", 1, OrderNoted{}),
		orderMessage("order-1", 2, OrderNoted{}),
	}

	stream := es.NewStream("order-1", orderType, 1, 2, msgs)
	if stream.Len() != 3 || stream.Committed() != 1 || stream.Version() != 2 {
		t.Errorf("unexpected stream %d %s -> %s", stream.Len(), stream.Committed(), stream.Version())
	}
}
