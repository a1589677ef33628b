package eventsourced_test

import (
	"errors"
	"testing"

	es "github.com/terraskye/eventsourced"
)

const orderType es.AggregateType = "order"

type OrderPlaced struct {
	OrderID string `json:"order_id"`
}

func (OrderPlaced) EventType() string { return "test.OrderPlaced" }

type LineAdded struct {
	LineID string `json:"line_id"`
	SKU    string `json:"sku"`
}

func (LineAdded) EventType() string { return "test.LineAdded" }

type LineShipped struct {
	LineID   string `json:"line_id"`
	ParcelID string `json:"parcel_id"`
}

func (LineShipped) EventType() string { return "test.LineShipped" }

type ParcelDelivered struct {
	ParcelID string `json:"parcel_id"`
}

func (ParcelDelivered) EventType() string { return "test.ParcelDelivered" }

// OrderNoted is handled by no entity.
type OrderNoted struct {
	Note string `json:"note"`
}

func (OrderNoted) EventType() string { return "test.OrderNoted" }

// PointerEvent is registered with a pointer receiver.
type PointerEvent struct {
	Value int `json:"value"`
}

func (*PointerEvent) EventType() string { return "test.PointerEvent" }

func init() {
	es.RegisterEventByType(func() es.Event { return OrderPlaced{} })
	es.RegisterEventByType(func() es.Event { return LineAdded{} })
	es.RegisterEventByType(func() es.Event { return LineShipped{} })
	es.RegisterEventByType(func() es.Event { return ParcelDelivered{} })
	es.RegisterEventByType(func() es.Event { return OrderNoted{} })
	es.RegisterEventByType(func() es.Event { return &PointerEvent{} })
}

// callLog records which entity saw which event, in order.
type callLog struct {
	calls []string
}

func (l *callLog) record(entity string, msg es.Message) {
	l.calls = append(l.calls, entity+":"+msg.PayloadType())
}

func (l *callLog) reset() { l.calls = nil }

// Order is an aggregate with two levels of child entities: lines and the
// parcels a shipped line was sent in.
type Order struct {
	es.AggregateRoot

	id     string
	placed bool
	lines  []*Line
	log    *callLog
}

var orderHandlers = es.NewEventHandlers(
	es.On(func(o *Order, e OrderPlaced) {
		o.id = e.OrderID
		o.placed = true
	}),
	es.On(func(o *Order, e LineAdded) {
		o.lines = append(o.lines, &Line{id: e.LineID, log: o.log})
	}),
)

func newBlankOrder() *Order { return &Order{log: &callLog{}} }

func placeOrder(t *testing.T, id string) *Order {
	t.Helper()
	o := newBlankOrder()
	o.id = id
	if err := es.RecordThat(o, OrderPlaced{OrderID: id}); err != nil {
		t.Fatalf("place order: %v", err)
	}
	return o
}

func (o *Order) AggregateID() string             { return o.id }
func (o *Order) AggregateType() es.AggregateType { return orderType }

func (o *Order) ApplyEvent(msg es.Message) bool {
	o.log.record("order", msg)
	return orderHandlers.Apply(o, msg)
}

func (o *Order) ChildEntities() []es.Entity {
	out := make([]es.Entity, len(o.lines))
	for i, l := range o.lines {
		out[i] = l
	}
	return out
}

type Line struct {
	es.EntityBase

	id      string
	sku     string
	parcels []*Parcel
	log     *callLog
}

var lineHandlers = es.NewEventHandlers(
	es.On(func(l *Line, e LineAdded) {
		if e.LineID == l.id {
			l.sku = e.SKU
		}
	}),
	es.On(func(l *Line, e LineShipped) {
		if e.LineID == l.id {
			l.parcels = append(l.parcels, &Parcel{id: e.ParcelID, log: l.log})
		}
	}),
)

func (l *Line) ApplyEvent(msg es.Message) bool {
	l.log.record("line-"+l.id, msg)
	return lineHandlers.Apply(l, msg)
}

func (l *Line) ChildEntities() []es.Entity {
	out := make([]es.Entity, len(l.parcels))
	for i, p := range l.parcels {
		out[i] = p
	}
	return out
}

type Parcel struct {
	es.EntityBase

	id        string
	delivered bool
	log       *callLog
}

var parcelHandlers = es.NewEventHandlers(
	es.On(func(p *Parcel, e ParcelDelivered) {
		if e.ParcelID == p.id {
			p.delivered = true
		}
	}),
)

func (p *Parcel) ApplyEvent(msg es.Message) bool {
	p.log.record("parcel-"+p.id, msg)
	return parcelHandlers.Apply(p, msg)
}

// orderState is the observable state of an order, for comparing a live
// aggregate with a reconstituted one.
type orderState struct {
	ID     string
	Placed bool
	Lines  map[string]lineState
}

type lineState struct {
	SKU     string
	Parcels map[string]bool
}

func stateOf(o *Order) orderState {
	s := orderState{ID: o.id, Placed: o.placed, Lines: map[string]lineState{}}
	for _, l := range o.lines {
		ls := lineState{SKU: l.sku, Parcels: map[string]bool{}}
		for _, p := range l.parcels {
			ls.Parcels[p.id] = p.delivered
		}
		s.Lines[l.id] = ls
	}
	return s
}

// expectPanic runs fn and returns the *AssertionError it panics with.
func expectPanic(t *testing.T, fn func()) *es.AssertionError {
	t.Helper()
	var got *es.AssertionError
	func() {
		defer func() {
			r := recover()
			if r == nil {
				t.Fatal("expected a panic")
			}
			err, ok := r.(error)
			if !ok || !errors.As(err, &got) {
				t.Fatalf("expected *AssertionError, got %T: %v", r, r)
			}
		}()
		fn()
	}()
	return got
}

func orderMessage(id string, seq uint64, event es.Event) es.Message {
	return es.NewMessage(id, orderType, seq, event)
}
