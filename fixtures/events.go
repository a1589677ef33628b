// Package fixtures provides test doubles and builders for code using the
// eventsourced package.
package fixtures

import (
	"fmt"

	es "github.com/terraskye/eventsourced"
)

// TestAggregateType is the default aggregate type of fixture messages.
const TestAggregateType es.AggregateType = "fixtures.aggregate"

// TestEvent is a configurable test event implementing the Event interface.
type TestEvent struct {
	ID   string `json:"id"`
	Data string `json:"data"`
}

func (TestEvent) EventType() string { return "fixtures.TestEvent" }

// OtherTestEvent is a second event type, for handlers that must skip it.
type OtherTestEvent struct {
	ID string `json:"id"`
}

func (OtherTestEvent) EventType() string { return "fixtures.OtherTestEvent" }

func init() {
	es.RegisterEventByType(func() es.Event { return TestEvent{} })
	es.RegisterEventByType(func() es.Event { return OtherTestEvent{} })
}

// TestEventBuilder provides a fluent API for constructing test events.
type TestEventBuilder struct {
	id   string
	data string
}

// NewTestEvent creates a new TestEventBuilder with sensible defaults.
func NewTestEvent() *TestEventBuilder {
	return &TestEventBuilder{
		id:   "aggregate-1",
		data: "",
	}
}

// WithID sets the aggregate ID.
func (b *TestEventBuilder) WithID(id string) *TestEventBuilder {
	b.id = id
	return b
}

// WithData sets custom data on the event.
func (b *TestEventBuilder) WithData(data string) *TestEventBuilder {
	b.data = data
	return b
}

// Build constructs the TestEvent.
func (b *TestEventBuilder) Build() TestEvent {
	return TestEvent{
		ID:   b.id,
		Data: b.data,
	}
}

// BuildN creates n events with sequential data.
func (b *TestEventBuilder) BuildN(n int) []es.Event {
	events := make([]es.Event, n)
	for i := range n {
		events[i] = TestEvent{
			ID:   b.id,
			Data: fmt.Sprintf("%s-%d", b.data, i+1),
		}
	}
	return events
}
