package eventsourced

import (
	"fmt"
	"reflect"
)

// EventHandler applies one event type to a receiver of type T.
type EventHandler[T any] struct {
	eventType reflect.Type
	apply     func(receiver T, msg Message)
}

// On creates a handler applying events of type E to a receiver of type T.
//
// Example Usage:
//
//	var taskHandlers = NewEventHandlers(
//	    On(func(t *Task, e TaskCreated) { t.description = e.Description }),
//	)
func On[T any, E Event](fn func(receiver T, event E)) EventHandler[T] {
	return EventHandler[T]{
		eventType: reflect.TypeFor[E](),
		apply: func(receiver T, msg Message) {
			fn(receiver, msg.Payload().(E))
		},
	}
}

// OnMessage is like On but also hands the handler the message carrying the
// event, for handlers that need its sequence number, timestamp or metadata.
func OnMessage[T any, E Event](fn func(receiver T, event E, msg Message)) EventHandler[T] {
	return EventHandler[T]{
		eventType: reflect.TypeFor[E](),
		apply: func(receiver T, msg Message) {
			fn(receiver, msg.Payload().(E), msg)
		},
	}
}

// EventHandlers is the dispatch table of one entity type. Build it once per
// type, usually as a package-level variable, and call Apply from the
// entity's ApplyEvent method.
type EventHandlers[T any] struct {
	handlers map[reflect.Type]func(T, Message)
}

// NewEventHandlers builds a dispatch table. Registering two handlers for the
// same event type panics.
func NewEventHandlers[T any](handlers ...EventHandler[T]) *EventHandlers[T] {
	table := &EventHandlers[T]{handlers: make(map[reflect.Type]func(T, Message), len(handlers))}
	for _, h := range handlers {
		if _, exists := table.handlers[h.eventType]; exists {
			panic(fmt.Sprintf("handler already registered for event %s", h.eventType))
		}
		table.handlers[h.eventType] = h.apply
	}
	return table
}

// Apply hands msg to the handler registered for its payload type. It
// reports false, and leaves receiver untouched, when there is none.
func (h *EventHandlers[T]) Apply(receiver T, msg Message) bool {
	apply, ok := h.handlers[reflect.TypeOf(msg.Payload())]
	if !ok {
		return false
	}
	apply(receiver, msg)
	return true
}

// Handles reports whether a handler is registered for the type of event.
func (h *EventHandlers[T]) Handles(event Event) bool {
	_, ok := h.handlers[reflect.TypeOf(event)]
	return ok
}
