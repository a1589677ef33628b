package eventsourced

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey string

// Define constants for context keys
const (
	messageKey     ctxKey = "message"
	causationKey   ctxKey = "causationId"
	correlationKey ctxKey = "correlationId"
)

// Metadata keys written by store decorators that propagate context.
const (
	MetadataCausationID   = "causationId"
	MetadataCorrelationID = "correlationId"
)

// WithMessage adds the message being handled to the context. Events recorded
// while handling it are caused by it.
func WithMessage(ctx context.Context, msg Message) context.Context {
	return context.WithValue(ctx, messageKey, msg)
}

// MessageFromContext returns the message added by WithMessage.
func MessageFromContext(ctx context.Context) (Message, bool) {
	msg, ok := ctx.Value(messageKey).(Message)
	return msg, ok
}

// StreamKeyFromContext returns the stream of the message in ctx or the zero key.
func StreamKeyFromContext(ctx context.Context) StreamKey {
	if msg, ok := MessageFromContext(ctx); ok {
		return msg.StreamKey()
	}
	return StreamKey{}
}

// MessageIDFromContext returns the id of the message in ctx or uuid.Nil.
func MessageIDFromContext(ctx context.Context) uuid.UUID {
	if msg, ok := MessageFromContext(ctx); ok {
		return msg.MessageID()
	}
	return uuid.Nil
}

// WithCausationID sets the id of whatever caused the work done with ctx.
func WithCausationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, causationKey, id)
}

// CausationFromContext returns the causation id, falling back to the id of
// the message in ctx. It returns "" if neither is present.
func CausationFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(causationKey).(string); ok && id != "" {
		return id
	}
	if msg, ok := MessageFromContext(ctx); ok {
		return msg.MessageID().String()
	}
	return ""
}

// WithCorrelationID sets the id shared by all work of one request.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}

// CorrelationFromContext returns the correlation id, falling back to the
// correlation metadata of the message in ctx.
func CorrelationFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey).(string); ok && id != "" {
		return id
	}
	if msg, ok := MessageFromContext(ctx); ok {
		if id, ok := msg.MetadataValue(MetadataCorrelationID); ok {
			return id
		}
	}
	return ""
}
