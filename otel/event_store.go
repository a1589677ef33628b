package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	es "github.com/terraskye/eventsourced"
)

var _ es.EventStore = (*TelemetryStore)(nil)

// TelemetryStore wraps an EventStore with a span per operation and store
// metrics. Appended messages get the trace context, the causation id and the
// correlation id of the calling context added to their metadata.
type TelemetryStore struct {
	next       es.EventStore
	cfg        config
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	metrics    instruments
}

// WithEventStoreTelemetry instruments next.
func WithEventStoreTelemetry(next es.EventStore, options ...Option) *TelemetryStore {
	cfg := newConfig(options)
	return &TelemetryStore{
		next:       next,
		cfg:        cfg,
		tracer:     newTracer(cfg.TracerProvider),
		propagator: cfg.Propagator,
		metrics:    newInstruments(cfg.MeterProvider),
	}
}

func streamAttributes(key es.StreamKey) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrAggregateType.String(key.Type.String()),
		AttrAggregateID.String(key.ID),
	}
}

// contextMetadata collects what is injected into appended messages.
func (t *TelemetryStore) contextMetadata(ctx context.Context, span trace.Span) map[string]string {
	carrier := propagation.MapCarrier{}
	t.propagator.Inject(ctx, carrier)

	md := make(map[string]string, len(carrier)+2)
	for k, v := range carrier {
		md[k] = v
	}
	if causationID := es.CausationFromContext(ctx); causationID != "" {
		md[es.MetadataCausationID] = causationID
	}
	if correlationID := es.CorrelationFromContext(ctx); correlationID != "" {
		md[es.MetadataCorrelationID] = correlationID
	} else if span.SpanContext().HasTraceID() {
		md[es.MetadataCorrelationID] = span.SpanContext().TraceID().String()
	}
	return md
}

// withMissingMetadata adds the entries of md that msg does not carry yet.
func withMissingMetadata(msg es.Message, md map[string]string) es.Message {
	missing := make(map[string]string, len(md))
	for k, v := range md {
		if _, ok := msg.MetadataValue(k); !ok {
			missing[k] = v
		}
	}
	return msg.WithMetadata(missing)
}

func (t *TelemetryStore) start(ctx context.Context, op string, key es.StreamKey, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(streamAttributes(key), attrs...)
	attrs = append(attrs, AttrOperation.String(op))
	return t.tracer.Start(ctx, fmt.Sprintf("%s.%s", t.cfg.Operation, op),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(t.cfg.attributes(ctx, attrs...)...),
	)
}

// finish records duration, outcome and errors of one operation.
func (t *TelemetryStore) finish(ctx context.Context, span trace.Span, op string, key es.StreamKey, start time.Time, err error) {
	attrs := metric.WithAttributes(t.cfg.attributes(ctx,
		AttrOperation.String(op),
		AttrAggregateType.String(key.Type.String()),
	)...)

	t.metrics.duration.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)
	t.metrics.operations.Add(ctx, 1, attrs)

	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(AttrErrorType.String(errorType(err)))

	t.metrics.errors.Add(ctx, 1, attrs)
	if errors.Is(err, es.ErrConcurrency) {
		t.metrics.concurrencyConflicts.Add(ctx, 1, attrs)
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, es.ErrConcurrency):
		return "concurrency"
	case errors.Is(err, es.ErrStreamNotFound):
		return "not_found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "context"
	default:
		return fmt.Sprintf("%T", err)
	}
}

func (t *TelemetryStore) recordVersion(ctx context.Context, key es.StreamKey, v es.Version) {
	t.metrics.streamVersion.Record(ctx, int64(v),
		metric.WithAttributes(t.cfg.attributes(ctx, AttrAggregateType.String(key.Type.String()))...))
}

func (t *TelemetryStore) Append(ctx context.Context, msg es.Message) error {
	key := msg.StreamKey()
	ctx, span := t.start(ctx, "Append", key,
		AttrStreamVersion.Int64(int64(msg.Sequence())),
		AttrEventCount.Int(1),
	)
	defer span.End()

	msg = withMissingMetadata(msg, t.contextMetadata(ctx, span))

	start := time.Now()
	err := t.next.Append(ctx, msg)
	t.finish(ctx, span, "Append", key, start, err)

	if err == nil {
		t.metrics.eventsAppended.Add(ctx, 1,
			metric.WithAttributes(t.cfg.attributes(ctx, AttrAggregateType.String(key.Type.String()))...))
		t.recordVersion(ctx, key, es.VersionOf(msg.Sequence()))
	}
	return err
}

func (t *TelemetryStore) AppendStream(ctx context.Context, stream *es.Stream) error {
	key := stream.Key()
	ctx, span := t.start(ctx, "AppendStream", key,
		AttrStreamCommitted.Int64(int64(stream.Committed())),
		AttrStreamVersion.Int64(int64(stream.Version())),
		AttrEventCount.Int(stream.Len()),
	)
	defer span.End()

	if !stream.IsEmpty() {
		md := t.contextMetadata(ctx, span)
		messages := make([]es.Message, 0, stream.Len())
		for msg := range stream.All() {
			messages = append(messages, withMissingMetadata(msg, md))
		}
		stream = es.NewStream(key.ID, key.Type, stream.Committed(), stream.Version(), messages)
	}

	start := time.Now()
	err := t.next.AppendStream(ctx, stream)
	t.finish(ctx, span, "AppendStream", key, start, err)

	if err == nil {
		t.metrics.eventsAppended.Add(ctx, int64(stream.Len()),
			metric.WithAttributes(t.cfg.attributes(ctx, AttrAggregateType.String(key.Type.String()))...))
		t.recordVersion(ctx, key, stream.Version())
	}
	return err
}

func (t *TelemetryStore) Load(ctx context.Context, id string, typ es.AggregateType) (*es.Stream, error) {
	key := es.NewStreamKey(typ, id)
	ctx, span := t.start(ctx, "Load", key)
	defer span.End()

	start := time.Now()
	stream, err := t.next.Load(ctx, id, typ)
	t.finish(ctx, span, "Load", key, start, err)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		AttrStreamVersion.Int64(int64(stream.Version())),
		AttrEventCount.Int(stream.Len()),
	)
	t.metrics.eventsLoaded.Add(ctx, int64(stream.Len()),
		metric.WithAttributes(t.cfg.attributes(ctx, AttrAggregateType.String(typ.String()))...))
	t.recordVersion(ctx, key, stream.Version())
	return stream, nil
}

// Close just forwards
func (t *TelemetryStore) Close() error {
	return t.next.Close()
}
