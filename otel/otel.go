// Package otel instruments an EventStore with OpenTelemetry spans and metrics.
package otel

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	es "github.com/terraskye/eventsourced"
)

const (
	instrumentationName = "github.com/terraskye/eventsourced"
)

// Semantic attribute keys following OpenTelemetry conventions
const (
	// Stream attributes
	AttrAggregateType   = attribute.Key("eventsourced.aggregate.type")
	AttrAggregateID     = attribute.Key("eventsourced.aggregate.id")
	AttrStreamCommitted = attribute.Key("eventsourced.stream.committed")
	AttrStreamVersion   = attribute.Key("eventsourced.stream.version")

	// Event attributes
	AttrEventCount = attribute.Key("eventsourced.events.count")

	// Error attributes
	AttrErrorType = attribute.Key("eventsourced.error.type")

	// Operation attributes
	AttrOperation = attribute.Key("eventsourced.operation")
)

// instruments are the metrics recorded by TelemetryStore.
type instruments struct {
	eventsAppended       metric.Int64Counter
	eventsLoaded         metric.Int64Counter
	operations           metric.Int64Counter
	duration             metric.Float64Histogram
	errors               metric.Int64Counter
	concurrencyConflicts metric.Int64Counter
	streamVersion        metric.Int64Gauge
}

func newTracer(tp trace.TracerProvider) trace.Tracer {
	return tp.Tracer(instrumentationName, trace.WithInstrumentationVersion(es.InstrumentationVersion))
}

// newInstruments creates the store metrics. Instrument errors only occur for
// invalid names, which are constant here, so they are ignored like the
// no-op fallbacks the API returns alongside them.
func newInstruments(mp metric.MeterProvider) instruments {
	meter := mp.Meter(instrumentationName, metric.WithInstrumentationVersion(es.InstrumentationVersion))

	var m instruments
	m.eventsAppended, _ = meter.Int64Counter(
		"eventsourced.events.appended",
		metric.WithDescription("Number of events appended to streams"),
		metric.WithUnit("{event}"),
	)
	m.eventsLoaded, _ = meter.Int64Counter(
		"eventsourced.events.loaded",
		metric.WithDescription("Number of events loaded from streams"),
		metric.WithUnit("{event}"),
	)
	m.operations, _ = meter.Int64Counter(
		"eventsourced.eventstore.operations",
		metric.WithDescription("Number of event store operations"),
		metric.WithUnit("{operation}"),
	)
	m.duration, _ = meter.Float64Histogram(
		"eventsourced.eventstore.duration",
		metric.WithDescription("Event store operation duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)
	m.errors, _ = meter.Int64Counter(
		"eventsourced.eventstore.errors",
		metric.WithDescription("Number of event store errors"),
		metric.WithUnit("{error}"),
	)
	m.concurrencyConflicts, _ = meter.Int64Counter(
		"eventsourced.concurrency.conflicts",
		metric.WithDescription("Number of appends rejected by optimistic concurrency"),
		metric.WithUnit("{conflict}"),
	)
	m.streamVersion, _ = meter.Int64Gauge(
		"eventsourced.stream.version",
		metric.WithDescription("Version of the last stream appended or loaded"),
		metric.WithUnit("{version}"),
	)
	return m
}
