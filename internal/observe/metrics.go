// Package observe provides application-wide observability primitives for
// audioprobe: OpenTelemetry metrics, tracing, structured logging helpers,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
//
// Nothing in this package may be called from the audio thread: the capture
// worker publishes audio-side counters on its own schedule instead.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all audioprobe metrics.
const meterName = "github.com/musicadvisor/audioprobe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// FramesIngested counts frame summaries drained from the transfer queue
	// and folded into the aggregate.
	FramesIngested metric.Int64Counter

	// FramesDropped counts frames discarded by the producer because the
	// transfer queue was full. Published by the capture worker, not by the
	// audio path.
	FramesDropped metric.Int64Counter

	// SnapshotWrites counts serviced snapshot requests. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	SnapshotWrites metric.Int64Counter

	// SnapshotWriteDuration tracks the wall time of a snapshot write,
	// including directory creation and serialisation.
	SnapshotWriteDuration metric.Float64Histogram

	// QueueDepth tracks the transfer queue fill level sampled at each drain.
	QueueDepth metric.Int64Gauge

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// writeBuckets defines histogram bucket boundaries (in seconds) sized for
// local filesystem snapshot writes.
var writeBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.FramesIngested, err = m.Int64Counter("audioprobe.frames.ingested",
		metric.WithDescription("Frame summaries ingested into the aggregate."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("audioprobe.frames.dropped",
		metric.WithDescription("Frame summaries dropped on transfer queue overflow."),
	); err != nil {
		return nil, err
	}
	if met.SnapshotWrites, err = m.Int64Counter("audioprobe.snapshot.writes",
		metric.WithDescription("Serviced snapshot requests by status."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.SnapshotWriteDuration, err = m.Float64Histogram("audioprobe.snapshot.write.duration",
		metric.WithDescription("Wall time of a snapshot write."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(writeBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("audioprobe.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.QueueDepth, err = m.Int64Gauge("audioprobe.queue.depth",
		metric.WithDescription("Transfer queue fill level sampled at drain time."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSnapshotWrite records one serviced snapshot request with its outcome
// and duration in seconds.
func (m *Metrics) RecordSnapshotWrite(ctx context.Context, status string, seconds float64) {
	m.SnapshotWrites.Add(ctx, 1,
		metric.WithAttributes(Attr("status", status)),
	)
	m.SnapshotWriteDuration.Record(ctx, seconds)
}
