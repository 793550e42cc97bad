// Package observe provides application-wide observability primitives for
// Scrivener: OpenTelemetry metrics, tracing helpers, and HTTP middleware
// that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Scrivener metrics.
const meterName = "github.com/openmux/scrivener"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Counters ---

	// ScenesStarted counts scene starts. Use with attribute:
	//   attribute.String("visibility", ...)
	ScenesStarted metric.Int64Counter

	// ScenesCompleted counts scene completions. Use with attributes:
	//   attribute.String("visibility", ...), attribute.Bool("auto", ...)
	ScenesCompleted metric.Int64Counter

	// EntriesAppended counts captured entries. Use with attribute:
	//   attribute.String("kind", ...)
	EntriesAppended metric.Int64Counter

	// --- Error counters ---

	// AppendFailures counts entries dropped because capture failed.
	AppendFailures metric.Int64Counter

	// AutoCloseFailures counts auto-closure attempts that will be retried
	// on a later event.
	AutoCloseFailures metric.Int64Counter

	// --- Gauges ---

	// ActiveScenes tracks the number of currently recording scenes.
	ActiveScenes metric.Int64UpDownCounter

	// PresentParticipants tracks actors currently present across all
	// active scenes.
	PresentParticipants metric.Int64UpDownCounter

	// LiveFeedSubscribers tracks open live transcript feeds.
	LiveFeedSubscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for the
// HTTP surface.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.ScenesStarted, err = m.Int64Counter("scrivener.scenes.started",
		metric.WithDescription("Total scenes started by visibility."),
	); err != nil {
		return nil, err
	}
	if met.ScenesCompleted, err = m.Int64Counter("scrivener.scenes.completed",
		metric.WithDescription("Total scenes completed by visibility and auto-closed flag."),
	); err != nil {
		return nil, err
	}
	if met.EntriesAppended, err = m.Int64Counter("scrivener.entries.appended",
		metric.WithDescription("Total transcript entries appended by kind."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.AppendFailures, err = m.Int64Counter("scrivener.entries.append_failures",
		metric.WithDescription("Total entries dropped because the append failed."),
	); err != nil {
		return nil, err
	}
	if met.AutoCloseFailures, err = m.Int64Counter("scrivener.scenes.autoclose_failures",
		metric.WithDescription("Total failed auto-closure attempts pending retry."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveScenes, err = m.Int64UpDownCounter("scrivener.active_scenes",
		metric.WithDescription("Number of currently recording scenes."),
	); err != nil {
		return nil, err
	}
	if met.PresentParticipants, err = m.Int64UpDownCounter("scrivener.present_participants",
		metric.WithDescription("Number of actors currently present across active scenes."),
	); err != nil {
		return nil, err
	}
	if met.LiveFeedSubscribers, err = m.Int64UpDownCounter("scrivener.live_feed.subscribers",
		metric.WithDescription("Number of open live transcript feeds."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("scrivener.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
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
			panic("observe: create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}
