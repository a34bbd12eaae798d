// Package observe provides application-wide observability primitives for
// Kinesia: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Kinesia metrics.
const meterName = "github.com/kinesia-ai/kinesia"

// Metrics holds all OpenTelemetry metric instruments for the session core.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks how long a successful connection attempt took,
	// from dial to setup acknowledgement.
	ConnectDuration metric.Float64Histogram

	// ProbeRoundTrip tracks health-probe round-trip latency.
	ProbeRoundTrip metric.Float64Histogram

	// --- Counters ---

	// ConnectionAttempts counts connection attempts. Use with attribute:
	//   attribute.String("outcome", "success"|"failure")
	ConnectionAttempts metric.Int64Counter

	// Reconnects counts automatic reconnect cycles.
	Reconnects metric.Int64Counter

	// DroppedAudioMessages counts audio envelopes evicted from the send
	// queue under pressure.
	DroppedAudioMessages metric.Int64Counter

	// DroppedFrames counts capture frames discarded by the pipeline.
	DroppedFrames metric.Int64Counter

	// BargeIns counts emitted barge-in events.
	BargeIns metric.Int64Counter

	// ProtocolErrors counts malformed inbound envelopes.
	ProtocolErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live coaching sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- Distributions ---

	// AudioQuality records the rolling 0–1 capture quality score.
	AudioQuality metric.Float64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// realtime-session latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ConnectDuration, err = m.Float64Histogram("kinesia.connect.duration",
		metric.WithDescription("Latency of successful connection attempts."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProbeRoundTrip, err = m.Float64Histogram("kinesia.probe.round_trip",
		metric.WithDescription("Health-probe round-trip latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ConnectionAttempts, err = m.Int64Counter("kinesia.connection.attempts",
		metric.WithDescription("Total connection attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("kinesia.connection.reconnects",
		metric.WithDescription("Total automatic reconnect cycles."),
	); err != nil {
		return nil, err
	}
	if met.DroppedAudioMessages, err = m.Int64Counter("kinesia.send_queue.dropped_audio",
		metric.WithDescription("Audio envelopes evicted from the send queue under pressure."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("kinesia.audio.dropped_frames",
		metric.WithDescription("Capture frames discarded by the pipeline."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("kinesia.audio.barge_ins",
		metric.WithDescription("Barge-in events emitted."),
	); err != nil {
		return nil, err
	}
	if met.ProtocolErrors, err = m.Int64Counter("kinesia.protocol.errors",
		metric.WithDescription("Malformed inbound envelopes."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("kinesia.active_sessions",
		metric.WithDescription("Number of live coaching sessions."),
	); err != nil {
		return nil, err
	}

	// Distributions.
	if met.AudioQuality, err = m.Float64Histogram("kinesia.audio.quality",
		metric.WithDescription("Rolling capture quality score (0-1)."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("kinesia.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// RecordConnectionAttempt records one connection attempt with its outcome.
func (m *Metrics) RecordConnectionAttempt(ctx context.Context, outcome string) {
	m.ConnectionAttempts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}
