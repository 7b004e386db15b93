// Package observe provides application-wide observability primitives for
// consultvox: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware and transport wrappers that tie them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped from the /metrics endpoint. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all consultvox metrics.
const meterName = "github.com/MrWong99/consultvox"

// Turn outcomes recorded by [Metrics.RecordTurn].
const (
	OutcomeDispatched = "dispatched"
	OutcomeNoSpeech   = "no_speech"
	OutcomeError      = "error"
	OutcomeCancelled  = "cancelled"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// TurnDuration tracks how long a voice turn spent capturing, from
	// listening start to finalisation.
	TurnDuration metric.Float64Histogram

	// DispatchDuration tracks the round trip of a spoken question to the
	// backend.
	DispatchDuration metric.Float64Histogram

	// UploadDuration tracks ambient recording uploads.
	UploadDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts finished voice turns. Use with attribute:
	//   attribute.String("outcome", ...)
	Turns metric.Int64Counter

	// Questions counts questions asked. Use with attributes:
	//   attribute.String("mode", "text"|"voice"), attribute.String("status", ...)
	Questions metric.Int64Counter

	// Playbacks counts answer playbacks. Use with attribute:
	//   attribute.String("status", ...)
	Playbacks metric.Int64Counter

	// SummaryPolls counts summary fetches. Use with attribute:
	//   attribute.String("status", ...)
	SummaryPolls metric.Int64Counter

	// --- Error counters ---

	// CaptureFailures counts microphone acquisition failures. Use with
	// attribute:
	//   attribute.String("reason", ...)
	CaptureFailures metric.Int64Counter

	// --- Gauges ---

	// LiveMode is 1 while hands-free mode is enabled.
	LiveMode metric.Int64UpDownCounter

	// ActiveCaptures tracks the number of open microphone streams.
	ActiveCaptures metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// spoken turns and backend transcription round trips.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TurnDuration, err = m.Float64Histogram("consultvox.voice_turn.duration",
		metric.WithDescription("Capture time of a voice turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DispatchDuration, err = m.Float64Histogram("consultvox.dispatch.duration",
		metric.WithDescription("Round trip of a spoken question to the backend."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UploadDuration, err = m.Float64Histogram("consultvox.upload.duration",
		metric.WithDescription("Latency of ambient recording uploads."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Turns, err = m.Int64Counter("consultvox.voice_turns",
		metric.WithDescription("Finished voice turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Questions, err = m.Int64Counter("consultvox.questions",
		metric.WithDescription("Questions asked by mode and status."),
	); err != nil {
		return nil, err
	}
	if met.Playbacks, err = m.Int64Counter("consultvox.playbacks",
		metric.WithDescription("Answer playbacks by status."),
	); err != nil {
		return nil, err
	}
	if met.SummaryPolls, err = m.Int64Counter("consultvox.summary.polls",
		metric.WithDescription("Summary fetches by status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.CaptureFailures, err = m.Int64Counter("consultvox.capture.failures",
		metric.WithDescription("Microphone acquisition failures by reason."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.LiveMode, err = m.Int64UpDownCounter("consultvox.live_mode",
		metric.WithDescription("1 while hands-free mode is enabled."),
	); err != nil {
		return nil, err
	}
	if met.ActiveCaptures, err = m.Int64UpDownCounter("consultvox.active_captures",
		metric.WithDescription("Number of open microphone streams."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("consultvox.http.request.duration",
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

// Status returns "ok" for a nil error and "error" otherwise.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordTurn records a finished voice turn with its outcome.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordQuestion records a question counter increment.
func (m *Metrics) RecordQuestion(ctx context.Context, mode, status string) {
	m.Questions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("status", status),
		),
	)
}

// RecordPlayback records an answer playback with its status.
func (m *Metrics) RecordPlayback(ctx context.Context, status string) {
	m.Playbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordSummaryPoll records one summary fetch.
func (m *Metrics) RecordSummaryPoll(ctx context.Context, status string) {
	m.SummaryPolls.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordCaptureFailure records a microphone acquisition failure.
func (m *Metrics) RecordCaptureFailure(ctx context.Context, reason string) {
	m.CaptureFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
