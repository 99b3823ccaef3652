// Package observe provides application-wide observability primitives for
// the voice service: OpenTelemetry metrics, tracing, structured logging and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] and scraped through
// [MetricsHandler]. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/wmaitre1/teen-adhd-assistan-sub000"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// SynthesisDuration tracks how long an utterance took from dequeue to
	// the end of playback.
	SynthesisDuration metric.Float64Histogram

	// RecognitionCycleDuration tracks the length of one capture cycle.
	RecognitionCycleDuration metric.Float64Histogram

	// --- Counters ---

	// Transcripts counts final transcripts by consumer. Use with attribute:
	//   attribute.String("consumer", "interpreter"|"dictation")
	Transcripts metric.Int64Counter

	// CommandResults counts interpreter results. Use with attributes:
	//   attribute.String("kind", "navigation"|"action"|"failure"),
	//   attribute.String("name", ...)
	CommandResults metric.Int64Counter

	// Utterances counts finished utterances. Use with attribute:
	//   attribute.String("status", "completed"|"interrupted"|"failed")
	Utterances metric.Int64Counter

	// FormSubmissions counts completed dictation dialogues. Use with attribute:
	//   attribute.String("form", ...)
	FormSubmissions metric.Int64Counter

	// ProviderRequests counts engine calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// --- Error counters ---

	// RecognitionErrors counts recognition failures. Use with attribute:
	//   attribute.String("code", ...)
	RecognitionErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveDialogues is 1 while a dictation dialogue is in progress.
	ActiveDialogues metric.Int64UpDownCounter

	// QueuedUtterances tracks utterances waiting in the synthesis queue.
	QueuedUtterances metric.Int64UpDownCounter

	// BridgeClients tracks connected UI clients.
	BridgeClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time, labelled with
	// method, route and status by [Middleware].
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Spoken
// feedback lasts seconds, not milliseconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SynthesisDuration, err = m.Float64Histogram("focusvoice.synthesis.duration",
		metric.WithDescription("Time from utterance start to end of playback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecognitionCycleDuration, err = m.Float64Histogram("focusvoice.recognition.cycle.duration",
		metric.WithDescription("Length of one microphone capture cycle."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Transcripts, err = m.Int64Counter("focusvoice.transcripts",
		metric.WithDescription("Final transcripts routed, by consumer."),
	); err != nil {
		return nil, err
	}
	if met.CommandResults, err = m.Int64Counter("focusvoice.command.results",
		metric.WithDescription("Interpreter results by kind and name."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("focusvoice.utterances",
		metric.WithDescription("Finished utterances by status."),
	); err != nil {
		return nil, err
	}
	if met.FormSubmissions, err = m.Int64Counter("focusvoice.form.submissions",
		metric.WithDescription("Completed dictation dialogues by form."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("focusvoice.provider.requests",
		metric.WithDescription("Engine requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("focusvoice.provider.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by provider and new state."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.RecognitionErrors, err = m.Int64Counter("focusvoice.recognition.errors",
		metric.WithDescription("Recognition failures by error code."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveDialogues, err = m.Int64UpDownCounter("focusvoice.active_dialogues",
		metric.WithDescription("Dictation dialogues in progress."),
	); err != nil {
		return nil, err
	}
	if met.QueuedUtterances, err = m.Int64UpDownCounter("focusvoice.queued_utterances",
		metric.WithDescription("Utterances waiting in the synthesis queue."),
	); err != nil {
		return nil, err
	}
	if met.BridgeClients, err = m.Int64UpDownCounter("focusvoice.bridge.clients",
		metric.WithDescription("Connected UI bridge clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("focusvoice.http.request.duration",
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// RecordTranscript counts a final transcript handed to consumer.
func (m *Metrics) RecordTranscript(ctx context.Context, consumer string) {
	m.Transcripts.Add(ctx, 1, metric.WithAttributes(attribute.String("consumer", consumer)))
}

// RecordCommandResult counts an interpreter result.
func (m *Metrics) RecordCommandResult(ctx context.Context, kind, name string) {
	m.CommandResults.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("name", name),
		),
	)
}

// RecordUtterance counts a finished utterance and records its duration.
func (m *Metrics) RecordUtterance(ctx context.Context, status string, d time.Duration) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.SynthesisDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}

// RecordRecognitionError counts a recognition failure.
func (m *Metrics) RecordRecognitionError(ctx context.Context, code string) {
	m.RecognitionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}

// RecordFormSubmission counts a completed dictation dialogue.
func (m *Metrics) RecordFormSubmission(ctx context.Context, form string) {
	m.FormSubmissions.Add(ctx, 1, metric.WithAttributes(attribute.String("form", form)))
}

// RecordProviderRequest records an engine request with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordBreakerTransition counts a circuit breaker moving to state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, kind, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("state", state),
		),
	)
}
