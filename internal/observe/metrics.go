// Package observe provides application-wide observability primitives for
// Sous: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all Sous metrics.
const meterName = "github.com/shgupte/sous"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// AgentConnectDuration tracks how long establishing an upstream voice
	// agent session takes.
	AgentConnectDuration metric.Float64Histogram

	// EmbeddingDuration tracks embedding API latency.
	EmbeddingDuration metric.Float64Histogram

	// RetrievalDuration tracks recipe chunk retrieval latency.
	RetrievalDuration metric.Float64Histogram

	// ParseDuration tracks recipe page/transcript parsing latency.
	ParseDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// AudioFramesIn counts audio frames relayed from clients to the agent.
	AudioFramesIn metric.Int64Counter

	// AudioFramesOut counts audio frames relayed from the agent to clients.
	AudioFramesOut metric.Int64Counter

	// FunctionCalls counts agent function-call invocations. Use with
	// attributes: attribute.String("function", ...), attribute.String("status", ...)
	FunctionCalls metric.Int64Counter

	// RecipesStored counts recipes written to the store. Use with attribute:
	//   attribute.String("source", ...) — "text", "web", or "youtube"
	RecipesStored metric.Int64Counter

	// AgentErrors counts upstream agent failures. Use with attribute:
	//   attribute.String("kind", ...)
	AgentErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveVoiceSessions tracks the number of live voice relay sessions.
	ActiveVoiceSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
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
	if met.AgentConnectDuration, err = m.Float64Histogram("sous.agent.connect.duration",
		metric.WithDescription("Latency of establishing an upstream voice agent session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmbeddingDuration, err = m.Float64Histogram("sous.embedding.duration",
		metric.WithDescription("Latency of embedding API calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RetrievalDuration, err = m.Float64Histogram("sous.retrieval.duration",
		metric.WithDescription("Latency of recipe chunk retrieval."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ParseDuration, err = m.Float64Histogram("sous.parse.duration",
		metric.WithDescription("Latency of recipe page and transcript parsing."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("sous.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.AudioFramesIn, err = m.Int64Counter("sous.audio.frames.in",
		metric.WithDescription("Audio frames relayed from clients to the voice agent."),
	); err != nil {
		return nil, err
	}
	if met.AudioFramesOut, err = m.Int64Counter("sous.audio.frames.out",
		metric.WithDescription("Audio frames relayed from the voice agent to clients."),
	); err != nil {
		return nil, err
	}
	if met.FunctionCalls, err = m.Int64Counter("sous.agent.function_calls",
		metric.WithDescription("Agent function-call invocations by function name and status."),
	); err != nil {
		return nil, err
	}
	if met.RecipesStored, err = m.Int64Counter("sous.recipes.stored",
		metric.WithDescription("Recipes written to the store by source."),
	); err != nil {
		return nil, err
	}
	if met.AgentErrors, err = m.Int64Counter("sous.agent.errors",
		metric.WithDescription("Upstream voice agent failures by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveVoiceSessions, err = m.Int64UpDownCounter("sous.active_voice_sessions",
		metric.WithDescription("Number of live voice relay sessions."),
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

// RecordFunctionCall records a function-call counter increment with the
// standard attribute set.
func (m *Metrics) RecordFunctionCall(ctx context.Context, function, status string) {
	m.FunctionCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("function", function),
			attribute.String("status", status),
		),
	)
}

// RecordRecipeStored records a stored-recipe counter increment.
func (m *Metrics) RecordRecipeStored(ctx context.Context, source string) {
	m.RecipesStored.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)),
	)
}

// RecordAgentError records an agent error counter increment.
func (m *Metrics) RecordAgentError(ctx context.Context, kind string) {
	m.AgentErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
