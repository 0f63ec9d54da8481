// Package observe provides application-wide observability primitives for
// intervue: OpenTelemetry metrics, distributed tracing, trace-aware logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] and served by [Handler] on
// /metrics. A package-level default [Metrics] instance ([DefaultMetrics]) is
// provided for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all intervue metrics.
const meterName = "github.com/MrWong99/intervue"

// Analysis outcomes reported through [Metrics.RecordAnalysis].
const (
	OutcomeOK       = "ok"
	OutcomeFallback = "fallback"
	OutcomeRejected = "rejected"
)

// Relay message statuses reported through [Metrics.RecordRelayMessage].
const (
	RelayEchoed  = "echoed"
	RelayDropped = "dropped"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// LLMDuration tracks model completion latency.
	LLMDuration metric.Float64Histogram

	// AnalyzeRequests counts analysis calls. Use with attributes:
	//   attribute.String("outcome", ...), attribute.String("contract", ...)
	AnalyzeRequests metric.Int64Counter

	// ProviderErrors counts failed model calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// SectionRepairs counts placeholder sections appended to model replies.
	// Use with attribute:
	//   attribute.String("heading", ...)
	SectionRepairs metric.Int64Counter

	// RelayMessages counts inbound transcript relay messages. Use with attribute:
	//   attribute.String("status", ...)
	RelayMessages metric.Int64Counter

	// ActiveConnections tracks open transcript relay connections.
	ActiveConnections metric.Int64UpDownCounter

	// ActiveSessions tracks interview sessions held in memory.
	ActiveSessions metric.Int64UpDownCounter

	// BreakerTransitions counts circuit breaker state changes per model
	// provider. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...),
	//   attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Model
// completions for a structured critique commonly take several seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.LLMDuration, err = m.Float64Histogram("intervue.llm.duration",
		metric.WithDescription("Latency of model completions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.AnalyzeRequests, err = m.Int64Counter("intervue.analyze.requests",
		metric.WithDescription("Total analysis requests by outcome and contract."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("intervue.provider.errors",
		metric.WithDescription("Total model provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.SectionRepairs, err = m.Int64Counter("intervue.analysis.section_repairs",
		metric.WithDescription("Total placeholder sections appended to model replies."),
	); err != nil {
		return nil, err
	}
	if met.RelayMessages, err = m.Int64Counter("intervue.relay.messages",
		metric.WithDescription("Total transcript relay messages by status."),
	); err != nil {
		return nil, err
	}

	if met.ActiveConnections, err = m.Int64UpDownCounter("intervue.relay.active_connections",
		metric.WithDescription("Number of open transcript relay connections."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("intervue.active_sessions",
		metric.WithDescription("Number of interview sessions held in memory."),
	); err != nil {
		return nil, err
	}

	if met.BreakerTransitions, err = m.Int64Counter("intervue.provider.breaker_transitions",
		metric.WithDescription("Circuit breaker state changes by provider and new state."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("intervue.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

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

// RecordAnalysis increments the analysis counter for one finished request.
func (m *Metrics) RecordAnalysis(ctx context.Context, contract, outcome string) {
	m.AnalyzeRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("contract", contract),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordProviderError increments the provider error counter.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordSectionRepair increments the repair counter for one appended heading.
func (m *Metrics) RecordSectionRepair(ctx context.Context, heading string) {
	m.SectionRepairs.Add(ctx, 1,
		metric.WithAttributes(attribute.String("heading", heading)),
	)
}

// RecordRelayMessage increments the relay message counter.
func (m *Metrics) RecordRelayMessage(ctx context.Context, status string) {
	m.RelayMessages.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordBreakerTransition counts one breaker of provider moving to state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("state", state),
		),
	)
}
