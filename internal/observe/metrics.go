// Package observe provides the observability primitives for echovox:
// OpenTelemetry metrics, tracing, trace-aware logging and the HTTP middleware
// that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped from
// /metrics through the Prometheus exporter bridge set up by [InitProvider].
// [Metrics] also implements the observer hooks of the clip cache and the
// voice session manager, so those packages stay free of OTel imports. Tests
// should use [NewMetrics] with a ManualReader-backed provider to avoid
// cross-test pollution.
package observe

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all echovox metrics.
const meterName = "github.com/MrWong99/echovox"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// SynthesisDuration tracks how long a cache miss took to synthesize and
	// store. Attribute "status" is "ok" or "error".
	SynthesisDuration metric.Float64Histogram

	// PlaybackDuration tracks how long a clip played in a voice channel.
	PlaybackDuration metric.Float64Histogram

	// LLMDuration tracks ;ask completion latency.
	LLMDuration metric.Float64Histogram

	// --- Counters ---

	// CacheLookups counts clip cache lookups. Attribute "result" is "hit" or
	// "miss".
	CacheLookups metric.Int64Counter

	// ProviderRequests counts provider API calls. Attributes: provider, kind,
	// status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// IdleDisconnects counts voice channels left because nobody was
	// listening.
	IdleDisconnects metric.Int64Counter

	// Replies counts finished requests by outcome ("succeeded", "failed").
	Replies metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Attributes:
	// name, to.
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of connected voice channels.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram bucket boundaries in seconds. Synthesis of a
// long message and playback of a full clip both sit in the upper range.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SynthesisDuration, err = m.Float64Histogram("echovox.tts.synthesis.duration",
		metric.WithDescription("Latency of clip synthesis on a cache miss."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("echovox.playback.duration",
		metric.WithDescription("Time spent playing a clip in a voice channel."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("echovox.llm.duration",
		metric.WithDescription("Latency of LLM completions for ;ask."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.CacheLookups, err = m.Int64Counter("echovox.cache.lookups",
		metric.WithDescription("Clip cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("echovox.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("echovox.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.IdleDisconnects, err = m.Int64Counter("echovox.session.idle_disconnects",
		metric.WithDescription("Voice channels left because no human was listening."),
	); err != nil {
		return nil, err
	}
	if met.Replies, err = m.Int64Counter("echovox.replies",
		metric.WithDescription("Finished requests by outcome."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("echovox.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and target state."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("echovox.active_sessions",
		metric.WithDescription("Number of connected voice channels."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("echovox.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

func status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

// RecordProviderRequest records one provider call. A non-nil err also bumps
// [Metrics.ProviderErrors].
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind string, err error) {
	st := status(err)
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", st),
	))
	if st == "error" {
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		))
	}
}

// RecordReply counts a finished request.
func (m *Metrics) RecordReply(ctx context.Context, succeeded bool) {
	result := "failed"
	if succeeded {
		result = "succeeded"
	}
	m.Replies.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordBreakerTransition counts a circuit breaker moving to state to.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("name", name),
		attribute.String("to", to),
	))
}

// CacheResult implements the clip cache observer.
func (m *Metrics) CacheResult(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// SynthesisDone implements the clip cache observer.
func (m *Metrics) SynthesisDone(ctx context.Context, elapsed time.Duration, err error) {
	m.SynthesisDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("status", status(err))))
	m.RecordProviderRequest(ctx, "tts", "synthesize", err)
}

// PlaybackDone implements the session observer.
func (m *Metrics) PlaybackDone(ctx context.Context, _ string, d time.Duration, err error) {
	m.PlaybackDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("status", status(err))))
}

// ConnectionsChanged implements the session observer.
func (m *Metrics) ConnectionsChanged(ctx context.Context, delta int) {
	m.ActiveSessions.Add(ctx, int64(delta))
}

// IdleDisconnect implements the session observer.
func (m *Metrics) IdleDisconnect(ctx context.Context, _ string) {
	m.IdleDisconnects.Add(ctx, 1)
}
