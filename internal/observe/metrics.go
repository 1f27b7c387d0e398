// Package observe provides the observability layer for Voxloop: OpenTelemetry
// metric instruments, the VUI (voice user interface) latency trackers, and
// the Prometheus-backed meter provider.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so metrics can be scraped
// from the standard /metrics endpoint. A package-level default [Metrics]
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

// meterName is the instrumentation scope name used for all Voxloop metrics.
const meterName = "github.com/voxloop/voxloop"

// MetricType names a VUI metric event.
type MetricType string

const (
	MetricTTFA           MetricType = "TTFA"
	MetricRoutingLatency MetricType = "ROUTING_LATENCY"
	MetricSilence        MetricType = "SILENCE_DURATION"
	MetricToolExecution  MetricType = "TOOL_EXECUTION"
	MetricFillerPlayed   MetricType = "FILLER_PLAYED"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- VUI latency histograms ---

	// TTFADuration tracks time from end of user utterance to the first
	// audio frame sent back.
	TTFADuration metric.Float64Histogram

	// RoutingDuration tracks agent-switch latency, from routing decision to
	// the new agent becoming active.
	RoutingDuration metric.Float64Histogram

	// SilenceDuration tracks silence episodes that exceeded the warning
	// threshold.
	SilenceDuration metric.Float64Histogram

	// ToolExecutionDuration tracks wall-clock time around one tool call.
	ToolExecutionDuration metric.Float64Histogram

	// FillerDuration tracks how long filler utterances played.
	FillerDuration metric.Float64Histogram

	// --- Counters ---

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// AgentSwitches counts agent switches by source and target.
	AgentSwitches metric.Int64Counter

	// Interventions counts observer interventions by type.
	Interventions metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of live calls.
	ActiveCalls metric.Int64UpDownCounter
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

	if met.TTFADuration, err = m.Float64Histogram("voxloop.ttfa.duration",
		metric.WithDescription("Time from end of user utterance to first audio frame sent."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RoutingDuration, err = m.Float64Histogram("voxloop.routing.duration",
		metric.WithDescription("Latency of an agent switch."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SilenceDuration, err = m.Float64Histogram("voxloop.silence.duration",
		metric.WithDescription("Duration of silence episodes that crossed the warning threshold."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("voxloop.tool_execution.duration",
		metric.WithDescription("Wall-clock latency of one tool invocation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FillerDuration, err = m.Float64Histogram("voxloop.filler.duration",
		metric.WithDescription("Duration of filler utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ToolCalls, err = m.Int64Counter("voxloop.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.AgentSwitches, err = m.Int64Counter("voxloop.agent.switches",
		metric.WithDescription("Total agent switches by source and target."),
	); err != nil {
		return nil, err
	}
	if met.Interventions, err = m.Int64Counter("voxloop.interventions",
		metric.WithDescription("Total observer interventions by type."),
	); err != nil {
		return nil, err
	}

	if met.ActiveCalls, err = m.Int64UpDownCounter("voxloop.active_calls",
		metric.WithDescription("Number of live calls."),
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

// RecordToolCall records a tool call counter increment with the standard
// attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordAgentSwitch records an agent switch counter increment.
func (m *Metrics) RecordAgentSwitch(ctx context.Context, from, to string) {
	m.AgentSwitches.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordIntervention records an intervention counter increment.
func (m *Metrics) RecordIntervention(ctx context.Context, typ string) {
	m.Interventions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", typ)),
	)
}
