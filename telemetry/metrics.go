package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// scope identifies the SDK's OTEL instrumentation scope.
const scope = "github.com/inletai/inlet-go"

type (
	// PredictionMetrics records OTEL metrics for prediction traffic. Uses the
	// global MeterProvider; configure it via otel.SetMeterProvider before
	// issuing predictions. The zero value is not usable; construct with
	// NewPredictionMetrics.
	PredictionMetrics struct {
		fragments     metric.Int64Counter
		outcomes      metric.Int64Counter
		firstFragment metric.Float64Histogram
	}
)

// NewPredictionMetrics constructs the prediction instruments from the global
// MeterProvider. Instrument creation errors are swallowed: metrics are a
// best-effort concern and must never fail a prediction.
func NewPredictionMetrics() *PredictionMetrics {
	meter := otel.Meter(scope)
	m := &PredictionMetrics{}
	m.fragments, _ = meter.Int64Counter("inlet.prediction.fragments",
		metric.WithDescription("Fragments received across all predictions"))
	m.outcomes, _ = meter.Int64Counter("inlet.prediction.outcomes",
		metric.WithDescription("Predictions reaching a terminal state, by outcome"))
	m.firstFragment, _ = meter.Float64Histogram("inlet.prediction.first_fragment_seconds",
		metric.WithDescription("Delay between channel open and first fragment"),
		metric.WithUnit("s"))
	return m
}

// RecordFragment counts one received fragment for the given model.
func (m *PredictionMetrics) RecordFragment(ctx context.Context, modelID string) {
	if m == nil || m.fragments == nil {
		return
	}
	m.fragments.Add(ctx, 1, metric.WithAttributes(attribute.String("model", modelID)))
}

// RecordOutcome counts one terminal transition ("succeeded", "failed" or
// "canceled") for the given model.
func (m *PredictionMetrics) RecordOutcome(ctx context.Context, modelID, outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("model", modelID),
		attribute.String("outcome", outcome),
	))
}

// RecordFirstFragment records the delay between channel open and the first
// fragment of a prediction.
func (m *PredictionMetrics) RecordFirstFragment(ctx context.Context, modelID string, delay time.Duration) {
	if m == nil || m.firstFragment == nil {
		return
	}
	m.firstFragment.Record(ctx, delay.Seconds(),
		metric.WithAttributes(attribute.String("model", modelID)))
}

// StartPredictionSpan opens a trace span covering one prediction, from entry
// point invocation to terminal transition. Uses the global TracerProvider.
func StartPredictionSpan(ctx context.Context, operation, modelID string) (context.Context, trace.Span) {
	return otel.Tracer(scope).Start(ctx, operation,
		trace.WithAttributes(attribute.String("model", modelID)))
}
