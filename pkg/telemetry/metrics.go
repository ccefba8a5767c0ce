package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce            sync.Once
	metricsInitErr         error
	recordCounter          metric.Int64Counter
	failureCounter         metric.Int64Counter
	recordLatencyHistogram metric.Float64Histogram
)

// CycleMetrics captures the fields recorded for one processing cycle.
type CycleMetrics struct {
	Action       string
	Relationship string
	Outcome      string
	Duration     time.Duration
}

// RecordCycleMetrics emits the counters and latency histogram for a cycle.
func RecordCycleMetrics(ctx context.Context, m CycleMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("record.action", m.Action),
		attribute.String("record.relationship", m.Relationship),
		attribute.String("record.outcome", m.Outcome),
	)

	recordCounter.Add(ctx, 1, attrs)
	if m.Outcome == "failure" {
		failureCounter.Add(ctx, 1, attrs)
	}
	if m.Duration > 0 {
		recordLatencyHistogram.Record(ctx, float64(m.Duration)/float64(time.Millisecond), attrs)
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("entities.engine")

		recordCounter, metricsInitErr = meter.Int64Counter(
			"entities.record.processed_total",
			metric.WithDescription("Records processed partitioned by action and relationship"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		failureCounter, metricsInitErr = meter.Int64Counter(
			"entities.record.failures_total",
			metric.WithDescription("Records routed to failure"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		recordLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"entities.record.duration_ms",
			metric.WithDescription("Observed processing cycle latency"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}

// ResetMetricsForTest clears cached instruments so tests can bind them to a
// fresh MeterProvider.
func ResetMetricsForTest() {
	metricsOnce = sync.Once{}
	metricsInitErr = nil
	recordCounter = nil
	failureCounter = nil
	recordLatencyHistogram = nil
}

// RecordRouting attaches a routing event to span. reason is only set on failure.
func RecordRouting(span trace.Span, relationship string, entities int, reason string) {
	if span == nil || !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("record.relationship", relationship),
	}
	if entities >= 0 {
		attrs = append(attrs, attribute.Int("record.entities.count", entities))
	}
	if reason != "" {
		attrs = append(attrs, attribute.String("record.failure_reason", reason))
	}

	span.AddEvent("record.routed", trace.WithAttributes(attrs...))
}
