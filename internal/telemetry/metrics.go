package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric instrument names.
const (
	MetricExecutions = "sddrun.executions"
	MetricRejections = "sddrun.rejections"
	MetricDuration   = "sddrun.execution.duration"
	MetricInFlight   = "sddrun.executions.in_flight"
)

// ExecutionMetrics records per-execution counters and latency.
type ExecutionMetrics struct {
	executions metric.Int64Counter
	rejections metric.Int64Counter
	duration   metric.Float64Histogram
	inFlight   metric.Int64UpDownCounter
}

// NewExecutionMetrics registers the execution instruments on meter.
func NewExecutionMetrics(meter metric.Meter) (*ExecutionMetrics, error) {
	executions, err := meter.Int64Counter(MetricExecutions,
		metric.WithDescription("Executions that produced a result"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricExecutions, err)
	}
	rejections, err := meter.Int64Counter(MetricRejections,
		metric.WithDescription("Requests rejected before execution"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricRejections, err)
	}
	duration, err := meter.Float64Histogram(MetricDuration,
		metric.WithDescription("Wall-clock time from request acceptance to result"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricDuration, err)
	}
	inFlight, err := meter.Int64UpDownCounter(MetricInFlight,
		metric.WithDescription("Executions currently running"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricInFlight, err)
	}
	return &ExecutionMetrics{
		executions: executions,
		rejections: rejections,
		duration:   duration,
		inFlight:   inFlight,
	}, nil
}

// RecordExecution counts one finished execution and its duration.
func (m *ExecutionMetrics) RecordExecution(ctx context.Context, command, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(AttrCommand, command),
		attribute.String(AttrOutcome, outcome),
	)
	m.executions.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(d.Microseconds())/1000.0, attrs)
}

// RecordRejection counts one rejected request.
func (m *ExecutionMetrics) RecordRejection(ctx context.Context, reason string) {
	m.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// AddInFlight adjusts the running-executions gauge.
func (m *ExecutionMetrics) AddInFlight(ctx context.Context, delta int64) {
	m.inFlight.Add(ctx, delta)
}
