package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestExecutionMetrics_Record(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewExecutionMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.AddInFlight(ctx, 1)
	m.RecordExecution(ctx, "sdd-fix", "succeeded", 120*time.Millisecond)
	m.RecordExecution(ctx, "sdd-fix", "succeeded", 80*time.Millisecond)
	m.RecordRejection(ctx, "invalid_command")
	m.AddInFlight(ctx, -1)

	got := collect(t, reader)

	executions, ok := got[MetricExecutions].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, executions.DataPoints, 1)
	require.Equal(t, int64(2), executions.DataPoints[0].Value)

	rejections, ok := got[MetricRejections].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Equal(t, int64(1), rejections.DataPoints[0].Value)

	duration, ok := got[MetricDuration].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, duration.DataPoints, 1)
	require.Equal(t, uint64(2), duration.DataPoints[0].Count)
	require.InDelta(t, 200.0, duration.DataPoints[0].Sum, 0.001)

	inFlight, ok := got[MetricInFlight].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Equal(t, int64(0), inFlight.DataPoints[0].Value)
}
