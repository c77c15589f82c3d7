package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/pluraal"
)

// MetricsHandler translates Pluraal evaluation events into OpenTelemetry
// metrics. It records counters and histograms for calculation executions,
// failures, branch decisions, and run durations.
type MetricsHandler struct {
	calcExecutions metric.Int64Counter
	calcFailures   metric.Int64Counter
	branchesTaken  metric.Int64Counter
	calcDuration   metric.Float64Histogram
	runDuration    metric.Float64Histogram
}

// NewMetricsHandler creates a MetricsHandler that uses the given meter to
// create instruments for recording evaluation metrics.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	calcExec, err := meter.Int64Counter("pluraal.calculation.executions",
		metric.WithDescription("Number of calculation evaluations"),
	)
	if err != nil {
		return nil, err
	}

	calcFail, err := meter.Int64Counter("pluraal.calculation.failures",
		metric.WithDescription("Number of calculation failures"),
	)
	if err != nil {
		return nil, err
	}

	branches, err := meter.Int64Counter("pluraal.branch.taken",
		metric.WithDescription("Number of branch alternatives taken"),
	)
	if err != nil {
		return nil, err
	}

	calcDur, err := meter.Float64Histogram("pluraal.calculation.duration",
		metric.WithDescription("Duration of calculation evaluation in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	runDur, err := meter.Float64Histogram("pluraal.run.duration",
		metric.WithDescription("Duration of scope evaluation in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		calcExecutions: calcExec,
		calcFailures:   calcFail,
		branchesTaken:  branches,
		calcDuration:   calcDur,
		runDuration:    runDur,
	}, nil
}

// Handle processes an evaluation event and records the appropriate metrics.
// It satisfies pluraal.EventHandler.
func (h *MetricsHandler) Handle(e pluraal.Event) {
	switch e.Kind {
	case pluraal.EventCalculationFinished:
		h.handleCalculationFinished(e)
	case pluraal.EventCalculationFailed:
		h.handleCalculationFailed(e)
	case pluraal.EventBranchTaken:
		h.handleBranchTaken(e)
	case pluraal.EventRunFinished, pluraal.EventRunFailed:
		h.handleRunEnded(e)
	}
}

// handleCalculationFinished increments the execution counter and records
// duration.
func (h *MetricsHandler) handleCalculationFinished(e pluraal.Event) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("calculation", e.Name),
	)
	h.calcExecutions.Add(ctx, 1, attrs)
	h.calcDuration.Record(ctx, e.Elapsed.Seconds(), attrs)
}

// handleCalculationFailed increments the failure counter.
func (h *MetricsHandler) handleCalculationFailed(e pluraal.Event) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("calculation", e.Name),
	)
	h.calcFailures.Add(ctx, 1, attrs)
}

// handleBranchTaken counts branch decisions by construct and alternative.
func (h *MetricsHandler) handleBranchTaken(e pluraal.Event) {
	ctx := context.Background()

	construct, _ := e.Payload["construct"].(string)
	taken, _ := e.Payload["taken"].(string)

	h.branchesTaken.Add(ctx, 1, metric.WithAttributes(
		attribute.String("calculation", e.Name),
		attribute.String("construct", construct),
		attribute.String("taken", taken),
	))
}

// handleRunEnded records the scope evaluation duration.
func (h *MetricsHandler) handleRunEnded(e pluraal.Event) {
	ctx := context.Background()
	status := "succeeded"
	if e.Kind == pluraal.EventRunFailed {
		status = "failed"
	}
	h.runDuration.Record(ctx, e.Elapsed.Seconds(), metric.WithAttributes(
		attribute.String("status", status),
	))
}
