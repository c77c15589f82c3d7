package otel_test

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/petal-labs/pluraal"
	pluraalotel "github.com/petal-labs/pluraal/otel"
)

// newTestMeter returns a meter backed by a manual reader for collecting metrics in tests.
func newTestMeter() (*metric.ManualReader, *metric.MeterProvider) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	return reader, mp
}

// collectMetrics reads all metrics from the reader.
func collectMetrics(t *testing.T, reader *metric.ManualReader) *metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return &rm
}

// findMetric searches for a metric by name in the collected data.
func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, scope := range rm.ScopeMetrics {
		for i := range scope.Metrics {
			if scope.Metrics[i].Name == name {
				return &scope.Metrics[i]
			}
		}
	}
	return nil
}

func TestMetricsHandler_CalculationFinishedIncrementsCounterAndRecordsHistogram(t *testing.T) {
	reader, mp := newTestMeter()
	meter := mp.Meter("test")

	h, err := pluraalotel.NewMetricsHandler(meter)
	if err != nil {
		t.Fatalf("NewMetricsHandler: %v", err)
	}

	now := time.Now()

	h.Handle(pluraal.Event{
		Kind:    pluraal.EventCalculationFinished,
		RunID:   "run-1",
		Name:    "isAdult",
		Time:    now,
		Elapsed: 150 * time.Millisecond,
	})
	h.Handle(pluraal.Event{
		Kind:    pluraal.EventCalculationFinished,
		RunID:   "run-1",
		Name:    "category",
		Time:    now.Add(100 * time.Millisecond),
		Elapsed: 50 * time.Millisecond,
	})

	rm := collectMetrics(t, reader)

	execMetric := findMetric(rm, "pluraal.calculation.executions")
	if execMetric == nil {
		t.Fatal("pluraal.calculation.executions metric not found")
	}
	sumData, ok := execMetric.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected Sum[int64] data, got %T", execMetric.Data)
	}
	// One data point per calculation name.
	if len(sumData.DataPoints) != 2 {
		t.Fatalf("expected 2 data points, got %d", len(sumData.DataPoints))
	}
	for _, dp := range sumData.DataPoints {
		if dp.Value != 1 {
			t.Errorf("expected counter value 1, got %d", dp.Value)
		}
	}

	durMetric := findMetric(rm, "pluraal.calculation.duration")
	if durMetric == nil {
		t.Fatal("pluraal.calculation.duration metric not found")
	}
	histData, ok := durMetric.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("expected Histogram[float64] data, got %T", durMetric.Data)
	}
	if len(histData.DataPoints) != 2 {
		t.Fatalf("expected 2 histogram data points, got %d", len(histData.DataPoints))
	}
	for _, dp := range histData.DataPoints {
		if dp.Count != 1 {
			t.Errorf("expected histogram count 1, got %d", dp.Count)
		}
	}
}

func TestMetricsHandler_CalculationFailedIncrementsFailureCounter(t *testing.T) {
	reader, mp := newTestMeter()
	meter := mp.Meter("test")

	h, err := pluraalotel.NewMetricsHandler(meter)
	if err != nil {
		t.Fatalf("NewMetricsHandler: %v", err)
	}

	now := time.Now()

	h.Handle(pluraal.Event{
		Kind:    pluraal.EventCalculationFailed,
		RunID:   "run-1",
		Name:    "broken",
		Time:    now,
		Elapsed: 10 * time.Millisecond,
		Payload: map[string]any{"error": "no rule matched"},
	})
	h.Handle(pluraal.Event{
		Kind:    pluraal.EventCalculationFailed,
		RunID:   "run-2",
		Name:    "broken",
		Time:    now.Add(100 * time.Millisecond),
		Elapsed: 20 * time.Millisecond,
		Payload: map[string]any{"error": "no rule matched"},
	})

	rm := collectMetrics(t, reader)

	failMetric := findMetric(rm, "pluraal.calculation.failures")
	if failMetric == nil {
		t.Fatal("pluraal.calculation.failures metric not found")
	}
	sumData, ok := failMetric.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected Sum[int64] data, got %T", failMetric.Data)
	}
	if len(sumData.DataPoints) != 1 {
		t.Fatalf("expected 1 data point (same attributes), got %d", len(sumData.DataPoints))
	}
	if sumData.DataPoints[0].Value != 2 {
		t.Errorf("expected failure counter value 2, got %d", sumData.DataPoints[0].Value)
	}

	nameFound := false
	for _, attr := range sumData.DataPoints[0].Attributes.ToSlice() {
		if string(attr.Key) == "calculation" && attr.Value.AsString() == "broken" {
			nameFound = true
		}
	}
	if !nameFound {
		t.Error("expected calculation attribute on failure counter")
	}
}

func TestMetricsHandler_BranchTakenCountsAlternatives(t *testing.T) {
	reader, mp := newTestMeter()
	meter := mp.Meter("test")

	h, err := pluraalotel.NewMetricsHandler(meter)
	if err != nil {
		t.Fatalf("NewMetricsHandler: %v", err)
	}

	now := time.Now()

	for range 3 {
		h.Handle(pluraal.Event{
			Kind:  pluraal.EventBranchTaken,
			RunID: "run-1",
			Name:  "action",
			Time:  now,
			Payload: map[string]any{
				"construct": "if",
				"taken":     "then",
			},
		})
	}

	rm := collectMetrics(t, reader)

	branchMetric := findMetric(rm, "pluraal.branch.taken")
	if branchMetric == nil {
		t.Fatal("pluraal.branch.taken metric not found")
	}
	sumData, ok := branchMetric.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected Sum[int64] data, got %T", branchMetric.Data)
	}
	if len(sumData.DataPoints) != 1 {
		t.Fatalf("expected 1 data point, got %d", len(sumData.DataPoints))
	}
	if sumData.DataPoints[0].Value != 3 {
		t.Errorf("expected branch counter value 3, got %d", sumData.DataPoints[0].Value)
	}
}

func TestMetricsHandler_RunEndedRecordsDuration(t *testing.T) {
	reader, mp := newTestMeter()
	meter := mp.Meter("test")

	h, err := pluraalotel.NewMetricsHandler(meter)
	if err != nil {
		t.Fatalf("NewMetricsHandler: %v", err)
	}

	now := time.Now()

	h.Handle(pluraal.Event{
		Kind:    pluraal.EventRunFinished,
		RunID:   "run-1",
		Time:    now,
		Elapsed: 2 * time.Second,
	})

	rm := collectMetrics(t, reader)

	runDurMetric := findMetric(rm, "pluraal.run.duration")
	if runDurMetric == nil {
		t.Fatal("pluraal.run.duration metric not found")
	}
	histData, ok := runDurMetric.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("expected Histogram[float64] data, got %T", runDurMetric.Data)
	}
	if len(histData.DataPoints) != 1 {
		t.Fatalf("expected 1 histogram data point, got %d", len(histData.DataPoints))
	}
	dp := histData.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("expected histogram count 1, got %d", dp.Count)
	}
	if dp.Sum != 2.0 {
		t.Errorf("expected histogram sum 2.0 (seconds), got %f", dp.Sum)
	}

	statusFound := false
	for _, attr := range dp.Attributes.ToSlice() {
		if string(attr.Key) == "status" && attr.Value.AsString() == "succeeded" {
			statusFound = true
		}
	}
	if !statusFound {
		t.Error("expected status attribute on run duration histogram")
	}
}

func TestMetricsHandler_IgnoresIrrelevantEvents(t *testing.T) {
	reader, mp := newTestMeter()
	meter := mp.Meter("test")

	h, err := pluraalotel.NewMetricsHandler(meter)
	if err != nil {
		t.Fatalf("NewMetricsHandler: %v", err)
	}

	now := time.Now()

	h.Handle(pluraal.Event{Kind: pluraal.EventRunStarted, RunID: "run-1", Time: now})
	h.Handle(pluraal.Event{Kind: pluraal.EventInputValidated, RunID: "run-1", Name: "age", Time: now})
	h.Handle(pluraal.Event{Kind: pluraal.EventCalculationStarted, RunID: "run-1", Name: "c1", Time: now})

	rm := collectMetrics(t, reader)

	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					if dp.Value != 0 {
						t.Errorf("expected no metrics recorded, but %s has value %d", m.Name, dp.Value)
					}
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					if dp.Count != 0 {
						t.Errorf("expected no metrics recorded, but %s has count %d", m.Name, dp.Count)
					}
				}
			}
		}
	}
}
