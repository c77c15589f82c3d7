// Package otel provides OpenTelemetry integration for Pluraal evaluation events.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/pluraal"
)

// TracingHandler translates Pluraal evaluation events into OpenTelemetry
// spans. It maintains maps of active run and calculation spans, creating and
// ending them based on event kind.
type TracingHandler struct {
	tracer trace.Tracer

	mu        sync.RWMutex
	runSpans  map[string]trace.Span      // runID -> span
	runCtxs   map[string]context.Context // runID -> context (for child spans)
	calcSpans map[string]trace.Span      // runID:calculation -> span
}

// NewTracingHandler creates a new TracingHandler that uses the given tracer
// to create spans from evaluation events.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer:    tracer,
		runSpans:  make(map[string]trace.Span),
		runCtxs:   make(map[string]context.Context),
		calcSpans: make(map[string]trace.Span),
	}
}

// Handle processes an evaluation event and creates or ends spans accordingly.
// It satisfies pluraal.EventHandler.
func (h *TracingHandler) Handle(e pluraal.Event) {
	switch e.Kind {
	case pluraal.EventRunStarted:
		h.handleRunStarted(e)
	case pluraal.EventInputValidated:
		h.handleInputValidated(e)
	case pluraal.EventCalculationStarted:
		h.handleCalculationStarted(e)
	case pluraal.EventCalculationFinished:
		h.handleCalculationFinished(e)
	case pluraal.EventCalculationFailed:
		h.handleCalculationFailed(e)
	case pluraal.EventBranchTaken:
		h.handleBranchTaken(e)
	case pluraal.EventRunFinished:
		h.handleRunEnded(e, false)
	case pluraal.EventRunFailed:
		h.handleRunEnded(e, true)
	}
}

// handleRunStarted creates a root span for the run.
func (h *TracingHandler) handleRunStarted(e pluraal.Event) {
	ctx, span := h.tracer.Start(context.Background(), "run:"+e.RunID,
		trace.WithAttributes(
			attribute.String("pluraal.run_id", e.RunID),
		),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.runSpans[e.RunID] = span
	h.runCtxs[e.RunID] = ctx
	h.mu.Unlock()
}

// handleInputValidated records input gating as a span event on the run span.
func (h *TracingHandler) handleInputValidated(e pluraal.Event) {
	h.mu.RLock()
	span, ok := h.runSpans[e.RunID]
	h.mu.RUnlock()

	if !ok {
		return
	}
	span.AddEvent(string(e.Kind),
		trace.WithTimestamp(e.Time),
		trace.WithAttributes(attribute.String("pluraal.input", e.Name)),
	)
}

// handleCalculationStarted creates a child span under the run span.
func (h *TracingHandler) handleCalculationStarted(e pluraal.Event) {
	h.mu.RLock()
	parentCtx, ok := h.runCtxs[e.RunID]
	h.mu.RUnlock()

	if !ok {
		// No parent run span; start from background context.
		parentCtx = context.Background()
	}

	_, span := h.tracer.Start(parentCtx, "calculation:"+e.Name,
		trace.WithAttributes(
			attribute.String("pluraal.run_id", e.RunID),
			attribute.String("pluraal.calculation", e.Name),
		),
		trace.WithTimestamp(e.Time),
	)

	key := e.RunID + ":" + e.Name
	h.mu.Lock()
	h.calcSpans[key] = span
	h.mu.Unlock()
}

// handleCalculationFinished ends the calculation span with success status.
func (h *TracingHandler) handleCalculationFinished(e pluraal.Event) {
	key := e.RunID + ":" + e.Name

	h.mu.Lock()
	span, ok := h.calcSpans[key]
	if ok {
		delete(h.calcSpans, key)
	}
	h.mu.Unlock()

	if ok {
		span.SetAttributes(
			attribute.String("pluraal.duration", e.Elapsed.String()),
		)
		span.SetStatus(codes.Ok, "")
		span.End(trace.WithTimestamp(e.Time))
	}
}

// handleCalculationFailed ends the calculation span with error status.
func (h *TracingHandler) handleCalculationFailed(e pluraal.Event) {
	key := e.RunID + ":" + e.Name

	h.mu.Lock()
	span, ok := h.calcSpans[key]
	if ok {
		delete(h.calcSpans, key)
	}
	h.mu.Unlock()

	if ok {
		errMsg := "unknown error"
		if msg, found := e.Payload["error"]; found {
			if s, ok := msg.(string); ok {
				errMsg = s
			}
		}
		span.SetStatus(codes.Error, errMsg)
		span.RecordError(
			spanError(errMsg),
			trace.WithTimestamp(e.Time),
		)
		span.End(trace.WithTimestamp(e.Time))
	}
}

// handleBranchTaken adds a span event on the calculation span so viewers can
// see which branch alternative fired.
func (h *TracingHandler) handleBranchTaken(e pluraal.Event) {
	key := e.RunID + ":" + e.Name

	h.mu.RLock()
	span, ok := h.calcSpans[key]
	h.mu.RUnlock()

	if !ok {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("pluraal.event_kind", string(e.Kind)),
	}
	if construct, found := e.Payload["construct"]; found {
		if s, ok := construct.(string); ok {
			attrs = append(attrs, attribute.String("pluraal.construct", s))
		}
	}
	if taken, found := e.Payload["taken"]; found {
		if s, ok := taken.(string); ok {
			attrs = append(attrs, attribute.String("pluraal.taken", s))
		}
	}
	if index, found := e.Payload["index"]; found {
		if n, ok := index.(int); ok {
			attrs = append(attrs, attribute.Int("pluraal.index", n))
		}
	}

	span.AddEvent(string(e.Kind), trace.WithTimestamp(e.Time), trace.WithAttributes(attrs...))
}

// handleRunEnded ends the root run span.
func (h *TracingHandler) handleRunEnded(e pluraal.Event, failed bool) {
	h.mu.Lock()
	span, ok := h.runSpans[e.RunID]
	if ok {
		delete(h.runSpans, e.RunID)
		delete(h.runCtxs, e.RunID)
	}
	h.mu.Unlock()

	if ok {
		span.SetAttributes(
			attribute.String("pluraal.duration", e.Elapsed.String()),
		)

		if failed {
			errMsg := "run failed"
			if msg, found := e.Payload["error"]; found {
				if s, ok := msg.(string); ok {
					errMsg = s
				}
			}
			span.SetStatus(codes.Error, errMsg)
		} else {
			span.SetStatus(codes.Ok, "")
		}

		span.End(trace.WithTimestamp(e.Time))
	}
}

// ActiveSpanContext returns the SpanContext for the active calculation span
// identified by runID and calculation name. Returns an empty SpanContext if
// not found.
func (h *TracingHandler) ActiveSpanContext(runID, calculation string) trace.SpanContext {
	key := runID + ":" + calculation

	h.mu.RLock()
	span, ok := h.calcSpans[key]
	h.mu.RUnlock()

	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

// ActiveRunSpanContext returns the SpanContext for the active run span
// identified by runID. Returns an empty SpanContext if not found.
func (h *TracingHandler) ActiveRunSpanContext(runID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.runSpans[runID]
	h.mu.RUnlock()

	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

// spanError is a simple error type for recording span errors.
type spanError string

func (e spanError) Error() string { return string(e) }
