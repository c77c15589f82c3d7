package pluraal

import (
	"fmt"
	"time"
)

// EvaluateScope runs the three-step scope pipeline against the given
// context: validate declared inputs, evaluate calculations in declaration
// order, then project the requested outputs.
//
// The caller's context is never mutated; calculations extend a private
// working copy. The first failure in validation or calculation aborts the
// run. Output projection is best-effort: requested names absent from the
// final working context are silently omitted.
func EvaluateScope(ctx Context, s *Scope) (map[string]Expr, error) {
	return EvaluateScopeObserved(ctx, s, "", nil)
}

// EvaluateScopeObserved is EvaluateScope with an event stream attached.
// The handler receives run lifecycle, per-calculation, and branch_taken
// events tagged with runID. A nil handler disables eventing entirely.
func EvaluateScopeObserved(ctx Context, s *Scope, runID string, handler EventHandler) (map[string]Expr, error) {
	started := time.Now()
	emit := func(e Event) {
		if handler == nil {
			return
		}
		e.RunID = runID
		e.Elapsed = time.Since(started)
		handler(e)
	}

	emit(NewEvent(EventRunStarted, runID))

	// Step 1: input validation, fail-fast in declaration order. The
	// working context starts from the validated but unmodified input
	// bindings.
	for _, in := range s.Inputs {
		bound, ok := ctx[in.Name]
		if !ok {
			return nil, failRun(emit, runID, fmt.Errorf("Required input not found: %s", in.Name))
		}
		reduced, err := Eval(ctx, bound)
		if err != nil {
			return nil, failRun(emit, runID, err)
		}
		lit, ok := reduced.(*Literal)
		if !ok {
			return nil, failRun(emit, runID, fmt.Errorf("Input %s must be a literal value", in.Name))
		}
		if lit.Kind() != in.Type {
			return nil, failRun(emit, runID, fmt.Errorf("Input %s has incorrect type", in.Name))
		}
		e := NewEvent(EventInputValidated, runID)
		e.Name = in.Name
		emit(e)
	}

	// Step 2: calculation pass. Each calculation sees all inputs plus every
	// calculation before it; referencing a later one fails with
	// VariableNotFound since it is not yet present.
	working := ctx.Clone()
	for _, calc := range s.Calculations {
		e := NewEvent(EventCalculationStarted, runID)
		e.Name = calc.Name
		emit(e)

		ev := &evaluator{
			ctx:       working,
			resolving: make(map[string]struct{}),
		}
		if handler != nil {
			name := calc.Name
			ev.emit = func(e Event) {
				e.Name = name
				emit(e)
			}
		}

		reduced, err := ev.eval(calc.Expr)
		if err != nil {
			e := NewEvent(EventCalculationFailed, runID)
			e.Name = calc.Name
			e.Payload["error"] = err.Error()
			emit(e)
			return nil, failRun(emit, runID, fmt.Errorf("Error calculating calculation %s: %w", calc.Name, err))
		}
		working[calc.Name] = reduced

		done := NewEvent(EventCalculationFinished, runID)
		done.Name = calc.Name
		emit(done)
	}

	// Step 3: output projection, best-effort.
	result := make(map[string]Expr, len(s.Outputs))
	for _, name := range s.Outputs {
		if value, ok := working[name]; ok {
			result[name] = value
		}
	}

	emit(NewEvent(EventRunFinished, runID))
	return result, nil
}

func failRun(emit func(Event), runID string, err error) error {
	e := NewEvent(EventRunFailed, runID)
	e.Payload["error"] = err.Error()
	emit(e)
	return err
}
