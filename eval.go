package pluraal

import "fmt"

// Context maps variable names to the expressions bound to them. A context is
// owned by a single evaluation call; Eval and EvaluateScope never mutate the
// context they are given.
type Context map[string]Expr

// Clone returns a shallow copy of the context. Expression values are
// immutable, so sharing them between copies is safe.
func (c Context) Clone() Context {
	out := make(Context, len(c))
	for name, e := range c {
		out[name] = e
	}
	return out
}

// VariableNotFoundError reports a reference to a name absent from the
// evaluation context.
type VariableNotFoundError struct {
	Name string
}

func (e *VariableNotFoundError) Error() string {
	return "variable not found: " + e.Name
}

// CyclicReferenceError reports a reference chain that revisits a name
// currently being resolved, e.g. {a: ref(b), b: ref(a)}.
type CyclicReferenceError struct {
	Name string
}

func (e *CyclicReferenceError) Error() string {
	return "cyclic reference detected at variable: " + e.Name
}

// Eval reduces an expression against a context. On success the result is
// always in reduced form: a literal, with every reference chain followed and
// every branch resolved to the sub-expression that was taken.
//
// Failures are descriptive error values; evaluation never partially mutates
// caller-visible state.
func Eval(ctx Context, e Expr) (Expr, error) {
	ev := &evaluator{ctx: ctx, resolving: make(map[string]struct{})}
	return ev.eval(e)
}

type evaluator struct {
	ctx Context

	// resolving holds the names on the current reference-resolution path.
	// Revisiting one means the context contains a cycle, which would
	// otherwise recurse without bound.
	resolving map[string]struct{}

	// emit, when non-nil, receives branch_taken events as branches resolve.
	emit func(Event)
}

func (ev *evaluator) eval(e Expr) (Expr, error) {
	switch n := e.(type) {
	case *Literal:
		return n, nil

	case *Reference:
		bound, ok := ev.ctx[n.Name]
		if !ok {
			return nil, &VariableNotFoundError{Name: n.Name}
		}
		if _, busy := ev.resolving[n.Name]; busy {
			return nil, &CyclicReferenceError{Name: n.Name}
		}
		ev.resolving[n.Name] = struct{}{}
		out, err := ev.eval(bound)
		delete(ev.resolving, n.Name)
		return out, err

	case *IfThenElse:
		cond, err := ev.evalBool(n.If, "if condition")
		if err != nil {
			return nil, err
		}
		if cond {
			ev.branchTaken("if", "then", 0)
			return ev.eval(n.Then)
		}
		ev.branchTaken("if", "else", 1)
		return ev.eval(n.Else)

	case *RuleChain:
		for i, rule := range n.Rules {
			matched, err := ev.evalBool(rule.When, fmt.Sprintf("rule %d condition", i))
			if err != nil {
				return nil, err
			}
			if matched {
				ev.branchTaken("rules", "rule", i)
				return ev.eval(rule.Then)
			}
		}
		if n.Otherwise != nil {
			ev.branchTaken("rules", "otherwise", -1)
			return ev.eval(n.Otherwise)
		}
		return nil, fmt.Errorf("no rule matched")

	case *FiniteBranch:
		switchValue, err := ev.eval(n.BranchOn)
		if err != nil {
			return nil, err
		}
		for i, c := range n.Cases {
			key, err := ev.eval(c.Key)
			if err != nil {
				return nil, err
			}
			if Equal(key, switchValue) {
				ev.branchTaken("branch", "case", i)
				return ev.eval(c.Value)
			}
		}
		if n.Otherwise != nil {
			ev.branchTaken("branch", "otherwise", -1)
			return ev.eval(n.Otherwise)
		}
		return nil, fmt.Errorf("no case matched")

	default:
		return nil, fmt.Errorf("unknown expression type %T", e)
	}
}

// evalBool reduces an expression and requires the result to be a boolean
// literal. The label names the position for the error message.
func (ev *evaluator) evalBool(e Expr, label string) (bool, error) {
	reduced, err := ev.eval(e)
	if err != nil {
		return false, err
	}
	lit, ok := reduced.(*Literal)
	if !ok {
		return false, fmt.Errorf("%s must reduce to a boolean, got %s", label, reduced)
	}
	b, ok := lit.Value.(bool)
	if !ok {
		return false, fmt.Errorf("%s must reduce to a boolean, got %s", label, lit)
	}
	return b, nil
}

func (ev *evaluator) branchTaken(construct, taken string, index int) {
	if ev.emit == nil {
		return
	}
	e := NewEvent(EventBranchTaken, "")
	e.Payload["construct"] = construct
	e.Payload["taken"] = taken
	if index >= 0 {
		e.Payload["index"] = index
	}
	ev.emit(e)
}
