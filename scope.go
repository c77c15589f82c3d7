package pluraal

import "fmt"

// Input declares a required, type-constrained entry in the evaluation
// context.
type Input struct {
	Name string
	Type Type
}

// Calculation is a named expression evaluated within a scope. Each
// calculation extends the working context for the calculations after it.
type Calculation struct {
	Name string
	Expr Expr
}

// Scope is a closed unit of computation: it declares everything it needs
// (Inputs), everything it can produce (Calculations, evaluated in
// declaration order), and publishes a subset (Outputs).
//
// Input and calculation names are unique within their own sequence. A
// calculation may deliberately reuse an input name; from that point on,
// lookups see the calculation's value.
type Scope struct {
	Inputs       []Input
	Calculations []Calculation
	Outputs      []string
}

// Diagnostic represents a validation error or warning produced by scope
// validation.
type Diagnostic struct {
	Code     string `json:"code"`           // e.g. "SC-001"
	Severity string `json:"severity"`       // "error" or "warning"
	Message  string `json:"message"`        // human-readable description
	Path     string `json:"path,omitempty"` // JSON path to offending field
}

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// HasErrors returns true if any diagnostic has error severity.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns only the error-severity diagnostics.
func Errors(diags []Diagnostic) []Diagnostic {
	var errs []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityError {
			errs = append(errs, d)
		}
	}
	return errs
}

// Warnings returns only the warning-severity diagnostics.
func Warnings(diags []Diagnostic) []Diagnostic {
	var warns []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityWarning {
			warns = append(warns, d)
		}
	}
	return warns
}

// Validate checks structural integrity of the scope without evaluating it:
//   - SC-001: input names must be non-empty and unique
//   - SC-002: input types must be one of string, number, bool
//   - SC-003: calculation names must be non-empty and unique
//   - SC-004: calculation shadows an input name (warning)
//   - SC-005: output names nothing declared by the scope (warning; the
//     engine silently omits such outputs at evaluation time)
//   - SC-006: calculation references a name that is neither an input nor an
//     earlier calculation (warning; the caller's context may still carry it)
func (s *Scope) Validate() []Diagnostic {
	var diags []Diagnostic

	inputNames := make(map[string]bool, len(s.Inputs))
	for i, in := range s.Inputs {
		if in.Name == "" {
			diags = append(diags, Diagnostic{
				Code:     "SC-001",
				Severity: SeverityError,
				Message:  "Input name must not be empty",
				Path:     fmt.Sprintf("inputs[%d]", i),
			})
			continue
		}
		if inputNames[in.Name] {
			diags = append(diags, Diagnostic{
				Code:     "SC-001",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Duplicate input name %q", in.Name),
				Path:     fmt.Sprintf("inputs[%d]", i),
			})
		}
		inputNames[in.Name] = true

		if _, err := ParseType(string(in.Type)); err != nil {
			diags = append(diags, Diagnostic{
				Code:     "SC-002",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Input %q has unknown type %q", in.Name, in.Type),
				Path:     fmt.Sprintf("inputs[%d]", i),
			})
		}
	}

	calcNames := make(map[string]bool, len(s.Calculations))
	defined := make(map[string]bool, len(s.Inputs)+len(s.Calculations))
	for name := range inputNames {
		defined[name] = true
	}

	for i, calc := range s.Calculations {
		path := fmt.Sprintf("calculations[%d]", i)
		if calc.Name == "" {
			diags = append(diags, Diagnostic{
				Code:     "SC-003",
				Severity: SeverityError,
				Message:  "Calculation name must not be empty",
				Path:     path,
			})
			continue
		}
		if calcNames[calc.Name] {
			diags = append(diags, Diagnostic{
				Code:     "SC-003",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Duplicate calculation name %q", calc.Name),
				Path:     path,
			})
		}
		calcNames[calc.Name] = true

		if inputNames[calc.Name] {
			diags = append(diags, Diagnostic{
				Code:     "SC-004",
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("Calculation %q shadows an input of the same name", calc.Name),
				Path:     path,
			})
		}

		for _, ref := range collectReferences(calc.Expr, nil) {
			if !defined[ref] {
				diags = append(diags, Diagnostic{
					Code:     "SC-006",
					Severity: SeverityWarning,
					Message:  fmt.Sprintf("Calculation %q references %q, which is not an input or earlier calculation", calc.Name, ref),
					Path:     path,
				})
			}
		}
		defined[calc.Name] = true
	}

	for i, out := range s.Outputs {
		if !defined[out] {
			diags = append(diags, Diagnostic{
				Code:     "SC-005",
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("Output %q names nothing declared by the scope", out),
				Path:     fmt.Sprintf("outputs[%d]", i),
			})
		}
	}

	return diags
}

// collectReferences appends the names of all references in the expression
// tree, in first-appearance order.
func collectReferences(e Expr, names []string) []string {
	switch n := e.(type) {
	case *Reference:
		names = append(names, n.Name)
	case *IfThenElse:
		names = collectReferences(n.If, names)
		names = collectReferences(n.Then, names)
		names = collectReferences(n.Else, names)
	case *RuleChain:
		for _, rule := range n.Rules {
			names = collectReferences(rule.When, names)
			names = collectReferences(rule.Then, names)
		}
		if n.Otherwise != nil {
			names = collectReferences(n.Otherwise, names)
		}
	case *FiniteBranch:
		names = collectReferences(n.BranchOn, names)
		for _, c := range n.Cases {
			names = collectReferences(c.Key, names)
			names = collectReferences(c.Value, names)
		}
		if n.Otherwise != nil {
			names = collectReferences(n.Otherwise, names)
		}
	}
	return names
}
