// Package loader reads Pluraal scope documents from disk. It supports the
// canonical JSON form and a YAML convenience form (converted to JSON before
// decoding), selected by file extension.
package loader

import (
	"fmt"
	"os"
	"strings"

	"github.com/petal-labs/pluraal"
)

// LoadScope reads a scope file, decodes it, and validates it. Validation
// errors are returned as a *DiagnosticError; warnings alone do not fail the
// load.
func LoadScope(path string) (*pluraal.Scope, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from caller
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	return LoadScopeBytes(data, path)
}

// LoadScopeBytes decodes and validates a scope document. The path is used
// only to decide whether the bytes are YAML.
func LoadScopeBytes(data []byte, path string) (*pluraal.Scope, error) {
	scope, err := ParseScope(data, path)
	if err != nil {
		return nil, err
	}

	diags := scope.Validate()
	if pluraal.HasErrors(diags) {
		return nil, &DiagnosticError{Diagnostics: diags}
	}

	return scope, nil
}

// ParseScope decodes a scope document without validating it. Callers that
// want the full diagnostic list (the validate command) use this and run
// Validate themselves.
func ParseScope(data []byte, path string) (*pluraal.Scope, error) {
	jsonData, err := toJSON(data, path)
	if err != nil {
		return nil, err
	}

	scope, err := pluraal.DecodeScope(jsonData)
	if err != nil {
		return nil, fmt.Errorf("decoding scope: %w", err)
	}
	return scope, nil
}

// DiagnosticError wraps validation diagnostics as an error.
type DiagnosticError struct {
	Diagnostics []pluraal.Diagnostic
}

func (e *DiagnosticError) Error() string {
	errs := pluraal.Errors(e.Diagnostics)
	if len(errs) == 0 {
		return "validation failed"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("validation failed with %d error(s):", len(errs)))
	for _, d := range errs {
		sb.WriteString("\n  ")
		sb.WriteString(d.Code)
		sb.WriteString(": ")
		sb.WriteString(d.Message)
		if d.Path != "" {
			sb.WriteString(" (at ")
			sb.WriteString(d.Path)
			sb.WriteString(")")
		}
	}
	return sb.String()
}
