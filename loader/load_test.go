package loader

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/petal-labs/pluraal"
)

const jsonScope = `{
	"inputs": {"age": "number"},
	"calculations": {
		"category": {
			"type": "branch",
			"value": {
				"if": {"type": "branch", "value": {
					"rules": [{"when": true, "then": true}]
				}},
				"then": "adult",
				"else": "minor"
			}
		}
	},
	"outputs": ["category"]
}`

const yamlScope = `
inputs:
  zebra: number
  apple: string
calculations:
  second:
    ref: zebra
  first:
    ref: apple
outputs:
  - first
  - second
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoadScope_JSON(t *testing.T) {
	path := writeFile(t, "scope.json", jsonScope)

	scope, err := LoadScope(path)
	if err != nil {
		t.Fatalf("LoadScope() unexpected error: %v", err)
	}
	if len(scope.Inputs) != 1 || scope.Inputs[0].Name != "age" {
		t.Errorf("inputs = %+v", scope.Inputs)
	}
	if len(scope.Calculations) != 1 || scope.Calculations[0].Name != "category" {
		t.Errorf("calculations = %+v", scope.Calculations)
	}
}

func TestLoadScope_YAMLPreservesMappingOrder(t *testing.T) {
	path := writeFile(t, "scope.yaml", yamlScope)

	scope, err := LoadScope(path)
	if err != nil {
		t.Fatalf("LoadScope() unexpected error: %v", err)
	}
	if scope.Inputs[0].Name != "zebra" || scope.Inputs[1].Name != "apple" {
		t.Errorf("input order = %+v, want [zebra apple]", scope.Inputs)
	}
	if scope.Calculations[0].Name != "second" || scope.Calculations[1].Name != "first" {
		t.Errorf("calculation order = %+v, want [second first]", scope.Calculations)
	}
}

func TestLoadScope_FileNotFound(t *testing.T) {
	_, err := LoadScope(filepath.Join(t.TempDir(), "missing.json"))
	if err == nil || !strings.Contains(err.Error(), "reading file") {
		t.Fatalf("got %v, want reading-file error", err)
	}
}

func TestLoadScope_DecodeError(t *testing.T) {
	path := writeFile(t, "bad.json", `{"inputs": {"x": "integer"}}`)

	_, err := LoadScope(path)
	if err == nil || !strings.Contains(err.Error(), "unknown input type") {
		t.Fatalf("got %v, want decode error", err)
	}
}

func TestLoadScope_ValidationError(t *testing.T) {
	doc := `{"calculations": {"": 1}}`
	path := writeFile(t, "invalid.json", doc)

	_, err := LoadScope(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	var diagErr *DiagnosticError
	if !errors.As(err, &diagErr) {
		t.Fatalf("got %T, want *DiagnosticError", err)
	}
	if !pluraal.HasErrors(diagErr.Diagnostics) {
		t.Error("DiagnosticError carries no error diagnostics")
	}
	if !strings.Contains(diagErr.Error(), "SC-003") {
		t.Errorf("error text %q does not name the diagnostic code", diagErr.Error())
	}
}

func TestLoadScope_WarningsDoNotFail(t *testing.T) {
	doc := `{"outputs": ["ghost"]}`
	path := writeFile(t, "warn.json", doc)

	scope, err := LoadScope(path)
	if err != nil {
		t.Fatalf("warnings must not fail the load: %v", err)
	}
	if len(scope.Outputs) != 1 {
		t.Errorf("outputs = %v", scope.Outputs)
	}
}

func TestLoadScopeBytes_MalformedYAML(t *testing.T) {
	_, err := LoadScopeBytes([]byte("inputs: ["), "broken.yml")
	if err == nil || !strings.Contains(err.Error(), "parsing YAML") {
		t.Fatalf("got %v, want YAML parse error", err)
	}
}
