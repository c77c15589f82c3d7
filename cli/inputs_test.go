package cli

import (
	"testing"

	"github.com/petal-labs/pluraal"
)

func TestParseInputValueTyped(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		typ  pluraal.Type
		want pluraal.Expr
	}{
		{"number", "42", pluraal.TypeNumber, pluraal.Num(42)},
		{"negative number", "-3.5", pluraal.TypeNumber, pluraal.Num(-3.5)},
		{"exponent number", "1e3", pluraal.TypeNumber, pluraal.Num(1000)},
		{"bool true", "true", pluraal.TypeBool, pluraal.Bool(true)},
		{"bool upper", "TRUE", pluraal.TypeBool, pluraal.Bool(true)},
		{"bool mixed case", "False", pluraal.TypeBool, pluraal.Bool(false)},
		{"string passthrough", "hello", pluraal.TypeString, pluraal.Str("hello")},
		// A string input takes the raw value verbatim even when it looks
		// like another type.
		{"numeric-looking string", "42", pluraal.TypeString, pluraal.Str("42")},
		{"boolean-looking string", "true", pluraal.TypeString, pluraal.Str("true")},
		{"empty string", "", pluraal.TypeString, pluraal.Str("")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseInputValue(tt.raw, tt.typ)
			if err != nil {
				t.Fatalf("parseInputValue(%q, %s) unexpected error: %v", tt.raw, tt.typ, err)
			}
			if !pluraal.Equal(got, tt.want) {
				t.Fatalf("parseInputValue(%q, %s) = %v, want %v", tt.raw, tt.typ, got, tt.want)
			}
		})
	}
}

func TestParseInputValueTypedErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		typ  pluraal.Type
	}{
		{"not a number", "abc", pluraal.TypeNumber},
		{"empty number", "", pluraal.TypeNumber},
		{"not a boolean", "truthy", pluraal.TypeBool},
		{"numeric boolean", "1", pluraal.TypeBool},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseInputValue(tt.raw, tt.typ); err == nil {
				t.Fatalf("parseInputValue(%q, %s): expected error", tt.raw, tt.typ)
			}
		})
	}
}

func TestParseInputValueUndeclaredGuesses(t *testing.T) {
	tests := []struct {
		raw  string
		want pluraal.Expr
	}{
		{"42", pluraal.Num(42)},
		{"0", pluraal.Num(0)},
		{"true", pluraal.Bool(true)},
		{"False", pluraal.Bool(false)},
		{"hello", pluraal.Str("hello")},
		{"truthy", pluraal.Str("truthy")},
		{"", pluraal.Str("")},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseInputValue(tt.raw, "")
			if err != nil {
				t.Fatalf("parseInputValue(%q) unexpected error: %v", tt.raw, err)
			}
			if !pluraal.Equal(got, tt.want) {
				t.Fatalf("parseInputValue(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseInputFlags(t *testing.T) {
	declared := []pluraal.Input{
		{Name: "age", Type: pluraal.TypeNumber},
		{Name: "name", Type: pluraal.TypeString},
		{Name: "active", Type: pluraal.TypeBool},
	}

	ctx, err := parseInputFlags([]string{"age=42", "name=Ada", "active=true"}, declared)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ctx) != 3 {
		t.Fatalf("got %d bindings, want 3", len(ctx))
	}
	if !pluraal.Equal(ctx["age"], pluraal.Num(42)) {
		t.Errorf("age = %v", ctx["age"])
	}
	if !pluraal.Equal(ctx["name"], pluraal.Str("Ada")) {
		t.Errorf("name = %v", ctx["name"])
	}
	if !pluraal.Equal(ctx["active"], pluraal.Bool(true)) {
		t.Errorf("active = %v", ctx["active"])
	}
}

func TestParseInputFlagsDeclaredTypeWins(t *testing.T) {
	declared := []pluraal.Input{{Name: "code", Type: pluraal.TypeString}}

	ctx, err := parseInputFlags([]string{"code=42"}, declared)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pluraal.Equal(ctx["code"], pluraal.Str("42")) {
		t.Errorf("code = %v, want string literal \"42\"", ctx["code"])
	}
}

func TestParseInputFlagsTypeErrorNamesInput(t *testing.T) {
	declared := []pluraal.Input{{Name: "age", Type: pluraal.TypeNumber}}

	_, err := parseInputFlags([]string{"age=old"}, declared)
	if err == nil {
		t.Fatal("expected error for unparseable number")
	}
}

func TestParseInputFlagsValueWithEquals(t *testing.T) {
	ctx, err := parseInputFlags([]string{"expr=a=b"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pluraal.Equal(ctx["expr"], pluraal.Str("a=b")) {
		t.Errorf("expr = %v, want literal \"a=b\"", ctx["expr"])
	}
}

func TestParseInputFlagsRejectsMalformed(t *testing.T) {
	for _, flag := range []string{"no-equals", "=value"} {
		if _, err := parseInputFlags([]string{flag}, nil); err == nil {
			t.Errorf("parseInputFlags(%q): expected error", flag)
		}
	}
}
