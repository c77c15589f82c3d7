package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/petal-labs/pluraal"
)

// parseInputFlags converts repeated --input name=value flags into an
// evaluation context. Values are raw strings interpreted against the scope's
// declared input types: string inputs pass through verbatim, number inputs
// must parse as a float, bool inputs accept true/false in any casing.
// Names with no declaration fall back to guessing number, then bool, then
// string.
func parseInputFlags(flags []string, declared []pluraal.Input) (pluraal.Context, error) {
	types := make(map[string]pluraal.Type, len(declared))
	for _, in := range declared {
		types[in.Name] = in.Type
	}

	ctx := make(pluraal.Context, len(flags))
	for _, flag := range flags {
		name, raw, found := strings.Cut(flag, "=")
		if !found || name == "" {
			return nil, fmt.Errorf("input %q must have the form name=value", flag)
		}
		value, err := parseInputValue(raw, types[name])
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		ctx[name] = value
	}
	return ctx, nil
}

func parseInputValue(raw string, typ pluraal.Type) (pluraal.Expr, error) {
	switch typ {
	case pluraal.TypeString:
		return pluraal.Str(raw), nil
	case pluraal.TypeNumber:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", raw)
		}
		return pluraal.Num(n), nil
	case pluraal.TypeBool:
		switch strings.ToLower(raw) {
		case "true":
			return pluraal.Bool(true), nil
		case "false":
			return pluraal.Bool(false), nil
		}
		return nil, fmt.Errorf("%q is not a boolean", raw)
	}
	return guessInputValue(raw), nil
}

// guessInputValue infers a literal for a name the scope does not declare.
func guessInputValue(raw string) pluraal.Expr {
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return pluraal.Num(n)
	}
	switch strings.ToLower(raw) {
	case "true":
		return pluraal.Bool(true)
	case "false":
		return pluraal.Bool(false)
	}
	return pluraal.Str(raw)
}
