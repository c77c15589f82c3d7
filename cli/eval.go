package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/petal-labs/pluraal"
	"github.com/petal-labs/pluraal/loader"
)

// NewEvalCmd creates the "eval" subcommand.
func NewEvalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval <file>",
		Short: "Evaluate a scope file against the given inputs",
		Args:  cobra.ExactArgs(1),
		RunE:  runEval,
	}

	cmd.Flags().StringArrayP("input", "i", nil, "Input value as name=value (repeatable)")

	return cmd
}

func runEval(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	out := cmd.OutOrStdout()

	scope, err := loadScopeFile(filePath)
	if err != nil {
		return err
	}

	inputFlags, _ := cmd.Flags().GetStringArray("input")
	ctx, err := parseInputFlags(inputFlags, scope.Inputs)
	if err != nil {
		return exitError(exitInputParse, "invalid input: %v", err)
	}

	outputs, err := pluraal.EvaluateScope(ctx, scope)
	if err != nil {
		return exitError(exitRuntime, "evaluation failed: %v", err)
	}

	encoded := make(map[string]json.RawMessage, len(outputs))
	for name, value := range outputs {
		data, err := pluraal.EncodeExpr(value)
		if err != nil {
			return fmt.Errorf("encoding output %q: %w", name, err)
		}
		encoded[name] = data
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(encoded)
}

// loadScopeFile loads a scope file, mapping loader failures to exit codes.
func loadScopeFile(filePath string) (*pluraal.Scope, error) {
	scope, err := loader.LoadScope(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, exitError(exitFileNotFound, "file not found: %s", filePath)
		}
		var diagErr *loader.DiagnosticError
		if errors.As(err, &diagErr) {
			return nil, exitError(exitValidation, "%v", err)
		}
		return nil, exitError(exitValidation, "loading scope: %v", err)
	}
	return scope, nil
}
