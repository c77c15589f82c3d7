package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/petal-labs/pluraal"
)

// NewEncodeCmd creates the "encode" subcommand.
func NewEncodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encode <file>",
		Short: "Re-encode a scope file to canonical JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runEncode,
	}

	cmd.Flags().StringP("output", "o", "", "Write to file instead of stdout")

	return cmd
}

func runEncode(cmd *cobra.Command, args []string) error {
	scope, err := loadScopeFile(args[0])
	if err != nil {
		return err
	}

	encoded, err := pluraal.EncodeScope(scope)
	if err != nil {
		return fmt.Errorf("encoding scope: %w", err)
	}

	outputPath, _ := cmd.Flags().GetString("output")
	if outputPath != "" {
		return os.WriteFile(outputPath, append(encoded, '\n'), 0o644)
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
	return nil
}
