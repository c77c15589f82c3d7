package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/petal-labs/pluraal/shell"
)

// NewShellCmd creates the "shell" subcommand.
func NewShellCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Serve JSON-lines requests over stdin/stdout",
		Long: "Reads newline-delimited JSON requests from stdin and writes one JSON " +
			"response per line to stdout. Intended for parent processes that drive " +
			"the evaluator as a subprocess.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runner := shell.NewRunner(cmd.OutOrStdout(), shell.Config{
				Version: version,
				Logger:  slog.Default(),
			})
			return runner.Run(cmd.Context(), cmd.InOrStdin())
		},
	}
}
