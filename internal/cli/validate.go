package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and list every problem found",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		problems := configProblems(cfg)
		out := cmd.OutOrStdout()
		if len(problems) == 0 {
			fmt.Fprintf(out, "%s: OK\n", configPath)
			return nil
		}
		for _, p := range problems {
			fmt.Fprintf(out, "  - %s\n", p)
		}
		return fmt.Errorf("configuration has %d problem(s)", len(problems))
	},
}
