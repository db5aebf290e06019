package app

import (
	"github.com/spf13/cobra"
)

// NewCfgdsCommand creates the root command for the cfgds tool.
func NewCfgdsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cfgds",
		Short: "A coverage-guided concolic test input generator.",
		Long: `cfgds generates test inputs for methods by steering concolic execution
toward uncovered branches of each method's control-flow graph.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewInspectCommand())
	cmd.AddCommand(NewVersionCommand())

	return cmd
}
