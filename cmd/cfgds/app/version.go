package app

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/zjy-dev/cfgds/internal/oracle"
)

// Version is set at build time with -ldflags "-X ...app.Version=...".
var Version = "dev"

// NewVersionCommand creates the "version" subcommand.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and available backends.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "cfgds %s (%s)\n", Version, runtime.Version())
			solvers, materializers, runners := oracle.Backends()
			fmt.Fprintf(out, "solvers:       %v\n", solvers)
			fmt.Fprintf(out, "materializers: %v\n", materializers)
			fmt.Fprintf(out, "runners:       %v\n", runners)
		},
	}
}
