package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jdziat/durable-kernel/internal/definitions"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the shipped tasks and jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			deps := definitions.DefaultDeps()

			fmt.Fprintf(out, "%-8s  %-30s  %s\n", "KIND", "NAME", "SCHEDULE")
			fmt.Fprintf(out, "%-8s  %-30s  %s\n", "----", "----", "--------")
			for _, t := range definitions.Tasks(deps) {
				fmt.Fprintf(out, "%-8s  %-30s  %s\n", "task", t.Name, t.Cron)
			}
			for _, j := range definitions.Jobs(deps) {
				fmt.Fprintf(out, "%-8s  %-30s  %s\n", "job", j.Name, "-")
			}
			return nil
		},
	}
}
