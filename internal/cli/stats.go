package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/jdziat/durable-kernel/internal/bootstrap"
)

func newStatsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the number of stored jobs per status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !e.cfg.QueueEnabled {
				fmt.Fprintln(cmd.ErrOrStderr(), "queue disabled by configuration")
				return nil
			}

			cfg := *e.cfg
			cfg.SchedulerEnabled = false
			app, err := bootstrap.New(cmd.Context(), &cfg, e.logger)
			if err != nil {
				return err
			}

			stats, err := app.Stats(cmd.Context())
			err = errors.Join(err, app.Shutdown(context.Background()))
			if err != nil {
				return err
			}

			statuses := make([]string, 0, len(stats))
			for s := range stats {
				statuses = append(statuses, s)
			}
			sort.Strings(statuses)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "queue %s (%s)\n", cfg.QueueName, cfg.QueueBackend)
			for _, s := range statuses {
				fmt.Fprintf(out, "  %-10s %d\n", s, stats[s])
			}
			return nil
		},
	}
}
