package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jdziat/durable-kernel/internal/bootstrap"
)

func newDispatchCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:     "dispatch <job> [json-payload]",
		Short:   "Submit one job to the queue and exit",
		Example: `  durable-kernel dispatch MotivationalQuoteJob '{"user":"Ada"}'`,
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			payload := json.RawMessage("null")
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return errors.New("payload is not valid JSON")
				}
				payload = json.RawMessage(args[1])
			}

			if !e.cfg.QueueEnabled {
				fmt.Fprintln(cmd.ErrOrStderr(), "queue disabled by configuration, nothing submitted")
				return nil
			}

			// Only the client side is needed; no worker or timers start.
			cfg := *e.cfg
			cfg.SchedulerEnabled = false
			app, err := bootstrap.New(cmd.Context(), &cfg, e.logger)
			if err != nil {
				return err
			}
			if !app.Queue().Kernel().HasJob(name) {
				e.logger.Warn("no shipped handler for job, submitting anyway", "job", name)
			}

			err = app.Dispatch(cmd.Context(), name, payload)
			err = errors.Join(err, app.Shutdown(context.Background()))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "submitted %s\n", name)
			return nil
		},
	}
}
