// Package cli implements the durable-kernel command line.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jdziat/durable-kernel/internal/config"
	"github.com/jdziat/durable-kernel/internal/logging"
)

// Loader returns the process configuration.
type Loader func() (*config.Config, error)

// env is shared by every subcommand once the root's pre-run has loaded it.
type env struct {
	load   Loader
	cfg    *config.Config
	logger *slog.Logger
}

// NewRootCmd creates the root command reading configuration from the
// process environment.
func NewRootCmd() *cobra.Command {
	return newRootCmd(config.Load)
}

func newRootCmd(load Loader) *cobra.Command {
	e := &env{load: load}

	var logLevel, logFormat string
	root := &cobra.Command{
		Use:   "durable-kernel",
		Short: "Run recurring tasks and durable background jobs",
		Long: `durable-kernel runs the shipped cron tasks and consumes the job queue.

Configuration comes from environment variables (SCHEDULER_ENABLED,
QUEUE_ENABLED, QUEUE_BACKEND, DATABASE_DSN, REDIS_URL, ...).`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := e.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if cmd.Flags().Changed("log-format") {
				cfg.LogFormat = logFormat
			}
			e.cfg = cfg
			e.logger = logging.NewWithWriter(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat, cmd.ErrOrStderr())
			slog.SetDefault(e.logger)
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json); overrides LOG_FORMAT")

	root.AddCommand(
		newRunCmd(e),
		newDispatchCmd(e),
		newListCmd(),
		newStatsCmd(e),
	)
	return root
}
