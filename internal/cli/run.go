package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jdziat/durable-kernel/internal/bootstrap"
)

func newRunCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the scheduler and the queue worker until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := bootstrap.New(ctx, e.cfg, e.logger)
			if err != nil {
				return err
			}

			var srv *http.Server
			if addr := e.cfg.MetricsAddr; addr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", app.MetricsHandler())
				srv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					e.logger.Info("metrics listening", "addr", addr)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						e.logger.Error("metrics server failed", "error", err)
					}
				}()
			}

			if err := app.Start(ctx); err != nil {
				_ = app.Shutdown(context.Background())
				return err
			}
			e.logger.Info("kernel running",
				"scheduler", e.cfg.SchedulerEnabled,
				"queue", e.cfg.QueueEnabled,
				"backend", e.cfg.QueueBackend)

			<-ctx.Done()
			e.logger.Info("shutting down", "timeout", e.cfg.ShutdownTimeout)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), e.cfg.ShutdownTimeout)
			defer cancel()

			err = app.Shutdown(shutdownCtx)
			if srv != nil {
				err = errors.Join(err, srv.Shutdown(shutdownCtx))
			}
			if err != nil {
				return err
			}
			e.logger.Info("shutdown complete")
			return nil
		},
	}
}
