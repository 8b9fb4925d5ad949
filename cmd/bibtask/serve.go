package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dedezza1D/bibtask/api/httpapi"
	"github.com/dedezza1D/bibtask/internal/observability"
)

func ServeCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only HTTP API and metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			ctx := cmd.Context()
			a.tracing(ctx, "bibtask-api")
			observability.RegisterMetrics()

			st, err := a.queue(ctx)
			if err != nil {
				return err
			}
			server := httpapi.NewServer(httpapi.Config{Port: a.cfg.HTTPPort}, a.logger, st)

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(stop)

			errCh := make(chan error, 1)
			go func() {
				if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				a.logger.Error("http server error", zap.Error(err))
				return err
			case <-stop:
				a.logger.Info("shutdown signal received")
			}

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("shutdown error", zap.Error(err))
				return err
			}
			return nil
		},
	}
}
