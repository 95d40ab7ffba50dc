package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"identity-service/internal/app"
	"identity-service/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(
			cmd.Context(),
			os.Interrupt,
			syscall.SIGTERM,
		)
		defer stop()

		application, err := app.New(ctx, cfg)
		if err != nil {
			logger.Error("failed to initialize app", map[string]any{
				"error": err.Error(),
			})
			return err
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- application.Run()
		}()

		logger.Info("identity-service started", map[string]any{
			"port": cfg.AppPort,
		})

		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received", nil)
		case err := <-errCh:
			if err != nil {
				logger.Error("http server failed", map[string]any{
					"error": err.Error(),
				})
				return err
			}
		}

		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			10*time.Second,
		)
		defer cancel()

		if err := application.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", map[string]any{
				"error": err.Error(),
			})
			return err
		}

		logger.Info("identity-service stopped cleanly", nil)
		return nil
	},
}
