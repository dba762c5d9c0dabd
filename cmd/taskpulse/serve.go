package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/a-essam23/taskpulse/internal/server"
	"github.com/a-essam23/taskpulse/internal/storage"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			store, err := storage.Open(cfg.Storage)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer store.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := server.NewApp(logger, ctx, cfg, store)
			if err != nil {
				return err
			}
			if err := app.Run(); err != nil {
				logger.Error("Application run failed", slog.Any("error", err))
				return err
			}
			logger.Info("Application shut down successfully.")
			return nil
		},
	}
}
