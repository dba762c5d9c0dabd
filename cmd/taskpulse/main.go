package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/a-essam23/taskpulse/pkg/config"
	"github.com/a-essam23/taskpulse/pkg/logging"
	"github.com/spf13/cobra"
)

var Version = "dev"

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:     "taskpulse",
		Short:   "Real-time task collaboration and presence notifier",
		Version: Version,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config", "config file name or path")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads configuration with a bootstrap logger, then builds the configured one.
func loadConfig() (*config.Config, *slog.Logger, error) {
	bootstrap := logging.New(logging.Config{Level: "info", Output: os.Stderr})
	cfg, err := config.Load(bootstrap, configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	logger := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	slog.SetDefault(logger)
	return cfg, logger, nil
}
