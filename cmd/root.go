// Package cmd defines the CLI commands for the collector executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reviewsignal/collector/internal/config"
	"github.com/reviewsignal/collector/internal/logging"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collector",
		Short: "Collects negative reviews and complaints about software tools.",
		Long: `collector gathers low-rating reviews and complaint posts about software
tools from review sites and community forums, normalizes them, and serves
them over an HTTP API. It respects robots.txt, throttles per domain, and
isolates failing sources behind circuit breakers.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCollectCmd())

	return cmd
}

// Execute is the main entry point for the CLI.
func Execute() {
	// Missing .env is fine; environment variables win anyway.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}
