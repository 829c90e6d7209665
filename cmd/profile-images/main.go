// Package main provides the CLI entry point for the profile images worker
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/decentraland/profile-images/commands"
	"github.com/decentraland/profile-images/internal/config"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	// Load configuration from .env file and environment variables
	cfg := config.Load()
	logger.Debug().
		Str("queue", cfg.SQS.QueueName).
		Str("dlq", cfg.SQS.DLQName).
		Str("region", cfg.AWS.Region).
		Str("prefix", cfg.SQS.Prefix).
		Msg("Configuration loaded")

	rootCmd := &cobra.Command{
		Use:   "profile-images",
		Short: "Profile images worker",
		Long: `Consumes profile deployment events from SQS and renders avatar
face and body snapshots. Also provides commands to inspect and manage the
queues the worker reads from.`,
		SilenceUsage: true,
	}

	commands.AddCommands(rootCmd, cfg, logger)

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("Received shutdown signal")
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
