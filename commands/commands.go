// Package commands provides the cobra commands of the profile images worker.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	profileimages "github.com/decentraland/profile-images"
	"github.com/decentraland/profile-images/internal/config"
	"github.com/decentraland/profile-images/internal/contracts"
	"github.com/decentraland/profile-images/pkg/catalyst"
)

// AddCommands adds all profile images worker commands to the provided root command
func AddCommands(rootCmd *cobra.Command, cfg *config.Config, logger zerolog.Logger) {
	rootCmd.AddCommand(
		newConsumeCmd(cfg, logger),
		newStatusCmd(cfg, logger),
		newEnsureCmd(cfg, logger),
		newInspectDlqCmd(cfg, logger),
		newReplayDlqCmd(cfg, logger),
		newSendCmd(cfg, logger),
		newCleanupCmd(cfg, logger),
		newTestConnectionCmd(cfg, logger),
	)
}

// newWorker builds a worker from the loaded configuration
func newWorker(cfg *config.Config, logger zerolog.Logger, opts ...profileimages.Option) (*profileimages.Worker, error) {
	base := []profileimages.Option{
		profileimages.WithConfig(cfg),
		profileimages.WithLogger(logger),
	}
	return profileimages.New(append(base, opts...)...)
}

func newStatusCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Display main queue and DLQ status",
		Long:  `Shows the approximate number of visible, in-flight and delayed messages of the main queue and the DLQ.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cfg, logger)
		},
	}
}

func runStatus(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	worker, err := newWorker(cfg, logger, profileimages.WithoutPrometheusMetrics())
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}
	defer worker.Close()

	status, err := worker.Status(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("\n=== Profile Images Queue Status ===\n")
	printQueueStatus(status.Main)
	if status.DLQ != nil {
		printQueueStatus(*status.DLQ)
		if status.DLQ.Status.ApproximateNumberOfMessages > 0 {
			fmt.Printf("WARNING: DLQ has messages that need attention!\n")
		}
	}
	fmt.Printf("===================================\n\n")

	return nil
}

func printQueueStatus(report profileimages.QueueReport) {
	fmt.Printf("Queue: %s\n", report.Name)
	fmt.Printf("  Visible:   %d\n", report.Status.ApproximateNumberOfMessages)
	fmt.Printf("  In flight: %d\n", report.Status.ApproximateNumberOfMessagesNotVisible)
	fmt.Printf("  Delayed:   %d\n", report.Status.ApproximateNumberOfMessagesDelayed)
}

func newEnsureCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "ensure",
		Short: "Create the main queue and its DLQ",
		Long:  `Creates the DLQ and the main queue with a redrive policy pointing at it. Existing queues are left as they are.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnsure(cmd.Context(), cfg, logger)
		},
	}
}

func runEnsure(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	worker, err := newWorker(cfg, logger, profileimages.WithoutPrometheusMetrics())
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}
	defer worker.Close()

	mainURL, dlqURL, err := worker.EnsureQueues(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Main queue: %s\n", mainURL)
	fmt.Printf("DLQ:        %s\n", dlqURL)
	return nil
}

func newInspectDlqCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "inspect-dlq",
		Short: "Inspect messages in the DLQ",
		Long: `Prints DLQ messages for debugging purposes without removing them.

Receiving a message is how SQS exposes it, so every inspection increments the
message's ApproximateReceiveCount. The worker drops a retryable DLQ message once
that count reaches SQS_MAX_DLQ_RETRIES, so each inspection consumes one retry.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspectDlq(cmd.Context(), cfg, logger, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 10, "Maximum messages to inspect")

	return cmd
}

func runInspectDlq(ctx context.Context, cfg *config.Config, logger zerolog.Logger, limit int) error {
	worker, err := newWorker(cfg, logger, profileimages.WithoutPrometheusMetrics())
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}
	defer worker.Close()

	messages, err := worker.InspectDLQ(ctx, limit)
	if err != nil {
		return err
	}

	printDLQMessages(os.Stdout, messages, cfg.SQS.MaxDLQRetries)
	return nil
}

func printDLQMessages(w io.Writer, messages []profileimages.Message, maxRetries int) {
	if len(messages) == 0 {
		fmt.Fprintln(w, "No messages in DLQ")
		return
	}

	fmt.Fprintf(w, "\n=== DLQ Messages ===\n\n")
	for i, msg := range messages {
		fmt.Fprintf(w, "--- Message %d ---\n", i+1)
		fmt.Fprintf(w, "Message ID: %s\n", msg.MessageID)
		if count, ok := msg.Attributes[contracts.AttributeApproximateReceiveCount]; ok {
			fmt.Fprintf(w, "Receive count: %s of %d (this inspection included)\n", count, maxRetries)
		}

		var prettyBody map[string]any
		if err := json.Unmarshal([]byte(msg.Body), &prettyBody); err == nil {
			prettyJSON, _ := json.MarshalIndent(prettyBody, "", "  ")
			fmt.Fprintf(w, "Body:\n%s\n", string(prettyJSON))
		} else {
			fmt.Fprintf(w, "Body: %s\n", msg.Body)
		}
		fmt.Fprintln(w)
	}
}

func newReplayDlqCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "replay-dlq",
		Short: "Move DLQ messages back to the main queue",
		Long:  `Sends DLQ messages to the main queue and deletes them from the DLQ once sent.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplayDlq(cmd.Context(), cfg, logger, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 10, "Maximum messages to replay")

	return cmd
}

func runReplayDlq(ctx context.Context, cfg *config.Config, logger zerolog.Logger, limit int) error {
	worker, err := newWorker(cfg, logger, profileimages.WithoutPrometheusMetrics())
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}
	defer worker.Close()

	replayed, err := worker.ReplayDLQ(ctx, limit)
	if err != nil {
		return err
	}

	if replayed == 0 {
		fmt.Println("No messages in DLQ to replay")
		return nil
	}
	fmt.Printf("Replayed %d messages from DLQ\n", replayed)
	return nil
}

func newSendCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	var avatarFile string

	cmd := &cobra.Command{
		Use:   "send <entityId>",
		Short: "Publish a profile deployment to the main queue",
		Long: `Publishes a deployment event for the given entity. With --avatar-file the
avatar descriptor is sent inline; otherwise the worker resolves the entity
from the content servers.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd.Context(), cfg, logger, args[0], avatarFile)
		},
	}

	cmd.Flags().StringVar(&avatarFile, "avatar-file", "", "JSON file with the avatar descriptor to send inline")

	return cmd
}

func runSend(ctx context.Context, cfg *config.Config, logger zerolog.Logger, entityID, avatarFile string) error {
	entity := catalyst.Entity{
		ID:   entityID,
		Type: catalyst.EntityTypeProfile,
	}

	if avatarFile != "" {
		data, err := os.ReadFile(avatarFile)
		if err != nil {
			return fmt.Errorf("failed to read avatar file: %w", err)
		}
		var avatar catalyst.AvatarDescriptor
		if err := json.Unmarshal(data, &avatar); err != nil {
			return fmt.Errorf("invalid avatar file: %w", err)
		}
		entity.Timestamp = time.Now().UnixMilli()
		entity.Metadata = &catalyst.ProfileMetadata{
			Avatars: []catalyst.AvatarInfo{{Avatar: avatar}},
		}
	}

	worker, err := newWorker(cfg, logger, profileimages.WithoutPrometheusMetrics())
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}
	defer worker.Close()

	messageID, err := worker.Send(ctx, entity)
	if err != nil {
		return fmt.Errorf("failed to send deployment: %w", err)
	}

	fmt.Printf("Sent deployment for %s (message id %s)\n", entityID, messageID)
	return nil
}

func newCleanupCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Clean up old render failure records",
		Long:  `Removes render failure records older than the specified number of days from the database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanup(cmd.Context(), cfg, logger, days)
		},
	}

	cmd.Flags().IntVarP(&days, "days", "d", 30, "Delete records older than this many days")

	return cmd
}

func runCleanup(ctx context.Context, cfg *config.Config, logger zerolog.Logger, days int) error {
	logger.Info().Int("older_than_days", days).Msg("Cleaning up render failures")

	worker, err := newWorker(cfg, logger, profileimages.WithoutPrometheusMetrics())
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}
	defer worker.Close()

	deleted, err := worker.CleanupFailures(ctx, days)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}

	fmt.Printf("Deleted %d render failure records older than %d days\n", deleted, days)
	return nil
}

func newTestConnectionCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "test-connection",
		Short: "Test SQS connectivity",
		Long:  `Resolves the main queue and the DLQ and reads their attributes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTestConnection(cmd.Context(), cfg, logger)
		},
	}
}

func runTestConnection(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	fmt.Println("Testing SQS connection...")

	worker, err := newWorker(cfg, logger, profileimages.WithoutPrometheusMetrics())
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}
	defer worker.Close()

	if err := worker.TestConnection(ctx); err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}

	fmt.Println("Connection successful!")
	fmt.Printf("Region: %s\n", cfg.AWS.Region)
	fmt.Printf("Queue Prefix: %s\n", cfg.SQS.Prefix)
	return nil
}
