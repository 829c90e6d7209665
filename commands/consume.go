package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/decentraland/profile-images/internal/config"
	"github.com/decentraland/profile-images/internal/server"
)

func newConsumeCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	var once bool
	var addr string

	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Consume profile deployments and render snapshots",
		Long: `Polls the main queue, and the DLQ whenever the main queue is empty,
rendering a snapshot for every profile deployment received. Runs until
interrupted unless --once is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsume(cmd.Context(), cfg, logger, once, addr)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Run a single poll and process cycle")
	cmd.Flags().StringVar(&addr, "addr", cfg.Server.Addr, "Admin server address (empty disables it)")

	return cmd
}

func runConsume(ctx context.Context, cfg *config.Config, logger zerolog.Logger, once bool, addr string) error {
	worker, err := newWorker(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}
	defer worker.Close()

	if once {
		summary, err := worker.RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Queue: %s\n", summary.Queue)
		fmt.Printf("Received: %d, Invalid: %d, Succeeded: %d, Failed: %d, Dropped: %d, Retried: %d\n",
			summary.Received, summary.Invalid, summary.Succeeded, summary.Failed, summary.Dropped, summary.Retried)
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)

	if addr != "" {
		srv := server.New(addr, worker, worker.PrometheusHandler(), logger)
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}

	g.Go(func() error {
		err := worker.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	return g.Wait()
}
