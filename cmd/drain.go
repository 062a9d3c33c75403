package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Shivanand-hulikatti/campaign-admission/internal/dispatch"
	"github.com/Shivanand-hulikatti/campaign-admission/internal/model"
)

func newDrainCmd(a *app) *cobra.Command {
	var (
		queue  string
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Claim and acknowledge every pending item in a queue",
		Long: `drain runs dispatch.workers parallel workers against one queue. Each worker
claims items with SKIP LOCKED, so several drain processes may share a queue.
Without --follow the command exits once the queue is empty.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if queue == "" {
				return fmt.Errorf("--queue is required")
			}
			return a.drain(cmd.Context(), queue, follow)
		},
	}
	cmd.Flags().StringVarP(&queue, "queue", "q", "", "queue to drain")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep polling for new items until interrupted")
	return cmd
}

func (a *app) drain(parent context.Context, queue string, follow bool) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := a.openStore(ctx)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer store.Close()

	d := dispatch.New(store,
		dispatch.WithMaxAttempts(a.cfg.Dispatch.MaxAttempts),
		dispatch.WithLockTimeout(a.cfg.Admission.LockTimeout),
		dispatch.WithLogger(a.logger.With("component", "dispatch")),
	)
	pool := dispatch.NewPool(d, dispatch.PoolConfig{
		Queue:         queue,
		Workers:       a.cfg.Dispatch.Workers,
		PollInterval:  a.cfg.Dispatch.PollInterval,
		StopWhenEmpty: !follow,
		WorkerPrefix:  "drain",
	}, func(ctx context.Context, item *model.WorkItem) error {
		a.logger.Info("work item", "id", item.ID, "seq", item.Seq, "attempt", item.Attempts, "payload", string(item.Payload))
		return nil
	})

	stats, err := pool.Run(ctx)
	a.logger.Info("drain finished", "queue", queue, "completed", stats.Completed, "failed", stats.Failed)
	return err
}
