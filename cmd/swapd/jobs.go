package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				return migrate(ctx, a)
			})
		},
	}
}

func newSweepCommand(opts *rootOptions) *cobra.Command {
	var loop bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the timeout sweeper once, or until interrupted with --loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				if loop {
					return ignoreCancel(a.sweeper.Run(ctx, a.cfg.Swap.SweepInterval))
				}
				stats, err := a.sweeper.RunOnce(ctx)
				if err != nil {
					return err
				}
				a.logger.Info("sweep finished",
					zap.Int("cancelled", stats.Cancelled),
					zap.Int("completed", stats.Completed),
					zap.Int("flagged", stats.Flagged),
					zap.Int64("expired", stats.Expired),
					zap.Int("conflicts", stats.Conflicts),
					zap.Int("failed", stats.Failed),
				)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&loop, "loop", false, "keep sweeping every SWEEP_INTERVAL")
	return cmd
}

func newRelayCommand(opts *rootOptions) *cobra.Command {
	var loop bool
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Publish pending outbox events once, or until interrupted with --loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				if loop {
					return ignoreCancel(a.relay.Run(ctx, a.cfg.Kafka.RelayInterval))
				}
				stats, err := a.relay.RunOnce(ctx)
				if err != nil {
					return err
				}
				a.logger.Info("relay finished",
					zap.Int("published", stats.Published),
					zap.Int("retrying", stats.Retrying),
					zap.Int("dead", stats.Dead),
				)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&loop, "loop", false, "keep relaying every RELAY_INTERVAL")
	return cmd
}

// withApp validates the config, wires the app and runs fn until it returns
// or the process is interrupted.
func withApp(parent context.Context, opts *rootOptions, fn func(context.Context, *app) error) error {
	if err := opts.cfg.Validate(); err != nil {
		return err
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, opts.cfg, opts.logger)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}
