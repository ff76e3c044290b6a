package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"campusswap/db"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type serveOptions struct {
	*rootOptions
	migrate   bool
	noSweeper bool
	noRelay   bool
}

func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &serveOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the sweeper and outbox relay",
		Long: `Run the HTTP API. Unless disabled, the timeout sweeper and the outbox
relay run in the same process and stop with it.

Example:
  swapd serve --migrate
  swapd serve --no-relay`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.migrate, "migrate", false, "apply pending migrations before serving")
	cmd.Flags().BoolVar(&opts.noSweeper, "no-sweeper", false, "do not run the timeout sweeper")
	cmd.Flags().BoolVar(&opts.noRelay, "no-relay", false, "do not run the outbox relay")

	return cmd
}

func runServe(parent context.Context, opts *serveOptions) error {
	cfg, logger := opts.cfg, opts.logger
	if err := cfg.Validate(); err != nil {
		return err
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if opts.migrate {
		if err := migrate(ctx, a); err != nil {
			return err
		}
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      a.handler.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		logger.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if !opts.noSweeper {
		g.Go(func() error { return ignoreCancel(a.sweeper.Run(gctx, cfg.Swap.SweepInterval)) })
	}
	if !opts.noRelay {
		g.Go(func() error { return ignoreCancel(a.relay.Run(gctx, cfg.Kafka.RelayInterval)) })
	}

	err = g.Wait()
	logger.Info("swapd stopped", zap.Error(err))
	return err
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func migrate(ctx context.Context, a *app) error {
	applied, err := db.Migrate(ctx, a.pool)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	a.logger.Info("migrations applied", zap.Strings("names", applied))
	return nil
}
