package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shopbridge/acp"
	"github.com/shopbridge/acp/postgres"
)

const shutdownTimeout = 15 * time.Second

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "acpd",
		Short:         "Agentic Commerce Protocol merchant server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")

	cmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newPurgeIdempotencyCmd(opts),
		newNotifyOrderCmd(opts),
	)
	return cmd
}

// setup loads config and builds the logger shared by every subcommand.
func (o *rootOptions) setup() (*Config, *zap.Logger, error) {
	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg.Log.Env)
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *Config, logger *zap.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("acpd listening",
			zap.String("addr", cfg.HTTP.Addr),
			zap.Bool("postgres", a.pool != nil),
			zap.Bool("redis", a.redis != nil),
			zap.Bool("webhooks", a.webhook != nil),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending Postgres migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if cfg.Database.URL == "" {
				return errors.New("database.url is required")
			}

			pool, err := postgres.Connect(cmd.Context(), cfg.Database.URL)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := postgres.Migrate(cmd.Context(), pool)
			if err != nil {
				return err
			}
			logger.Info("migrations applied", zap.Strings("versions", applied))
			return nil
		},
	}
}

func newPurgeIdempotencyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "purge-idempotency",
		Short: "Delete expired idempotency records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			purged, err := a.idempotencyStore().PurgeExpired(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			logger.Info("idempotency records purged", zap.Int64("count", purged))
			return nil
		},
	}
}

func newNotifyOrderCmd(opts *rootOptions) *cobra.Command {
	var (
		status       string
		refundAmount int
		refundType   string
	)
	cmd := &cobra.Command{
		Use:   "notify-order <checkout_session_id>",
		Short: "Send an order_update webhook for a completed session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if cfg.Database.URL == "" {
				return errors.New("database.url is required to look up sessions")
			}
			if cfg.Webhook.URL == "" {
				return errors.New("webhook.url is required")
			}

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			var refunds []acp.Refund
			if refundAmount > 0 {
				refunds = append(refunds, acp.Refund{Type: acp.RefundType(refundType), Amount: refundAmount})
			}
			return a.checkout.NotifyOrderUpdate(cmd.Context(), args[0], acp.OrderStatus(status), refunds)
		},
	}
	cmd.Flags().StringVar(&status, "status", string(acp.OrderStatusConfirmed), "order status to report")
	cmd.Flags().IntVar(&refundAmount, "refund-amount", 0, "refunded amount in minor units")
	cmd.Flags().StringVar(&refundType, "refund-type", string(acp.RefundTypeOriginalPayment), "refund source")
	return cmd
}
