package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"github.com/manenim/gateway-guard/internal/config"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(
		pslog.WithEnvPrefix("GUARD_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "guard-server")
	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			baseLogger.Error("command failed", "error", err)
		}
		return 1
	}
	return 0
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "guard-server",
		Short: "HTTP gateway demonstrating distributed locks, rate limits and idempotent requests",
		Long: `guard-server fronts a small demo API with the gateway-guard primitives.
All state lives in the configured key store, so any number of replicas can
share limits, locks and idempotency records.

Every flag can also be set through GUARD_<FLAG> environment variables
(dashes become underscores) or a config file passed with --config.`,
		Example: `  # Redis backed, 100 requests per minute per API key
  guard-server --redis-addr localhost:6379 --rate-algorithm sliding_window --rate-limit 100 --rate-period 1m

  # Single process, no Redis
  GUARD_STORE=memory guard-server`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			v, err := config.NewViper(cmd.Flags())
			if err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}

			logger := baseLogger
			if level, ok := pslog.ParseLevel(strings.TrimSpace(cfg.LogLevel)); ok {
				logger = logger.LogLevel(level)
			}
			return run(cmd.Context(), cfg, logger)
		},
	}
	config.BindFlags(cmd.Flags())
	return cmd
}

func run(ctx context.Context, cfg config.Config, logger pslog.Logger) error {
	svc, err := newServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           newRouter(svc),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	logger.Info("guard-server listening", "listen", cfg.Listen, "store", cfg.Store)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}
