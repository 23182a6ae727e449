package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"govreview/api/internal/alerts"
	"govreview/api/internal/app"
	"govreview/api/internal/authpw"
	"govreview/api/internal/export"
	"govreview/api/internal/gitrepo"
	"govreview/api/internal/locks"
	"govreview/api/internal/session"
	"govreview/api/internal/telemetry"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var skipSweeper bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts, !skipSweeper)
		},
	}
	cmd.Flags().BoolVar(&skipSweeper, "no-sweeper", false, "Do not run the LCID expiration sweeper in this process")
	return cmd
}

func serve(ctx context.Context, opts *rootOptions, runSweeper bool) error {
	cfg, logger := opts.cfg, opts.logger

	providers, err := telemetry.Init(ctx, "govreview-api", version, telemetry.Options{
		Enabled: cfg.OTel.Enabled,
		Stdout:  cfg.OTel.Stdout,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics, err := telemetry.NewActionMetrics(telemetry.Meter())
	if err != nil {
		return err
	}

	in, err := openInfra(ctx, cfg, logger, infraNeeds{redis: true, search: true, documents: true})
	if err != nil {
		return err
	}
	defer in.Close()

	if err := migrate(ctx, cfg, in.db, logger); err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		return fmt.Errorf("create repos dir: %w", err)
	}

	deps := app.Deps{
		Store:         in.store,
		Passwords:     authpw.NewService(in.store),
		BusinessCases: gitrepo.New(cfg.ReposDir),
		Search:        in.search,
		Letters:       export.NewService(),
		Metrics:       metrics,
		Logger:        logger,
		ReadyChecks:   readyChecks(in),
	}
	if in.redis != nil {
		logger.Info("using redis for sessions and action locks")
		deps.Sessions = session.NewRedisStoreWithClient(in.redis)
		deps.Locker = locks.NewRedisLocker(in.redis)
	} else {
		logger.Info("using postgres for sessions and in-process action locks")
		deps.Sessions = in.store
		deps.Locker = locks.NewMemoryLocker()
	}
	if in.docs != nil {
		deps.Documents = in.docs
	}
	if in.mailer != nil {
		deps.Notifier = in.mailer
	} else {
		logger.Warn("smtp is not configured; notifications and lcid alerts are disabled")
	}

	service := app.New(cfg, deps)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	if runSweeper && in.mailer != nil && cfg.LCID.SweepInterval > 0 {
		sweeper := alerts.NewSweeper(in.store, in.mailer, logger.With("component", "lcid-sweeper"), cfg.LCID.AlertWindow)
		go sweeper.Run(ctx, cfg.LCID.SweepInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("govreview api listening", "addr", cfg.Addr, "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
		return err
	}
	return nil
}

func readyChecks(in *infra) []app.ReadyCheck {
	checks := []app.ReadyCheck{{Name: "database", Check: in.store.Ping}}
	if in.redis != nil {
		checks = append(checks, app.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return in.redis.Ping(ctx).Err()
		}})
	}
	if in.search != nil {
		checks = append(checks, app.ReadyCheck{Name: "search", Optional: true, Check: func(context.Context) error {
			if !in.search.Healthy() {
				return errSearchDegraded
			}
			return nil
		}})
	}
	if in.docs != nil {
		checks = append(checks, app.ReadyCheck{Name: "documents", Optional: true, Check: in.docs.Ping})
	}
	return checks
}
