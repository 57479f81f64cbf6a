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

	"github.com/unclebandit/contactsync-backend/internal/config"
	"github.com/unclebandit/contactsync-backend/internal/controller"
	"github.com/unclebandit/contactsync-backend/internal/handler"
	"github.com/unclebandit/contactsync-backend/internal/logging"
	"github.com/unclebandit/contactsync-backend/internal/service"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "contactsync",
		Short:        "Contact sync server",
		Long:         "Files campaign registrations into customers' contact directories on a schedule.",
		SilenceUsage: true,
	}
	root.PersistentFlags().Bool("migrate", false, "Apply the embedded schema before starting")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the HTTP API",
		RunE:  runServe,
	})
	root.AddCommand(&cobra.Command{
		Use:   "run-once",
		Short: "Perform a single sync run and exit",
		RunE:  runOnce,
	})
	return root
}

func bootstrap(cmd *cobra.Command) (*config.Config, *zap.Logger, bool, error) {
	envLoaded := config.LoadEnvFile()
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, false, err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	if !envLoaded {
		logger.Info("⚠️ No .env file found, relying on OS environment variables")
	}
	if err := cfg.Validate(); err != nil {
		return nil, logger, false, err
	}
	migrate, err := cmd.Flags().GetBool("migrate")
	if err != nil {
		return nil, logger, false, fmt.Errorf("read migrate flag: %w", err)
	}
	return cfg, logger, migrate, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, migrate, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, migrate)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	scheduler := service.NewScheduler(a.orch, cfg.SyncSchedule, logger.Named("scheduler"))
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("schedule sync: %w", err)
	}

	router := handler.NewRouter(handler.RouterDeps{
		Sync: &handler.SyncHandler{Scheduler: scheduler, Status: a.orch},
		Campaign: &controller.CampaignController{
			Stats:     a.store,
			Customers: a.store,
			Hourly:    a.hourlyCounts,
			Logger:    logger.Named("http"),
		},
		DB:      a.db,
		Metrics: a.metrics.Handler(),
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("🚀 Server running", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}

	// a run in flight finishes its current work before exit
	<-scheduler.Stop().Done()
	logger.Info("scheduler stopped gracefully")
	return nil
}

func runOnce(cmd *cobra.Command, _ []string) error {
	cfg, logger, migrate, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger, migrate)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	summary, err := a.orch.Run(ctx)
	if err != nil {
		return err
	}
	logger.Info("run-once finished",
		zap.Int("customers", len(summary.Customers)),
		zap.Int("saved", summary.Saved),
		zap.Int("existed", summary.Existed),
		zap.Int("excluded", summary.Excluded),
		zap.Int("failed", summary.Failed))
	return nil
}
