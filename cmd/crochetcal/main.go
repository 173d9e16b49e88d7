package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/crochetcal/internal/config"
	"github.com/dukerupert/crochetcal/internal/database"
	"github.com/dukerupert/crochetcal/internal/jobs"
	"github.com/dukerupert/crochetcal/internal/logging"
	"github.com/dukerupert/crochetcal/internal/push"
	"github.com/dukerupert/crochetcal/internal/server"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	if cfg.VAPIDPublicKey == "" {
		pub, priv, err := push.GenerateVAPIDKeys()
		if err != nil {
			return err
		}
		cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey = pub, priv
		logger.Warn("VAPID keys generated; add them to .env so subscriptions survive restarts",
			"VAPID_PUBLIC_KEY", pub, "VAPID_PRIVATE_KEY", priv)
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	srv := server.New(cfg, db, logger)
	if err := srv.Registry().Load(); err != nil {
		return fmt.Errorf("load push subscriptions: %w", err)
	}
	logger.Info("push subscriptions loaded", "count", srv.Registry().Len())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler := srv.PushScheduler()
	scheduler.Start(ctx)

	cron := jobs.New(cfg.Location, logger.With("component", "jobs"))
	if err := cron.Add("sent-ledger-cleanup", "@daily", func(ctx context.Context) error {
		n, err := srv.PushStore().CleanupSent(time.Now().Add(-cfg.SentRetention))
		if err != nil {
			return err
		}
		srv.RateLimiter().Cleanup()
		logger.Debug("sent ledger cleaned", "deleted", n)
		return nil
	}); err != nil {
		return err
	}
	if cfg.Backup.Enabled() {
		mgr := srv.BackupManager()
		if err := cron.Add("backup", cfg.Backup.Schedule, func(ctx context.Context) error {
			_, err := mgr.Run(ctx)
			return err
		}); err != nil {
			return err
		}
		logger.Info("scheduled backups enabled", "schedule", cfg.Backup.Schedule)
	}
	cron.Start()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("crochetcal running", "addr", "http://localhost:"+cfg.Port, "timezone", cfg.Location.String())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		cron.Stop()
		scheduler.Stop()
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("shutting down")
	cron.Stop()
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
