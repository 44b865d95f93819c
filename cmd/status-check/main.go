// Package main is the entrypoint for the subscription status check cron.
//
// The status check runs on a fixed schedule and watches for downgrades: it
// loads every locally active auto-renewing subscription and demotes those
// whose provider subscription is no longer alive (canceled, expired after
// incomplete payment, or unpaid), resetting the user to the free plan.
// Wiring lives here; all reconciliation logic is in internal/reconcile.
package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"fittrack/internal/config"
	"fittrack/internal/cron"
	"fittrack/internal/db"
	"fittrack/internal/external"
	"fittrack/internal/reconcile"
)

const jobName = "subscription_check"

func main() {
	// os.Exit skips deferred cleanup, so the work happens in run.
	os.Exit(run())
}

func run() int {
	manual := flag.Bool("manual", false, "allow running from an interactive shell")
	flag.Parse()

	if !cron.AllowExecution(cron.StdinIsInteractive(), *manual) {
		denied := &cron.Driver{
			Name:   jobName,
			Logger: slog.New(slog.NewJSONHandler(os.Stdout, nil)),
			Out:    os.Stdout,
		}
		return denied.Denied()
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return cron.ExitFailure
	}

	now := time.Now().UTC()
	logFile, err := cron.OpenMonthlyLog(cfg.Cron.LogDir, jobName, now)
	if err != nil {
		slog.Error("failed to open log file", "error", err)
		return cron.ExitFailure
	}
	defer logFile.Close()

	logger := slog.New(slog.NewJSONHandler(io.MultiWriter(os.Stdout, logFile), &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if compacted, err := cron.CompactOldLogs(cfg.Cron.LogDir, jobName, now, cfg.Cron.CompressAfter); err != nil {
		logger.Warn("log compaction failed", "error", err)
	} else if compacted > 0 {
		logger.Info("compacted old log files", "count", compacted)
	}

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return cron.ExitFailure
	}
	defer pool.Close()

	stripeClient := external.NewStripeClient(
		&http.Client{Timeout: cfg.Billing.RequestTimeout},
		external.StripeClientConfig{
			SecretKey: cfg.Billing.StripeSecretKey,
			Logger:    logger,
		},
	)

	engine := reconcile.NewEngine(reconcile.EngineConfig{
		Store:      db.NewSubscriptionRepository(pool),
		Provider:   stripeClient,
		FreePlanID: cfg.Billing.FreePlanID,
		Logger:     logger,
	})

	driver := &cron.Driver{
		Name:   jobName,
		Logger: logger,
		Out:    os.Stdout,
	}

	return driver.Execute(ctx, func(ctx context.Context) (*reconcile.Outcome, error) {
		return engine.Run(ctx, reconcile.StatusPass())
	})
}
