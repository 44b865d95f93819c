// Package main is the entrypoint for the HTTP API: feedback, device token
// registration, push dispatch, gym stats, and on-demand billing sync.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fittrack/internal/api"
	"fittrack/internal/auth"
	"fittrack/internal/config"
	"fittrack/internal/db"
	"fittrack/internal/external"
	"fittrack/internal/reconcile"
)

const shutdownGrace = 10 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	stripeClient := external.NewStripeClient(
		&http.Client{Timeout: cfg.Billing.RequestTimeout},
		external.StripeClientConfig{
			SecretKey: cfg.Billing.StripeSecretKey,
			Logger:    logger,
		},
	)

	fcmClient, err := external.NewFCMClient(
		&http.Client{Timeout: cfg.Push.RequestTimeout},
		external.FCMClientConfig{
			ProjectID:          cfg.Push.ProjectID,
			ServiceAccountJSON: cfg.Push.ServiceAccountJSON,
			Logger:             logger,
		},
	)
	if err != nil {
		logger.Error("failed to initialize FCM client", "error", err)
		os.Exit(1)
	}

	subscriptions := db.NewSubscriptionRepository(pool)
	engine := reconcile.NewEngine(reconcile.EngineConfig{
		Store:      subscriptions,
		Provider:   stripeClient,
		FreePlanID: cfg.Billing.FreePlanID,
		Logger:     logger,
	})

	server := api.NewServer(api.ServerConfig{
		Logger:         logger,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Auth:           auth.NewAuthenticator(db.NewUserRepository(pool)),
		Feedback:       db.NewFeedbackRepository(pool),
		Devices:        db.NewDeviceTokenRepository(pool),
		Notifications:  db.NewNotificationRepository(pool),
		GymStats:       db.NewGymStatsRepository(pool),
		Pusher:         fcmClient,
		Reconciler:     engine,
		SubOwners:      subscriptions,
		Verifier:       &external.StripeVerifier{},
		WebhookSecret:  cfg.Billing.StripeWebhookSecret,
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening",
			"port", cfg.Server.Port,
			"environment", cfg.Environment,
		)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
