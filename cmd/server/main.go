package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/fuomag9/schedsync/internal/api"
	"github.com/fuomag9/schedsync/internal/booking"
	"github.com/fuomag9/schedsync/internal/calendly"
	"github.com/fuomag9/schedsync/internal/config"
	"github.com/fuomag9/schedsync/internal/connection"
	"github.com/fuomag9/schedsync/internal/database"
	"github.com/fuomag9/schedsync/internal/jobs"
	"github.com/fuomag9/schedsync/internal/notification"
	"github.com/fuomag9/schedsync/internal/store"
	"github.com/fuomag9/schedsync/internal/vault"
	"github.com/fuomag9/schedsync/internal/webhook"
	"github.com/fuomag9/schedsync/internal/websocket"
)

func main() {
	// Load configuration
	cfg := config.Load()

	logger, err := newLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.Connect(cfg.Database, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get database connection: %w", err)
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	st := store.NewGormStore(db)

	tokenVault, err := vault.New(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("initialize token vault: %w", err)
	}

	httpClient := &http.Client{Timeout: 15 * time.Second}
	oauthClient := calendly.NewOAuthClient(&cfg.Calendly, httpClient, logger)
	apiClient, err := calendly.NewClient(&cfg.Calendly, httpClient, logger)
	if err != nil {
		return fmt.Errorf("initialize calendly client: %w", err)
	}

	connections := connection.NewManager(oauthClient, apiClient, tokenVault, st, &cfg.Calendly, logger)

	// Booking fan-out
	hub := websocket.NewHub(cfg.JWTSecret, cfg.CORSOrigins, logger)
	go hub.Run(ctx)

	synchronizer := booking.NewSynchronizer(st, st, st, logger)
	synchronizer.AddListener(hub)

	if cfg.NotifyWebhook != "" {
		dispatcher, err := notification.NewDispatcher([]*notification.Target{{
			Name: "booking-webhook",
			Type: "webhook",
			Config: map[string]interface{}{
				"webhook_url":           cfg.NotifyWebhook,
				"allow_private_network": cfg.NotifyAllowPrivate,
			},
		}}, logger)
		if err != nil {
			return fmt.Errorf("initialize notifications: %w", err)
		}
		synchronizer.AddListener(dispatcher)
	}

	// Background jobs
	scheduler := jobs.NewScheduler(connections, st, logger)
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer scheduler.Stop()

	oauthLimiter := api.NewRateLimiter(rate.Limit(10.0/60.0), 10)
	oauthLimiter.CleanupOldLimiters(ctx)

	router := api.NewRouter(api.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Store:        st,
		Connections:  connections,
		Events:       synchronizer,
		Verifier:     webhook.NewVerifier(cfg.Calendly.SigningKey),
		WebSocket:    hub.HandleWebSocket,
		OAuthLimiter: oauthLimiter,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port), zap.String("environment", cfg.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server exited")
	return nil
}

func newLogger(level, environment string) (*zap.Logger, error) {
	var zcfg zap.Config
	if environment == "production" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zcfg.EncoderConfig.TimeKey = "timestamp"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}
