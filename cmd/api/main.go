package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/practicekit/booking-engine/internal/api/router"
	"github.com/practicekit/booking-engine/internal/appointments"
	appconfig "github.com/practicekit/booking-engine/internal/config"
	"github.com/practicekit/booking-engine/internal/observability/metrics"
	"github.com/practicekit/booking-engine/internal/reminders"
	"github.com/practicekit/booking-engine/pkg/logging"
)

func main() {
	// Load configuration
	_ = godotenv.Load()
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting booking-engine API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Error("database unreachable", "error", err)
		os.Exit(1)
	}

	// Metrics
	registry := prometheus.NewRegistry()
	bookingMetrics := metrics.NewBookingMetrics(registry)
	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	// Optional Redis-backed slot lock. Without Redis, bookings run with the
	// conflict-check/insert window unserialized.
	var slotLock appointments.SlotLock
	if cfg.RedisAddr != "" {
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		redisClient := redis.NewClient(opts)
		defer func() { _ = redisClient.Close() }()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, slot locking disabled", "error", err)
		} else {
			slotLock = appointments.NewRedisSlotLock(redisClient, cfg.SlotLockTTL, logger)
		}
	}

	// Stores and services
	apptStore := appointments.NewStore(pool)
	reminderStore := reminders.NewStore(pool)
	reminderScheduler := reminders.NewScheduler(reminderStore, reminders.Channel(cfg.ReminderChannel), bookingMetrics, logger)

	bookingService := appointments.NewService(apptStore, nil, nil, reminderScheduler, slotLock, bookingMetrics, logger)
	seriesCoordinator := appointments.NewSeriesCoordinator(apptStore, reminderScheduler, bookingMetrics, logger)

	// Reminder dispatch worker
	dispatcher := reminders.NewDispatcher(reminderStore, reminders.NewLogSender(logger), cfg.ReminderDispatchBatch, logger)
	go dispatcher.Run(ctx, cfg.ReminderPollInterval)

	// Setup router
	routerCfg := &router.Config{
		Logger:              logger,
		AppointmentsHandler: appointments.NewHandler(bookingService, seriesCoordinator, logger),
		StaffAuthSecret:     cfg.StaffJWTSecret,
		MetricsHandler:      metricsHandler,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		RateLimitRPS:        cfg.RateLimitRPS,
		RateLimitBurst:      cfg.RateLimitBurst,
	}
	r := router.New(routerCfg)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	<-ctx.Done()

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
