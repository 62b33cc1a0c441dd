package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"github.com/hszk-dev/hlsforge/internal/api/handler"
	"github.com/hszk-dev/hlsforge/internal/api/middleware"
	"github.com/hszk-dev/hlsforge/internal/config"
	"github.com/hszk-dev/hlsforge/internal/infrastructure/cache"
	"github.com/hszk-dev/hlsforge/internal/infrastructure/postgres"
	"github.com/hszk-dev/hlsforge/internal/infrastructure/queue"
	"github.com/hszk-dev/hlsforge/internal/telemetry"
	"github.com/hszk-dev/hlsforge/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	shutdownTracing, err := telemetry.Init(ctx, "hlsforge-api", telemetry.Config{
		Endpoint:   cfg.Telemetry.OTLPEndpoint,
		SampleRate: cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}

	pgClient, err := postgres.NewClient(ctx, postgres.DefaultClientConfig(cfg.Database.DSN()))
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pgClient.Close()
	logger.Info("connected to PostgreSQL")

	if err := pgClient.EnsureSchema(ctx); err != nil {
		return err
	}
	prometheus.MustRegister(pgClient.Collector())

	queueClient, err := queue.NewClient(ctx, queue.DefaultClientConfig(cfg.RabbitMQ.URL()), logger)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer queueClient.Close()
	logger.Info("connected to RabbitMQ")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.Info("connected to Redis")

	jobRepo := postgres.NewJobRepository(pgClient.Pool())
	bus := cache.NewRedisEventBus(redisClient, logger)
	svc := usecase.NewCachedConversionService(
		usecase.NewConversionService(jobRepo, queueClient, bus, cfg.Worker.Roots()),
		cache.NewRedisProgressCache(redisClient),
		usecase.CachedConversionServiceConfig{SnapshotTTL: cfg.Redis.ProgressTTL},
		logger,
	)

	conversions := handler.NewConversionHandler(svc, cfg.Server.PlaylistBaseURL).
		WithLogger(logger).
		WithAllowedOrigins(cfg.Server.AllowedOrigins)
	if cfg.Server.Profile != "" {
		profile, err := config.LoadProfile(cfg.Server.Profile)
		if err != nil {
			return fmt.Errorf("failed to load profile: %w", err)
		}
		conversions.WithDefaults(profile.Options, profile.Exclude)
		logger.Info("loaded conversion profile", slog.String("path", cfg.Server.Profile))
	}

	r := setupRouter(logger, cfg.Server.AllowedOrigins, conversions, map[string]handler.Check{
		"postgres": pgClient.Ping,
		"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	})

	// WriteTimeout stays zero: the events endpoint holds its connection open.
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down server", slog.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Live event subscriptions end with the root context.
	cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown failed", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
	return nil
}

func setupRouter(logger *slog.Logger, origins []string, conversions *handler.ConversionHandler, checks map[string]handler.Check) *chi.Mux {
	r := chi.NewRouter()

	r.Use(cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{chimw.RequestIDHeader},
	}).Handler)
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing("hlsforge-api"))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics)
	r.Use(middleware.Recoverer(logger))

	r.Get("/health", handler.Health)
	r.Get("/ready", handler.Ready(checks))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/conversions", func(r chi.Router) {
		r.Post("/", conversions.Submit)
		r.Get("/", conversions.List)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", conversions.Get)
			r.Get("/progress", conversions.Progress)
			r.Get("/events", conversions.Events)
			r.Post("/cancel", conversions.Cancel)
			r.Post("/cleanup", conversions.Cleanup)
		})
	})

	return r
}
