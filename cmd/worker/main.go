package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/hszk-dev/hlsforge/internal/config"
	"github.com/hszk-dev/hlsforge/internal/domain/repository"
	"github.com/hszk-dev/hlsforge/internal/infrastructure/cache"
	"github.com/hszk-dev/hlsforge/internal/infrastructure/postgres"
	"github.com/hszk-dev/hlsforge/internal/infrastructure/queue"
	"github.com/hszk-dev/hlsforge/internal/infrastructure/storage"
	"github.com/hszk-dev/hlsforge/internal/pipeline"
	"github.com/hszk-dev/hlsforge/internal/subtitle"
	"github.com/hszk-dev/hlsforge/internal/telemetry"
	"github.com/hszk-dev/hlsforge/internal/thumbnail"
	"github.com/hszk-dev/hlsforge/internal/toolchain"
	"github.com/hszk-dev/hlsforge/internal/transcoder"
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

	shutdownTracing, err := telemetry.Init(ctx, "hlsforge-worker", telemetry.Config{
		Endpoint:   cfg.Telemetry.OTLPEndpoint,
		SampleRate: cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}

	if err := os.MkdirAll(cfg.Worker.WorkDir, 0755); err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}

	engine, err := toolchain.Resolve(ctx, cfg.Toolchain.SearchDirs, logger)
	if err != nil {
		return fmt.Errorf("failed to resolve ffmpeg: %w", err)
	}
	engineAttrs := []any{slog.String("ffmpeg", engine.FFmpeg), slog.String("ffprobe", engine.FFprobe)}
	if engine.Version != nil {
		engineAttrs = append(engineAttrs, slog.String("version", engine.Version.String()))
	}
	logger.Info("resolved toolchain", engineAttrs...)

	// Initialize infrastructure clients
	pgClient, err := postgres.NewClient(ctx, postgres.DefaultClientConfig(cfg.Database.DSN()))
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pgClient.Close()
	prometheus.MustRegister(pgClient.Collector())
	logger.Info("connected to PostgreSQL")

	storageClient, err := storage.NewClient(ctx, storage.ClientConfig{
		Endpoint:          cfg.MinIO.Endpoint,
		AccessKey:         cfg.MinIO.AccessKey,
		SecretKey:         cfg.MinIO.SecretKey,
		Bucket:            cfg.MinIO.Bucket,
		UseSSL:            cfg.MinIO.UseSSL,
		UploadConcurrency: cfg.MinIO.UploadConcurrency,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to MinIO: %w", err)
	}
	logger.Info("connected to MinIO")

	queueCfg := queue.DefaultClientConfig(cfg.RabbitMQ.URL())
	queueCfg.MaxRetries = cfg.Worker.MaxRetries
	queueClient, err := queue.NewClient(ctx, queueCfg, logger)
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

	// Conversion pipeline
	ffmpeg := engine.FFmpegRunner(logger)
	ffprobe := engine.FFprobeRunner(logger)
	runner := pipeline.NewRunner(
		transcoder.NewFFmpegTranscoder(transcoder.FFmpegConfig{
			Engine: engine,
			Runner: ffmpeg,
			Arch:   cfg.Toolchain.Arch,
			Logger: logger,
		}),
		thumbnail.NewGenerator(ffmpeg, logger, thumbnail.WithScratchDir(filepath.Join(cfg.Worker.WorkDir, "frames"))),
		subtitle.NewProcessor(ffmpeg, ffprobe, logger),
		logger,
	)

	workerSvc := usecase.NewWorkerService(
		postgres.NewJobRepository(pgClient.Pool()),
		storageClient,
		cache.NewRedisProgressCache(redisClient),
		cache.NewRedisEventBus(redisClient, logger),
		runner,
		usecase.WorkerServiceConfig{
			WorkDir:          cfg.Worker.WorkDir,
			MaxRetries:       cfg.Worker.MaxRetries,
			ProgressInterval: cfg.Worker.ProgressInterval,
			SnapshotTTL:      cfg.Redis.ProgressTTL,
			PublishPrefix:    "hls",
			Roots:            cfg.Worker.Roots(),
		},
		logger,
	)

	if cfg.Worker.MetricsAddr != "" {
		metricsSrv := &http.Server{
			Addr:              cfg.Worker.MetricsAddr,
			Handler:           promhttp.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
		defer metricsSrv.Close()
	}

	// Setup signal handling for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// WaitGroup to track in-flight tasks
	var wg sync.WaitGroup

	errCh := make(chan error, 2)
	go func() {
		if err := workerSvc.ListenCancel(ctx); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("cancel listener error: %w", err)
		}
	}()

	go func() {
		logger.Info("starting worker, consuming conversion tasks")
		err := queueClient.ConsumeTasks(ctx, func(taskCtx context.Context, task repository.ConversionTask) error {
			wg.Add(1)
			defer wg.Done()

			logger.Info("processing task",
				slog.String("job_id", task.JobID.String()),
				slog.String("task", string(task.Kind)),
				slog.Int("retry_count", task.RetryCount),
			)

			if err := workerSvc.ProcessTask(taskCtx, task); err != nil {
				logger.Error("task processing failed",
					slog.String("job_id", task.JobID.String()),
					slog.Int("retry_count", task.RetryCount),
					slog.String("error", err.Error()),
				)
				return err
			}

			logger.Info("task handled",
				slog.String("job_id", task.JobID.String()),
			)
			return nil
		})
		if err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("consumer error: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down worker", slog.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	// Cancelling the root context stops consumption and interrupts running
	// conversions, which stay PROCESSING and are resumed on redelivery.
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("all in-flight tasks stopped")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout exceeded, some tasks may not have stopped")
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown failed", slog.String("error", err.Error()))
	}

	logger.Info("worker stopped")
	return nil
}
