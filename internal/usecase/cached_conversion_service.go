package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/hszk-dev/hlsforge/internal/domain/model"
	"github.com/hszk-dev/hlsforge/internal/infrastructure/cache"
	"github.com/hszk-dev/hlsforge/internal/infrastructure/metrics"
)

// CachedConversionServiceConfig holds configuration for the cached decorator.
type CachedConversionServiceConfig struct {
	// SnapshotTTL bounds how long a derived snapshot is cached.
	SnapshotTTL time.Duration
}

// DefaultCachedConversionServiceConfig returns the default configuration.
func DefaultCachedConversionServiceConfig() CachedConversionServiceConfig {
	return CachedConversionServiceConfig{
		SnapshotTTL: 24 * time.Hour,
	}
}

// cachedConversionService serves progress from the snapshot cache the worker
// writes to, falling back to the stored job status.
type cachedConversionService struct {
	ConversionService

	cache   cache.ProgressCache
	sfGroup singleflight.Group
	logger  *slog.Logger

	snapshotTTL time.Duration
}

// NewCachedConversionService wraps delegate with progress caching.
func NewCachedConversionService(
	delegate ConversionService,
	progressCache cache.ProgressCache,
	cfg CachedConversionServiceConfig,
	logger *slog.Logger,
) ConversionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &cachedConversionService{
		ConversionService: delegate,
		cache:             progressCache,
		logger:            logger,
		snapshotTTL:       cfg.SnapshotTTL,
	}
}

// Submit seeds the cache with a QUEUED snapshot so early polls skip the database.
func (s *cachedConversionService) Submit(ctx context.Context, input SubmitInput) (*model.ConversionJob, error) {
	job, err := s.ConversionService.Submit(ctx, input)
	if err != nil {
		return nil, err
	}

	s.store(ctx, snapshotFromJob(job))
	return job, nil
}

// Progress coalesces concurrent polls for the same job with singleflight.
func (s *cachedConversionService) Progress(ctx context.Context, jobID uuid.UUID) (*cache.ProgressSnapshot, error) {
	result, err, shared := s.sfGroup.Do(jobID.String(), func() (any, error) {
		return s.progressWithCache(ctx, jobID)
	})

	if shared {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightShared).Inc()
	} else {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightInitiated).Inc()
	}

	if err != nil {
		return nil, err
	}

	// Shared results must not be mutated by callers.
	snap := *result.(*cache.ProgressSnapshot)
	return &snap, nil
}

func (s *cachedConversionService) progressWithCache(ctx context.Context, jobID uuid.UUID) (*cache.ProgressSnapshot, error) {
	snap, err := s.cache.Get(ctx, jobID)
	if err != nil {
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusError, metrics.CacheTypeRedis).Inc()
		s.logger.Warn("cache get failed, falling back to database",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
	}

	if snap != nil {
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusHit, metrics.CacheTypeRedis).Inc()
		return snap, nil
	}
	if err == nil {
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusMiss, metrics.CacheTypeRedis).Inc()
	}

	snap, err = s.ConversionService.Progress(ctx, jobID)
	if err != nil {
		return nil, err
	}

	s.store(ctx, snap)
	return snap, nil
}

// Cancel drops the cached snapshot so the next poll observes the new status.
func (s *cachedConversionService) Cancel(ctx context.Context, jobID uuid.UUID) error {
	if err := s.ConversionService.Cancel(ctx, jobID); err != nil {
		return err
	}
	s.invalidate(ctx, jobID)
	return nil
}

// Cleanup drops the cached snapshot once the cleanup task is queued.
func (s *cachedConversionService) Cleanup(ctx context.Context, jobID uuid.UUID) error {
	if err := s.ConversionService.Cleanup(ctx, jobID); err != nil {
		return err
	}
	s.invalidate(ctx, jobID)
	return nil
}

func (s *cachedConversionService) store(ctx context.Context, snap *cache.ProgressSnapshot) {
	if err := s.cache.Set(ctx, snap, s.snapshotTTL); err != nil {
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpSet, metrics.CacheStatusError, metrics.CacheTypeRedis).Inc()
		s.logger.Warn("failed to cache progress snapshot",
			slog.String("job_id", snap.JobID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpSet, metrics.CacheStatusSuccess, metrics.CacheTypeRedis).Inc()
}

func (s *cachedConversionService) invalidate(ctx context.Context, jobID uuid.UUID) {
	if err := s.cache.Delete(ctx, jobID); err != nil {
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpDelete, metrics.CacheStatusError, metrics.CacheTypeRedis).Inc()
		s.logger.Warn("failed to invalidate progress snapshot",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpDelete, metrics.CacheStatusSuccess, metrics.CacheTypeRedis).Inc()
}
