package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hszk-dev/hlsforge/internal/domain/model"
	"github.com/hszk-dev/hlsforge/internal/domain/repository"
	"github.com/hszk-dev/hlsforge/internal/infrastructure/cache"
	"github.com/hszk-dev/hlsforge/internal/infrastructure/metrics"
	"github.com/hszk-dev/hlsforge/internal/pipeline"
	"github.com/hszk-dev/hlsforge/internal/transcoder"
)

const (
	// DefaultMaxRetries is the default maximum number of retry attempts before marking as failed.
	DefaultMaxRetries = 3

	defaultProgressInterval = 500 * time.Millisecond
)

var (
	// ErrRetriesExhausted is recorded on jobs whose task failed too many times.
	ErrRetriesExhausted = errors.New("retries exhausted")

	errCancelRequested = errors.New("cancellation requested")
)

// PipelineRunner is implemented by *pipeline.Runner.
type PipelineRunner interface {
	Run(ctx context.Context, req pipeline.Request) <-chan pipeline.Event
}

// WorkerServiceConfig holds configuration for WorkerService.
type WorkerServiceConfig struct {
	// WorkDir holds downloaded sources while their job runs.
	WorkDir string
	// MaxRetries is the maximum number of retry attempts before marking a job as failed.
	MaxRetries int
	// ProgressInterval bounds how often progress snapshots are written and published.
	ProgressInterval time.Duration
	// SnapshotTTL is the lifetime of cached progress snapshots.
	SnapshotTTL time.Duration
	// PublishPrefix is the object storage prefix finished output trees are uploaded under.
	PublishPrefix string
	// Roots confines the host paths a job may read and write. Jobs outside
	// them are failed before any file is touched.
	Roots model.PathRoots
}

// DefaultWorkerServiceConfig returns the default configuration.
func DefaultWorkerServiceConfig() WorkerServiceConfig {
	return WorkerServiceConfig{
		WorkDir:          filepath.Join(os.TempDir(), "hlsforge"),
		MaxRetries:       DefaultMaxRetries,
		ProgressInterval: defaultProgressInterval,
		SnapshotTTL:      24 * time.Hour,
		PublishPrefix:    "hls",
	}
}

// WorkerService processes queued conversion and cleanup tasks.
type WorkerService interface {
	// ProcessTask handles one task from the message queue.
	// Returns nil on success or permanent failure, and an error for transient
	// failures that should trigger a retry.
	ProcessTask(ctx context.Context, task repository.ConversionTask) error

	// ListenCancel stops running jobs whose cancellation is requested until ctx is done.
	ListenCancel(ctx context.Context) error
}

type workerService struct {
	repo     repository.ConversionJobRepository
	storage  repository.ObjectStorage
	progress cache.ProgressCache
	bus      cache.EventBus
	runner   PipelineRunner
	logger   *slog.Logger
	cfg      WorkerServiceConfig

	mu      sync.Mutex
	running map[uuid.UUID]context.CancelCauseFunc
}

// NewWorkerService creates a new WorkerService instance. storage may be nil,
// in which case only local input paths are accepted and output is not published.
func NewWorkerService(
	repo repository.ConversionJobRepository,
	storage repository.ObjectStorage,
	progress cache.ProgressCache,
	bus cache.EventBus,
	runner PipelineRunner,
	cfg WorkerServiceConfig,
	logger *slog.Logger,
) WorkerService {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = defaultProgressInterval
	}
	return &workerService{
		repo:     repo,
		storage:  storage,
		progress: progress,
		bus:      bus,
		runner:   runner,
		logger:   logger.With(slog.String("component", "worker")),
		cfg:      cfg,
		running:  make(map[uuid.UUID]context.CancelCauseFunc),
	}
}

func (s *workerService) ProcessTask(ctx context.Context, task repository.ConversionTask) error {
	logger := s.logger.With(
		slog.String("job_id", task.JobID.String()),
		slog.String("task", string(task.Kind)),
		slog.Int("retry_count", task.RetryCount),
	)

	job, err := s.repo.GetByID(ctx, task.JobID)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			logger.Warn("dropping task for unknown job")
			return nil
		}
		return fmt.Errorf("get job: %w", err)
	}

	switch task.Kind {
	case repository.TaskConvert:
		return s.convert(ctx, job, task, logger)
	case repository.TaskCleanup:
		return s.cleanup(ctx, job, logger)
	default:
		logger.Warn("dropping task of unknown kind")
		return nil
	}
}

func (s *workerService) convert(ctx context.Context, job *model.ConversionJob, task repository.ConversionTask, logger *slog.Logger) error {
	if job.Status.IsActive() {
		if err := s.cfg.Roots.Check(job); err != nil {
			s.rejectPaths(ctx, job, err, logger)
			return nil
		}
	}

	switch job.Status {
	case model.StatusQueued:
		if err := job.TransitionTo(model.StatusProcessing); err != nil {
			return fmt.Errorf("transition to processing: %w", err)
		}
		if err := s.repo.Update(ctx, job); err != nil {
			return fmt.Errorf("update job status: %w", err)
		}
	case model.StatusProcessing:
		if s.cfg.MaxRetries > 0 && task.RetryCount >= s.cfg.MaxRetries {
			s.fail(ctx, job, fmt.Errorf("%w after %d attempts", ErrRetriesExhausted, task.RetryCount), 0, logger)
			return nil
		}
		// A previous attempt was interrupted; start over from an empty directory.
		transcoder.Cleanup(logger, job.OutputDir)
	default:
		logger.Info("skipping job in terminal status", slog.String("status", job.Status.String()))
		return nil
	}

	started := time.Now()
	jobCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	s.track(job.ID, cancel)
	defer s.untrack(job.ID)

	excluded, err := job.ExcludedRenditions()
	if err != nil {
		s.fail(ctx, job, fmt.Errorf("%w: %w", model.ErrInvalidOptions, err), time.Since(started), logger)
		return nil
	}

	if err := os.MkdirAll(job.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	inputPath, release, err := s.resolveInput(jobCtx, job)
	if err != nil {
		return fmt.Errorf("resolve input: %w", err)
	}
	defer release()

	logger.Info("conversion started", slog.String("input", inputPath), slog.String("output_dir", job.OutputDir))

	final := s.runPipeline(ctx, jobCtx, job, pipeline.Request{
		InputPath: inputPath,
		OutputDir: job.OutputDir,
		Options:   job.Options,
		Excluded:  excluded,
	})

	if final.Summary != nil {
		observeSummary(final.Summary)
	}

	if final.Kind != pipeline.EventCompleted {
		if ctx.Err() != nil {
			// Worker shutdown, not a user cancel: leave the job PROCESSING for redelivery.
			return ctx.Err()
		}
		s.fail(ctx, job, final.Err, time.Since(started), logger)
		return nil
	}
	for _, stage := range final.Summary.Degraded() {
		logger.Warn("conversion degraded", slog.String("stage", string(stage)))
	}

	prefix, err := s.publishOutput(ctx, job, logger)
	if err != nil {
		return fmt.Errorf("publish output: %w", err)
	}
	if prefix != "" {
		job.SetPublishedPrefix(prefix)
	}

	if err := job.Complete(final.Summary.Encoder, final.Summary.Renditions); err != nil {
		return fmt.Errorf("transition to completed: %w", err)
	}
	if err := s.repo.Update(ctx, job); err != nil {
		return fmt.Errorf("update job status: %w", err)
	}

	elapsed := time.Since(started)
	metrics.ObserveConversion(metrics.ConversionCompleted, job.Encoder.String(), elapsed)
	s.emit(ctx, cache.Message{
		JobID:    job.ID,
		Type:     cache.MessageCompleted,
		Status:   job.Status.String(),
		Progress: 1,
		Detail:   job.PublishedPrefix,
		Time:     time.Now(),
	}, logger)

	logger.Info("conversion completed",
		slog.String("encoder", job.Encoder.String()),
		slog.Any("renditions", job.Renditions),
		slog.Duration("elapsed", elapsed),
	)
	return nil
}

// runPipeline drains the event stream and returns its terminal event.
// Cache writes use ctx so the final snapshots survive a cancelled jobCtx.
func (s *workerService) runPipeline(ctx, jobCtx context.Context, job *model.ConversionJob, req pipeline.Request) pipeline.Event {
	logger := s.logger.With(slog.String("job_id", job.ID.String()))
	throttle := rate.Sometimes{Interval: s.cfg.ProgressInterval}

	var final pipeline.Event
	for ev := range s.runner.Run(jobCtx, req) {
		if ev.Terminal() {
			final = ev
			continue
		}

		observeEvent(ev)

		msg, milestone, ok := describeEvent(job.ID, ev)
		if !ok {
			continue
		}
		if milestone {
			s.emit(ctx, msg, logger)
			continue
		}
		throttle.Do(func() { s.emit(ctx, msg, logger) })
	}

	if final.Kind == 0 {
		final = pipeline.Event{Kind: pipeline.EventFailed, Err: errors.New("pipeline ended without a terminal event")}
	}
	return final
}

// emit stores msg as the job snapshot and publishes it to live subscribers.
// Both are best effort.
func (s *workerService) emit(ctx context.Context, msg cache.Message, logger *slog.Logger) {
	status := model.StatusProcessing
	if msg.Status != "" {
		status = model.Status(msg.Status)
	}
	snap := &cache.ProgressSnapshot{
		JobID:     msg.JobID,
		Status:    status,
		Stage:     msg.Stage,
		Progress:  msg.Progress,
		Rendition: msg.Rendition,
		Message:   msg.Detail,
		UpdatedAt: msg.Time,
	}

	if err := s.progress.Set(ctx, snap, s.cfg.SnapshotTTL); err != nil {
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpSet, metrics.CacheStatusError, metrics.CacheTypeRedis).Inc()
		logger.Warn("failed to cache progress snapshot", slog.String("error", err.Error()))
	} else {
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpSet, metrics.CacheStatusSuccess, metrics.CacheTypeRedis).Inc()
	}

	if err := s.bus.Publish(ctx, msg); err != nil {
		logger.Warn("failed to publish progress message", slog.String("error", err.Error()))
	}
}

func (s *workerService) fail(ctx context.Context, job *model.ConversionJob, cause error, elapsed time.Duration, logger *slog.Logger) {
	if err := job.Fail(cause); err != nil {
		logger.Error("failed to transition job",
			slog.String("status", job.Status.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.repo.Update(ctx, job); err != nil {
		// The job stays PROCESSING in the database for manual investigation.
		logger.Error("failed to record job failure", slog.String("error", err.Error()))
		return
	}

	label := metrics.ConversionFailed
	if job.Status == model.StatusCancelled {
		label = metrics.ConversionCancelled
	}
	metrics.ObserveConversion(label, job.Encoder.String(), elapsed)

	s.emit(ctx, cache.Message{
		JobID:     job.ID,
		Type:      cache.MessageFailed,
		Status:    job.Status.String(),
		Detail:    job.ErrorMessage,
		ErrorKind: job.ErrorKind,
		Time:      time.Now(),
	}, logger)

	logger.Warn("conversion did not complete",
		slog.String("status", job.Status.String()),
		slog.String("error_kind", job.ErrorKind),
		slog.String("error", job.ErrorMessage),
	)
}

// rejectPaths fails an active job whose paths escape the configured roots.
func (s *workerService) rejectPaths(ctx context.Context, job *model.ConversionJob, cause error, logger *slog.Logger) {
	if job.Status == model.StatusQueued {
		if err := job.TransitionTo(model.StatusProcessing); err != nil {
			logger.Error("failed to transition job", slog.String("error", err.Error()))
			return
		}
	}
	s.fail(ctx, job, fmt.Errorf("%w: %w", model.ErrInvalidOptions, cause), 0, logger)
}

// resolveInput returns a local path for the job's source, downloading it
// from object storage when needed. release removes any downloaded copy.
func (s *workerService) resolveInput(ctx context.Context, job *model.ConversionJob) (string, func(), error) {
	if job.InputPath != "" {
		return job.InputPath, func() {}, nil
	}
	if s.storage == nil {
		return "", nil, errors.New("object storage is not configured")
	}

	workDir := filepath.Join(s.cfg.WorkDir, job.ID.String())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create work directory: %w", err)
	}
	release := func() { _ = os.RemoveAll(workDir) }

	localPath := filepath.Join(workDir, "source"+path.Ext(job.InputKey))
	if err := s.download(ctx, job.InputKey, localPath); err != nil {
		release()
		return "", nil, err
	}
	return localPath, release, nil
}

func (s *workerService) download(ctx context.Context, key, localPath string) error {
	reader, err := s.storage.Download(ctx, key)
	if err != nil {
		return fmt.Errorf("storage download: %w", err)
	}
	defer func() { _ = reader.Close() }()

	file, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create local file: %w", err)
	}

	if _, err := io.Copy(file, reader); err != nil {
		_ = file.Close()
		return fmt.Errorf("copy to local file: %w", err)
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("close local file: %w", err)
	}
	return nil
}

// publishOutput uploads the output tree and returns its prefix, or "" when
// no storage is configured.
func (s *workerService) publishOutput(ctx context.Context, job *model.ConversionJob, logger *slog.Logger) (string, error) {
	if s.storage == nil {
		return "", nil
	}

	prefix := path.Join(s.cfg.PublishPrefix, job.ID.String())
	n, err := s.storage.UploadDir(ctx, prefix, job.OutputDir)
	metrics.UploadedObjectsTotal.Add(float64(n))
	if err != nil {
		return "", err
	}

	logger.Info("output published", slog.String("prefix", prefix), slog.Int("objects", n))
	return prefix, nil
}

func (s *workerService) cleanup(ctx context.Context, job *model.ConversionJob, logger *slog.Logger) error {
	if job.Status == model.StatusCleaned {
		return nil
	}
	if !job.IsTerminal() {
		logger.Warn("refusing to clean an active job", slog.String("status", job.Status.String()))
		return nil
	}

	if err := s.cfg.Roots.Check(job); err != nil {
		logger.Error("refusing to clean a directory outside the output root",
			slog.String("output_dir", job.OutputDir),
			slog.String("error", err.Error()),
		)
		return nil
	}

	removed := transcoder.Cleanup(logger, job.OutputDir)

	if job.PublishedPrefix != "" && s.storage != nil {
		n, err := s.storage.DeletePrefix(ctx, job.PublishedPrefix)
		if err != nil {
			return fmt.Errorf("delete published output: %w", err)
		}
		logger.Info("published output deleted", slog.String("prefix", job.PublishedPrefix), slog.Int("objects", n))
	}

	if err := job.TransitionTo(model.StatusCleaned); err != nil {
		return fmt.Errorf("transition to cleaned: %w", err)
	}
	if err := s.repo.Update(ctx, job); err != nil {
		return fmt.Errorf("update job status: %w", err)
	}

	if err := s.progress.Delete(ctx, job.ID); err != nil {
		logger.Warn("failed to delete progress snapshot", slog.String("error", err.Error()))
	}

	logger.Info("job cleaned", slog.Int("removed", removed))
	return nil
}

func (s *workerService) ListenCancel(ctx context.Context) error {
	ids, closeFn, err := s.bus.SubscribeCancel(ctx)
	if err != nil {
		return fmt.Errorf("subscribe cancel: %w", err)
	}
	defer func() { _ = closeFn() }()

	for id := range ids {
		if s.cancelJob(id) {
			s.logger.Info("cancelling job", slog.String("job_id", id.String()))
		}
	}
	return ctx.Err()
}

func (s *workerService) track(id uuid.UUID, cancel context.CancelCauseFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[id] = cancel
}

func (s *workerService) untrack(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, id)
}

// cancelJob reports whether id was running on this worker.
func (s *workerService) cancelJob(id uuid.UUID) bool {
	s.mu.Lock()
	cancel, ok := s.running[id]
	s.mu.Unlock()
	if ok {
		cancel(errCancelRequested)
	}
	return ok
}
