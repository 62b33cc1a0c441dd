package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hszk-dev/hlsforge/internal/domain/model"
	"github.com/hszk-dev/hlsforge/internal/domain/repository"
	"github.com/hszk-dev/hlsforge/internal/infrastructure/cache"
)

var (
	// ErrOutputDirBusy is returned when another active job writes to the requested output directory.
	ErrOutputDirBusy = errors.New("output directory is in use by an active job")

	// ErrJobNotActive is returned when cancelling a job that already finished.
	ErrJobNotActive = errors.New("job is not queued or processing")
)

// DefaultListLimit caps List when the caller passes a non-positive limit.
const DefaultListLimit = 50

// SubmitInput contains the parameters of a new conversion.
type SubmitInput struct {
	InputPath string
	InputKey  string
	OutputDir string
	Options   model.ConversionOptions
	Excluded  []string
}

// ConversionService defines the API-side operations on conversion jobs.
type ConversionService interface {
	// Submit validates and persists a job, then queues it for a worker.
	Submit(ctx context.Context, input SubmitInput) (*model.ConversionJob, error)

	// Get retrieves a job by ID.
	Get(ctx context.Context, jobID uuid.UUID) (*model.ConversionJob, error)

	// List returns the most recent jobs, newest first.
	List(ctx context.Context, limit int) ([]*model.ConversionJob, error)

	// Progress returns the latest progress snapshot of a job.
	Progress(ctx context.Context, jobID uuid.UUID) (*cache.ProgressSnapshot, error)

	// Cancel stops a queued or running job.
	Cancel(ctx context.Context, jobID uuid.UUID) error

	// Cleanup queues removal of a finished job's output.
	Cleanup(ctx context.Context, jobID uuid.UUID) error

	// Events streams live progress messages of a job.
	Events(ctx context.Context, jobID uuid.UUID) (<-chan cache.Message, func() error, error)
}

type conversionService struct {
	repo  repository.ConversionJobRepository
	queue repository.MessageQueue
	bus   cache.EventBus
	roots model.PathRoots
}

// NewConversionService creates a new ConversionService instance. Submitted
// jobs must keep their host paths inside roots.
func NewConversionService(
	repo repository.ConversionJobRepository,
	queue repository.MessageQueue,
	bus cache.EventBus,
	roots model.PathRoots,
) ConversionService {
	return &conversionService{
		repo:  repo,
		queue: queue,
		bus:   bus,
		roots: roots,
	}
}

// Submit creates a QUEUED job and publishes its convert task.
func (s *conversionService) Submit(ctx context.Context, input SubmitInput) (*model.ConversionJob, error) {
	job, err := model.NewConversionJob(input.InputPath, input.InputKey, input.OutputDir, input.Options, input.Excluded)
	if err != nil {
		return nil, err
	}
	if err := s.roots.Check(job); err != nil {
		return nil, err
	}

	active, err := s.repo.FindActiveByOutputDir(ctx, job.OutputDir)
	switch {
	case err == nil && active != nil:
		return nil, fmt.Errorf("%w: job %s", ErrOutputDirBusy, active.ID)
	case err != nil && !errors.Is(err, repository.ErrJobNotFound):
		return nil, fmt.Errorf("find active job: %w", err)
	}

	if err := s.repo.Create(ctx, job); err != nil {
		// The partial unique index on output_dir catches a concurrent submit.
		if errors.Is(err, repository.ErrDuplicateJob) {
			return nil, ErrOutputDirBusy
		}
		return nil, fmt.Errorf("create job: %w", err)
	}

	task := repository.ConversionTask{JobID: job.ID, Kind: repository.TaskConvert}
	if err := s.queue.PublishTask(ctx, task); err != nil {
		return nil, fmt.Errorf("publish convert task: %w", err)
	}

	return job, nil
}

func (s *conversionService) Get(ctx context.Context, jobID uuid.UUID) (*model.ConversionJob, error) {
	return s.repo.GetByID(ctx, jobID)
}

func (s *conversionService) List(ctx context.Context, limit int) ([]*model.ConversionJob, error) {
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}
	return s.repo.ListRecent(ctx, limit)
}

// Progress derives a coarse snapshot from the stored job status.
// The cached decorator serves live snapshots written by the worker.
func (s *conversionService) Progress(ctx context.Context, jobID uuid.UUID) (*cache.ProgressSnapshot, error) {
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return snapshotFromJob(job), nil
}

// Cancel marks a queued job CANCELLED directly. A processing job is owned by
// a worker, so the request is broadcast and the worker records the outcome.
func (s *conversionService) Cancel(ctx context.Context, jobID uuid.UUID) error {
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return err
	}

	switch job.Status {
	case model.StatusQueued:
		if err := job.Fail(model.ErrCancelled); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, job); err != nil {
			return fmt.Errorf("update job status: %w", err)
		}
		return nil
	case model.StatusProcessing:
		if err := s.bus.PublishCancel(ctx, jobID); err != nil {
			return fmt.Errorf("publish cancel: %w", err)
		}
		return nil
	default:
		return ErrJobNotActive
	}
}

// Cleanup queues a cleanup task for a job in a terminal status.
func (s *conversionService) Cleanup(ctx context.Context, jobID uuid.UUID) error {
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return err
	}

	if !job.IsTerminal() {
		return model.ErrJobNotCleanable
	}
	if job.Status == model.StatusCleaned {
		return nil
	}

	task := repository.ConversionTask{JobID: job.ID, Kind: repository.TaskCleanup}
	if err := s.queue.PublishTask(ctx, task); err != nil {
		return fmt.Errorf("publish cleanup task: %w", err)
	}
	return nil
}

// Events subscribes to the live messages of an existing job.
func (s *conversionService) Events(ctx context.Context, jobID uuid.UUID) (<-chan cache.Message, func() error, error) {
	if _, err := s.repo.GetByID(ctx, jobID); err != nil {
		return nil, nil, err
	}
	return s.bus.Subscribe(ctx, jobID)
}

func snapshotFromJob(job *model.ConversionJob) *cache.ProgressSnapshot {
	snap := &cache.ProgressSnapshot{
		JobID:     job.ID,
		Status:    job.Status,
		Message:   job.ErrorMessage,
		UpdatedAt: job.UpdatedAt,
	}
	if job.Status == model.StatusCompleted || job.Status == model.StatusCleaned {
		snap.Progress = 1
	}
	return snap
}
