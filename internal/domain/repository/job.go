package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/hszk-dev/hlsforge/internal/domain/model"
)

// ConversionJobRepository defines the interface for conversion job persistence.
// Implementations should be provided by the infrastructure layer (e.g., PostgreSQL).
type ConversionJobRepository interface {
	// Create persists a new job.
	// Returns ErrDuplicateJob if a job with the same ID exists.
	Create(ctx context.Context, job *model.ConversionJob) error

	// GetByID retrieves a job by its unique identifier.
	// Returns nil and ErrJobNotFound if the job does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*model.ConversionJob, error)

	// ListRecent returns up to limit jobs, newest first.
	ListRecent(ctx context.Context, limit int) ([]*model.ConversionJob, error)

	// FindActiveByOutputDir returns the QUEUED or PROCESSING job writing to
	// outputDir, or ErrJobNotFound if there is none.
	FindActiveByOutputDir(ctx context.Context, outputDir string) (*model.ConversionJob, error)

	// Update persists the mutable fields of an existing job.
	// Returns ErrJobNotFound if the job does not exist.
	Update(ctx context.Context, job *model.ConversionJob) error
}
