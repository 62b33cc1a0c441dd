package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hszk-dev/hlsforge/internal/domain/model"
	"github.com/hszk-dev/hlsforge/internal/domain/repository"
	"github.com/hszk-dev/hlsforge/internal/infrastructure/metrics"
)

// DBTX is an interface that abstracts pgxpool.Pool and pgx.Tx for testability.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const jobColumns = `id, input_path, input_key, output_dir, options, excluded, status, encoder, renditions,
		published_prefix, error_kind, error_message, created_at, updated_at`

// JobRepository implements repository.ConversionJobRepository using PostgreSQL.
type JobRepository struct {
	db DBTX
}

// NewJobRepository creates a new JobRepository instance.
func NewJobRepository(db DBTX) *JobRepository {
	return &JobRepository{db: db}
}

// Create persists a new job.
func (r *JobRepository) Create(ctx context.Context, job *model.ConversionJob) error {
	const query = `
		INSERT INTO conversion_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	options, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("failed to encode options: %w", err)
	}

	countQuery(metrics.DBQueryInsert)
	_, err = r.db.Exec(ctx, query,
		job.ID,
		nullString(job.InputPath),
		nullString(job.InputKey),
		job.OutputDir,
		options,
		textArray(job.Excluded),
		job.Status.String(),
		nullString(job.Encoder.String()),
		textArray(job.Renditions),
		nullString(job.PublishedPrefix),
		nullString(job.ErrorKind),
		nullString(job.ErrorMessage),
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return repository.ErrDuplicateJob
		}
		return fmt.Errorf("failed to create conversion job: %w", err)
	}

	return nil
}

// GetByID retrieves a job by its unique identifier.
func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ConversionJob, error) {
	const query = `
		SELECT ` + jobColumns + `
		FROM conversion_jobs
		WHERE id = $1
	`

	countQuery(metrics.DBQuerySelect)
	job, err := r.scanJob(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get conversion job by ID: %w", err)
	}

	return job, nil
}

// ListRecent returns up to limit jobs, newest first.
func (r *JobRepository) ListRecent(ctx context.Context, limit int) ([]*model.ConversionJob, error) {
	const query = `
		SELECT ` + jobColumns + `
		FROM conversion_jobs
		ORDER BY created_at DESC
		LIMIT $1
	`

	countQuery(metrics.DBQuerySelect)
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversion jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*model.ConversionJob, 0)
	for rows.Next() {
		job, err := r.scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversion job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversion jobs: %w", err)
	}

	return jobs, nil
}

// FindActiveByOutputDir returns the job currently owning outputDir.
func (r *JobRepository) FindActiveByOutputDir(ctx context.Context, outputDir string) (*model.ConversionJob, error) {
	const query = `
		SELECT ` + jobColumns + `
		FROM conversion_jobs
		WHERE output_dir = $1 AND status IN ($2, $3)
		ORDER BY created_at DESC
		LIMIT 1
	`

	countQuery(metrics.DBQuerySelect)
	job, err := r.scanJob(r.db.QueryRow(ctx, query, outputDir,
		model.StatusQueued.String(),
		model.StatusProcessing.String(),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to find active conversion job: %w", err)
	}

	return job, nil
}

// Update persists the mutable fields of an existing job.
func (r *JobRepository) Update(ctx context.Context, job *model.ConversionJob) error {
	const query = `
		UPDATE conversion_jobs
		SET status = $2, encoder = $3, renditions = $4, published_prefix = $5,
			error_kind = $6, error_message = $7, updated_at = $8
		WHERE id = $1
	`

	job.UpdatedAt = time.Now()

	countQuery(metrics.DBQueryUpdate)
	tag, err := r.db.Exec(ctx, query,
		job.ID,
		job.Status.String(),
		nullString(job.Encoder.String()),
		textArray(job.Renditions),
		nullString(job.PublishedPrefix),
		nullString(job.ErrorKind),
		nullString(job.ErrorMessage),
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update conversion job: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return repository.ErrJobNotFound
	}

	return nil
}

// scanJob scans a single row into a ConversionJob model.
// pgx.Rows satisfies pgx.Row, so it serves both QueryRow and Query results.
func (r *JobRepository) scanJob(row pgx.Row) (*model.ConversionJob, error) {
	var (
		job             model.ConversionJob
		inputPath       *string
		inputKey        *string
		options         []byte
		status          string
		encoder         *string
		publishedPrefix *string
		errorKind       *string
		errorMessage    *string
	)

	err := row.Scan(
		&job.ID,
		&inputPath,
		&inputKey,
		&job.OutputDir,
		&options,
		&job.Excluded,
		&status,
		&encoder,
		&job.Renditions,
		&publishedPrefix,
		&errorKind,
		&errorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(options, &job.Options); err != nil {
		return nil, fmt.Errorf("failed to decode options: %w", err)
	}

	job.Status = model.Status(status)
	job.InputPath = deref(inputPath)
	job.InputKey = deref(inputKey)
	job.Encoder = model.Encoder(deref(encoder))
	job.PublishedPrefix = deref(publishedPrefix)
	job.ErrorKind = deref(errorKind)
	job.ErrorMessage = deref(errorMessage)

	return &job, nil
}

func countQuery(queryType string) {
	metrics.DBQueriesTotal.WithLabelValues(queryType, metrics.TableConversionJobs).Inc()
}

// nullString returns nil for empty strings, otherwise returns a pointer to the string.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// textArray stores nil slices as empty arrays so the NOT NULL columns accept them.
func textArray(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Compile-time verification that JobRepository implements repository.ConversionJobRepository.
var _ repository.ConversionJobRepository = (*JobRepository)(nil)
