package model

import (
	"errors"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Status represents the processing state of a conversion job.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
	StatusCleaned    Status = "CLEANED"
)

// Valid status transitions:
// QUEUED -> PROCESSING -> COMPLETED -> CLEANED
//       \            \-> FAILED    -> CLEANED
//        \-----------+-> CANCELLED -> CLEANED
var validTransitions = map[Status][]Status{
	StatusQueued:     {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:  {StatusCleaned},
	StatusFailed:     {StatusCleaned},
	StatusCancelled:  {StatusCleaned},
	StatusCleaned:    {},
}

func (s Status) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

func (s Status) CanTransitionTo(next Status) bool {
	allowed, exists := validTransitions[s]
	if !exists {
		return false
	}
	for _, status := range allowed {
		if status == next {
			return true
		}
	}
	return false
}

// IsActive reports whether a job in this status may still write to its output directory.
func (s Status) IsActive() bool {
	return s == StatusQueued || s == StatusProcessing
}

func (s Status) String() string {
	return string(s)
}

// ConversionJob tracks one conversion submitted to the service.
type ConversionJob struct {
	ID uuid.UUID
	// InputPath is a source file reachable by the worker. Exactly one of
	// InputPath and InputKey is set.
	InputPath string
	// InputKey is an object storage key downloaded by the worker before converting.
	InputKey  string
	OutputDir string
	Options   ConversionOptions
	// Excluded lists rendition labels the caller does not want produced.
	Excluded []string
	Status   Status

	Encoder    Encoder
	Renditions []string
	// PublishedPrefix is the object storage prefix the finished tree was uploaded to.
	PublishedPrefix string
	ErrorKind       string
	ErrorMessage    string

	CreatedAt time.Time
	UpdatedAt time.Time
}

var (
	ErrMissingInput      = errors.New("either input path or input key is required")
	ErrAmbiguousInput    = errors.New("input path and input key are mutually exclusive")
	ErrRelativeInputPath = errors.New("input path must be absolute")
	ErrInvalidOutputDir  = errors.New("output directory must be an absolute path")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrJobNotCleanable   = errors.New("job is still running")
)

// NewConversionJob creates a validated job in QUEUED status. Host paths are
// only checked for shape here; PathRoots.Check confines them.
func NewConversionJob(inputPath, inputKey, outputDir string, opts ConversionOptions, excluded []string) (*ConversionJob, error) {
	switch {
	case inputPath == "" && inputKey == "":
		return nil, ErrMissingInput
	case inputPath != "" && inputKey != "":
		return nil, ErrAmbiguousInput
	case inputPath != "" && !filepath.IsAbs(inputPath):
		return nil, ErrRelativeInputPath
	}
	if outputDir == "" || !filepath.IsAbs(outputDir) {
		return nil, ErrInvalidOutputDir
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if _, err := ParseRenditions(excluded); err != nil {
		return nil, err
	}

	now := time.Now()
	return &ConversionJob{
		ID:        uuid.New(),
		InputPath: inputPath,
		InputKey:  inputKey,
		OutputDir: filepath.Clean(outputDir),
		Options:   opts,
		Excluded:  excluded,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// TransitionTo attempts to change the job status.
// Returns error if the transition is not allowed.
func (j *ConversionJob) TransitionTo(next Status) error {
	if !next.IsValid() {
		return ErrInvalidTransition
	}
	if !j.Status.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	j.Status = next
	j.UpdatedAt = time.Now()
	return nil
}

// Complete records the encode result and moves the job to COMPLETED.
func (j *ConversionJob) Complete(encoder Encoder, renditions []Rendition) error {
	if err := j.TransitionTo(StatusCompleted); err != nil {
		return err
	}
	j.Encoder = encoder
	j.Renditions = make([]string, 0, len(renditions))
	for _, r := range renditions {
		j.Renditions = append(j.Renditions, r.Label())
	}
	return nil
}

// Fail records err and moves the job to FAILED, or CANCELLED for cancellation errors.
func (j *ConversionJob) Fail(err error) error {
	next := StatusFailed
	kind := ErrorKind(err)
	if kind == KindCancelled {
		next = StatusCancelled
	}
	if terr := j.TransitionTo(next); terr != nil {
		return terr
	}
	j.ErrorKind = kind
	if err != nil {
		j.ErrorMessage = err.Error()
	}
	return nil
}

// ExcludedRenditions resolves the excluded labels into ladder entries.
func (j *ConversionJob) ExcludedRenditions() ([]Rendition, error) {
	return ParseRenditions(j.Excluded)
}

// SetPublishedPrefix records where the output tree was uploaded.
func (j *ConversionJob) SetPublishedPrefix(prefix string) {
	j.PublishedPrefix = prefix
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true once the job no longer writes to its output directory.
func (j *ConversionJob) IsTerminal() bool {
	return !j.Status.IsActive()
}
