package cache

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hszk-dev/hlsforge/internal/domain/model"
)

// ProgressSnapshot is the latest known state of a conversion job.
type ProgressSnapshot struct {
	JobID  uuid.UUID
	Status model.Status
	// Stage is the pipeline stage that produced the last update.
	Stage string
	// Progress is the overall completion in [0,1].
	Progress  float64
	Rendition string
	Message   string
	UpdatedAt time.Time
}

// ProgressCache stores progress snapshots for running and recent jobs.
type ProgressCache interface {
	// Get returns nil, nil on cache miss.
	Get(ctx context.Context, jobID uuid.UUID) (*ProgressSnapshot, error)

	Set(ctx context.Context, snapshot *ProgressSnapshot, ttl time.Duration) error

	// Delete returns nil if the snapshot was not cached.
	Delete(ctx context.Context, jobID uuid.UUID) error
}

// Message is one live progress notification relayed to subscribers.
type Message struct {
	JobID     uuid.UUID `json:"job_id"`
	Type      string    `json:"type"`
	Stage     string    `json:"stage,omitempty"`
	Progress  float64   `json:"progress"`
	Status    string    `json:"status,omitempty"`
	Rendition string    `json:"rendition,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Time      time.Time `json:"time"`
}

// Terminal reports whether no further messages follow for the job.
func (m Message) Terminal() bool {
	return m.Type == MessageCompleted || m.Type == MessageFailed
}

// Message types.
const (
	MessageProgress  = "progress"
	MessageStage     = "stage"
	MessageCompleted = "completed"
	MessageFailed    = "failed"
)

// EventBus fans progress messages and cancellation requests out between the
// API and worker processes.
type EventBus interface {
	Publish(ctx context.Context, msg Message) error

	// Subscribe delivers messages for jobID until ctx is done or the returned
	// close function is called.
	Subscribe(ctx context.Context, jobID uuid.UUID) (<-chan Message, func() error, error)

	PublishCancel(ctx context.Context, jobID uuid.UUID) error

	// SubscribeCancel delivers the ID of every job whose cancellation is requested.
	SubscribeCancel(ctx context.Context) (<-chan uuid.UUID, func() error, error)
}
