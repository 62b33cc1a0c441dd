package repository

import (
	"context"

	"github.com/google/uuid"
)

// TaskKind selects what the worker does with a job.
type TaskKind string

const (
	TaskConvert TaskKind = "convert"
	TaskCleanup TaskKind = "cleanup"
)

// ConversionTask is the message sent from the API to the worker.
type ConversionTask struct {
	JobID      uuid.UUID `json:"job_id"`
	Kind       TaskKind  `json:"kind"`
	RetryCount int       `json:"retry_count"`
}

// MessageQueue defines the interface for message queue operations.
// Implementations should be provided by the infrastructure layer (e.g., RabbitMQ).
type MessageQueue interface {
	// PublishTask sends a task to the queue.
	PublishTask(ctx context.Context, task ConversionTask) error

	// ConsumeTasks calls handler for each received task until ctx is done.
	// The handler's ctx derives from ctx and carries the publisher's trace.
	// A handler error requeues the task with an incremented retry count.
	ConsumeTasks(ctx context.Context, handler func(ctx context.Context, task ConversionTask) error) error

	// Close gracefully closes the connection to the message queue.
	Close() error
}
