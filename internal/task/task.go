package task

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of a job
type Status string

// Possible job status values
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Finished reports whether the status is terminal.
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Task type constants
const (
	TypeExport = "box_export"
	TypeImport = "box_import"
)

// Common errors
var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrTaskFinished  = errors.New("task already finished")
	ErrDuplicateTask = errors.New("task already submitted")
	ErrNilTask       = errors.New("task cannot be nil")
	ErrInvalidOwner  = errors.New("task owner cannot be empty")
)

// Task represents a unit of background work to be processed
type Task interface {
	// ID returns the task's unique identifier
	ID() uuid.UUID

	// Type returns the task type identifier
	Type() string

	// UserID returns the user that submitted the task
	UserID() uuid.UUID

	// Execute runs the task logic. It must return promptly once ctx is done.
	Execute(ctx context.Context) error
}

// ResultTask is a Task that produces a value worth reporting when it completes.
type ResultTask interface {
	Task
	Result() any
}

// Record is the tracked state of a submitted task.
type Record struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	UserID    uuid.UUID `json:"-"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Result    any       `json:"result,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TaskQueueReader provides read-only access to the task channel
// allowing workers to consume tasks without the ability to enqueue
type TaskQueueReader interface {
	// Tasks returns the channel workers consume from
	Tasks() <-chan Task
}

// TaskQueueWriter provides write access to the task queue
// allowing services to enqueue tasks for processing
type TaskQueueWriter interface {
	// Enqueue adds a task to the queue for processing
	// Returns an error if the queue is full or closed
	Enqueue(task Task) error

	// Close closes the task queue, preventing further task submission
	Close()
}

// Store defines the interface for tracking task records
type Store interface {
	// Save records a newly submitted task
	Save(ctx context.Context, rec Record) error

	// Get returns the record of a task
	Get(ctx context.Context, id uuid.UUID) (Record, error)

	// UpdateStatus moves a task to status. errMsg and result may be empty.
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, errMsg string, result any) error

	// DeleteFinishedBefore forgets finished tasks last updated before cutoff
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error)
}
