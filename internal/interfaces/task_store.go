package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ternarybob/taskwatch/internal/models"
)

// ErrTaskNotFound is returned when a task has no stored result
var ErrTaskNotFound = errors.New("task not found")

// TaskStore is the job result backend. The task execution engine writes to it,
// the progress snapshot builder reads from it.
type TaskStore interface {
	// GetTask returns the stored record. Unknown ids are reported as a PENDING
	// record without metadata, never as an error.
	GetTask(ctx context.Context, taskID string) (*models.TaskRecord, error)

	// GetResult returns the result value of a successful task
	GetResult(ctx context.Context, taskID string) (json.RawMessage, error)

	// UpdateState moves the task to state with meta attached (STARTED, PROGRESS, RETRY, ...)
	UpdateState(ctx context.Context, taskID string, state models.TaskState, meta json.RawMessage) error

	// StoreResult marks the task SUCCESS with its result value
	StoreResult(ctx context.Context, taskID string, result json.RawMessage) error

	// StoreFailure marks the task FAILURE with its failure metadata
	StoreFailure(ctx context.Context, taskID string, meta json.RawMessage) error

	// ListTasks returns records in any of states (all states when empty), most recently updated first
	ListTasks(ctx context.Context, states []models.TaskState, limit int) ([]models.TaskRecord, error)

	// DeleteCompletedBefore removes ready tasks that completed before cutoff
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int, error)
}
