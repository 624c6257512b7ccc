package models

import (
	"encoding/json"
	"time"
)

// TaskState is the lifecycle state of a background task as recorded in the task store
type TaskState string

const (
	TaskStatePending  TaskState = "PENDING"
	TaskStateStarted  TaskState = "STARTED"
	TaskStateProgress TaskState = "PROGRESS"
	TaskStateSuccess  TaskState = "SUCCESS"
	TaskStateFailure  TaskState = "FAILURE"
	TaskStateRetry    TaskState = "RETRY"
	TaskStateRevoked  TaskState = "REVOKED"
)

// IsReady reports whether the state is terminal
func (s TaskState) IsReady() bool {
	return s == TaskStateSuccess || s == TaskStateFailure || s == TaskStateRevoked
}

// IsSuccessful reports whether the task finished without error
func (s TaskState) IsSuccessful() bool {
	return s == TaskStateSuccess
}

// TaskRecord is the persisted state of one task.
// Meta holds the state's attached metadata exactly as written by the producer
// (progress counters while PROGRESS, failure details when FAILURE).
type TaskRecord struct {
	ID     string          `json:"id"`
	State  TaskState       `json:"state"`
	Meta   json.RawMessage `json:"meta,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// Unix seconds of the transition to a ready state, 0 while running.
	// Stored as an integer so retention queries compare plain numbers.
	CompletedUnix int64 `json:"completed_unix"`
}

// IsReady reports whether the task reached a terminal state
func (r *TaskRecord) IsReady() bool {
	return r.State.IsReady()
}

// IsSuccessful reports whether the task finished successfully
func (r *TaskRecord) IsSuccessful() bool {
	return r.State.IsSuccessful()
}
