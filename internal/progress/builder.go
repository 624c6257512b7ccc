// Package progress turns task store records into observer snapshots and lets
// running tasks report their progress.
package progress

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/taskwatch/internal/interfaces"
	"github.com/ternarybob/taskwatch/internal/models"
)

// Builder produces normalized progress snapshots from the task store.
// It never caches: every call reads the store.
type Builder struct {
	store  interfaces.TaskStore
	logger arbor.ILogger
}

// NewBuilder creates a snapshot builder reading from store
func NewBuilder(store interfaces.TaskStore, logger arbor.ILogger) *Builder {
	return &Builder{
		store:  store,
		logger: logger,
	}
}

// Snapshot returns the current progress of taskID
func (b *Builder) Snapshot(ctx context.Context, taskID string) (models.TaskProgress, error) {
	record, err := b.store.GetTask(ctx, taskID)
	if err != nil {
		return models.TaskProgress{}, err
	}

	switch {
	case record.IsReady():
		return b.completed(ctx, record)

	case record.State == models.TaskStateProgress:
		progress := record.Meta
		if len(progress) == 0 {
			progress = mustMarshal(models.UnknownProgress())
		}
		return models.TaskProgress{
			TaskID:   taskID,
			Complete: false,
			Progress: progress,
		}, nil

	case record.State == models.TaskStatePending || record.State == models.TaskStateStarted:
		return models.TaskProgress{
			TaskID:   taskID,
			Complete: false,
			Progress: mustMarshal(models.UnknownProgress()),
		}, nil
	}

	// States this service does not interpret are forwarded as the raw store payload
	return models.TaskProgress{TaskID: taskID, Raw: rawPayload(record)}, nil
}

func (b *Builder) completed(ctx context.Context, record *models.TaskRecord) (models.TaskProgress, error) {
	success := record.IsSuccessful()
	snapshot := models.TaskProgress{
		TaskID:   record.ID,
		Complete: true,
		Success:  &success,
		Progress: mustMarshal(models.CompletedProgress()),
	}

	if success {
		result, err := b.store.GetResult(ctx, record.ID)
		if err != nil {
			return models.TaskProgress{}, fmt.Errorf("failed to resolve result of task %s: %w", record.ID, err)
		}
		snapshot.Result = result
		return snapshot, nil
	}

	taskErr := failureOf(record)
	snapshot.Error = &taskErr
	snapshot.Result = mustMarshal(taskErr.Message)
	return snapshot, nil
}

// failureOf extracts the error message and kind from failure metadata.
// Metadata that is not failure-shaped is stringified as the message.
func failureOf(record *models.TaskRecord) models.TaskError {
	var info models.FailureInfo
	if len(record.Meta) > 0 && json.Unmarshal(record.Meta, &info) == nil && info.ExcMessage != "" {
		return models.TaskError{Message: info.ExcMessage, Kind: info.ExcType}
	}
	if len(record.Meta) > 0 {
		var message string
		if json.Unmarshal(record.Meta, &message) == nil {
			return models.TaskError{Message: message}
		}
		return models.TaskError{Message: string(record.Meta)}
	}
	return models.TaskError{Message: string(record.State)}
}

// rawPayload is the opaque form of a record in an uninterpreted state
func rawPayload(record *models.TaskRecord) json.RawMessage {
	if len(record.Meta) > 0 && json.Valid(record.Meta) {
		return record.Meta
	}
	return mustMarshal(map[string]interface{}{
		"task_id": record.ID,
		"state":   record.State,
	})
}

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("progress: marshal %T: %v", v, err))
	}
	return data
}
