package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/taskwatch/internal/interfaces"
	"github.com/ternarybob/taskwatch/internal/models"
)

// Update is one progress report of a running task
type Update struct {
	Current     int64
	Total       int64
	Description string
	// ProgressID optionally correlates the update with a sub-progress bar
	ProgressID string
}

// Recorder is the capability handed to running tasks for reporting progress
type Recorder interface {
	// SetProgress records that current of total items are done
	SetProgress(ctx context.Context, update Update) error
	// Stop records that the task ended with err after current of total items
	Stop(ctx context.Context, current, total int64, err error) error
}

// TaskRecorder records progress into the task store and announces every
// change on the event service so followers receive it.
type TaskRecorder struct {
	taskID string
	store  interfaces.TaskStore
	events interfaces.EventService
	logger arbor.ILogger
}

// NewTaskRecorder creates a recorder for taskID. events may be nil, in which
// case changes are only visible to explicit checks.
func NewTaskRecorder(taskID string, store interfaces.TaskStore, events interfaces.EventService, logger arbor.ILogger) *TaskRecorder {
	return &TaskRecorder{
		taskID: taskID,
		store:  store,
		events: events,
		logger: logger,
	}
}

// TaskID returns the id of the recorded task
func (r *TaskRecorder) TaskID() string {
	return r.taskID
}

// Start marks the task STARTED
func (r *TaskRecorder) Start(ctx context.Context) error {
	if err := r.store.UpdateState(ctx, r.taskID, models.TaskStateStarted, nil); err != nil {
		return err
	}
	return r.publish(ctx, interfaces.EventTaskProgress, models.TaskStateStarted)
}

// SetProgress records PROGRESS metadata
func (r *TaskRecorder) SetProgress(ctx context.Context, update Update) error {
	meta, err := json.Marshal(models.ProgressInfo{
		Current:     update.Current,
		Total:       update.Total,
		Percent:     models.Percent(update.Current, update.Total),
		Description: update.Description,
		ProgressID:  update.ProgressID,
	})
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	if err := r.store.UpdateState(ctx, r.taskID, models.TaskStateProgress, meta); err != nil {
		return err
	}
	return r.publish(ctx, interfaces.EventTaskProgress, models.TaskStateProgress)
}

// Stop records FAILURE with the error message and kind
func (r *TaskRecorder) Stop(ctx context.Context, current, total int64, taskErr error) error {
	message, kind := "", ""
	if taskErr != nil {
		message = taskErr.Error()
		kind = fmt.Sprintf("%T", taskErr)
	}
	return r.Fail(ctx, current, total, message, kind)
}

// Fail records FAILURE from an already stringified error, as reported by
// producers that are not Go code
func (r *TaskRecorder) Fail(ctx context.Context, current, total int64, message, kind string) error {
	meta, err := json.Marshal(models.FailureInfo{
		Current:    current,
		Total:      total,
		Percent:    100,
		ExcMessage: message,
		ExcType:    kind,
	})
	if err != nil {
		return fmt.Errorf("marshal failure: %w", err)
	}

	if err := r.store.StoreFailure(ctx, r.taskID, meta); err != nil {
		return err
	}
	return r.publish(ctx, interfaces.EventTaskFinished, models.TaskStateFailure)
}

// Succeed records SUCCESS with result, which must be JSON encodable
func (r *TaskRecorder) Succeed(ctx context.Context, result interface{}) error {
	var data json.RawMessage
	if raw, ok := result.(json.RawMessage); ok {
		data = raw
	} else if result != nil {
		encoded, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		data = encoded
	}

	if err := r.store.StoreResult(ctx, r.taskID, data); err != nil {
		return err
	}
	return r.publish(ctx, interfaces.EventTaskFinished, models.TaskStateSuccess)
}

// publish announces a state change. Store writes already succeeded, so a
// failing handler is logged rather than reported to the task.
func (r *TaskRecorder) publish(ctx context.Context, eventType interfaces.EventType, state models.TaskState) error {
	if r.events == nil {
		return nil
	}
	err := r.events.PublishSync(ctx, interfaces.Event{
		Type:    eventType,
		Payload: interfaces.TaskEventPayload{TaskID: r.taskID, State: string(state)},
	})
	if err != nil && r.logger != nil {
		r.logger.Warn().Err(err).Str("task_id", r.taskID).Str("state", string(state)).Msg("Task event handlers failed")
	}
	return nil
}

// ConsoleRecorder prints progress lines, for running tasks locally without a store
type ConsoleRecorder struct {
	out io.Writer
}

// NewConsoleRecorder creates a recorder writing to out
func NewConsoleRecorder(out io.Writer) *ConsoleRecorder {
	return &ConsoleRecorder{out: out}
}

// SetProgress prints "processed <current> items of <total>. <description>"
func (r *ConsoleRecorder) SetProgress(ctx context.Context, update Update) error {
	idInfo := ""
	if update.ProgressID != "" {
		idInfo = fmt.Sprintf(" (id=%s)", update.ProgressID)
	}
	_, err := fmt.Fprintf(r.out, "processed %d items of %d. %s%s\n", update.Current, update.Total, update.Description, idInfo)
	return err
}

// Stop does nothing
func (r *ConsoleRecorder) Stop(ctx context.Context, current, total int64, err error) error {
	return nil
}

var (
	_ Recorder = (*TaskRecorder)(nil)
	_ Recorder = (*ConsoleRecorder)(nil)
)
