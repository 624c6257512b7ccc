package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/taskwatch/internal/interfaces"
	"github.com/ternarybob/taskwatch/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// maxTxRetries bounds retries of a read-modify-write that hit a write conflict
const maxTxRetries = 5

// TaskStorage implements the TaskStore interface for Badger
type TaskStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	now    func() time.Time
}

// NewTaskStorage creates a new TaskStorage instance
func NewTaskStorage(db *BadgerDB, logger arbor.ILogger) interfaces.TaskStore {
	return &TaskStorage{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// GetTask retrieves a task record. Unknown ids are reported as PENDING.
func (s *TaskStorage) GetTask(ctx context.Context, taskID string) (*models.TaskRecord, error) {
	var record models.TaskRecord
	err := s.db.Store().Get(taskID, &record)
	if err == badgerhold.ErrNotFound {
		return &models.TaskRecord{ID: taskID, State: models.TaskStatePending}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", taskID, err)
	}
	return &record, nil
}

// GetResult returns the result of a successful task
func (s *TaskStorage) GetResult(ctx context.Context, taskID string) (json.RawMessage, error) {
	var record models.TaskRecord
	err := s.db.Store().Get(taskID, &record)
	if err == badgerhold.ErrNotFound {
		return nil, interfaces.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task result %s: %w", taskID, err)
	}
	if record.State != models.TaskStateSuccess {
		return nil, fmt.Errorf("task %s has no result in state %s", taskID, record.State)
	}
	return record.Result, nil
}

// UpdateState moves the task to state with meta attached
func (s *TaskStorage) UpdateState(ctx context.Context, taskID string, state models.TaskState, meta json.RawMessage) error {
	return s.mutate(taskID, func(record *models.TaskRecord) {
		record.State = state
		record.Meta = meta
	})
}

// StoreResult marks the task SUCCESS with its result value
func (s *TaskStorage) StoreResult(ctx context.Context, taskID string, result json.RawMessage) error {
	return s.mutate(taskID, func(record *models.TaskRecord) {
		record.State = models.TaskStateSuccess
		record.Meta = nil
		record.Result = result
	})
}

// StoreFailure marks the task FAILURE with its failure metadata
func (s *TaskStorage) StoreFailure(ctx context.Context, taskID string, meta json.RawMessage) error {
	return s.mutate(taskID, func(record *models.TaskRecord) {
		record.State = models.TaskStateFailure
		record.Meta = meta
		record.Result = nil
	})
}

// mutate applies fn to the stored record (or a fresh one) inside a single
// badger transaction so concurrent writers never lose CreatedAt or each other's state.
func (s *TaskStorage) mutate(taskID string, fn func(record *models.TaskRecord)) error {
	if taskID == "" {
		return fmt.Errorf("task ID is required")
	}

	store := s.db.Store()
	var err error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err = store.Badger().Update(func(tx *badger.Txn) error {
			now := s.now()

			var record models.TaskRecord
			getErr := store.TxGet(tx, taskID, &record)
			if getErr == badgerhold.ErrNotFound {
				record = models.TaskRecord{ID: taskID, CreatedAt: now}
			} else if getErr != nil {
				return getErr
			}

			fn(&record)
			record.UpdatedAt = now
			if record.State.IsReady() {
				if record.CompletedUnix == 0 {
					record.CompletedUnix = now.Unix()
				}
			} else {
				record.CompletedUnix = 0
			}

			return store.TxUpsert(tx, taskID, &record)
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", taskID, err)
	}

	s.logger.Trace().Str("task_id", taskID).Msg("Task record updated")
	return nil
}

// ListTasks returns records in any of states, most recently updated first
func (s *TaskStorage) ListTasks(ctx context.Context, states []models.TaskState, limit int) ([]models.TaskRecord, error) {
	var query *badgerhold.Query
	if len(states) > 0 {
		values := make([]interface{}, len(states))
		for i, state := range states {
			values[i] = state
		}
		query = badgerhold.Where("State").In(values...)
	} else {
		query = badgerhold.Where("ID").Ne("")
	}
	query = query.SortBy("UpdatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []models.TaskRecord
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return records, nil
}

// DeleteCompletedBefore removes ready tasks that completed before cutoff
func (s *TaskStorage) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query := badgerhold.Where("CompletedUnix").Gt(int64(0)).And("CompletedUnix").Lt(cutoff.Unix())

	count, err := s.db.Store().Count(&models.TaskRecord{}, query)
	if err != nil {
		return 0, fmt.Errorf("failed to count expired tasks: %w", err)
	}
	if count == 0 {
		return 0, nil
	}

	if err := s.db.Store().DeleteMatching(&models.TaskRecord{}, query); err != nil {
		return 0, fmt.Errorf("failed to delete expired tasks: %w", err)
	}

	s.logger.Info().Int("count", int(count)).Str("cutoff", cutoff.Format(time.RFC3339)).Msg("Deleted expired task results")
	return int(count), nil
}
