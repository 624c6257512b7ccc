package badger

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/taskwatch/internal/common"
	"github.com/ternarybob/taskwatch/internal/interfaces"
	"github.com/ternarybob/taskwatch/internal/models"
)

func newTestTaskStorage(t *testing.T) *TaskStorage {
	t.Helper()
	logger := arbor.NewLogger()
	db, err := NewBadgerDB(logger, &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewTaskStorage(db, logger).(*TaskStorage)
}

func TestGetTask_UnknownIsPending(t *testing.T) {
	storage := newTestTaskStorage(t)

	record, err := storage.GetTask(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, "missing", record.ID)
	assert.Equal(t, models.TaskStatePending, record.State)
	assert.Nil(t, record.Meta)
	assert.False(t, record.IsReady())
}

func TestUpdateState_KeepsMetaVerbatim(t *testing.T) {
	storage := newTestTaskStorage(t)
	ctx := context.Background()

	meta := json.RawMessage(`{"current":3,"total":10,"percent":30,"description":"working","extra":[1,2]}`)
	require.NoError(t, storage.UpdateState(ctx, "t1", models.TaskStateProgress, meta))

	record, err := storage.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStateProgress, record.State)
	assert.JSONEq(t, string(meta), string(record.Meta))
	assert.Zero(t, record.CompletedUnix)
	assert.False(t, record.CreatedAt.IsZero())
}

func TestStoreResult(t *testing.T) {
	storage := newTestTaskStorage(t)
	ctx := context.Background()

	require.NoError(t, storage.UpdateState(ctx, "t1", models.TaskStateStarted, nil))
	first, err := storage.GetTask(ctx, "t1")
	require.NoError(t, err)

	require.NoError(t, storage.StoreResult(ctx, "t1", json.RawMessage(`42`)))

	record, err := storage.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, record.IsReady())
	assert.True(t, record.IsSuccessful())
	assert.NotZero(t, record.CompletedUnix)
	assert.True(t, first.CreatedAt.Equal(record.CreatedAt), "CreatedAt must survive updates")

	result, err := storage.GetResult(ctx, "t1")
	require.NoError(t, err)
	assert.JSONEq(t, `42`, string(result))
}

func TestGetResult_Errors(t *testing.T) {
	storage := newTestTaskStorage(t)
	ctx := context.Background()

	_, err := storage.GetResult(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrTaskNotFound)

	require.NoError(t, storage.UpdateState(ctx, "t1", models.TaskStateProgress, nil))
	_, err = storage.GetResult(ctx, "t1")
	assert.Error(t, err)
}

func TestStoreFailure(t *testing.T) {
	storage := newTestTaskStorage(t)
	ctx := context.Background()

	meta := json.RawMessage(`{"current":5,"total":10,"percent":100,"exc_message":"boom","exc_type":"*errors.errorString"}`)
	require.NoError(t, storage.StoreFailure(ctx, "t1", meta))

	record, err := storage.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStateFailure, record.State)
	assert.True(t, record.IsReady())
	assert.False(t, record.IsSuccessful())
	assert.JSONEq(t, string(meta), string(record.Meta))
}

func TestListTasks_FiltersByState(t *testing.T) {
	storage := newTestTaskStorage(t)
	ctx := context.Background()

	require.NoError(t, storage.UpdateState(ctx, "a", models.TaskStateProgress, nil))
	require.NoError(t, storage.UpdateState(ctx, "b", models.TaskStateStarted, nil))
	require.NoError(t, storage.StoreResult(ctx, "c", json.RawMessage(`"done"`)))

	running, err := storage.ListTasks(ctx, []models.TaskState{models.TaskStateProgress, models.TaskStateStarted}, 0)
	require.NoError(t, err)
	ids := []string{}
	for _, r := range running {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	all, err := storage.ListTasks(ctx, nil, 2)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestDeleteCompletedBefore(t *testing.T) {
	storage := newTestTaskStorage(t)
	ctx := context.Background()

	past := time.Now().Add(-48 * time.Hour)
	storage.now = func() time.Time { return past }
	require.NoError(t, storage.StoreResult(ctx, "old", json.RawMessage(`1`)))
	require.NoError(t, storage.UpdateState(ctx, "old-running", models.TaskStateProgress, nil))

	storage.now = time.Now
	require.NoError(t, storage.StoreResult(ctx, "new", json.RawMessage(`2`)))

	deleted, err := storage.DeleteCompletedBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	record, err := storage.GetTask(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatePending, record.State, "expired task is forgotten")

	record, err = storage.GetTask(ctx, "old-running")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStateProgress, record.State)

	record, err = storage.GetTask(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStateSuccess, record.State)
}

func TestMutate_RequiresID(t *testing.T) {
	storage := newTestTaskStorage(t)
	assert.Error(t, storage.UpdateState(context.Background(), "", models.TaskStateStarted, nil))
}
