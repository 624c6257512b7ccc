package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/taskwatch/internal/interfaces"
)

func TestPublishSync_WaitsForAllHandlers(t *testing.T) {
	service := NewService(arbor.NewLogger())
	defer service.Close()

	var calls int32
	for i := 0; i < 3; i++ {
		require.NoError(t, service.Subscribe(interfaces.EventTaskProgress, func(ctx context.Context, event interfaces.Event) error {
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&calls, 1)
			return nil
		}))
	}

	err := service.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventTaskProgress,
		Payload: interfaces.TaskEventPayload{TaskID: "t1", State: "PROGRESS"},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPublishSync_ReportsHandlerErrors(t *testing.T) {
	service := NewService(arbor.NewLogger())
	defer service.Close()

	require.NoError(t, service.Subscribe(interfaces.EventTaskFinished, func(ctx context.Context, event interfaces.Event) error {
		return errors.New("boom")
	}))

	err := service.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventTaskFinished})
	assert.Error(t, err)
}

func TestPublish_OnlyMatchingType(t *testing.T) {
	service := NewService(arbor.NewLogger())
	defer service.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	var finished int32
	require.NoError(t, service.Subscribe(interfaces.EventTaskFinished, func(ctx context.Context, event interfaces.Event) error {
		atomic.AddInt32(&finished, 1)
		wg.Done()
		return nil
	}))
	require.NoError(t, service.Subscribe(interfaces.EventTaskProgress, func(ctx context.Context, event interfaces.Event) error {
		t.Error("progress handler must not receive finished events")
		return nil
	}))

	require.NoError(t, service.Publish(context.Background(), interfaces.Event{Type: interfaces.EventTaskFinished}))
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&finished))
}

func TestSubscribe_RejectsNilHandler(t *testing.T) {
	service := NewService(arbor.NewLogger())
	defer service.Close()

	assert.Error(t, service.Subscribe(interfaces.EventTaskProgress, nil))
}

func TestLoggerSubscriber(t *testing.T) {
	subscriber := NewLoggerSubscriber(arbor.NewLogger())

	err := subscriber(context.Background(), interfaces.Event{
		Type:    interfaces.EventTaskProgress,
		Payload: interfaces.TaskEventPayload{TaskID: "t1", State: "PROGRESS"},
	})
	assert.NoError(t, err)

	err = subscriber(context.Background(), interfaces.Event{Type: interfaces.EventTaskFinished})
	assert.NoError(t, err)
}
