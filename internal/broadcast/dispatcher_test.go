package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/taskwatch/internal/broker"
	"github.com/ternarybob/taskwatch/internal/common"
	"github.com/ternarybob/taskwatch/internal/interfaces"
	"github.com/ternarybob/taskwatch/internal/progress"
	"github.com/ternarybob/taskwatch/internal/registry"
	"github.com/ternarybob/taskwatch/internal/services/events"
	"github.com/ternarybob/taskwatch/internal/storage/badger"
)

type recordingConn struct {
	id   string
	fail bool

	mu       sync.Mutex
	received []string
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Send(payload interface{}) error {
	if c.fail {
		return errors.New("connection reset")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received = append(c.received, string(data))
	return nil
}

func (c *recordingConn) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.received...)
}

type fixture struct {
	store      interfaces.TaskStore
	registry   *registry.Registry
	dispatcher *Dispatcher
	events     interfaces.EventService
}

func newFixture(t *testing.T, throttle time.Duration) *fixture {
	t.Helper()
	logger := arbor.NewLogger()

	manager, err := badger.NewManager(logger, &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	eventService := events.NewService(logger)
	t.Cleanup(func() { eventService.Close() })

	reg := registry.New(4)
	d := NewDispatcher(reg, progress.NewBuilder(manager.TaskStore(), logger), broker.NewLocalBroker(), throttle, logger)
	require.NoError(t, d.SubscribeToTaskEvents(eventService))

	return &fixture{
		store:      manager.TaskStore(),
		registry:   reg,
		dispatcher: d,
		events:     eventService,
	}
}

func (f *fixture) follow(t *testing.T, conn registry.Conn, taskIDs ...string) {
	t.Helper()
	f.registry.Attach(conn)
	for _, taskID := range taskIDs {
		require.NoError(t, f.registry.Follow(taskID, conn))
	}
}

func TestDispatch_ReachesExactlyFollowers(t *testing.T) {
	f := newFixture(t, 0)
	a := &recordingConn{id: "a"}
	b := &recordingConn{id: "b"}
	c := &recordingConn{id: "c"}
	f.follow(t, a, "t1")
	f.follow(t, b, "t1")
	f.follow(t, c, "t2")

	require.NoError(t, f.dispatcher.Dispatch(context.Background(), "t1", map[string]int{"n": 1}))

	assert.Equal(t, []string{`{"n":1}`}, a.messages())
	assert.Equal(t, []string{`{"n":1}`}, b.messages())
	assert.Empty(t, c.messages())
}

func TestDispatch_NoFollowers(t *testing.T) {
	f := newFixture(t, 0)
	require.NoError(t, f.dispatcher.Dispatch(context.Background(), "nobody", "x"))
	assert.Equal(t, int64(0), f.dispatcher.Stats().Delivered)
}

func TestDeliver_SendFailureDoesNotStopOthers(t *testing.T) {
	f := newFixture(t, 0)
	broken := &recordingConn{id: "broken", fail: true}
	ok1 := &recordingConn{id: "ok1"}
	ok2 := &recordingConn{id: "ok2"}
	f.follow(t, broken, "t1")
	f.follow(t, ok1, "t1")
	f.follow(t, ok2, "t1")

	sent := f.dispatcher.Deliver("t1", json.RawMessage(`{"complete":false}`))

	assert.Equal(t, 2, sent)
	assert.Len(t, ok1.messages(), 1)
	assert.Len(t, ok2.messages(), 1)
	assert.Equal(t, int64(1), f.dispatcher.Stats().Failed)
}

func TestDispatch_DroppedConnectionReceivesNothing(t *testing.T) {
	f := newFixture(t, 0)
	a := &recordingConn{id: "a"}
	f.follow(t, a, "t1", "t2", "t3")

	f.registry.DropConnection(a)
	for _, taskID := range []string{"t1", "t2", "t3"} {
		require.NoError(t, f.dispatcher.Dispatch(context.Background(), taskID, "x"))
	}
	assert.Empty(t, a.messages())
}

func TestTaskEvents_PushSnapshots(t *testing.T) {
	f := newFixture(t, 0)
	a := &recordingConn{id: "a"}
	f.follow(t, a, "t1")
	ctx := context.Background()

	recorder := progress.NewTaskRecorder("t1", f.store, f.events, arbor.NewLogger())
	require.NoError(t, recorder.SetProgress(ctx, progress.Update{Current: 1, Total: 4}))
	require.NoError(t, recorder.Succeed(ctx, 42))

	messages := a.messages()
	require.Len(t, messages, 2)
	assert.JSONEq(t, `{"task_id":"t1","complete":false,"success":null,"progress":{"current":1,"total":4,"percent":25}}`, messages[0])
	assert.JSONEq(t, `{"task_id":"t1","complete":true,"success":true,"progress":{"current":100,"total":100,"percent":100},"result":42}`, messages[1])
}

func TestTaskEvents_ProgressThrottledButFinishAlwaysSent(t *testing.T) {
	f := newFixture(t, time.Hour)
	a := &recordingConn{id: "a"}
	f.follow(t, a, "t1")
	ctx := context.Background()

	recorder := progress.NewTaskRecorder("t1", f.store, f.events, arbor.NewLogger())
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, recorder.SetProgress(ctx, progress.Update{Current: i, Total: 5}))
	}
	require.NoError(t, recorder.Stop(ctx, 5, 5, errors.New("boom")))

	messages := a.messages()
	require.Len(t, messages, 2)
	assert.Contains(t, messages[0], `"current":1`)
	assert.Contains(t, messages[1], `"complete":true`)
	assert.Contains(t, messages[1], `"boom"`)

	stats := f.dispatcher.Stats()
	assert.Equal(t, int64(4), stats.Throttled)
	assert.Equal(t, int64(2), stats.Dispatched)
}

func TestPruneIdleLimiters_ForgetsUnfinishedTasks(t *testing.T) {
	f := newFixture(t, 200*time.Millisecond)
	ctx := context.Background()

	for _, taskID := range []string{"t1", "t2", "t3"} {
		recorder := progress.NewTaskRecorder(taskID, f.store, f.events, arbor.NewLogger())
		require.NoError(t, recorder.SetProgress(ctx, progress.Update{Current: 1, Total: 10}))
	}
	require.Equal(t, 3, f.dispatcher.TrackedLimiters())

	// Limiters that just pushed are still throttling
	assert.Equal(t, 0, f.dispatcher.PruneIdleLimiters())

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 3, f.dispatcher.PruneIdleLimiters())
	assert.Equal(t, 0, f.dispatcher.TrackedLimiters())

	// A pruned task is throttled afresh
	recorder := progress.NewTaskRecorder("t1", f.store, f.events, arbor.NewLogger())
	require.NoError(t, recorder.SetProgress(ctx, progress.Update{Current: 2, Total: 10}))
	require.NoError(t, recorder.SetProgress(ctx, progress.Update{Current: 3, Total: 10}))
	assert.Equal(t, int64(1), f.dispatcher.Stats().Throttled)
}

func TestTaskEvents_FinishForgetsLimiter(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	recorder := progress.NewTaskRecorder("t1", f.store, f.events, arbor.NewLogger())
	require.NoError(t, recorder.SetProgress(ctx, progress.Update{Current: 1, Total: 2}))
	require.Equal(t, 1, f.dispatcher.TrackedLimiters())

	require.NoError(t, recorder.Succeed(ctx, "done"))
	assert.Equal(t, 0, f.dispatcher.TrackedLimiters())
}
