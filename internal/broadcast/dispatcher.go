// Package broadcast pushes progress snapshots to the connections following a task.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/taskwatch/internal/broker"
	"github.com/ternarybob/taskwatch/internal/interfaces"
	"github.com/ternarybob/taskwatch/internal/progress"
	"github.com/ternarybob/taskwatch/internal/registry"
	"golang.org/x/time/rate"
)

// limiterSweepThreshold is the limiter count at which creating another one
// first prunes idle limiters
const limiterSweepThreshold = 1024

// Dispatcher publishes snapshots through the broker and delivers every
// envelope the broker hands back to the local followers of its task.
type Dispatcher struct {
	registry *registry.Registry
	builder  *progress.Builder
	broker   broker.Broker
	logger   arbor.ILogger

	throttle   time.Duration
	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter // task id -> progress push limiter

	dispatched atomic.Int64
	delivered  atomic.Int64
	failed     atomic.Int64
	throttled  atomic.Int64
}

// NewDispatcher creates a dispatcher and subscribes it to b.
// A zero throttle pushes every progress event.
func NewDispatcher(reg *registry.Registry, builder *progress.Builder, b broker.Broker, throttle time.Duration, logger arbor.ILogger) *Dispatcher {
	d := &Dispatcher{
		registry: reg,
		builder:  builder,
		broker:   b,
		logger:   logger,
		throttle: throttle,
		limiters: make(map[string]*rate.Limiter),
	}
	b.Subscribe(d.handleEnvelope)
	return d
}

// Dispatch sends snapshot to every connection following taskID
func (d *Dispatcher) Dispatch(ctx context.Context, taskID string, snapshot interface{}) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot for task %s: %w", taskID, err)
	}

	d.dispatched.Add(1)
	if err := d.broker.Publish(ctx, broker.Envelope{TaskID: taskID, Payload: payload}); err != nil {
		d.logger.Error().Err(err).Str("task_id", taskID).Msg("Failed to publish snapshot")
		return err
	}
	return nil
}

func (d *Dispatcher) handleEnvelope(ctx context.Context, envelope broker.Envelope) {
	d.Deliver(envelope.TaskID, envelope.Payload)
}

// Deliver sends payload to the current local followers of taskID and returns
// how many received it. A failed send is logged and skipped.
func (d *Dispatcher) Deliver(taskID string, payload json.RawMessage) int {
	sent := 0
	for _, conn := range d.registry.FollowersOf(taskID) {
		if err := conn.Send(payload); err != nil {
			d.failed.Add(1)
			d.logger.Warn().
				Err(err).
				Str("task_id", taskID).
				Str("connection_id", conn.ID()).
				Msg("Failed to send snapshot to follower")
			continue
		}
		sent++
	}
	d.delivered.Add(int64(sent))
	return sent
}

// SubscribeToTaskEvents pushes a fresh snapshot to followers whenever a task
// reports progress or finishes
func (d *Dispatcher) SubscribeToTaskEvents(events interfaces.EventService) error {
	if err := events.Subscribe(interfaces.EventTaskProgress, d.onTaskProgress); err != nil {
		return err
	}
	return events.Subscribe(interfaces.EventTaskFinished, d.onTaskFinished)
}

func (d *Dispatcher) onTaskProgress(ctx context.Context, event interfaces.Event) error {
	payload, ok := event.Payload.(interfaces.TaskEventPayload)
	if !ok {
		return fmt.Errorf("unexpected payload type %T for %s", event.Payload, event.Type)
	}
	if !d.allow(payload.TaskID) {
		d.throttled.Add(1)
		return nil
	}
	return d.push(ctx, payload.TaskID)
}

func (d *Dispatcher) onTaskFinished(ctx context.Context, event interfaces.Event) error {
	payload, ok := event.Payload.(interfaces.TaskEventPayload)
	if !ok {
		return fmt.Errorf("unexpected payload type %T for %s", event.Payload, event.Type)
	}

	d.limitersMu.Lock()
	delete(d.limiters, payload.TaskID)
	d.limitersMu.Unlock()

	return d.push(ctx, payload.TaskID)
}

func (d *Dispatcher) push(ctx context.Context, taskID string) error {
	snapshot, err := d.builder.Snapshot(ctx, taskID)
	if err != nil {
		d.logger.Error().Err(err).Str("task_id", taskID).Msg("Failed to build snapshot for push")
		return err
	}
	return d.Dispatch(ctx, taskID, snapshot)
}

// allow reports whether a progress push for taskID may go out now
func (d *Dispatcher) allow(taskID string) bool {
	if d.throttle <= 0 {
		return true
	}

	d.limitersMu.Lock()
	limiter, ok := d.limiters[taskID]
	if !ok {
		if len(d.limiters) >= limiterSweepThreshold {
			d.pruneIdleLocked(time.Now())
		}
		limiter = rate.NewLimiter(rate.Every(d.throttle), 1)
		d.limiters[taskID] = limiter
	}
	d.limitersMu.Unlock()

	return limiter.Allow()
}

// PruneIdleLimiters forgets the limiters of tasks that have not pushed for a
// full throttle interval and returns how many were removed. An idle limiter
// has refilled its token, so dropping it does not change throttling.
func (d *Dispatcher) PruneIdleLimiters() int {
	d.limitersMu.Lock()
	defer d.limitersMu.Unlock()
	return d.pruneIdleLocked(time.Now())
}

func (d *Dispatcher) pruneIdleLocked(now time.Time) int {
	pruned := 0
	for taskID, limiter := range d.limiters {
		if limiter.TokensAt(now) >= float64(limiter.Burst()) {
			delete(d.limiters, taskID)
			pruned++
		}
	}
	return pruned
}

// TrackedLimiters returns how many tasks currently hold a progress limiter
func (d *Dispatcher) TrackedLimiters() int {
	d.limitersMu.Lock()
	defer d.limitersMu.Unlock()
	return len(d.limiters)
}

// Stats counts dispatcher activity since start
type Stats struct {
	Dispatched int64 `json:"dispatched"`
	Delivered  int64 `json:"delivered"`
	Failed     int64 `json:"failed"`
	Throttled  int64 `json:"throttled"`
}

// Stats returns the current counters
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Dispatched: d.dispatched.Load(),
		Delivered:  d.delivered.Load(),
		Failed:     d.failed.Load(),
		Throttled:  d.throttled.Load(),
	}
}
