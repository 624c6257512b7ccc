package scheduler

import (
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/taskwatch/internal/interfaces"
)

// ThrottleSweepJobName is the scheduler name of the idle limiter sweep
const ThrottleSweepJobName = "throttle_sweep"

// throttleSweepSchedule runs the sweep every minute
const throttleSweepSchedule = "* * * * *"

// LimiterPruner forgets per-task progress limiters that are idle
type LimiterPruner interface {
	PruneIdleLimiters() int
}

// NewThrottleSweepJob returns a job releasing the limiters of tasks that
// stopped reporting without finishing
func NewThrottleSweepJob(pruner LimiterPruner, logger arbor.ILogger) func() error {
	return func() error {
		start := time.Now()
		if pruned := pruner.PruneIdleLimiters(); pruned > 0 {
			logger.Debug().
				Int("pruned", pruned).
				Dur("duration", time.Since(start)).
				Msg("Pruned idle progress limiters")
		}
		return nil
	}
}

// RegisterThrottleSweep registers the sweep when progress pushes are throttled
func RegisterThrottleSweep(s interfaces.SchedulerService, throttle time.Duration, pruner LimiterPruner, logger arbor.ILogger) error {
	if throttle <= 0 {
		return nil
	}
	return s.RegisterJob(
		ThrottleSweepJobName,
		throttleSweepSchedule,
		"Release progress limiters of tasks that stopped reporting",
		NewThrottleSweepJob(pruner, logger),
	)
}
