package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/taskwatch/internal/common"
	"github.com/ternarybob/taskwatch/internal/interfaces"
)

// RetentionJobName is the scheduler name of the expiry job
const RetentionJobName = "result_expiry"

// NewRetentionJob returns a job deleting task records that completed more than
// expiry ago. now is injectable for tests.
func NewRetentionJob(store interfaces.TaskStore, expiry time.Duration, now func() time.Time, logger arbor.ILogger) func() error {
	if now == nil {
		now = time.Now
	}
	return func() error {
		cutoff := now().Add(-expiry)
		deleted, err := store.DeleteCompletedBefore(context.Background(), cutoff)
		if err != nil {
			return fmt.Errorf("failed to expire task results: %w", err)
		}
		if deleted > 0 {
			logger.Info().
				Int("deleted", deleted).
				Str("cutoff", cutoff.Format(time.RFC3339)).
				Msg("Expired completed task records")
		}
		return nil
	}
}

// RegisterRetention registers the expiry job when retention is enabled
func RegisterRetention(s interfaces.SchedulerService, config *common.RetentionConfig, store interfaces.TaskStore, logger arbor.ILogger) error {
	if !config.Enabled {
		logger.Debug().Msg("Result expiry disabled")
		return nil
	}

	expiry, err := config.ResultExpiry()
	if err != nil {
		return fmt.Errorf("invalid result_expires: %w", err)
	}

	return s.RegisterJob(
		RetentionJobName,
		config.Schedule,
		fmt.Sprintf("Delete completed task records older than %s", expiry),
		NewRetentionJob(store, expiry, nil, logger),
	)
}
