package worker

import (
	"context"
	"time"

	"storepulse/pkg/logger"

	"go.uber.org/zap"
)

// StuckReclaimer returns records stuck in processing back to pending.
type StuckReclaimer interface {
	ReclaimStuck(ctx context.Context, olderThan time.Duration) (int64, error)
}

// RunReclaimer sweeps for records orphaned in processing (a crash between
// claim and report leaves them there) and requeues them. One sweep runs
// immediately, then one per interval until ctx is cancelled. Runs wherever
// the store handle lives: the worker daemon in direct mode, the control API
// daemon otherwise.
func RunReclaimer(ctx context.Context, store StuckReclaimer, interval, olderThan time.Duration) {
	logger.Info("Stuck-record reclaimer started",
		zap.Duration("interval", interval),
		zap.Duration("older_than", olderThan))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		reclaimed, err := store.ReclaimStuck(ctx, olderThan)
		if err != nil {
			logger.Error("Failed to reclaim stuck records", zap.Error(err))
		} else if reclaimed > 0 {
			logger.Warn("Requeued records stuck in processing",
				zap.Int64("count", reclaimed))
		}

		select {
		case <-ctx.Done():
			logger.Info("Stuck-record reclaimer stopped")
			return
		case <-ticker.C:
		}
	}
}
