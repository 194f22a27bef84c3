package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type HistoryCleaner interface {
	ClearHistory(ctx context.Context, olderThanDays *int) (int64, error)
}

// HistoryJanitor periodically deletes history older than the retention.
type HistoryJanitor struct {
	history       HistoryCleaner
	retentionDays int
	interval      time.Duration
	logger        *zap.Logger

	stopOnce sync.Once
	done     chan struct{}
}

func NewHistoryJanitor(history HistoryCleaner, retentionDays int, interval time.Duration, logger *zap.Logger) *HistoryJanitor {
	return &HistoryJanitor{
		history:       history,
		retentionDays: retentionDays,
		interval:      interval,
		logger:        logger.Named("history-janitor"),
		done:          make(chan struct{}),
	}
}

// Start runs one cleanup immediately and then one per interval. It does
// nothing when retention is disabled.
func (j *HistoryJanitor) Start(ctx context.Context) {
	if j.retentionDays <= 0 || j.interval <= 0 {
		j.logger.Info("History retention disabled")
		return
	}

	go func() {
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		j.logger.Info("Starting history janitor",
			zap.Int("retention_days", j.retentionDays),
			zap.Duration("interval", j.interval))
		j.cleanup(ctx)
		for {
			select {
			case <-j.done:
				j.logger.Info("History janitor stopped")
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				j.cleanup(ctx)
			}
		}
	}()
}

func (j *HistoryJanitor) Stop() {
	j.stopOnce.Do(func() { close(j.done) })
}

func (j *HistoryJanitor) cleanup(ctx context.Context) {
	days := j.retentionDays
	deleted, err := j.history.ClearHistory(ctx, &days)
	if err != nil {
		j.logger.Error("Failed to clean up history", zap.Error(err))
		return
	}
	if deleted > 0 {
		j.logger.Info("Old history removed", zap.Int64("deleted", deleted))
	}
}
