package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/lthibault/jitterbug/v2"

	"github.com/kalambet/inkwell/internal/jobqueue"
)

// Maintainer is the queue maintenance surface the sweeper drives.
type Maintainer interface {
	CleanupOldJobs(ctx context.Context, daysToKeep int) (int64, error)
	GetQueueStats(ctx context.Context) (jobqueue.Stats, error)
}

// Sweeper periodically removes expired jobs and refreshes the queue gauges.
type Sweeper struct {
	queue         Maintainer
	interval      time.Duration
	retentionDays int
	logger        *slog.Logger
}

// NewSweeper creates a Sweeper. A non-positive interval defaults to one hour.
func NewSweeper(queue Maintainer, interval time.Duration, retentionDays int) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		queue:         queue,
		interval:      interval,
		retentionDays: retentionDays,
		logger:        slog.Default(),
	}
}

// Run sweeps once immediately and then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := jitterbug.New(s.interval, &jitterbug.Norm{Stdev: s.interval / 20, Mean: 0})
	defer ticker.Stop()

	for {
		s.Sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep runs one maintenance pass. Errors are logged, never returned.
func (s *Sweeper) Sweep(ctx context.Context) {
	if s.retentionDays > 0 {
		if _, err := s.queue.CleanupOldJobs(ctx, s.retentionDays); err != nil {
			s.logger.Error("job cleanup failed", "error", err)
		}
	}
	stats, err := s.queue.GetQueueStats(ctx)
	if err != nil {
		s.logger.Error("queue stats failed", "error", err)
		return
	}
	s.logger.Debug("queue swept", "pending", stats.Pending, "processing", stats.Processing,
		"retrying", stats.Retrying, "failed", stats.Failed)
}
