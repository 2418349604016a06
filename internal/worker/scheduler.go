package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/lthibault/jitterbug/v2"

	"github.com/kalambet/inkwell/internal/jobqueue"
	"github.com/kalambet/inkwell/internal/storage"
)

// JobCreator enqueues jobs and reads them back.
type JobCreator interface {
	CreateJob(ctx context.Context, ownerID string, jobType storage.JobType, payload any, opts jobqueue.Options) (storage.Job, error)
	GetJob(ctx context.Context, id string) (storage.Job, error)
}

// SchedulerOwner owns the batch jobs the scheduler enqueues.
const SchedulerOwner = "scheduler"

// BatchScheduler enqueues a batch_write job on every tick, unless the one
// it enqueued previously has not finished yet.
type BatchScheduler struct {
	queue    JobCreator
	interval time.Duration
	logger   *slog.Logger

	lastID string
}

// NewBatchScheduler creates a BatchScheduler. A non-positive interval
// disables it: Run returns immediately.
func NewBatchScheduler(queue JobCreator, interval time.Duration) *BatchScheduler {
	return &BatchScheduler{
		queue:    queue,
		interval: interval,
		logger:   slog.Default(),
	}
}

// Run schedules until ctx is cancelled.
func (s *BatchScheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := jitterbug.New(s.interval, &jitterbug.Norm{Stdev: s.interval / 20, Mean: 0})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick enqueues one batch job if none of ours is outstanding. It reports
// whether a job was created.
func (s *BatchScheduler) Tick(ctx context.Context) bool {
	if s.lastID != "" {
		prev, err := s.queue.GetJob(ctx, s.lastID)
		if err == nil && !prev.Status.Terminal() {
			s.logger.Debug("previous batch still outstanding", "job_id", prev.ID, "status", prev.Status)
			return false
		}
	}
	job, err := s.queue.CreateJob(ctx, SchedulerOwner, storage.JobBatchWrite, nil, jobqueue.Options{})
	if err != nil {
		s.logger.Error("scheduling batch failed", "error", err)
		return false
	}
	s.lastID = job.ID
	s.logger.Info("batch scheduled", "job_id", job.ID)
	return true
}
