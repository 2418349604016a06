package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/inkwell/internal/storage"
)

const (
	watchdogStoreTimeout = 10 * time.Second
	maxRecoveredJobs     = 1000
)

func (q *Queue) armWatchdog(id string, d time.Duration) {
	if d <= 0 {
		d = defaultTimeout
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if old, ok := q.timers[id]; ok {
		old.Stop()
	}
	q.timers[id] = q.afterFunc(d, func() { q.expire(id) })
}

func (q *Queue) disarmWatchdog(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.timers[id]; ok {
		t.Stop()
		delete(q.timers, id)
	}
}

// expire handles a fired watchdog. A job with attempts left moves to timeout,
// which is dequeue-eligible after the backoff delay; otherwise it fails.
func (q *Queue) expire(id string) {
	q.mu.Lock()
	delete(q.timers, id)
	q.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), watchdogStoreTimeout)
	defer cancel()

	job, err := q.store.GetJob(ctx, id)
	if err != nil {
		q.logger.Error("watchdog could not load job", "job_id", id, "error", err)
		return
	}
	if job.Status != storage.JobProcessing {
		return
	}

	status, err := q.fail(ctx, job, "timeout", true, storage.JobTimeout)
	if errors.Is(err, ErrNotProcessing) {
		return
	}
	if err != nil {
		q.logger.Error("watchdog could not fail job", "job_id", id, "error", err)
		return
	}
	q.logger.Warn("job timed out", "job_id", id, "timeout_ms", job.TimeoutMs, "status", status)
}

// RecoverStalled re-arms watchdogs for jobs a previous process left in
// processing. Jobs already past their deadline expire immediately. It
// returns the number of jobs found.
func (q *Queue) RecoverStalled(ctx context.Context) (int, error) {
	jobs, err := q.store.ListJobs(ctx, storage.JobProcessing, maxRecoveredJobs)
	if err != nil {
		return 0, fmt.Errorf("listing processing jobs: %w", err)
	}
	now := q.now()
	for _, job := range jobs {
		q.mu.Lock()
		_, armed := q.timers[job.ID]
		q.mu.Unlock()
		if armed {
			continue
		}
		remaining := time.Duration(job.TimeoutMs)*time.Millisecond - now.Sub(job.StartedAt)
		if remaining <= 0 {
			q.expire(job.ID)
			continue
		}
		q.armWatchdog(job.ID, remaining)
		q.logger.Info("watchdog re-armed", "job_id", job.ID, "remaining", remaining)
	}
	return len(jobs), nil
}
