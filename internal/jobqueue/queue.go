// Package jobqueue implements the persistent job queue: priority dequeue,
// retry with backoff, per-job timeout watchdogs, cancellation, and retention.
package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/inkwell/internal/metrics"
	"github.com/kalambet/inkwell/internal/storage"
)

var (
	ErrNotCancellable = errors.New("job is not cancellable in its current state")
	ErrOwnerMismatch  = errors.New("job belongs to a different owner")
	ErrNotProcessing  = errors.New("job is not processing")
)

// DefaultMaxAttempts applies when CreateJob is called without MaxAttempts.
const DefaultMaxAttempts = 3

// Backoff is the retry delay table, indexed by min(attempts, len-1).
var Backoff = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	30 * time.Second,
	60 * time.Second,
	300 * time.Second,
}

const defaultTimeout = 5 * time.Minute

// Timeouts holds the default per-type timeout.
var Timeouts = map[storage.JobType]time.Duration{
	storage.JobWriteChapter:    5 * time.Minute,
	storage.JobBatchWrite:      30 * time.Minute,
	storage.JobAnalyzeChapter:  2 * time.Minute,
	storage.JobGenerateSummary: 3 * time.Minute,
	storage.JobExportStory:     10 * time.Minute,
}

// TimeoutFor returns the default timeout of a job type.
func TimeoutFor(t storage.JobType) time.Duration {
	if d, ok := Timeouts[t]; ok {
		return d
	}
	return defaultTimeout
}

// BackoffFor returns the retry delay after the given number of attempts.
func BackoffFor(attempts int) time.Duration {
	i := min(attempts, len(Backoff)-1)
	if i < 0 {
		i = 0
	}
	return Backoff[i]
}

// Store abstracts the job table operations of the content store.
type Store interface {
	InsertJob(ctx context.Context, job storage.Job) error
	GetJob(ctx context.Context, id string) (storage.Job, error)
	ListJobs(ctx context.Context, status storage.JobStatus, limit int) ([]storage.Job, error)
	ClaimNextJob(ctx context.Context, now time.Time) (*storage.Job, error)
	TransitionJob(ctx context.Context, id string, from []storage.JobStatus, t storage.JobTransition, now time.Time) error
	UpdateJobProgress(ctx context.Context, id string, progress int, message string, now time.Time) error
	DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	JobStats(ctx context.Context) (storage.JobStats, error)
}

// Options override CreateJob defaults. Zero values select the default.
type Options struct {
	Priority     int
	MaxAttempts  int
	Timeout      time.Duration
	ScheduledFor time.Time
}

// Stats is the aggregate view returned by GetQueueStats.
type Stats struct {
	Pending       int     `json:"pending"`
	Processing    int     `json:"processing"`
	Completed     int     `json:"completed"`
	Failed        int     `json:"failed"`
	Retrying      int     `json:"retrying"`
	Timeout       int     `json:"timeout"`
	Total         int     `json:"total"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

type stopper interface {
	Stop() bool
}

// Queue coordinates job state transitions against a Store. Watchdog timers
// live in this process; the claim itself is atomic in the store, so several
// processes may poll the same database.
type Queue struct {
	store  Store
	logger *slog.Logger

	now       func() time.Time
	afterFunc func(time.Duration, func()) stopper

	mu     sync.Mutex
	timers map[string]stopper
}

// New creates a Queue backed by store.
func New(store Store) *Queue {
	return &Queue{
		store:  store,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		timers: make(map[string]stopper),
	}
}

// CreateJob enqueues a new pending job.
func (q *Queue) CreateJob(ctx context.Context, ownerID string, jobType storage.JobType, payload any, opts Options) (storage.Job, error) {
	if !jobType.Valid() {
		return storage.Job{}, fmt.Errorf("unknown job type %q", jobType)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return storage.Job{}, fmt.Errorf("encoding payload: %w", err)
	}
	if payload == nil {
		raw = []byte("{}")
	}

	now := q.now()
	job := storage.Job{
		ID:           uuid.New().String(),
		OwnerID:      ownerID,
		Type:         jobType,
		Status:       storage.JobPending,
		Priority:     opts.Priority,
		Payload:      raw,
		MaxAttempts:  opts.MaxAttempts,
		TimeoutMs:    opts.Timeout.Milliseconds(),
		ScheduledFor: opts.ScheduledFor,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = DefaultMaxAttempts
	}
	if job.TimeoutMs <= 0 {
		job.TimeoutMs = TimeoutFor(jobType).Milliseconds()
	}
	if job.ScheduledFor.IsZero() {
		job.ScheduledFor = now
	}

	if err := q.store.InsertJob(ctx, job); err != nil {
		return storage.Job{}, err
	}
	q.logger.Debug("job created", "job_id", job.ID, "type", job.Type, "priority", job.Priority)
	return job, nil
}

// GetJob returns a job by id.
func (q *Queue) GetJob(ctx context.Context, id string) (storage.Job, error) {
	return q.store.GetJob(ctx, id)
}

// GetNextJob claims the next eligible job and arms its watchdog. It returns
// (nil, nil) when nothing is eligible.
func (q *Queue) GetNextJob(ctx context.Context) (*storage.Job, error) {
	job, err := q.store.ClaimNextJob(ctx, q.now())
	if err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return nil, nil
	}
	q.armWatchdog(job.ID, time.Duration(job.TimeoutMs)*time.Millisecond)
	q.logger.Debug("job claimed", "job_id", job.ID, "type", job.Type, "attempt", job.Attempts)
	return job, nil
}

// UpdateProgress records progress clamped to [0, 100].
func (q *Queue) UpdateProgress(ctx context.Context, id string, progress int, message string) error {
	progress = max(0, min(100, progress))
	return q.store.UpdateJobProgress(ctx, id, progress, message, q.now())
}

// CompleteJob moves a processing job to completed with the given result.
func (q *Queue) CompleteJob(ctx context.Context, id string, result any) error {
	q.disarmWatchdog(id)

	var raw json.RawMessage
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
		raw = b
	}

	now := q.now()
	full := 100
	err := q.store.TransitionJob(ctx, id, []storage.JobStatus{storage.JobProcessing}, storage.JobTransition{
		Status:      storage.JobCompleted,
		Result:      raw,
		Progress:    &full,
		CompletedAt: now,
	}, now)
	if errors.Is(err, storage.ErrConflict) {
		return ErrNotProcessing
	}
	if err != nil {
		return err
	}

	if job, err := q.store.GetJob(ctx, id); err == nil {
		metrics.IncreaseJobsTotal(string(job.Type), string(storage.JobCompleted))
		if !job.StartedAt.IsZero() {
			metrics.ObserveJobDuration(string(job.Type), job.CompletedAt.Sub(job.StartedAt).Seconds())
		}
	}
	return nil
}

// FailJob records a failure of a processing job. With shouldRetry and
// attempts remaining the job moves to retrying and is rescheduled after the
// backoff delay; otherwise it becomes failed. It returns the new status.
func (q *Queue) FailJob(ctx context.Context, id, errMsg string, shouldRetry bool) (storage.JobStatus, error) {
	q.disarmWatchdog(id)

	job, err := q.store.GetJob(ctx, id)
	if err != nil {
		return "", err
	}
	if job.Status != storage.JobProcessing {
		return job.Status, ErrNotProcessing
	}
	return q.fail(ctx, job, errMsg, shouldRetry, storage.JobRetrying)
}

// fail applies the retry-or-fail decision. retryStatus is retrying for
// ordinary failures and timeout for watchdog expiries.
func (q *Queue) fail(ctx context.Context, job storage.Job, errMsg string, shouldRetry bool, retryStatus storage.JobStatus) (storage.JobStatus, error) {
	now := q.now()
	t := storage.JobTransition{Error: &errMsg}
	if shouldRetry && job.Attempts < job.MaxAttempts {
		t.Status = retryStatus
		t.ScheduledFor = now.Add(BackoffFor(job.Attempts))
	} else {
		t.Status = storage.JobFailed
		t.CompletedAt = now
	}

	err := q.store.TransitionJob(ctx, job.ID, []storage.JobStatus{storage.JobProcessing}, t, now)
	if errors.Is(err, storage.ErrConflict) {
		return "", ErrNotProcessing
	}
	if err != nil {
		return "", err
	}

	metrics.IncreaseJobsTotal(string(job.Type), string(t.Status))
	q.logger.Info("job failed", "job_id", job.ID, "type", job.Type, "attempt", job.Attempts,
		"max_attempts", job.MaxAttempts, "status", t.Status, "error", errMsg)
	return t.Status, nil
}

// CancelJob fails a job that has not been claimed yet. Only the owner may
// cancel, and only while the job waits in pending or retrying. A job in
// timeout counts as retrying here: the watchdog scheduled it for another
// attempt and it is not running, so it is cancellable like any other
// retry. Processing and terminal jobs return ErrNotCancellable.
func (q *Queue) CancelJob(ctx context.Context, id, ownerID string) error {
	job, err := q.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.OwnerID != ownerID {
		return ErrOwnerMismatch
	}

	reason := "cancelled"
	now := q.now()
	err = q.store.TransitionJob(ctx, id, storage.ClaimableStatuses, storage.JobTransition{
		Status:      storage.JobFailed,
		Error:       &reason,
		CompletedAt: now,
	}, now)
	if errors.Is(err, storage.ErrConflict) {
		return ErrNotCancellable
	}
	if err != nil {
		return err
	}
	metrics.IncreaseJobsTotal(string(job.Type), "cancelled")
	return nil
}

// CleanupOldJobs deletes completed and failed jobs that finished more than
// daysToKeep days ago and returns how many were removed.
func (q *Queue) CleanupOldJobs(ctx context.Context, daysToKeep int) (int64, error) {
	if daysToKeep < 0 {
		return 0, fmt.Errorf("retention must not be negative, got %d days", daysToKeep)
	}
	cutoff := q.now().Add(-time.Duration(daysToKeep) * 24 * time.Hour)
	n, err := q.store.DeleteTerminalJobsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.logger.Info("old jobs removed", "count", n, "days_to_keep", daysToKeep)
	}
	return n, nil
}

// GetQueueStats returns per-status counts and the mean duration of completed jobs.
func (q *Queue) GetQueueStats(ctx context.Context) (Stats, error) {
	raw, err := q.store.JobStats(ctx)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{
		Pending:       raw.Counts[storage.JobPending],
		Processing:    raw.Counts[storage.JobProcessing],
		Completed:     raw.Counts[storage.JobCompleted],
		Failed:        raw.Counts[storage.JobFailed],
		Retrying:      raw.Counts[storage.JobRetrying],
		Timeout:       raw.Counts[storage.JobTimeout],
		Total:         raw.Total,
		AvgDurationMs: raw.AvgDurationMillis,
	}
	for _, st := range []storage.JobStatus{storage.JobPending, storage.JobProcessing, storage.JobCompleted,
		storage.JobFailed, storage.JobRetrying, storage.JobTimeout} {
		metrics.UpdateJobStatusCount(string(st), raw.Counts[st])
	}
	return stats, nil
}

// Close stops all armed watchdogs.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
}
