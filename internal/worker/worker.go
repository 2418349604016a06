// Package worker runs queued jobs: it polls the job queue, dispatches each
// claimed job to the handler registered for its type and reports the outcome
// back to the queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lthibault/jitterbug/v2"

	"github.com/kalambet/inkwell/internal/engine"
	"github.com/kalambet/inkwell/internal/jobqueue"
	"github.com/kalambet/inkwell/internal/storage"
)

// ErrPermanent marks failures that retrying cannot fix.
var ErrPermanent = errors.New("permanent failure")

type permanentError struct{ err error }

func (e *permanentError) Error() string        { return e.err.Error() }
func (e *permanentError) Unwrap() error        { return e.err }
func (e *permanentError) Is(target error) bool { return target == ErrPermanent }

// Permanent wraps err so the job fails without retry.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retryable reports whether a handler error should be retried by the queue.
func Retryable(err error) bool {
	return !errors.Is(err, ErrPermanent) && !errors.Is(err, engine.ErrContentBlocked)
}

// JobQueue is the subset of the job queue the worker drives.
type JobQueue interface {
	GetNextJob(ctx context.Context) (*storage.Job, error)
	UpdateProgress(ctx context.Context, id string, progress int, message string) error
	CompleteJob(ctx context.Context, id string, result any) error
	FailJob(ctx context.Context, id, errMsg string, shouldRetry bool) (storage.JobStatus, error)
}

// ProgressFunc reports handler progress as a percentage with a short message.
type ProgressFunc func(percent int, message string)

// HandlerFunc processes one job and returns its JSON-encodable result.
type HandlerFunc func(ctx context.Context, job storage.Job, progress ProgressFunc) (any, error)

// Worker polls a JobQueue and runs one job at a time.
type Worker struct {
	queue    JobQueue
	handlers map[storage.JobType]HandlerFunc
	poll     time.Duration
	logger   *slog.Logger
}

// New creates a Worker. If pollInterval is <= 0, it defaults to 1s.
func New(queue JobQueue, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Worker{
		queue:    queue,
		handlers: make(map[storage.JobType]HandlerFunc),
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Handle registers h for jobs of type t, replacing any earlier handler.
func (w *Worker) Handle(t storage.JobType, h HandlerFunc) {
	w.handlers[t] = h
}

// Run polls for jobs until ctx is cancelled. Polls are spaced by the poll
// interval with a small random jitter so several workers do not hit the
// database in lockstep; after a processed job the next poll is immediate.
func (w *Worker) Run(ctx context.Context) {
	ticker := jitterbug.New(w.poll, &jitterbug.Norm{Stdev: w.poll / 10, Mean: 0})
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce claims and processes a single job. It returns true if a job was
// processed, regardless of its outcome.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.queue.GetNextJob(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	// Bookkeeping must land even when shutdown cancelled ctx mid-job.
	bg := context.WithoutCancel(ctx)
	log := w.logger.With("job_id", job.ID, "type", job.Type, "attempt", job.Attempts)

	result, err := w.dispatch(ctx, *job, log)
	if err != nil {
		retry := Retryable(err)
		status, failErr := w.queue.FailJob(bg, job.ID, err.Error(), retry)
		if errors.Is(failErr, jobqueue.ErrNotProcessing) {
			log.Warn("job finished after its watchdog expired", "error", err)
			return true, nil
		}
		if failErr != nil {
			return true, fmt.Errorf("failing job %s: %w", job.ID, failErr)
		}
		log.Warn("job failed", "error", err, "retry", retry, "status", status)
		return true, nil
	}

	err = w.queue.CompleteJob(bg, job.ID, result)
	if errors.Is(err, jobqueue.ErrNotProcessing) {
		log.Warn("job result discarded, watchdog already expired it")
		return true, nil
	}
	if err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	log.Info("job completed")
	return true, nil
}

func (w *Worker) dispatch(ctx context.Context, job storage.Job, log *slog.Logger) (result any, err error) {
	h, ok := w.handlers[job.Type]
	if !ok {
		return nil, Permanent(fmt.Errorf("no handler for job type %q", job.Type))
	}

	if job.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(job.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	progress := func(percent int, message string) {
		if err := w.queue.UpdateProgress(context.WithoutCancel(ctx), job.ID, percent, message); err != nil {
			log.Debug("progress update failed", "error", err)
		}
	}
	return h(ctx, job, progress)
}
