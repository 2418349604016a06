package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/inkwell/internal/engine"
	"github.com/kalambet/inkwell/internal/jobqueue"
	"github.com/kalambet/inkwell/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestQueue(t *testing.T, store *storage.Store) *jobqueue.Queue {
	t.Helper()
	q := jobqueue.New(store)
	t.Cleanup(q.Close)
	return q
}

func enqueue(t *testing.T, q *jobqueue.Queue, jobType storage.JobType, payload any) storage.Job {
	t.Helper()
	job, err := q.CreateJob(context.Background(), "owner-1", jobType, payload, jobqueue.Options{})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return job
}

func jobStatus(t *testing.T, q *jobqueue.Queue, id string) storage.Job {
	t.Helper()
	job, err := q.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	return job
}

func TestWorker_ProcessesJob(t *testing.T) {
	store := openTestStore(t)
	q := newTestQueue(t, store)
	job := enqueue(t, q, storage.JobBatchWrite, nil)

	w := New(q, 0)
	w.Handle(storage.JobBatchWrite, func(_ context.Context, _ storage.Job, progress ProgressFunc) (any, error) {
		progress(50, "halfway")
		return map[string]int{"completed": 2}, nil
	})

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}

	got := jobStatus(t, q, job.ID)
	if got.Status != storage.JobCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if string(got.Result) != `{"completed":2}` {
		t.Errorf("result = %s", got.Result)
	}
}

func TestWorker_NoJob(t *testing.T) {
	store := openTestStore(t)
	w := New(newTestQueue(t, store), 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if didWork {
		t.Error("RunOnce returned true on an empty queue")
	}
}

func TestWorker_RetryableFailure(t *testing.T) {
	store := openTestStore(t)
	q := newTestQueue(t, store)
	job := enqueue(t, q, storage.JobAnalyzeChapter, nil)

	w := New(q, 0)
	w.Handle(storage.JobAnalyzeChapter, func(context.Context, storage.Job, ProgressFunc) (any, error) {
		return nil, fmt.Errorf("transient error")
	})

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	got := jobStatus(t, q, job.ID)
	if got.Status != storage.JobRetrying {
		t.Errorf("status = %s, want retrying", got.Status)
	}
	if got.Error != "transient error" {
		t.Errorf("error = %q", got.Error)
	}
}

func TestWorker_PermanentFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"permanent", Permanent(errors.New("bad payload"))},
		{"wrapped permanent", fmt.Errorf("loading: %w", Permanent(storage.ErrNotFound))},
		{"content blocked", fmt.Errorf("generate: %w", engine.ErrContentBlocked)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := openTestStore(t)
			q := newTestQueue(t, store)
			job := enqueue(t, q, storage.JobGenerateSummary, nil)

			w := New(q, 0)
			w.Handle(storage.JobGenerateSummary, func(context.Context, storage.Job, ProgressFunc) (any, error) {
				return nil, tt.err
			})
			if _, err := w.RunOnce(context.Background()); err != nil {
				t.Fatalf("RunOnce error: %v", err)
			}
			if got := jobStatus(t, q, job.ID); got.Status != storage.JobFailed {
				t.Errorf("status = %s, want failed", got.Status)
			}
		})
	}
}

func TestWorker_UnknownHandlerFailsWithoutRetry(t *testing.T) {
	store := openTestStore(t)
	q := newTestQueue(t, store)
	job := enqueue(t, q, storage.JobExportStory, nil)

	w := New(q, 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	got := jobStatus(t, q, job.ID)
	if got.Status != storage.JobFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
}

func TestWorker_PanicBecomesFailure(t *testing.T) {
	store := openTestStore(t)
	q := newTestQueue(t, store)
	job := enqueue(t, q, storage.JobBatchWrite, nil)

	w := New(q, 0)
	w.Handle(storage.JobBatchWrite, func(context.Context, storage.Job, ProgressFunc) (any, error) {
		panic("boom")
	})
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	got := jobStatus(t, q, job.ID)
	if got.Status != storage.JobRetrying {
		t.Errorf("status = %s, want retrying", got.Status)
	}
	if got.Error != "handler panic: boom" {
		t.Errorf("error = %q", got.Error)
	}
}

func TestWorker_HandlerSeesJobTimeout(t *testing.T) {
	store := openTestStore(t)
	q := newTestQueue(t, store)
	if _, err := q.CreateJob(context.Background(), "o", storage.JobAnalyzeChapter, nil,
		jobqueue.Options{Timeout: 90 * time.Second}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	w := New(q, 0)
	var remaining time.Duration
	w.Handle(storage.JobAnalyzeChapter, func(ctx context.Context, _ storage.Job, _ ProgressFunc) (any, error) {
		deadline, ok := ctx.Deadline()
		if !ok {
			return nil, errors.New("no deadline")
		}
		remaining = time.Until(deadline)
		return nil, nil
	})
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if remaining <= 80*time.Second || remaining > 90*time.Second {
		t.Errorf("handler deadline in %v, want about 90s", remaining)
	}
}

func TestWorker_CancelledHandlerStillRecordsOutcome(t *testing.T) {
	store := openTestStore(t)
	q := newTestQueue(t, store)
	job := enqueue(t, q, storage.JobBatchWrite, nil)

	ctx, cancel := context.WithCancel(context.Background())
	w := New(q, 0)
	w.Handle(storage.JobBatchWrite, func(ctx context.Context, _ storage.Job, _ ProgressFunc) (any, error) {
		cancel()
		return nil, ctx.Err()
	})
	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if got := jobStatus(t, q, job.ID); got.Status != storage.JobRetrying {
		t.Errorf("status = %s, want retrying", got.Status)
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	store := openTestStore(t)
	q := newTestQueue(t, store)
	for range 3 {
		enqueue(t, q, storage.JobBatchWrite, nil)
	}

	var calls atomic.Int32
	w := New(q, 10*time.Millisecond)
	w.Handle(storage.JobBatchWrite, func(context.Context, storage.Job, ProgressFunc) (any, error) {
		calls.Add(1)
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("processed %d/3 jobs before timeout", calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(errors.New("x")) {
		t.Error("plain error should be retryable")
	}
	if Retryable(Permanent(errors.New("x"))) {
		t.Error("permanent error should not be retryable")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
	inner := errors.New("inner")
	if !errors.Is(Permanent(inner), inner) {
		t.Error("Permanent should unwrap to its cause")
	}
}

type fakeMaintainer struct {
	cleanups atomic.Int32
	stats    atomic.Int32
	days     int
}

func (f *fakeMaintainer) CleanupOldJobs(_ context.Context, days int) (int64, error) {
	f.cleanups.Add(1)
	f.days = days
	return 0, nil
}

func (f *fakeMaintainer) GetQueueStats(context.Context) (jobqueue.Stats, error) {
	f.stats.Add(1)
	return jobqueue.Stats{}, nil
}

func TestSweeper_Sweep(t *testing.T) {
	m := &fakeMaintainer{}
	NewSweeper(m, time.Minute, 7).Sweep(context.Background())
	if m.cleanups.Load() != 1 || m.days != 7 {
		t.Errorf("cleanups=%d days=%d, want 1/7", m.cleanups.Load(), m.days)
	}
	if m.stats.Load() != 1 {
		t.Errorf("stats refreshed %d times, want 1", m.stats.Load())
	}

	m = &fakeMaintainer{}
	NewSweeper(m, time.Minute, 0).Sweep(context.Background())
	if m.cleanups.Load() != 0 {
		t.Error("retention 0 should disable cleanup")
	}
}

func TestSweeper_SweepsPeriodically(t *testing.T) {
	m := &fakeMaintainer{}
	s := NewSweeper(m, 10*time.Millisecond, 30)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for m.stats.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("swept %d times before timeout", m.stats.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}
