package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/inkwell/internal/storage"
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	q      *Queue
	store  *storage.Store
	clock  *testClock
	mu     sync.Mutex
	timers []*fakeTimer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	h := &harness{
		store: store,
		clock: &testClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)},
	}
	h.q = New(store)
	h.q.now = h.clock.Now
	h.q.afterFunc = func(d time.Duration, f func()) stopper {
		h.mu.Lock()
		defer h.mu.Unlock()
		ft := &fakeTimer{d: d, f: f}
		h.timers = append(h.timers, ft)
		return ft
	}
	t.Cleanup(h.q.Close)
	return h
}

func (h *harness) lastTimer(t *testing.T) *fakeTimer {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.timers) == 0 {
		t.Fatal("no watchdog armed")
	}
	return h.timers[len(h.timers)-1]
}

func TestCreateJob_Defaults(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	job, err := h.q.CreateJob(ctx, "owner-1", storage.JobBatchWrite, map[string]string{"production_id": "p1"}, Options{})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	got, err := h.store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != storage.JobPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
	if got.MaxAttempts != 3 || got.Priority != 0 {
		t.Errorf("maxAttempts=%d priority=%d", got.MaxAttempts, got.Priority)
	}
	if got.TimeoutMs != (30 * time.Minute).Milliseconds() {
		t.Errorf("timeout = %dms, want 30m for batch_write", got.TimeoutMs)
	}
	if !got.ScheduledFor.Equal(h.clock.Now()) {
		t.Errorf("scheduledFor = %v, want now", got.ScheduledFor)
	}
	if string(got.Payload) != `{"production_id":"p1"}` {
		t.Errorf("payload = %s", got.Payload)
	}
}

func TestCreateJob_RejectsUnknownType(t *testing.T) {
	h := newHarness(t)
	if _, err := h.q.CreateJob(context.Background(), "o", "translate", nil, Options{}); err == nil {
		t.Fatal("expected error for unknown job type")
	}
}

func TestGetNextJob_ArmsWatchdogAndComplete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, err := h.q.CreateJob(ctx, "o", storage.JobWriteChapter, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}

	job, err := h.q.GetNextJob(ctx)
	if err != nil {
		t.Fatalf("GetNextJob: %v", err)
	}
	if job == nil || job.ID != created.ID {
		t.Fatalf("GetNextJob returned %+v", job)
	}
	timer := h.lastTimer(t)
	if timer.d != 5*time.Minute {
		t.Errorf("watchdog duration = %v, want 5m", timer.d)
	}

	h.clock.Advance(3 * time.Second)
	if err := h.q.CompleteJob(ctx, job.ID, map[string]int{"words": 3000}); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	if !timer.stopped {
		t.Error("watchdog not stopped on completion")
	}

	got, _ := h.store.GetJob(ctx, job.ID)
	if got.Status != storage.JobCompleted || got.Progress != 100 || got.CompletedAt.IsZero() {
		t.Errorf("unexpected completed job: %+v", got)
	}

	if err := h.q.CompleteJob(ctx, job.ID, nil); !errors.Is(err, ErrNotProcessing) {
		t.Errorf("second CompleteJob: got %v, want ErrNotProcessing", err)
	}
}

func TestFailJob_RetryBackoffIncreases(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, err := h.q.CreateJob(ctx, "o", storage.JobWriteChapter, nil, Options{MaxAttempts: 4})
	if err != nil {
		t.Fatal(err)
	}

	var lastDelay time.Duration
	for attempt := 1; attempt <= 3; attempt++ {
		job, err := h.q.GetNextJob(ctx)
		if err != nil || job == nil {
			t.Fatalf("attempt %d: GetNextJob = %v, %v", attempt, job, err)
		}
		if job.Attempts != attempt {
			t.Fatalf("attempts = %d, want %d", job.Attempts, attempt)
		}

		status, err := h.q.FailJob(ctx, created.ID, "provider timeout", true)
		if err != nil {
			t.Fatalf("FailJob: %v", err)
		}
		if status != storage.JobRetrying {
			t.Fatalf("status = %s, want retrying", status)
		}

		got, _ := h.store.GetJob(ctx, created.ID)
		delay := got.ScheduledFor.Sub(h.clock.Now())
		if delay <= 0 {
			t.Fatalf("retry not scheduled in the future: %v", delay)
		}
		if delay <= lastDelay {
			t.Errorf("backoff did not increase: %v after %v", delay, lastDelay)
		}
		lastDelay = delay

		// Not eligible before the backoff elapses.
		if early, _ := h.q.GetNextJob(ctx); early != nil {
			t.Fatal("job claimed before its backoff elapsed")
		}
		h.clock.Advance(delay)
	}

	job, err := h.q.GetNextJob(ctx)
	if err != nil || job == nil {
		t.Fatalf("final GetNextJob = %v, %v", job, err)
	}
	status, err := h.q.FailJob(ctx, job.ID, "still failing", true)
	if err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	if status != storage.JobFailed {
		t.Errorf("status after exhausting attempts = %s, want failed", status)
	}
	got, _ := h.store.GetJob(ctx, job.ID)
	if got.Attempts > got.MaxAttempts {
		t.Errorf("attempts %d exceed max %d", got.Attempts, got.MaxAttempts)
	}
}

func TestFailJob_NoRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.q.CreateJob(ctx, "o", storage.JobExportStory, nil, Options{}); err != nil {
		t.Fatal(err)
	}
	job, _ := h.q.GetNextJob(ctx)
	status, err := h.q.FailJob(ctx, job.ID, "content blocked", false)
	if err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	if status != storage.JobFailed {
		t.Errorf("status = %s, want failed", status)
	}
	if !h.lastTimer(t).stopped {
		t.Error("watchdog not stopped on failure")
	}
}

func TestWatchdog_TimeoutIsRetryable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, _ := h.q.CreateJob(ctx, "o", storage.JobAnalyzeChapter, nil, Options{MaxAttempts: 2})
	if _, err := h.q.GetNextJob(ctx); err != nil {
		t.Fatal(err)
	}

	h.lastTimer(t).f()

	got, _ := h.store.GetJob(ctx, created.ID)
	if got.Status != storage.JobTimeout {
		t.Fatalf("status = %s, want timeout", got.Status)
	}
	if got.Error != "timeout" {
		t.Errorf("error = %q", got.Error)
	}

	h.clock.Advance(time.Hour)
	job, err := h.q.GetNextJob(ctx)
	if err != nil || job == nil {
		t.Fatalf("timed-out job not reclaimable: %v, %v", job, err)
	}

	h.lastTimer(t).f()
	got, _ = h.store.GetJob(ctx, created.ID)
	if got.Status != storage.JobFailed {
		t.Errorf("status after final timeout = %s, want failed", got.Status)
	}
}

// restart returns a fresh Queue over the harness store, as after a process
// restart: no watchdogs are armed.
func (h *harness) restart(t *testing.T) *Queue {
	t.Helper()
	q := New(h.store)
	q.now = h.clock.Now
	q.afterFunc = h.q.afterFunc
	t.Cleanup(q.Close)
	return q
}

func TestRecoverStalled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	fresh, _ := h.q.CreateJob(ctx, "o", storage.JobWriteChapter, nil, Options{Priority: 2})
	overdue, _ := h.q.CreateJob(ctx, "o", storage.JobAnalyzeChapter, nil, Options{Priority: 1})
	if _, err := h.q.GetNextJob(ctx); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(3 * time.Minute)
	if _, err := h.q.GetNextJob(ctx); err != nil {
		t.Fatal(err)
	}

	// write_chapter has 5m, analyze_chapter 2m. At +4m the analyze job,
	// claimed at +3m, has 1m left and the write job 1m as well.
	h.clock.Advance(time.Minute)
	q2 := h.restart(t)
	n, err := q2.RecoverStalled(ctx)
	if err != nil {
		t.Fatalf("RecoverStalled: %v", err)
	}
	if n != 2 {
		t.Fatalf("recovered %d jobs, want 2", n)
	}
	if d := h.lastTimer(t).d; d != time.Minute {
		t.Errorf("re-armed timer = %v, want 1m", d)
	}

	// Recovering again in the same process leaves armed jobs alone.
	before := len(h.timers)
	if _, err := q2.RecoverStalled(ctx); err != nil {
		t.Fatal(err)
	}
	if len(h.timers) != before {
		t.Errorf("armed %d extra timers", len(h.timers)-before)
	}

	// After a long outage both jobs are overdue and expire at once.
	h.clock.Advance(time.Hour)
	q3 := h.restart(t)
	if _, err := q3.RecoverStalled(ctx); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{fresh.ID, overdue.ID} {
		got, _ := h.store.GetJob(ctx, id)
		if got.Status != storage.JobTimeout {
			t.Errorf("job %s status = %s, want timeout", id, got.Status)
		}
	}
}

func TestWatchdog_IgnoresFinishedJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, _ := h.q.CreateJob(ctx, "o", storage.JobWriteChapter, nil, Options{})
	job, _ := h.q.GetNextJob(ctx)
	fire := h.lastTimer(t).f
	if err := h.q.CompleteJob(ctx, job.ID, nil); err != nil {
		t.Fatal(err)
	}

	fire()

	got, _ := h.store.GetJob(ctx, created.ID)
	if got.Status != storage.JobCompleted {
		t.Errorf("late watchdog changed status to %s", got.Status)
	}
}

func TestCancelJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pending, _ := h.q.CreateJob(ctx, "alice", storage.JobWriteChapter, nil, Options{})

	if err := h.q.CancelJob(ctx, pending.ID, "bob"); !errors.Is(err, ErrOwnerMismatch) {
		t.Errorf("cancel by other owner: got %v, want ErrOwnerMismatch", err)
	}
	if err := h.q.CancelJob(ctx, pending.ID, "alice"); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	got, _ := h.store.GetJob(ctx, pending.ID)
	if got.Status != storage.JobFailed || got.Error != "cancelled" {
		t.Errorf("cancelled job = %s %q", got.Status, got.Error)
	}

	running, _ := h.q.CreateJob(ctx, "alice", storage.JobWriteChapter, nil, Options{})
	if _, err := h.q.GetNextJob(ctx); err != nil {
		t.Fatal(err)
	}
	if err := h.q.CancelJob(ctx, running.ID, "alice"); !errors.Is(err, ErrNotCancellable) {
		t.Errorf("cancel processing job: got %v, want ErrNotCancellable", err)
	}

	if err := h.q.CancelJob(ctx, "missing", "alice"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("cancel missing job: got %v, want ErrNotFound", err)
	}
}

func TestCancelJob_TimedOutWaitsLikeRetrying(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, _ := h.q.CreateJob(ctx, "alice", storage.JobAnalyzeChapter, nil, Options{MaxAttempts: 3})
	if _, err := h.q.GetNextJob(ctx); err != nil {
		t.Fatal(err)
	}
	h.lastTimer(t).f()
	if got, _ := h.store.GetJob(ctx, created.ID); got.Status != storage.JobTimeout {
		t.Fatalf("status = %s, want timeout", got.Status)
	}

	if err := h.q.CancelJob(ctx, created.ID, "alice"); err != nil {
		t.Fatalf("CancelJob on timed-out job: %v", err)
	}
	got, _ := h.store.GetJob(ctx, created.ID)
	if got.Status != storage.JobFailed || got.Error != "cancelled" {
		t.Errorf("job = %s %q", got.Status, got.Error)
	}
	if err := h.q.CancelJob(ctx, created.ID, "alice"); !errors.Is(err, ErrNotCancellable) {
		t.Errorf("cancel failed job: got %v, want ErrNotCancellable", err)
	}
}

func TestUpdateProgress_Clamps(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job, _ := h.q.CreateJob(ctx, "o", storage.JobBatchWrite, nil, Options{})

	tests := []struct {
		in, want int
	}{
		{-5, 0},
		{42, 42},
		{250, 100},
	}
	for _, tt := range tests {
		if err := h.q.UpdateProgress(ctx, job.ID, tt.in, fmt.Sprintf("step %d", tt.in)); err != nil {
			t.Fatalf("UpdateProgress: %v", err)
		}
		got, _ := h.store.GetJob(ctx, job.ID)
		if got.Progress != tt.want {
			t.Errorf("UpdateProgress(%d) stored %d, want %d", tt.in, got.Progress, tt.want)
		}
		if got.Status != storage.JobPending {
			t.Errorf("UpdateProgress changed status to %s", got.Status)
		}
	}
}

func TestCleanupOldJobsAndStats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for range 2 {
		if _, err := h.q.CreateJob(ctx, "o", storage.JobGenerateSummary, nil, Options{}); err != nil {
			t.Fatal(err)
		}
	}
	job, _ := h.q.GetNextJob(ctx)
	h.clock.Advance(4 * time.Second)
	if err := h.q.CompleteJob(ctx, job.ID, nil); err != nil {
		t.Fatal(err)
	}

	stats, err := h.q.GetQueueStats(ctx)
	if err != nil {
		t.Fatalf("GetQueueStats: %v", err)
	}
	if stats.Completed != 1 || stats.Pending != 1 || stats.Total != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.AvgDurationMs != 4000 {
		t.Errorf("AvgDurationMs = %v, want 4000", stats.AvgDurationMs)
	}

	n, err := h.q.CleanupOldJobs(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("removed %d fresh jobs", n)
	}

	h.clock.Advance(8 * 24 * time.Hour)
	n, err = h.q.CleanupOldJobs(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("removed %d jobs, want 1", n)
	}

	if _, err := h.q.CleanupOldJobs(ctx, -1); err == nil {
		t.Error("expected error for negative retention")
	}
}

func TestBackoffFor(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 5 * time.Second},
		{4, 300 * time.Second},
		{9, 300 * time.Second},
	}
	for _, tt := range tests {
		if got := BackoffFor(tt.attempts); got != tt.want {
			t.Errorf("BackoffFor(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}
