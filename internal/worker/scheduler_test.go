package worker

import (
	"context"
	"testing"
	"time"

	"github.com/kalambet/inkwell/internal/storage"
)

func TestBatchScheduler_SkipsWhileOutstanding(t *testing.T) {
	store := openTestStore(t)
	q := newTestQueue(t, store)
	ctx := context.Background()
	s := NewBatchScheduler(q, time.Minute)

	if !s.Tick(ctx) {
		t.Fatal("first tick should enqueue a batch")
	}
	first := jobStatus(t, q, s.lastID)
	if first.Type != storage.JobBatchWrite || first.OwnerID != SchedulerOwner {
		t.Errorf("job = %s/%s", first.Type, first.OwnerID)
	}

	if s.Tick(ctx) {
		t.Error("tick enqueued a second batch while the first is pending")
	}

	claimed, err := q.GetNextJob(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("GetNextJob = %v, %v", claimed, err)
	}
	if s.Tick(ctx) {
		t.Error("tick enqueued a batch while the first is processing")
	}

	if err := q.CompleteJob(ctx, claimed.ID, nil); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	if !s.Tick(ctx) {
		t.Error("tick after completion should enqueue a new batch")
	}
	if s.lastID == first.ID {
		t.Error("lastID not advanced")
	}
}

func TestBatchScheduler_DisabledReturns(t *testing.T) {
	store := openTestStore(t)
	q := newTestQueue(t, store)

	done := make(chan struct{})
	go func() {
		NewBatchScheduler(q, 0).Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled scheduler did not return")
	}
}
