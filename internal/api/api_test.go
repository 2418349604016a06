package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/inkwell/internal/jobqueue"
	"github.com/kalambet/inkwell/internal/storage"
	"github.com/kalambet/inkwell/internal/tracking"
)

type testEnv struct {
	handler http.Handler
	store   *storage.Store
	queue   *jobqueue.Queue
}

func setupHandler(t *testing.T) testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	q := jobqueue.New(store)
	t.Cleanup(q.Close)

	h := NewHandler(Deps{
		Jobs:          q,
		Productions:   store,
		Tracking:      tracking.NewService(store, tracking.Settings{DefaultTotalChapters: 1000}),
		RetentionDays: 30,
	})
	return testEnv{handler: h, store: store, queue: q}
}

func (e testEnv) do(t *testing.T, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, httptest.NewRequest(method, url, reader))
	return rr
}

func decodeResp[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	env := setupHandler(t)
	rr := env.do(t, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if got := decodeResp[map[string]string](t, rr); got["status"] != "ok" {
		t.Errorf("body = %v", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupHandler(t)
	env.do(t, http.MethodGet, "/health", "")

	rr := env.do(t, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "inkwell_http_requests_total") {
		t.Error("metrics output is missing the request counter")
	}
}

func TestCreateAndGetJob(t *testing.T) {
	env := setupHandler(t)

	rr := env.do(t, http.MethodPost, "/jobs/", `{"type":"write_chapter","owner_id":"alice","payload":{"task_id":"t1"},"priority":5}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	created := decodeResp[jobView](t, rr)
	if created.Status != "pending" || created.Priority != 5 || created.MaxAttempts != 3 {
		t.Errorf("created = %+v", created)
	}
	if string(created.Payload) != `{"task_id":"t1"}` {
		t.Errorf("payload = %s", created.Payload)
	}

	rr = env.do(t, http.MethodGet, "/jobs/"+created.ID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	if got := decodeResp[jobView](t, rr); got.ID != created.ID || got.OwnerID != "alice" {
		t.Errorf("got = %+v", got)
	}
}

func TestCreateJob_Validation(t *testing.T) {
	env := setupHandler(t)
	tests := []struct {
		name string
		body string
	}{
		{"unknown type", `{"type":"translate","owner_id":"a"}`},
		{"missing owner", `{"type":"batch_write"}`},
		{"bad json", `{"type":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := env.do(t, http.MethodPost, "/jobs/", tt.body); rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rr.Code)
			}
		})
	}
}

func TestGetJob_NotFound(t *testing.T) {
	env := setupHandler(t)
	if rr := env.do(t, http.MethodGet, "/jobs/nope", ""); rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestCancelJob(t *testing.T) {
	env := setupHandler(t)
	job, err := env.queue.CreateJob(context.Background(), "alice", storage.JobBatchWrite, nil, jobqueue.Options{})
	if err != nil {
		t.Fatal(err)
	}

	if rr := env.do(t, http.MethodPost, "/jobs/"+job.ID+"/cancel", `{"owner_id":"bob"}`); rr.Code != http.StatusForbidden {
		t.Errorf("wrong owner: status = %d, want 403", rr.Code)
	}
	if rr := env.do(t, http.MethodPost, "/jobs/"+job.ID+"/cancel", `{"owner_id":"alice"}`); rr.Code != http.StatusOK {
		t.Fatalf("cancel: status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if rr := env.do(t, http.MethodPost, "/jobs/"+job.ID+"/cancel", `{"owner_id":"alice"}`); rr.Code != http.StatusConflict {
		t.Errorf("second cancel: status = %d, want 409", rr.Code)
	}
	if rr := env.do(t, http.MethodPost, "/jobs/ghost/cancel", `{"owner_id":"alice"}`); rr.Code != http.StatusNotFound {
		t.Errorf("missing job: status = %d, want 404", rr.Code)
	}

	got, _ := env.queue.GetJob(context.Background(), job.ID)
	if got.Status != storage.JobFailed || got.Error != "cancelled" {
		t.Errorf("job = %s/%q, want failed/cancelled", got.Status, got.Error)
	}
}

func TestQueueStatsAndCleanup(t *testing.T) {
	env := setupHandler(t)
	for range 2 {
		if _, err := env.queue.CreateJob(context.Background(), "a", storage.JobAnalyzeChapter, nil, jobqueue.Options{}); err != nil {
			t.Fatal(err)
		}
	}

	rr := env.do(t, http.MethodGet, "/jobs/stats", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rr.Code)
	}
	if stats := decodeResp[jobqueue.Stats](t, rr); stats.Pending != 2 || stats.Total != 2 {
		t.Errorf("stats = %+v", stats)
	}

	rr = env.do(t, http.MethodPost, "/jobs/cleanup?days=7", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("cleanup status = %d", rr.Code)
	}
	if got := decodeResp[map[string]int64](t, rr); got["deleted"] != 0 {
		t.Errorf("deleted = %d, want 0 (nothing terminal)", got["deleted"])
	}
}

func TestProductionEndpoints(t *testing.T) {
	env := setupHandler(t)
	ctx := context.Background()
	if err := env.store.SaveProduction(ctx, storage.Production{
		ID: "prod-1", ProjectID: "proj", BlueprintID: "bp", CurrentChapter: 12, TotalChapters: 100,
		QualityScores: []float64{80, 90}, AverageQuality: 85,
	}); err != nil {
		t.Fatal(err)
	}
	if err := env.store.RecordFactoryError(ctx, storage.FactoryError{
		ProductionID: "prod-1", TaskID: "t-13", Stage: "generate", Message: "chapter 13 failed at generate",
	}); err != nil {
		t.Fatal(err)
	}

	rr := env.do(t, http.MethodGet, "/productions/prod-1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	p := decodeResp[productionView](t, rr)
	if p.CurrentChapter != 12 || p.AverageQuality != 85 || p.Status != storage.ProductionActive {
		t.Errorf("production = %+v", p)
	}

	rr = env.do(t, http.MethodGet, "/productions/prod-1/errors", "")
	errs := decodeResp[[]factoryErrorView](t, rr)
	if len(errs) != 1 || errs[0].Stage != "generate" || errs[0].TaskID != "t-13" {
		t.Errorf("errors = %+v", errs)
	}

	if rr := env.do(t, http.MethodGet, "/productions/ghost", ""); rr.Code != http.StatusNotFound {
		t.Errorf("missing production: status = %d, want 404", rr.Code)
	}
}
