package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/inkwell/internal/jobqueue"
	"github.com/kalambet/inkwell/internal/storage"
)

// CreateJobRequest is the body of POST /jobs.
type CreateJobRequest struct {
	Type         storage.JobType `json:"type"`
	OwnerID      string          `json:"owner_id"`
	Payload      json.RawMessage `json:"payload"`
	Priority     int             `json:"priority"`
	MaxAttempts  int             `json:"max_attempts"`
	TimeoutMs    int64           `json:"timeout_ms"`
	ScheduledFor time.Time       `json:"scheduled_for"`
}

type jobView struct {
	ID              string          `json:"id"`
	OwnerID         string          `json:"owner_id"`
	Type            storage.JobType `json:"type"`
	Status          string          `json:"status"`
	Priority        int             `json:"priority"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	Attempts        int             `json:"attempts"`
	MaxAttempts     int             `json:"max_attempts"`
	TimeoutMs       int64           `json:"timeout_ms"`
	Progress        int             `json:"progress"`
	ProgressMessage string          `json:"progress_message,omitempty"`
	ScheduledFor    time.Time       `json:"scheduled_for"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func rawOrNil(b json.RawMessage) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return b
}

func newJobView(j storage.Job) jobView {
	return jobView{
		ID:              j.ID,
		OwnerID:         j.OwnerID,
		Type:            j.Type,
		Status:          string(j.Status),
		Priority:        j.Priority,
		Payload:         rawOrNil(j.Payload),
		Result:          rawOrNil(j.Result),
		Error:           j.Error,
		Attempts:        j.Attempts,
		MaxAttempts:     j.MaxAttempts,
		TimeoutMs:       j.TimeoutMs,
		Progress:        j.Progress,
		ProgressMessage: j.ProgressMessage,
		ScheduledFor:    j.ScheduledFor,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
		StartedAt:       optionalTime(j.StartedAt),
		CompletedAt:     optionalTime(j.CompletedAt),
	}
}

func handleQueueStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Jobs.GetQueueStats(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read queue stats: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func handleCreateJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateJobRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if !req.Type.Valid() {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown job type %q", req.Type)
			return
		}
		if req.OwnerID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "owner_id is required")
			return
		}

		var payload any
		if len(req.Payload) > 0 {
			payload = req.Payload
		}
		job, err := deps.Jobs.CreateJob(r.Context(), req.OwnerID, req.Type, payload, jobqueue.Options{
			Priority:     req.Priority,
			MaxAttempts:  req.MaxAttempts,
			Timeout:      time.Duration(req.TimeoutMs) * time.Millisecond,
			ScheduledFor: req.ScheduledFor,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create job: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, newJobView(job))
	}
}

func handleGetJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, newJobView(job))
	}
}

type cancelRequest struct {
	OwnerID string `json:"owner_id"`
}

func handleCancelJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req cancelRequest
		if !decodeBody(w, r, &req) {
			return
		}
		id := chi.URLParam(r, "id")

		err := deps.Jobs.CancelJob(r.Context(), id, req.OwnerID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found", "job not found")
		case errors.Is(err, jobqueue.ErrOwnerMismatch):
			httpError(w, http.StatusForbidden, "permission_error", "job belongs to a different owner")
		case errors.Is(err, jobqueue.ErrNotCancellable):
			httpError(w, http.StatusConflict, "conflict", "job can no longer be cancelled")
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "failed to cancel job: %v", err)
		default:
			writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "cancelled"})
		}
	}
}

func handleCleanupJobs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days := parseIntParam(r, "days", deps.RetentionDays, 0)
		n, err := deps.Jobs.CleanupOldJobs(r.Context(), days)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "cleanup failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
	}
}
