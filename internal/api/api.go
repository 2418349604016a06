// Package api serves the dashboard HTTP API and the MCP tool server: job
// queue management, production status and the per-project narrative
// trackers.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kalambet/inkwell/internal/jobqueue"
	"github.com/kalambet/inkwell/internal/metrics"
	"github.com/kalambet/inkwell/internal/storage"
	"github.com/kalambet/inkwell/internal/tracking"
)

const maxRequestBodySize = 1 << 20 // 1MB

// JobService is the job-queue surface exposed over HTTP and MCP.
type JobService interface {
	CreateJob(ctx context.Context, ownerID string, jobType storage.JobType, payload any, opts jobqueue.Options) (storage.Job, error)
	GetJob(ctx context.Context, id string) (storage.Job, error)
	CancelJob(ctx context.Context, id, ownerID string) error
	CleanupOldJobs(ctx context.Context, daysToKeep int) (int64, error)
	GetQueueStats(ctx context.Context) (jobqueue.Stats, error)
}

// ProductionReader exposes production status for the dashboard.
type ProductionReader interface {
	GetProduction(ctx context.Context, id string) (storage.Production, error)
	ListFactoryErrors(ctx context.Context, productionID string, limit int) ([]storage.FactoryError, error)
	Ping(ctx context.Context) error
}

// Deps holds the dependencies of the HTTP API.
type Deps struct {
	Jobs        JobService
	Productions ProductionReader
	Tracking    *tracking.Service

	// RetentionDays is the default for POST /jobs/cleanup.
	RetentionDays int
}

// NewHandler returns the dashboard API router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	mw := metrics.NewMiddleware("inkwell-api")
	if err := mw.Register(prometheus.DefaultRegisterer); err != nil {
		slog.Warn("registering http metrics", "error", err)
	}
	r.Use(middleware.Recoverer)
	r.Use(mw.Handler)

	r.Get("/health", handleHealth(deps))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/stats", handleQueueStats(deps))
		r.Post("/", handleCreateJob(deps))
		r.Post("/cleanup", handleCleanupJobs(deps))
		r.Get("/{id}", handleGetJob(deps))
		r.Post("/{id}/cancel", handleCancelJob(deps))
	})

	r.Route("/productions/{id}", func(r chi.Router) {
		r.Get("/", handleGetProduction(deps))
		r.Get("/errors", handleListFactoryErrors(deps))
	})

	r.Route("/projects/{projectID}", func(r chi.Router) {
		r.Route("/progression", func(r chi.Router) {
			r.Get("/", handleListCharacters(deps))
			r.Post("/characters", handleInitCharacter(deps))
			r.Get("/characters/{name}", handleGetCharacter(deps))
			r.Post("/breakthroughs/validate", handleValidateBreakthrough(deps))
			r.Post("/breakthroughs", handleBreakthrough(deps))
			r.Post("/skills", handleRecordSkill(deps))
			r.Post("/items", handleRecordCharacterItem(deps))
			r.Post("/battles/validate", handleValidateBattle(deps))
			r.Get("/expected", handleExpectedRealm(deps))
			r.Get("/grades/validate", handleValidateGrade(deps))
		})
		r.Route("/items", func(r chi.Router) {
			r.Get("/", handleListItems(deps))
			r.Post("/", handleRegisterItem(deps))
			r.Post("/validate-name", handleValidateItemName(deps))
			r.Get("/reminders", handleItemReminders(deps))
			r.Get("/economy", handleEconomy(deps))
			r.Get("/stats", handleItemStats(deps))
			r.Get("/suggestions", handleNameSuggestions(deps))
			r.Post("/detect", handleDetectItems(deps))
			r.Post("/{name}/transfer", handleTransferItem(deps))
			r.Post("/{name}/status", handleItemStatus(deps))
			r.Post("/{name}/mentions", handleItemMention(deps))
		})
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Productions != nil {
			if err := deps.Productions.Ping(r.Context()); err != nil {
				httpError(w, http.StatusServiceUnavailable, "unavailable", "store unreachable: %v", err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
