package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/inkwell/internal/storage"
)

type productionView struct {
	ID                   string    `json:"id"`
	ProjectID            string    `json:"project_id"`
	BlueprintID          string    `json:"blueprint_id"`
	AuthorID             string    `json:"author_id,omitempty"`
	Status               string    `json:"status"`
	CurrentChapter       int       `json:"current_chapter"`
	TotalChapters        int       `json:"total_chapters"`
	QualityScores        []float64 `json:"quality_scores"`
	AverageQuality       float64   `json:"average_quality"`
	ChaptersWrittenToday int       `json:"chapters_written_today"`
	LastWriteDate        string    `json:"last_write_date,omitempty"`
	ConsecutiveErrors    int       `json:"consecutive_errors"`
	LastError            string    `json:"last_error,omitempty"`
	UpdatedAt            time.Time `json:"updated_at"`
}

type factoryErrorView struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id,omitempty"`
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func handleGetProduction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Productions.GetProduction(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "production not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get production: %v", err)
			return
		}
		scores := p.QualityScores
		if scores == nil {
			scores = []float64{}
		}
		writeJSON(w, http.StatusOK, productionView{
			ID:                   p.ID,
			ProjectID:            p.ProjectID,
			BlueprintID:          p.BlueprintID,
			AuthorID:             p.AuthorID,
			Status:               p.Status,
			CurrentChapter:       p.CurrentChapter,
			TotalChapters:        p.TotalChapters,
			QualityScores:        scores,
			AverageQuality:       p.AverageQuality,
			ChaptersWrittenToday: p.ChaptersWrittenToday,
			LastWriteDate:        p.LastWriteDate,
			ConsecutiveErrors:    p.ConsecutiveErrors,
			LastError:            p.LastError,
			UpdatedAt:            p.UpdatedAt,
		})
	}
}

func handleListFactoryErrors(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 500)
		list, err := deps.Productions.ListFactoryErrors(r.Context(), chi.URLParam(r, "id"), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list errors: %v", err)
			return
		}
		out := make([]factoryErrorView, 0, len(list))
		for _, e := range list {
			out = append(out, factoryErrorView{
				ID:        e.ID,
				TaskID:    e.TaskID,
				Stage:     e.Stage,
				Message:   e.Message,
				Detail:    e.Detail,
				CreatedAt: e.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}
