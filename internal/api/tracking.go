package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/inkwell/internal/items"
	"github.com/kalambet/inkwell/internal/progression"
	"github.com/kalambet/inkwell/internal/tracking"
)

// withSession loads the project's trackers, runs fn and writes its result.
// Mutating handlers persist the trackers after fn.
func withSession(deps Deps, mutate bool, fn func(r *http.Request, s *tracking.Session) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")
		var out any
		run := func(s *tracking.Session) error {
			var err error
			out, err = fn(r, s)
			return err
		}

		var err error
		if mutate {
			err = deps.Tracking.Update(r.Context(), projectID, run)
		} else {
			err = deps.Tracking.View(r.Context(), projectID, run)
		}
		if err != nil {
			if be, ok := err.(badRequest); ok {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", string(be))
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "tracker operation failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type badRequest string

func (e badRequest) Error() string { return string(e) }

// decodeInto parses the request body before the session lock is taken.
func decodeInto[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	return v, decodeBody(w, r, &v)
}

func queryInt(r *http.Request, key string) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return 0, badRequest(key + " is required")
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, badRequest(key + " must be an integer")
	}
	return v, nil
}

// --- progression ---

type characterRequest struct {
	Name    string `json:"name"`
	Realm   string `json:"realm"`
	Level   int    `json:"level"`
	Chapter int    `json:"chapter"`
}

type breakthroughRequest struct {
	Name     string `json:"name"`
	Chapter  int    `json:"chapter"`
	NewRealm string `json:"new_realm"`
	NewLevel int    `json:"new_level"`
	Trigger  string `json:"trigger"`
}

type skillRequest struct {
	Name    string `json:"name"`
	Chapter int    `json:"chapter"`
	Skill   string `json:"skill"`
}

type characterItemRequest struct {
	Name    string           `json:"name"`
	Chapter int              `json:"chapter"`
	Item    progression.Item `json:"item"`
}

type battleRequest struct {
	Protagonist string `json:"protagonist"`
	EnemyPower  string `json:"enemy_power"`
	Outcome     string `json:"outcome"`
	Chapter     int    `json:"chapter"`
}

type characterView struct {
	progression.State
	Summary string `json:"summary"`
}

func handleListCharacters(deps Deps) http.HandlerFunc {
	return withSession(deps, false, func(_ *http.Request, s *tracking.Session) (any, error) {
		states := s.Progression.States()
		if states == nil {
			states = []progression.State{}
		}
		return states, nil
	})
}

func handleGetCharacter(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		chapter := parseIntParam(r, "chapter", 0, 0)
		var found bool
		var view characterView
		err := deps.Tracking.View(r.Context(), chi.URLParam(r, "projectID"), func(s *tracking.Session) error {
			st, ok := s.Progression.State(name)
			if !ok {
				return nil
			}
			at := chapter
			if at == 0 {
				at = st.LastBreakthroughChapter
			}
			found = true
			view = characterView{State: st, Summary: s.Progression.GetProgressionSummary(name, at)}
			return nil
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "tracker operation failed: %v", err)
			return
		}
		if !found {
			httpError(w, http.StatusNotFound, "not_found", "character %q is not tracked", name)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func handleInitCharacter(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeInto[characterRequest](w, r)
		if !ok {
			return
		}
		withSession(deps, true, func(_ *http.Request, s *tracking.Session) (any, error) {
			return s.Progression.InitCharacter(req.Name, req.Realm, req.Level, req.Chapter), nil
		})(w, r)
	}
}

func handleValidateBreakthrough(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeInto[breakthroughRequest](w, r)
		if !ok {
			return
		}
		withSession(deps, false, func(_ *http.Request, s *tracking.Session) (any, error) {
			return s.Progression.ValidateBreakthrough(req.Name, req.Chapter, req.NewRealm, req.NewLevel), nil
		})(w, r)
	}
}

func handleBreakthrough(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeInto[breakthroughRequest](w, r)
		if !ok {
			return
		}
		withSession(deps, true, func(_ *http.Request, s *tracking.Session) (any, error) {
			return s.Progression.Breakthrough(req.Name, req.Chapter, req.NewRealm, req.NewLevel, req.Trigger), nil
		})(w, r)
	}
}

func handleRecordSkill(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeInto[skillRequest](w, r)
		if !ok {
			return
		}
		withSession(deps, true, func(_ *http.Request, s *tracking.Session) (any, error) {
			return s.Progression.RecordSkillLearned(req.Name, req.Chapter, req.Skill), nil
		})(w, r)
	}
}

func handleRecordCharacterItem(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeInto[characterItemRequest](w, r)
		if !ok {
			return
		}
		withSession(deps, true, func(_ *http.Request, s *tracking.Session) (any, error) {
			return s.Progression.RecordItemAcquired(req.Name, req.Chapter, req.Item), nil
		})(w, r)
	}
}

func handleValidateBattle(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeInto[battleRequest](w, r)
		if !ok {
			return
		}
		withSession(deps, false, func(_ *http.Request, s *tracking.Session) (any, error) {
			res := s.Progression.ValidateEnemyScaling(req.Protagonist, req.EnemyPower, req.Outcome, req.Chapter)
			return struct {
				progression.BattleResult
				Context string `json:"context"`
			}{res, s.Progression.GetBattleContext(req.Protagonist, req.EnemyPower)}, nil
		})(w, r)
	}
}

func handleExpectedRealm(deps Deps) http.HandlerFunc {
	return withSession(deps, false, func(r *http.Request, s *tracking.Session) (any, error) {
		chapter, err := queryInt(r, "chapter")
		if err != nil {
			return nil, err
		}
		return s.Progression.GetExpectedRealm(chapter, parseIntParam(r, "total", s.TotalChapters, 0)), nil
	})
}

func handleValidateGrade(deps Deps) http.HandlerFunc {
	return withSession(deps, false, func(r *http.Request, s *tracking.Session) (any, error) {
		grade := r.URL.Query().Get("grade")
		if grade == "" {
			return nil, badRequest("grade is required")
		}
		chapter, err := queryInt(r, "chapter")
		if err != nil {
			return nil, err
		}
		return s.Progression.ValidateGradeForChapter(grade, chapter, parseIntParam(r, "total", s.TotalChapters, 0)), nil
	})
}

// --- items ---

type registerItemRequest struct {
	Name           string         `json:"name"`
	Category       items.Category `json:"category"`
	Grade          string         `json:"grade"`
	Description    string         `json:"description"`
	Chapter        int            `json:"chapter"`
	Owner          string         `json:"owner"`
	AlternateName  string         `json:"alternate_name"`
	Effects        []string       `json:"effects"`
	EstimatedValue float64        `json:"estimated_value"`
	Currency       string         `json:"currency"`
}

type nameRequest struct {
	Name string `json:"name"`
}

type transferRequest struct {
	Owner   string `json:"owner"`
	Chapter int    `json:"chapter"`
}

type statusRequest struct {
	Status  items.Status `json:"status"`
	Chapter int          `json:"chapter"`
}

type chapterRequest struct {
	Chapter int `json:"chapter"`
}

type detectRequest struct {
	Content string `json:"content"`
}

func handleListItems(deps Deps) http.HandlerFunc {
	return withSession(deps, false, func(r *http.Request, s *tracking.Session) (any, error) {
		var list []items.Item
		if owner := r.URL.Query().Get("owner"); owner != "" {
			list = s.Items.GetItemsByOwner(owner)
		} else {
			list = s.Items.Items()
		}
		if list == nil {
			list = []items.Item{}
		}
		return list, nil
	})
}

func handleRegisterItem(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeInto[registerItemRequest](w, r)
		if !ok {
			return
		}
		withSession(deps, true, func(_ *http.Request, s *tracking.Session) (any, error) {
			return s.Items.RegisterItem(req.Name, req.Category, req.Grade, req.Description, req.Chapter, req.Owner,
				items.RegisterOptions{
					AlternateName:  req.AlternateName,
					Effects:        req.Effects,
					EstimatedValue: req.EstimatedValue,
					Currency:       req.Currency,
				}), nil
		})(w, r)
	}
}

func handleValidateItemName(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeInto[nameRequest](w, r)
		if !ok {
			return
		}
		withSession(deps, false, func(_ *http.Request, s *tracking.Session) (any, error) {
			return s.Items.ValidateItemName(req.Name), nil
		})(w, r)
	}
}

func handleItemReminders(deps Deps) http.HandlerFunc {
	return withSession(deps, false, func(r *http.Request, s *tracking.Session) (any, error) {
		chapter, err := queryInt(r, "chapter")
		if err != nil {
			return nil, err
		}
		list := s.Items.GetUnusedItemReminders(chapter, parseIntParam(r, "threshold", 0, 0))
		if list == nil {
			list = []items.Reminder{}
		}
		return list, nil
	})
}

func handleEconomy(deps Deps) http.HandlerFunc {
	return withSession(deps, false, func(_ *http.Request, s *tracking.Session) (any, error) {
		return s.Items.ValidateEconomy(), nil
	})
}

func handleItemStats(deps Deps) http.HandlerFunc {
	return withSession(deps, false, func(r *http.Request, s *tracking.Session) (any, error) {
		chapter, err := queryInt(r, "chapter")
		if err != nil {
			return nil, err
		}
		return s.Items.Statistics(chapter), nil
	})
}

func handleNameSuggestions(deps Deps) http.HandlerFunc {
	return withSession(deps, false, func(r *http.Request, s *tracking.Session) (any, error) {
		category := items.Category(r.URL.Query().Get("category"))
		if !category.Valid() {
			return nil, badRequest("unknown category " + strconv.Quote(string(category)))
		}
		var existing []string
		for _, it := range s.Items.Items() {
			existing = append(existing, strings.ToLower(it.Name))
			if it.AlternateName != "" {
				existing = append(existing, strings.ToLower(it.AlternateName))
			}
		}
		return items.GenerateItemNameSuggestions(category, existing, parseIntParam(r, "count", 5, 20)), nil
	})
}

func handleDetectItems(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeInto[detectRequest](w, r)
		if !ok {
			return
		}
		withSession(deps, false, func(_ *http.Request, s *tracking.Session) (any, error) {
			found := items.DetectItemsInContent(req.Content, s.Items.Items())
			if found == nil {
				found = []items.DetectedItem{}
			}
			return found, nil
		})(w, r)
	}
}

func handleTransferItem(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeInto[transferRequest](w, r)
		if !ok {
			return
		}
		name := chi.URLParam(r, "name")
		withSession(deps, true, func(_ *http.Request, s *tracking.Session) (any, error) {
			return s.Items.TransferOwnership(name, req.Owner, req.Chapter), nil
		})(w, r)
	}
}

func handleItemStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeInto[statusRequest](w, r)
		if !ok {
			return
		}
		name := chi.URLParam(r, "name")
		withSession(deps, true, func(_ *http.Request, s *tracking.Session) (any, error) {
			return s.Items.UpdateItemStatus(name, req.Status, req.Chapter), nil
		})(w, r)
	}
}

func handleItemMention(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeInto[chapterRequest](w, r)
		if !ok {
			return
		}
		name := chi.URLParam(r, "name")
		withSession(deps, true, func(_ *http.Request, s *tracking.Session) (any, error) {
			return s.Items.RecordMention(name, req.Chapter), nil
		})(w, r)
	}
}
