// Package tracking binds the progression and item trackers to the content
// store: it loads a project's trackers, serializes access per project, and
// persists the result.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/kalambet/inkwell/internal/items"
	"github.com/kalambet/inkwell/internal/progression"
	"github.com/kalambet/inkwell/internal/storage"
)

// Store abstracts the tracker-backing tables.
type Store interface {
	GetProject(ctx context.Context, id string) (storage.Project, error)
	ListProgressionStates(ctx context.Context, projectID string) ([]storage.ProgressionRow, error)
	SaveProgressionStates(ctx context.Context, rows []storage.ProgressionRow) error
	ListItems(ctx context.Context, projectID string) ([]storage.ItemRow, error)
	SaveItems(ctx context.Context, rows []storage.ItemRow) error
}

// Settings are the process-wide tracker defaults; a project row overrides
// the ladders and total chapter count.
type Settings struct {
	Ladders              Ladders
	DefaultTotalChapters int
	TooFastRatio         float64
	ForgottenWindow      int
	ReminderThreshold    int
}

// Session is a project's loaded trackers.
type Session struct {
	ProjectID     string
	TotalChapters int
	Progression   *progression.Tracker
	Items         *items.Tracker
}

// Service hands out per-project tracker sessions.
type Service struct {
	store    Store
	settings Settings
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a Service backed by store.
func NewService(store Store, settings Settings) *Service {
	return &Service{
		store:    store,
		settings: settings,
		logger:   slog.Default(),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *Service) projectLock(projectID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[projectID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[projectID] = l
	}
	return l
}

// View runs fn against a freshly loaded session without persisting.
func (s *Service) View(ctx context.Context, projectID string, fn func(*Session) error) error {
	l := s.projectLock(projectID)
	l.Lock()
	defer l.Unlock()

	sess, err := s.load(ctx, projectID)
	if err != nil {
		return err
	}
	return fn(sess)
}

// Update runs fn and persists both trackers when fn returns nil.
func (s *Service) Update(ctx context.Context, projectID string, fn func(*Session) error) error {
	l := s.projectLock(projectID)
	l.Lock()
	defer l.Unlock()

	sess, err := s.load(ctx, projectID)
	if err != nil {
		return err
	}
	if err := fn(sess); err != nil {
		return err
	}
	return s.save(ctx, sess)
}

func (s *Service) load(ctx context.Context, projectID string) (*Session, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, fmt.Errorf("project id is required")
	}

	pcfg := progression.Config{
		Realms:         progression.Ladder(s.settings.Ladders.Realms),
		Grades:         progression.Ladder(s.settings.Ladders.Grades),
		LevelsPerRealm: s.settings.Ladders.LevelsPerRealm,
		TotalChapters:  s.settings.DefaultTotalChapters,
		TooFastRatio:   s.settings.TooFastRatio,
		Curve:          progression.Curve(s.settings.Ladders.Curve),
	}

	project, err := s.store.GetProject(ctx, projectID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.logger.Debug("project not registered, using default ladders", "project_id", projectID)
	case err != nil:
		return nil, fmt.Errorf("loading project %s: %w", projectID, err)
	default:
		if len(project.RealmLadder) > 0 {
			pcfg.Realms = project.RealmLadder
		}
		if len(project.GradeLadder) > 0 {
			pcfg.Grades = project.GradeLadder
		}
		if project.LevelsPerRealm > 0 {
			pcfg.LevelsPerRealm = project.LevelsPerRealm
		}
		if project.TotalChapters > 0 {
			pcfg.TotalChapters = project.TotalChapters
		}
	}

	prog := progression.NewTracker(pcfg)
	rows, err := s.store.ListProgressionStates(ctx, projectID)
	if err != nil {
		return nil, err
	}
	states := make([]progression.State, 0, len(rows))
	for _, r := range rows {
		states = append(states, stateFromRow(r))
	}
	prog.Load(states)

	itemTracker := items.NewTracker(projectID, items.Config{
		Grades:            prog.Config().Grades,
		ForgottenWindow:   s.settings.ForgottenWindow,
		ReminderThreshold: s.settings.ReminderThreshold,
	}, prog)
	itemRows, err := s.store.ListItems(ctx, projectID)
	if err != nil {
		return nil, err
	}
	list := make([]items.Item, 0, len(itemRows))
	for _, r := range itemRows {
		list = append(list, itemFromRow(r))
	}
	itemTracker.Load(list)

	return &Session{
		ProjectID:     projectID,
		TotalChapters: prog.Config().TotalChapters,
		Progression:   prog,
		Items:         itemTracker,
	}, nil
}

func (s *Service) save(ctx context.Context, sess *Session) error {
	states := sess.Progression.States()
	rows := make([]storage.ProgressionRow, 0, len(states))
	for _, st := range states {
		rows = append(rows, rowFromState(sess.ProjectID, st))
	}
	if err := s.store.SaveProgressionStates(ctx, rows); err != nil {
		return fmt.Errorf("saving progression: %w", err)
	}

	list := sess.Items.Items()
	itemRows := make([]storage.ItemRow, 0, len(list))
	for _, it := range list {
		itemRows = append(itemRows, rowFromItem(sess.ProjectID, it))
	}
	if err := s.store.SaveItems(ctx, itemRows); err != nil {
		return fmt.Errorf("saving items: %w", err)
	}
	return nil
}

// ChapterContext renders the progression and inventory blocks used in a
// chapter prompt. It reads state only.
func (s *Service) ChapterContext(ctx context.Context, projectID string, chapter int) (progressionBlock, itemBlock string, err error) {
	err = s.View(ctx, projectID, func(sess *Session) error {
		progressionBlock = sess.Progression.ContextBlock(chapter)

		var blocks []string
		for _, st := range sess.Progression.States() {
			if len(sess.Items.GetItemsByOwner(st.CharacterName)) == 0 {
				continue
			}
			blocks = append(blocks, sess.Items.BuildItemContext(st.CharacterName, chapter))
		}
		for _, r := range sess.Items.GetUnusedItemReminders(chapter, 0) {
			blocks = append(blocks, "Reminder: "+r.Suggestion)
		}
		itemBlock = strings.Join(blocks, "\n")
		return nil
	})
	return progressionBlock, itemBlock, err
}

// RecordChapterMentions scans persisted chapter text for known items and
// records a mention for each one found. It returns the detections,
// including candidate new items, which are not registered automatically.
func (s *Service) RecordChapterMentions(ctx context.Context, projectID string, chapter int, content string) ([]items.DetectedItem, error) {
	var detected []items.DetectedItem
	err := s.Update(ctx, projectID, func(sess *Session) error {
		detected = items.DetectItemsInContent(content, sess.Items.Items())
		for _, d := range detected {
			if d.IsNew {
				continue
			}
			if r := sess.Items.RecordMention(d.Name, chapter); !r.Success {
				s.logger.Warn("recording item mention failed", "project_id", projectID, "item", d.Name, "error", r.Error)
			}
		}
		return nil
	})
	return detected, err
}
