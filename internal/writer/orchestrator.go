package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/inkwell/internal/composer"
	"github.com/kalambet/inkwell/internal/engine"
	"github.com/kalambet/inkwell/internal/items"
	"github.com/kalambet/inkwell/internal/metrics"
	"github.com/kalambet/inkwell/internal/quality"
	"github.com/kalambet/inkwell/internal/storage"
)

// Failure stages recorded on factory errors and the task error metric.
const (
	StageLoad     = "load"
	StageGenerate = "generate"
	StageScore    = "score"
	StagePersist  = "persist"
	StagePanic    = "panic"
)

// ContentStore is the subset of the storage layer the orchestrator needs.
type ContentStore interface {
	ClaimWriteTasks(ctx context.Context, limit int, now time.Time, lease time.Duration) ([]storage.WriteTask, error)
	ClaimWriteTask(ctx context.Context, id string, now time.Time, lease time.Duration) (storage.WriteTask, error)
	SetWriteTaskStatus(ctx context.Context, id string, status storage.WriteTaskStatus) error
	FinishWriteTask(ctx context.Context, id string, r storage.WriteTaskResult) error
	GetProduction(ctx context.Context, id string) (storage.Production, error)
	RecordProductionError(ctx context.Context, id, message string) error
	GetBlueprint(ctx context.Context, id string) (storage.Blueprint, error)
	GetAuthor(ctx context.Context, id string) (storage.Author, error)
	RecentSummaries(ctx context.Context, productionID string, before, limit int) ([]storage.Chapter, error)
	CommitChapter(ctx context.Context, c storage.ChapterCommit) (storage.CommittedChapter, error)
	RecordFactoryError(ctx context.Context, e storage.FactoryError) error
}

// NarrativeContext supplies tracker state for prompts and records item
// mentions once a chapter is persisted.
type NarrativeContext interface {
	ChapterContext(ctx context.Context, projectID string, chapter int) (progressionBlock, itemBlock string, err error)
	RecordChapterMentions(ctx context.Context, projectID string, chapter int, content string) ([]items.DetectedItem, error)
}

type Config struct {
	BatchSize          int
	MinQuality         float64
	MaxRewriteAttempts int
	InterTaskDelay     time.Duration
	// TaskLease is how long a claimed task may go untouched before another
	// writer may take it over.
	TaskLease          time.Duration
	QualityWindow      int
	RecentChapters     int
	TargetWords        int
	Model              string
	Temperature        float64
	MaxTokens          int
}

func DefaultConfig() Config {
	return Config{
		BatchSize:          5,
		MinQuality:         70,
		MaxRewriteAttempts: 2,
		InterTaskDelay:     2 * time.Second,
		TaskLease:          30 * time.Minute,
		QualityWindow:      10,
		RecentChapters:     3,
		TargetWords:        2500,
		Temperature:        0.8,
		MaxTokens:          6000,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MinQuality <= 0 {
		c.MinQuality = d.MinQuality
	}
	if c.MaxRewriteAttempts <= 0 {
		c.MaxRewriteAttempts = d.MaxRewriteAttempts
	}
	if c.InterTaskDelay < 0 {
		c.InterTaskDelay = 0
	}
	if c.TaskLease <= 0 {
		c.TaskLease = d.TaskLease
	}
	if c.QualityWindow <= 0 {
		c.QualityWindow = d.QualityWindow
	}
	if c.RecentChapters < 0 {
		c.RecentChapters = 0
	}
	if c.TargetWords <= 0 {
		c.TargetWords = d.TargetWords
	}
	if c.Temperature <= 0 {
		c.Temperature = d.Temperature
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	return c
}

// Outcome is the result of processing one write task.
type Outcome struct {
	TaskID        string                  `json:"task_id"`
	ProductionID  string                  `json:"production_id"`
	ChapterNumber int                     `json:"chapter_number"`
	Status        storage.WriteTaskStatus `json:"status"`
	ChapterID     string                  `json:"chapter_id,omitempty"`
	Title         string                  `json:"title,omitempty"`
	WordCount     int                     `json:"word_count,omitempty"`
	QualityScore  float64                 `json:"quality_score,omitempty"`
	Rewritten     bool                    `json:"rewritten,omitempty"`
	Stage         string                  `json:"stage,omitempty"`
	Error         string                  `json:"error,omitempty"`

	err error
}

// Err returns the failure cause, or nil for a completed task.
func (o Outcome) Err() error { return o.err }

// BatchResult collects one outcome per claimed task.
type BatchResult struct {
	Claimed   int       `json:"claimed"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	Released  int       `json:"released"`
	Outcomes  []Outcome `json:"outcomes"`
}

// Orchestrator turns scheduled write tasks into persisted chapters. Tasks
// are processed one at a time; a failing task is recorded and never stops
// the rest of the batch.
type Orchestrator struct {
	store     ContentStore
	gen       engine.Generator
	scorer    quality.Scorer
	narrative NarrativeContext
	composer  *composer.Composer
	cfg       Config
	logger    *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Orchestrator. narrative may be nil, in which case prompts
// carry no tracker context.
func New(store ContentStore, gen engine.Generator, scorer quality.Scorer, narrative NarrativeContext, comp *composer.Composer, cfg Config) *Orchestrator {
	if comp == nil {
		comp = composer.New(0)
	}
	return &Orchestrator{
		store:     store,
		gen:       gen,
		scorer:    scorer,
		narrative: narrative,
		composer:  comp,
		cfg:       cfg.withDefaults(),
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RunBatch claims up to BatchSize due tasks and processes them in schedule
// order. The returned error is non-nil only when claiming fails. If ctx is
// cancelled mid-batch the unprocessed tasks are released back to pending.
func (o *Orchestrator) RunBatch(ctx context.Context, onProgress func(done, total int)) (BatchResult, error) {
	tasks, err := o.store.ClaimWriteTasks(ctx, o.cfg.BatchSize, o.now(), o.cfg.TaskLease)
	if err != nil {
		return BatchResult{}, fmt.Errorf("claiming write tasks: %w", err)
	}

	res := BatchResult{Claimed: len(tasks), Outcomes: make([]Outcome, 0, len(tasks))}
	for i, task := range tasks {
		if i > 0 {
			if err := o.sleep(ctx, o.cfg.InterTaskDelay); err != nil {
				res.Released += o.release(ctx, tasks[i:])
				break
			}
		}
		if ctx.Err() != nil {
			res.Released += o.release(ctx, tasks[i:])
			break
		}

		out := o.runTask(ctx, task)
		res.Outcomes = append(res.Outcomes, out)
		if out.Status == storage.TaskCompleted {
			res.Completed++
		} else {
			res.Failed++
		}
		if onProgress != nil {
			onProgress(i+1, len(tasks))
		}
	}

	o.logger.Info("write batch finished",
		"claimed", res.Claimed, "completed", res.Completed, "failed", res.Failed, "released", res.Released)
	return res, nil
}

// ProcessTask claims and processes one task by id. It returns
// storage.ErrLeased while another writer holds the task, storage.ErrConflict
// once it is complete, and the task's failure cause if processing failed.
func (o *Orchestrator) ProcessTask(ctx context.Context, taskID string) (Outcome, error) {
	task, err := o.store.ClaimWriteTask(ctx, taskID, o.now(), o.cfg.TaskLease)
	if err != nil {
		return Outcome{TaskID: taskID}, fmt.Errorf("claiming task %s: %w", taskID, err)
	}
	out := o.runTask(ctx, task)
	return out, out.err
}

func (o *Orchestrator) release(ctx context.Context, tasks []storage.WriteTask) int {
	bg := context.WithoutCancel(ctx)
	n := 0
	for _, t := range tasks {
		if err := o.store.SetWriteTaskStatus(bg, t.ID, storage.TaskPending); err != nil {
			o.logger.Error("releasing write task", "task_id", t.ID, "error", err)
			continue
		}
		n++
	}
	return n
}

// runTask processes a claimed task and converts any failure, including a
// panic, into a recorded failed outcome.
func (o *Orchestrator) runTask(ctx context.Context, task storage.WriteTask) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = o.fail(ctx, task, StagePanic, fmt.Errorf("panic: %v", r))
		}
	}()
	return o.process(ctx, task)
}

type taskError struct {
	stage string
	err   error
}

func (e *taskError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *taskError) Unwrap() error { return e.err }

func stageErr(stage string, err error) error { return &taskError{stage: stage, err: err} }

func (o *Orchestrator) process(ctx context.Context, task storage.WriteTask) Outcome {
	start := time.Now()
	log := o.logger.With("task_id", task.ID, "production_id", task.ProductionID, "chapter", task.ChapterNumber)

	draft, err := o.write(ctx, task, log)
	if err != nil {
		var te *taskError
		stage := StagePersist
		if errors.As(err, &te) {
			stage = te.stage
			err = te.err
		}
		return o.fail(ctx, task, stage, err)
	}

	metrics.ObserveChapterWritten(draft.score.Score, draft.rewritten)
	log.Info("chapter written",
		"chapter_id", draft.chapter.ID,
		"words", draft.chapter.WordCount,
		"quality", draft.score.Score,
		"rewritten", draft.rewritten,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return Outcome{
		TaskID:        task.ID,
		ProductionID:  task.ProductionID,
		ChapterNumber: task.ChapterNumber,
		Status:        storage.TaskCompleted,
		ChapterID:     draft.chapter.ID,
		Title:         draft.chapter.Title,
		WordCount:     draft.chapter.WordCount,
		QualityScore:  draft.score.Score,
		Rewritten:     draft.rewritten,
	}
}

type writtenChapter struct {
	chapter   storage.Chapter
	score     quality.Result
	rewritten bool
}

func (o *Orchestrator) write(ctx context.Context, task storage.WriteTask, log *slog.Logger) (writtenChapter, error) {
	prod, err := o.store.GetProduction(ctx, task.ProductionID)
	if err != nil {
		return writtenChapter{}, stageErr(StageLoad, fmt.Errorf("loading production: %w", err))
	}
	if prod.Status != storage.ProductionActive {
		return writtenChapter{}, stageErr(StageLoad, fmt.Errorf("production %s is %s", prod.ID, prod.Status))
	}
	bp, err := o.store.GetBlueprint(ctx, prod.BlueprintID)
	if err != nil {
		return writtenChapter{}, stageErr(StageLoad, fmt.Errorf("loading blueprint: %w", err))
	}
	var author storage.Author
	if prod.AuthorID != "" {
		if author, err = o.store.GetAuthor(ctx, prod.AuthorID); err != nil {
			return writtenChapter{}, stageErr(StageLoad, fmt.Errorf("loading author: %w", err))
		}
	}

	req := composer.ChapterRequest{
		Blueprint:     bp,
		Author:        author,
		ChapterNumber: task.ChapterNumber,
		TotalChapters: prod.TotalChapters,
		TargetWords:   o.cfg.TargetWords,
	}
	if o.narrative != nil {
		req.ProgressionContext, req.ItemContext, err = o.narrative.ChapterContext(ctx, prod.ProjectID, task.ChapterNumber)
		if err != nil {
			log.Warn("tracker context unavailable", "error", err)
		}
	}
	if o.cfg.RecentChapters > 0 {
		req.Recent, err = o.store.RecentSummaries(ctx, prod.ID, task.ChapterNumber, o.cfg.RecentChapters)
		if err != nil {
			log.Warn("recent summaries unavailable", "error", err)
		}
	}

	opts := engine.Options{
		Model:       o.cfg.Model,
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
	}
	if author.Temperature > 0 {
		opts.Temperature = author.Temperature
	}

	prompt := o.composer.Compose(req)
	text, err := o.gen.Generate(ctx, prompt.System, prompt.User, opts)
	if err != nil {
		return writtenChapter{}, stageErr(StageGenerate, err)
	}

	score, err := o.scorer.Score(ctx, text, task.ChapterNumber, bp.Genre)
	if err != nil {
		return writtenChapter{}, stageErr(StageScore, err)
	}

	rewritten := false
	if score.Score < o.cfg.MinQuality && task.Attempts < o.cfg.MaxRewriteAttempts {
		log.Info("draft below quality bar, rewriting", "quality", score.Score, "min", o.cfg.MinQuality)
		if err := o.store.SetWriteTaskStatus(ctx, task.ID, storage.TaskRewriting); err != nil {
			return writtenChapter{}, stageErr(StagePersist, err)
		}

		rp := o.composer.ComposeRewrite(req, text, score.Issues)
		revised, err := o.gen.Generate(ctx, rp.System, rp.User, opts)
		switch {
		case err != nil && ctx.Err() != nil:
			return writtenChapter{}, stageErr(StageGenerate, err)
		case err != nil:
			log.Warn("rewrite failed, keeping first draft", "error", err)
		default:
			revisedScore, err := o.scorer.Score(ctx, revised, task.ChapterNumber, bp.Genre)
			if err != nil {
				return writtenChapter{}, stageErr(StageScore, err)
			}
			text, score, rewritten = revised, revisedScore, true
		}
	}

	title, body := ExtractTitle(text, task.ChapterNumber)
	ch := storage.Chapter{
		ID:           uuid.New().String(),
		ProductionID: prod.ID,
		Number:       task.ChapterNumber,
		Title:        title,
		Content:      body,
		WordCount:    CountWords(body),
		QualityScore: score.Score,
		CreatedAt:    o.now(),
	}

	publishAt := task.PublishAt
	if publishAt.IsZero() {
		publishAt = task.ScheduledFor
	}
	committed, err := o.store.CommitChapter(ctx, storage.ChapterCommit{
		TaskID:    task.ID,
		Attempt:   task.Attempts,
		Chapter:   ch,
		PublishID: uuid.New().String(),
		PublishAt: publishAt,
		Result: storage.WriteTaskResult{
			Status:       storage.TaskCompleted,
			QualityScore: score.Score,
			Rewritten:    rewritten,
		},
		Advance: func(p storage.Production) storage.Production {
			return o.advance(p, task.ChapterNumber, score.Score)
		},
	})
	if err != nil {
		return writtenChapter{}, stageErr(StagePersist, err)
	}
	ch.ID = committed.ChapterID

	switch {
	case committed.Replaced:
		log.Warn("chapter number was already written, content replaced", "chapter_id", ch.ID)
	case o.narrative != nil:
		if _, err := o.narrative.RecordChapterMentions(ctx, committed.Production.ProjectID, ch.Number, ch.Content); err != nil {
			log.Warn("recording item mentions failed", "error", err)
		}
	}

	return writtenChapter{chapter: ch, score: score, rewritten: rewritten}, nil
}

// fail records a task failure everywhere an operator can see it. Bookkeeping
// errors are logged and do not replace the original cause.
func (o *Orchestrator) fail(ctx context.Context, task storage.WriteTask, stage string, cause error) Outcome {
	bg := context.WithoutCancel(ctx)
	msg := cause.Error()
	log := o.logger.With("task_id", task.ID, "production_id", task.ProductionID, "chapter", task.ChapterNumber)
	log.Error("write task failed", "stage", stage, "error", cause)
	metrics.IncreaseWriterErrors(stage)

	err := o.store.FinishWriteTask(bg, task.ID, storage.WriteTaskResult{
		Status:  storage.TaskFailed,
		Error:   msg,
		Attempt: task.Attempts,
	})
	switch {
	case errors.Is(err, storage.ErrConflict):
		// Another writer reclaimed the task; its outcome is the one that counts.
		log.Warn("task was reclaimed before it failed", "attempt", task.Attempts)
	case err != nil:
		log.Error("marking task failed", "error", err)
	default:
		if err := o.store.RecordProductionError(bg, task.ProductionID, msg); err != nil && !errors.Is(err, storage.ErrNotFound) {
			log.Error("recording production error", "error", err)
		}
	}
	if err := o.store.RecordFactoryError(bg, storage.FactoryError{
		ProductionID: task.ProductionID,
		TaskID:       task.ID,
		Stage:        stage,
		Message:      fmt.Sprintf("chapter %d failed at %s", task.ChapterNumber, stage),
		Detail:       msg,
		CreatedAt:    o.now(),
	}); err != nil {
		log.Error("recording factory error", "error", err)
	}

	return Outcome{
		TaskID:        task.ID,
		ProductionID:  task.ProductionID,
		ChapterNumber: task.ChapterNumber,
		Status:        storage.TaskFailed,
		Stage:         stage,
		Error:         msg,
		err:           cause,
	}
}
