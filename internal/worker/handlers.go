package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kalambet/inkwell/internal/engine"
	"github.com/kalambet/inkwell/internal/quality"
	"github.com/kalambet/inkwell/internal/storage"
	"github.com/kalambet/inkwell/internal/writer"
)

// ChapterWriter is implemented by writer.Orchestrator.
type ChapterWriter interface {
	RunBatch(ctx context.Context, onProgress func(done, total int)) (writer.BatchResult, error)
	ProcessTask(ctx context.Context, taskID string) (writer.Outcome, error)
}

// ChapterStore is the read/update surface the chapter jobs need.
type ChapterStore interface {
	GetChapter(ctx context.Context, id string) (storage.Chapter, error)
	ListChapters(ctx context.Context, productionID string) ([]storage.Chapter, error)
	UpdateChapterQuality(ctx context.Context, id string, score float64) error
	UpdateChapterSummary(ctx context.Context, id, summary string) error
	GetProduction(ctx context.Context, id string) (storage.Production, error)
	GetBlueprint(ctx context.Context, id string) (storage.Blueprint, error)
}

// Handlers holds the dependencies of the built-in job types.
type Handlers struct {
	Writer    ChapterWriter
	Store     ChapterStore
	Scorer    quality.Scorer
	Generator engine.Generator
	ExportDir string

	// SummaryModel overrides the generator's default model for summaries.
	SummaryModel string
}

// Register installs every built-in handler on w.
func (h *Handlers) Register(w *Worker) {
	w.Handle(storage.JobWriteChapter, h.WriteChapter)
	w.Handle(storage.JobBatchWrite, h.BatchWrite)
	w.Handle(storage.JobAnalyzeChapter, h.AnalyzeChapter)
	w.Handle(storage.JobGenerateSummary, h.GenerateSummary)
	w.Handle(storage.JobExportStory, h.ExportStory)
}

type writeChapterPayload struct {
	TaskID string `json:"task_id"`
}

type chapterPayload struct {
	ChapterID string `json:"chapter_id"`
}

type exportPayload struct {
	ProductionID string `json:"production_id"`
}

func decode[T any](job storage.Job) (T, error) {
	var v T
	if len(job.Payload) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(job.Payload, &v); err != nil {
		return v, Permanent(fmt.Errorf("parsing %s payload: %w", job.Type, err))
	}
	return v, nil
}

// notFoundIsPermanent stops retries for references that will never resolve.
func notFoundIsPermanent(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return Permanent(err)
	}
	return err
}

// WriteChapter writes the chapter of one write task.
func (h *Handlers) WriteChapter(ctx context.Context, job storage.Job, progress ProgressFunc) (any, error) {
	p, err := decode[writeChapterPayload](job)
	if err != nil {
		return nil, err
	}
	if p.TaskID == "" {
		return nil, Permanent(fmt.Errorf("write_chapter: task_id is required"))
	}

	progress(10, "writing chapter")
	out, err := h.Writer.ProcessTask(ctx, p.TaskID)
	if errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrNotFound) {
		return nil, Permanent(err)
	}
	// ErrLeased stays retryable: the holder either finishes the task or its
	// lease expires and a later attempt takes it over.
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BatchWrite runs one orchestrator batch. Individual task failures are part
// of the result, not a job failure.
func (h *Handlers) BatchWrite(ctx context.Context, job storage.Job, progress ProgressFunc) (any, error) {
	res, err := h.Writer.RunBatch(ctx, func(done, total int) {
		if total == 0 {
			return
		}
		progress(done*100/total, fmt.Sprintf("%d of %d tasks", done, total))
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// AnalyzeChapter scores a stored chapter and saves the score.
func (h *Handlers) AnalyzeChapter(ctx context.Context, job storage.Job, progress ProgressFunc) (any, error) {
	p, err := decode[chapterPayload](job)
	if err != nil {
		return nil, err
	}
	ch, err := h.Store.GetChapter(ctx, p.ChapterID)
	if err != nil {
		return nil, notFoundIsPermanent(fmt.Errorf("loading chapter %q: %w", p.ChapterID, err))
	}

	progress(20, "scoring")
	res, err := h.Scorer.Score(ctx, ch.Content, ch.Number, h.genreOf(ctx, ch.ProductionID))
	if err != nil {
		return nil, fmt.Errorf("scoring chapter %s: %w", ch.ID, err)
	}
	if err := h.Store.UpdateChapterQuality(ctx, ch.ID, res.Score); err != nil {
		return nil, fmt.Errorf("saving score: %w", err)
	}
	return res, nil
}

func (h *Handlers) genreOf(ctx context.Context, productionID string) string {
	prod, err := h.Store.GetProduction(ctx, productionID)
	if err != nil {
		slog.Debug("genre lookup failed", "production_id", productionID, "error", err)
		return ""
	}
	bp, err := h.Store.GetBlueprint(ctx, prod.BlueprintID)
	if err != nil {
		slog.Debug("genre lookup failed", "blueprint_id", prod.BlueprintID, "error", err)
		return ""
	}
	return bp.Genre
}

const summarySystemPrompt = `You summarise web-novel chapters for the author's continuity notes.
Write 3-5 sentences in the chapter's own language. Name the characters involved,
power-level changes, items gained or lost and the chapter's closing hook. No preamble.`

type summaryResult struct {
	ChapterID string `json:"chapter_id"`
	Summary   string `json:"summary"`
}

// GenerateSummary writes a continuity summary of a stored chapter.
func (h *Handlers) GenerateSummary(ctx context.Context, job storage.Job, progress ProgressFunc) (any, error) {
	p, err := decode[chapterPayload](job)
	if err != nil {
		return nil, err
	}
	ch, err := h.Store.GetChapter(ctx, p.ChapterID)
	if err != nil {
		return nil, notFoundIsPermanent(fmt.Errorf("loading chapter %q: %w", p.ChapterID, err))
	}

	progress(20, "summarising")
	prompt := fmt.Sprintf("Chapter %d: %s\n\n%s", ch.Number, ch.Title, ch.Content)
	summary, err := h.Generator.Generate(ctx, summarySystemPrompt, prompt, engine.Options{
		Model:       h.SummaryModel,
		Temperature: 0.3,
		MaxTokens:   500,
	})
	if err != nil {
		return nil, fmt.Errorf("summarising chapter %s: %w", ch.ID, err)
	}
	summary = strings.TrimSpace(summary)
	if err := h.Store.UpdateChapterSummary(ctx, ch.ID, summary); err != nil {
		return nil, fmt.Errorf("saving summary: %w", err)
	}
	return summaryResult{ChapterID: ch.ID, Summary: summary}, nil
}

type exportResult struct {
	Path     string `json:"path"`
	Chapters int    `json:"chapters"`
	Words    int    `json:"words"`
}

// ExportStory writes all chapters of a production to a Markdown file named
// after the production under ExportDir.
func (h *Handlers) ExportStory(ctx context.Context, job storage.Job, progress ProgressFunc) (any, error) {
	p, err := decode[exportPayload](job)
	if err != nil {
		return nil, err
	}
	if h.ExportDir == "" {
		return nil, Permanent(fmt.Errorf("export directory is not configured"))
	}
	prod, err := h.Store.GetProduction(ctx, p.ProductionID)
	if err != nil {
		return nil, notFoundIsPermanent(fmt.Errorf("loading production %q: %w", p.ProductionID, err))
	}
	title := prod.ID
	if bp, err := h.Store.GetBlueprint(ctx, prod.BlueprintID); err == nil && bp.Title != "" {
		title = bp.Title
	}

	chapters, err := h.Store.ListChapters(ctx, prod.ID)
	if err != nil {
		return nil, err
	}
	if len(chapters) == 0 {
		return nil, Permanent(fmt.Errorf("production %s has no chapters", prod.ID))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", title)
	words := 0
	for i, ch := range chapters {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fmt.Fprintf(&sb, "## %s\n\n%s\n\n", chapterHeading(ch), strings.TrimSpace(ch.Content))
		words += ch.WordCount
		if (i+1)%50 == 0 {
			progress((i+1)*90/len(chapters), fmt.Sprintf("%d of %d chapters", i+1, len(chapters)))
		}
	}

	if err := os.MkdirAll(h.ExportDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating export directory: %w", err)
	}
	path := filepath.Join(h.ExportDir, prod.ID+".md")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(sb.String()), 0o644); err != nil {
		return nil, fmt.Errorf("writing export: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("finalising export: %w", err)
	}
	return exportResult{Path: path, Chapters: len(chapters), Words: words}, nil
}

func chapterHeading(ch storage.Chapter) string {
	def := fmt.Sprintf("Chương %d", ch.Number)
	if ch.Title == "" || ch.Title == def {
		return def
	}
	return def + ": " + ch.Title
}
