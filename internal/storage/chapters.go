package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"
)

// --- Chapters ---

const chapterColumns = `id, production_id, number, title, content, word_count, quality_score, summary, created_at`

func scanChapter(row rowScanner) (Chapter, error) {
	var c Chapter
	var createdAt int64
	if err := row.Scan(&c.ID, &c.ProductionID, &c.Number, &c.Title, &c.Content, &c.WordCount,
		&c.QualityScore, &c.Summary, &createdAt); err != nil {
		return Chapter{}, err
	}
	c.CreatedAt = fromMillis(createdAt)
	return c, nil
}

// SaveChapter stores a chapter. Rewriting an existing (production, number)
// pair replaces its content and keeps the stored id, so publish entries
// pointing at it stay valid.
func (s *Store) SaveChapter(ctx context.Context, c Chapter) error {
	return saveChapter(ctx, s.db, c)
}

func saveChapter(ctx context.Context, db execer, c Chapter) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO chapters (`+chapterColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(production_id, number) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			word_count = excluded.word_count,
			quality_score = excluded.quality_score`,
		c.ID, c.ProductionID, c.Number, c.Title, c.Content, c.WordCount, c.QualityScore, c.Summary,
		toMillis(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving chapter %d of %s: %w", c.Number, c.ProductionID, err)
	}
	return nil
}

func (s *Store) GetChapter(ctx context.Context, id string) (Chapter, error) {
	c, err := scanChapter(s.db.QueryRowContext(ctx, `SELECT `+chapterColumns+` FROM chapters WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Chapter{}, ErrNotFound
	}
	if err != nil {
		return Chapter{}, fmt.Errorf("loading chapter %s: %w", id, err)
	}
	return c, nil
}

// ListChapters returns a production's chapters in reading order.
func (s *Store) ListChapters(ctx context.Context, productionID string) ([]Chapter, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+chapterColumns+` FROM chapters WHERE production_id = ? ORDER BY number ASC`, productionID)
	if err != nil {
		return nil, fmt.Errorf("listing chapters: %w", err)
	}
	defer rows.Close()

	var chapters []Chapter
	for rows.Next() {
		c, err := scanChapter(rows)
		if err != nil {
			return nil, err
		}
		chapters = append(chapters, c)
	}
	return chapters, rows.Err()
}

// RecentSummaries returns up to limit summarised chapters numbered below
// before, oldest first. Content is not loaded.
func (s *Store) RecentSummaries(ctx context.Context, productionID string, before, limit int) ([]Chapter, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, number, title, summary FROM chapters
		WHERE production_id = ? AND number < ? AND summary != ''
		ORDER BY number DESC LIMIT ?`, productionID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("listing chapter summaries: %w", err)
	}
	defer rows.Close()

	var out []Chapter
	for rows.Next() {
		c := Chapter{ProductionID: productionID}
		if err := rows.Scan(&c.ID, &c.Number, &c.Title, &c.Summary); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

func (s *Store) UpdateChapterQuality(ctx context.Context, id string, score float64) error {
	return s.updateChapterField(ctx, id, "quality_score", score)
}

func (s *Store) UpdateChapterSummary(ctx context.Context, id, summary string) error {
	return s.updateChapterField(ctx, id, "summary", summary)
}

func (s *Store) updateChapterField(ctx context.Context, id, column string, value any) error {
	res, err := s.db.ExecContext(ctx, `UPDATE chapters SET `+column+` = ? WHERE id = ?`, value, id)
	if err != nil {
		return fmt.Errorf("updating chapter %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Publish schedule ---

// InsertPublishEntry schedules a chapter for publication. A chapter has at
// most one entry; scheduling it again moves the existing entry.
func (s *Store) InsertPublishEntry(ctx context.Context, e PublishEntry) error {
	return upsertPublishEntry(ctx, s.db, e)
}

func upsertPublishEntry(ctx context.Context, db execer, e PublishEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Status == "" {
		e.Status = "scheduled"
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO publish_schedule (id, production_id, chapter_id, chapter_number, publish_at, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(production_id, chapter_number) DO UPDATE SET
			chapter_id = excluded.chapter_id,
			publish_at = excluded.publish_at`,
		e.ID, e.ProductionID, e.ChapterID, e.ChapterNumber, toMillis(e.PublishAt), e.Status, toMillis(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("scheduling chapter %d: %w", e.ChapterNumber, err)
	}
	return nil
}

func (s *Store) ListPublishEntries(ctx context.Context, productionID string) ([]PublishEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, production_id, chapter_id, chapter_number, publish_at, status, created_at
		FROM publish_schedule WHERE production_id = ? ORDER BY publish_at ASC, chapter_number ASC`, productionID)
	if err != nil {
		return nil, fmt.Errorf("listing publish schedule: %w", err)
	}
	defer rows.Close()

	var entries []PublishEntry
	for rows.Next() {
		var e PublishEntry
		var publishAt, createdAt int64
		if err := rows.Scan(&e.ID, &e.ProductionID, &e.ChapterID, &e.ChapterNumber, &publishAt, &e.Status, &createdAt); err != nil {
			return nil, err
		}
		e.PublishAt = fromMillis(publishAt)
		e.CreatedAt = fromMillis(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Factory errors ---

func (s *Store) RecordFactoryError(ctx context.Context, e FactoryError) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO factory_errors (production_id, task_id, stage, message, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ProductionID, e.TaskID, e.Stage, e.Message, e.Detail, toMillis(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("recording factory error: %w", err)
	}
	return nil
}

// ListFactoryErrors returns the newest errors first. An empty productionID
// lists errors across all productions.
func (s *Store) ListFactoryErrors(ctx context.Context, productionID string, limit int) ([]FactoryError, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, production_id, task_id, stage, message, detail, created_at FROM factory_errors`
	args := []any{}
	if productionID != "" {
		query += ` WHERE production_id = ?`
		args = append(args, productionID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing factory errors: %w", err)
	}
	defer rows.Close()

	var out []FactoryError
	for rows.Next() {
		var e FactoryError
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.ProductionID, &e.TaskID, &e.Stage, &e.Message, &e.Detail, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = fromMillis(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
