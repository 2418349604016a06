package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// --- Projects ---

func (s *Store) SaveProject(ctx context.Context, p Project) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	realms, err := json.Marshal(nonNilStrings(p.RealmLadder))
	if err != nil {
		return err
	}
	grades, err := json.Marshal(nonNilStrings(p.GradeLadder))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (id, title, total_chapters, realm_ladder, grade_ladder, levels_per_realm, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			total_chapters = excluded.total_chapters,
			realm_ladder = excluded.realm_ladder,
			grade_ladder = excluded.grade_ladder,
			levels_per_realm = excluded.levels_per_realm`,
		p.ID, p.Title, p.TotalChapters, string(realms), string(grades), p.LevelsPerRealm, toMillis(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving project %s: %w", p.ID, err)
	}
	return nil
}

func (s *Store) GetProject(ctx context.Context, id string) (Project, error) {
	var p Project
	var realms, grades string
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, total_chapters, realm_ladder, grade_ladder, levels_per_realm, created_at
		FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Title, &p.TotalChapters, &realms, &grades, &p.LevelsPerRealm, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, fmt.Errorf("loading project %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(realms), &p.RealmLadder); err != nil {
		return Project{}, fmt.Errorf("parsing realm ladder: %w", err)
	}
	if err := json.Unmarshal([]byte(grades), &p.GradeLadder); err != nil {
		return Project{}, fmt.Errorf("parsing grade ladder: %w", err)
	}
	p.CreatedAt = fromMillis(createdAt)
	return p, nil
}

// --- Blueprints ---

func (s *Store) SaveBlueprint(ctx context.Context, b Blueprint) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	arcs := b.Arcs
	if arcs == nil {
		arcs = []Arc{}
	}
	arcsJSON, err := json.Marshal(arcs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO blueprints (id, project_id, title, genre, synopsis, arcs_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			genre = excluded.genre,
			synopsis = excluded.synopsis,
			arcs_json = excluded.arcs_json`,
		b.ID, b.ProjectID, b.Title, b.Genre, b.Synopsis, string(arcsJSON), toMillis(b.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving blueprint %s: %w", b.ID, err)
	}
	return nil
}

func (s *Store) GetBlueprint(ctx context.Context, id string) (Blueprint, error) {
	var b Blueprint
	var arcs string
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, title, genre, synopsis, arcs_json, created_at
		FROM blueprints WHERE id = ?`, id,
	).Scan(&b.ID, &b.ProjectID, &b.Title, &b.Genre, &b.Synopsis, &arcs, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Blueprint{}, ErrNotFound
	}
	if err != nil {
		return Blueprint{}, fmt.Errorf("loading blueprint %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(arcs), &b.Arcs); err != nil {
		return Blueprint{}, fmt.Errorf("parsing arcs: %w", err)
	}
	b.CreatedAt = fromMillis(createdAt)
	return b, nil
}

// --- Authors ---

func (s *Store) SaveAuthor(ctx context.Context, a Author) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO authors (id, name, style, voice, system_prompt, temperature)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			style = excluded.style,
			voice = excluded.voice,
			system_prompt = excluded.system_prompt,
			temperature = excluded.temperature`,
		a.ID, a.Name, a.Style, a.Voice, a.SystemPrompt, a.Temperature,
	)
	if err != nil {
		return fmt.Errorf("saving author %s: %w", a.ID, err)
	}
	return nil
}

func (s *Store) GetAuthor(ctx context.Context, id string) (Author, error) {
	var a Author
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, style, voice, system_prompt, temperature FROM authors WHERE id = ?`, id,
	).Scan(&a.ID, &a.Name, &a.Style, &a.Voice, &a.SystemPrompt, &a.Temperature)
	if errors.Is(err, sql.ErrNoRows) {
		return Author{}, ErrNotFound
	}
	if err != nil {
		return Author{}, fmt.Errorf("loading author %s: %w", id, err)
	}
	return a, nil
}

// --- Productions ---

const productionColumns = `id, project_id, blueprint_id, author_id, status, current_chapter, total_chapters,
	quality_scores, average_quality, chapters_written_today, last_write_date, consecutive_errors,
	last_error, created_at, updated_at`

func scanProduction(row rowScanner) (Production, error) {
	var p Production
	var scores string
	var createdAt, updatedAt int64
	err := row.Scan(&p.ID, &p.ProjectID, &p.BlueprintID, &p.AuthorID, &p.Status, &p.CurrentChapter,
		&p.TotalChapters, &scores, &p.AverageQuality, &p.ChaptersWrittenToday, &p.LastWriteDate,
		&p.ConsecutiveErrors, &p.LastError, &createdAt, &updatedAt)
	if err != nil {
		return Production{}, err
	}
	if err := json.Unmarshal([]byte(scores), &p.QualityScores); err != nil {
		return Production{}, fmt.Errorf("parsing quality scores: %w", err)
	}
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return p, nil
}

// SaveProduction upserts the full production row.
func (s *Store) SaveProduction(ctx context.Context, p Production) error {
	return saveProduction(ctx, s.db, p)
}

func saveProduction(ctx context.Context, db execer, p Production) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.Status == "" {
		p.Status = ProductionActive
	}
	scores := p.QualityScores
	if scores == nil {
		scores = []float64{}
	}
	scoresJSON, err := json.Marshal(scores)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO productions (`+productionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			current_chapter = excluded.current_chapter,
			total_chapters = excluded.total_chapters,
			quality_scores = excluded.quality_scores,
			average_quality = excluded.average_quality,
			chapters_written_today = excluded.chapters_written_today,
			last_write_date = excluded.last_write_date,
			consecutive_errors = excluded.consecutive_errors,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		p.ID, p.ProjectID, p.BlueprintID, p.AuthorID, p.Status, p.CurrentChapter, p.TotalChapters,
		string(scoresJSON), p.AverageQuality, p.ChaptersWrittenToday, p.LastWriteDate,
		p.ConsecutiveErrors, p.LastError, toMillis(p.CreatedAt), toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("saving production %s: %w", p.ID, err)
	}
	return nil
}

func (s *Store) GetProduction(ctx context.Context, id string) (Production, error) {
	p, err := scanProduction(s.db.QueryRowContext(ctx, `SELECT `+productionColumns+` FROM productions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Production{}, ErrNotFound
	}
	if err != nil {
		return Production{}, fmt.Errorf("loading production %s: %w", id, err)
	}
	return p, nil
}

// RecordProductionError increments consecutive_errors and stores the message.
// It is a single statement so concurrent writers cannot lose increments.
func (s *Store) RecordProductionError(ctx context.Context, id, message string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE productions SET consecutive_errors = consecutive_errors + 1, last_error = ?, updated_at = ?
		WHERE id = ?`, message, toMillis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("recording error on production %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Write tasks ---

const writeTaskColumns = `id, production_id, chapter_number, status, attempts, scheduled_for, publish_at,
	chapter_id, quality_score, rewritten, error, created_at, updated_at`

func scanWriteTask(row rowScanner) (WriteTask, error) {
	var t WriteTask
	var scheduledFor, publishAt, createdAt, updatedAt int64
	var rewritten int
	err := row.Scan(&t.ID, &t.ProductionID, &t.ChapterNumber, &t.Status, &t.Attempts, &scheduledFor,
		&publishAt, &t.ChapterID, &t.QualityScore, &rewritten, &t.Error, &createdAt, &updatedAt)
	if err != nil {
		return WriteTask{}, err
	}
	t.Rewritten = rewritten != 0
	t.ScheduledFor = fromMillis(scheduledFor)
	t.PublishAt = fromMillis(publishAt)
	t.CreatedAt = fromMillis(createdAt)
	t.UpdatedAt = fromMillis(updatedAt)
	return t, nil
}

func (s *Store) InsertWriteTask(ctx context.Context, t WriteTask) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.Status == "" {
		t.Status = TaskPending
	}
	if t.ScheduledFor.IsZero() {
		t.ScheduledFor = now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO write_tasks (id, production_id, chapter_number, status, attempts, scheduled_for,
			publish_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		t.ID, t.ProductionID, t.ChapterNumber, string(t.Status), toMillis(t.ScheduledFor),
		toMillis(t.PublishAt), toMillis(t.CreatedAt), toMillis(t.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting write task %s: %w", t.ID, err)
	}
	return nil
}

func (s *Store) GetWriteTask(ctx context.Context, id string) (WriteTask, error) {
	t, err := scanWriteTask(s.db.QueryRowContext(ctx, `SELECT `+writeTaskColumns+` FROM write_tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return WriteTask{}, ErrNotFound
	}
	if err != nil {
		return WriteTask{}, fmt.Errorf("loading write task %s: %w", id, err)
	}
	return t, nil
}

// leaseCutoff returns the updated_at bound below which a writing or
// rewriting task is considered abandoned. A non-positive lease disables
// reclaiming.
func leaseCutoff(now time.Time, lease time.Duration) int64 {
	if lease <= 0 {
		return -1
	}
	return toMillis(now.Add(-lease))
}

// ClaimWriteTasks moves up to limit due tasks to writing, ordered by
// scheduled time, and increments their attempt counters. Besides pending
// tasks it reclaims writing or rewriting tasks not touched within lease,
// which a crashed writer left behind.
func (s *Store) ClaimWriteTasks(ctx context.Context, limit int, now time.Time, lease time.Duration) ([]WriteTask, error) {
	if limit <= 0 {
		limit = 1
	}
	nowMs, staleMs := toMillis(now), leaseCutoff(now, lease)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning task claim: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM write_tasks
		WHERE (status = ? OR (status IN (?, ?) AND updated_at <= ?)) AND scheduled_for <= ?
		ORDER BY scheduled_for ASC, created_at ASC, rowid ASC
		LIMIT ?`,
		string(TaskPending), string(TaskWriting), string(TaskRewriting), staleMs, nowMs, limit)
	if err != nil {
		return nil, fmt.Errorf("selecting due tasks: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var claimed []WriteTask
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `
			UPDATE write_tasks SET status = ?, attempts = attempts + 1, updated_at = ?
			WHERE id = ? AND (status = ? OR (status IN (?, ?) AND updated_at <= ?))`,
			string(TaskWriting), nowMs, id,
			string(TaskPending), string(TaskWriting), string(TaskRewriting), staleMs)
		if err != nil {
			return nil, fmt.Errorf("claiming task %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			continue
		}
		t, err := scanWriteTask(tx.QueryRowContext(ctx, `SELECT `+writeTaskColumns+` FROM write_tasks WHERE id = ?`, id))
		if err != nil {
			return nil, fmt.Errorf("reloading task %s: %w", id, err)
		}
		claimed = append(claimed, t)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing task claim: %w", err)
	}
	return claimed, nil
}

// ClaimWriteTask claims one specific task if it is pending or failed, or
// if its writer's lease has expired. A failed task is claimable again so
// that a retried job can re-run it. A task still inside its lease returns
// ErrLeased; a completed task returns ErrConflict.
func (s *Store) ClaimWriteTask(ctx context.Context, id string, now time.Time, lease time.Duration) (WriteTask, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE write_tasks SET status = ?, attempts = attempts + 1, error = '', updated_at = ?
		WHERE id = ? AND (status IN (?, ?) OR (status IN (?, ?) AND updated_at <= ?))`,
		string(TaskWriting), toMillis(now), id,
		string(TaskPending), string(TaskFailed),
		string(TaskWriting), string(TaskRewriting), leaseCutoff(now, lease))
	if err != nil {
		return WriteTask{}, fmt.Errorf("claiming task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return WriteTask{}, err
	}
	t, err := s.GetWriteTask(ctx, id)
	if err != nil {
		return WriteTask{}, err
	}
	if n == 1 {
		return t, nil
	}
	if t.Status == TaskWriting || t.Status == TaskRewriting {
		return t, ErrLeased
	}
	return t, ErrConflict
}

// SetWriteTaskStatus changes a task's status without touching its result
// fields. It also renews the task's lease.
func (s *Store) SetWriteTaskStatus(ctx context.Context, id string, status WriteTaskStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE write_tasks SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), toMillis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("updating task %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FinishWriteTask records the terminal outcome of a task. With r.Attempt
// set, it returns ErrConflict once another claim has taken the task over.
func (s *Store) FinishWriteTask(ctx context.Context, id string, r WriteTaskResult) error {
	return finishWriteTask(ctx, s.db, id, r)
}

func finishWriteTask(ctx context.Context, db execer, id string, r WriteTaskResult) error {
	rewritten := 0
	if r.Rewritten {
		rewritten = 1
	}
	query := `
		UPDATE write_tasks SET status = ?, chapter_id = ?, quality_score = ?, rewritten = ?, error = ?, updated_at = ?
		WHERE id = ?`
	args := []any{string(r.Status), r.ChapterID, r.QualityScore, rewritten, r.Error, toMillis(time.Now()), id}
	if r.Attempt > 0 {
		query += ` AND attempts = ? AND status IN (?, ?)`
		args = append(args, r.Attempt, string(TaskWriting), string(TaskRewriting))
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("finishing task %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if r.Attempt > 0 {
			return ErrConflict
		}
		return ErrNotFound
	}
	return nil
}

// ChapterCommit is everything recorded when a write task succeeds.
type ChapterCommit struct {
	TaskID    string
	Attempt   int
	Chapter   Chapter
	PublishID string
	PublishAt time.Time
	Result    WriteTaskResult
	// Advance applies the chapter to the production counters. It is not
	// called when the chapter number was already persisted, so a repeated
	// commit never counts the same chapter twice.
	Advance func(Production) Production
}

// CommittedChapter reports what CommitChapter stored.
type CommittedChapter struct {
	ChapterID  string
	Production Production
	// Replaced is set when the chapter number already existed; the stored
	// chapter keeps its id and the production counters are left alone.
	Replaced bool
}

// CommitChapter stores the chapter, advances the production, upserts the
// publish entry and completes the task in one transaction. It returns
// ErrConflict when the task is no longer held by c.Attempt.
func (s *Store) CommitChapter(ctx context.Context, c ChapterCommit) (CommittedChapter, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CommittedChapter{}, fmt.Errorf("beginning chapter commit: %w", err)
	}
	defer tx.Rollback()

	var status string
	var attempts int
	err = tx.QueryRowContext(ctx, `SELECT status, attempts FROM write_tasks WHERE id = ?`, c.TaskID).Scan(&status, &attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return CommittedChapter{}, ErrNotFound
	}
	if err != nil {
		return CommittedChapter{}, fmt.Errorf("loading task %s: %w", c.TaskID, err)
	}
	if attempts != c.Attempt || (status != string(TaskWriting) && status != string(TaskRewriting)) {
		return CommittedChapter{}, fmt.Errorf("task %s is %s at attempt %d: %w", c.TaskID, status, attempts, ErrConflict)
	}

	ch := c.Chapter
	var existingID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM chapters WHERE production_id = ? AND number = ?`,
		ch.ProductionID, ch.Number).Scan(&existingID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return CommittedChapter{}, fmt.Errorf("checking chapter %d: %w", ch.Number, err)
	default:
		ch.ID = existingID
	}
	if err := saveChapter(ctx, tx, ch); err != nil {
		return CommittedChapter{}, err
	}
	out := CommittedChapter{ChapterID: ch.ID, Replaced: existingID != ""}

	prod, err := scanProduction(tx.QueryRowContext(ctx, `SELECT `+productionColumns+` FROM productions WHERE id = ?`, ch.ProductionID))
	if errors.Is(err, sql.ErrNoRows) {
		return CommittedChapter{}, fmt.Errorf("production %s: %w", ch.ProductionID, ErrNotFound)
	}
	if err != nil {
		return CommittedChapter{}, fmt.Errorf("loading production %s: %w", ch.ProductionID, err)
	}
	if !out.Replaced && c.Advance != nil {
		prod = c.Advance(prod)
		if err := saveProduction(ctx, tx, prod); err != nil {
			return CommittedChapter{}, fmt.Errorf("updating production: %w", err)
		}
	}
	out.Production = prod

	err = upsertPublishEntry(ctx, tx, PublishEntry{
		ID:            c.PublishID,
		ProductionID:  ch.ProductionID,
		ChapterID:     ch.ID,
		ChapterNumber: ch.Number,
		PublishAt:     c.PublishAt,
		CreatedAt:     ch.CreatedAt,
	})
	if err != nil {
		return CommittedChapter{}, err
	}

	r := c.Result
	r.ChapterID = ch.ID
	r.Attempt = c.Attempt
	if err := finishWriteTask(ctx, tx, c.TaskID, r); err != nil {
		return CommittedChapter{}, err
	}

	if err := tx.Commit(); err != nil {
		return CommittedChapter{}, fmt.Errorf("committing chapter %d: %w", ch.Number, err)
	}
	return out, nil
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
