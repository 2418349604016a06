package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const jobColumns = `id, owner_id, type, status, priority, payload_json, result_json, error,
	attempts, max_attempts, timeout_ms, scheduled_for, progress, progress_message,
	created_at, updated_at, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func scanJob(row rowScanner) (Job, error) {
	var j Job
	var payload, result string
	var scheduledFor, createdAt, updatedAt, startedAt, completedAt int64
	err := row.Scan(
		&j.ID, &j.OwnerID, &j.Type, &j.Status, &j.Priority, &payload, &result, &j.Error,
		&j.Attempts, &j.MaxAttempts, &j.TimeoutMs, &scheduledFor, &j.Progress, &j.ProgressMessage,
		&createdAt, &updatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return Job{}, err
	}
	if payload != "" {
		j.Payload = json.RawMessage(payload)
	}
	if result != "" {
		j.Result = json.RawMessage(result)
	}
	j.ScheduledFor = fromMillis(scheduledFor)
	j.CreatedAt = fromMillis(createdAt)
	j.UpdatedAt = fromMillis(updatedAt)
	j.StartedAt = fromMillis(startedAt)
	j.CompletedAt = fromMillis(completedAt)
	return j, nil
}

// InsertJob stores a new job. The caller is responsible for defaults.
func (s *Store) InsertJob(ctx context.Context, job Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	payload := "{}"
	if len(job.Payload) > 0 {
		payload = string(job.Payload)
	}
	status := job.Status
	if status == "" {
		status = JobPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, owner_id, type, status, priority, payload_json, attempts, max_attempts,
			timeout_ms, scheduled_for, progress, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?, 0, ?, ?)`,
		job.ID, job.OwnerID, string(job.Type), string(status), job.Priority, payload, job.MaxAttempts,
		job.TimeoutMs, toMillis(job.ScheduledFor), toMillis(job.CreatedAt), toMillis(job.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob returns a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("loading job %s: %w", id, err)
	}
	return j, nil
}

// ListJobs returns the most recently created jobs, optionally filtered by status.
func (s *Store) ListJobs(ctx context.Context, status JobStatus, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func statusPlaceholders(statuses []JobStatus) (string, []any) {
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	return "?" + strings.Repeat(",?", len(statuses)-1), args
}

// maxClaimRetries bounds how often a claim is retried after losing a race
// with another process between the select and the conditional update.
const maxClaimRetries = 3

// ClaimNextJob atomically selects the highest-priority, oldest eligible job
// and moves it to processing. It returns (nil, nil) when nothing is eligible.
// Eligibility: status in ClaimableStatuses and scheduled_for <= now.
func (s *Store) ClaimNextJob(ctx context.Context, now time.Time) (*Job, error) {
	for range maxClaimRetries {
		job, lost, err := s.claimOnce(ctx, now)
		if err != nil {
			return nil, err
		}
		if !lost {
			return job, nil
		}
	}
	return nil, nil
}

func (s *Store) claimOnce(ctx context.Context, now time.Time) (job *Job, lost bool, err error) {
	in, args := statusPlaceholders(ClaimableStatuses)
	nowMs := toMillis(now)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	var id string
	selectArgs := append(append([]any{}, args...), nowMs)
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM jobs
		WHERE status IN (`+in+`) AND scheduled_for <= ?
		ORDER BY priority DESC, created_at ASC, rowid ASC
		LIMIT 1`, selectArgs...,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("selecting next job: %w", err)
	}

	updateArgs := append([]any{string(JobProcessing), nowMs, nowMs, id}, args...)
	res, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = ?, attempts = attempts + 1, started_at = ?, updated_at = ?
		WHERE id = ? AND status IN (`+in+`)`, updateArgs...,
	)
	if err != nil {
		return nil, false, fmt.Errorf("claiming job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("checking claimed job rows: %w", err)
	}
	if n != 1 {
		return nil, true, nil
	}

	j, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		return nil, false, fmt.Errorf("reloading claimed job %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("committing claim: %w", err)
	}
	return &j, false, nil
}

// TransitionJob applies t only if the job's current status is one of from.
// It returns ErrNotFound for an unknown id and ErrConflict when the status
// precondition does not hold.
func (s *Store) TransitionJob(ctx context.Context, id string, from []JobStatus, t JobTransition, now time.Time) error {
	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{string(t.Status), toMillis(now)}
	if t.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *t.Error)
	}
	if t.Result != nil {
		sets = append(sets, "result_json = ?")
		args = append(args, string(t.Result))
	}
	if t.Progress != nil {
		sets = append(sets, "progress = ?")
		args = append(args, *t.Progress)
	}
	if !t.ScheduledFor.IsZero() {
		sets = append(sets, "scheduled_for = ?")
		args = append(args, toMillis(t.ScheduledFor))
	}
	if !t.CompletedAt.IsZero() {
		sets = append(sets, "completed_at = ?")
		args = append(args, toMillis(t.CompletedAt))
	}

	in, fromArgs := statusPlaceholders(from)
	args = append(args, id)
	args = append(args, fromArgs...)

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET `+strings.Join(sets, ", ")+` WHERE id = ? AND status IN (`+in+`)`, args...)
	if err != nil {
		return fmt.Errorf("transitioning job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE id = ?`, id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

// UpdateJobProgress records progress without touching status.
func (s *Store) UpdateJobProgress(ctx context.Context, id string, progress int, message string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET progress = ?, progress_message = ?, updated_at = ? WHERE id = ?`,
		progress, message, toMillis(now), id)
	if err != nil {
		return fmt.Errorf("updating progress for job %s: %w", id, err)
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

// DeleteTerminalJobsBefore removes completed and failed jobs whose
// completed_at is older than cutoff.
func (s *Store) DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status IN (?, ?) AND completed_at > 0 AND completed_at < ?`,
		string(JobCompleted), string(JobFailed), toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("deleting old jobs: %w", err)
	}
	return res.RowsAffected()
}

// JobStats returns per-status counts and the mean wall-clock duration of
// completed jobs.
func (s *Store) JobStats(ctx context.Context) (JobStats, error) {
	stats := JobStats{Counts: make(map[JobStatus]int)}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return JobStats{}, fmt.Errorf("counting jobs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return JobStats{}, err
		}
		stats.Counts[JobStatus(status)] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return JobStats{}, err
	}

	var avg sql.NullFloat64
	err = s.db.QueryRowContext(ctx, `
		SELECT AVG(completed_at - started_at) FROM jobs
		WHERE status = ? AND started_at > 0 AND completed_at >= started_at`,
		string(JobCompleted)).Scan(&avg)
	if err != nil {
		return JobStats{}, fmt.Errorf("averaging job duration: %w", err)
	}
	stats.AvgDurationMillis = avg.Float64
	return stats, nil
}
