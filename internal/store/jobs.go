// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/northbound/knowledge-core/internal/apperr"
)

// Ingestion job status and chunking-status values (spec.md §3).
const (
	JobQueued       = "queued"
	JobProcessing   = "processing"
	JobVectorizing  = "vectorizing"
	JobCompleted    = "completed"
	JobFailed       = "failed"
	JobCancelled    = "cancelled"
	JobRetryPending = "retry_pending"

	ChunkingPending    = "pending"
	ChunkingInProgress = "in_progress"
	ChunkingCompleted  = "completed"
	ChunkingFailed     = "failed"
)

// Job mirrors the `ingestion_jobs` table (spec.md §3).
type Job struct {
	ID                string
	JobType           string
	SourceIdentifier  string
	Priority          int
	Status            string
	Attempts          int
	MaxRetries        int
	ChunkingStatus    string
	ChunkingErrorInfo string
	RelatedObjectID   sql.NullString
	JobSpecificData   string
	ErrorInfo         string
	NextAttemptAt     sql.NullTime
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// JobRepository implements the persistence side of spec.md §4.5's
// Ingestion Queue: row CRUD and the compare-and-swap claim. Scheduling
// policy (concurrency cap, rate limiting, event emission) lives in
// internal/queue, which composes this repository.
type JobRepository struct {
	db *DB
}

func NewJobRepository(db *DB) *JobRepository { return &JobRepository{db: db} }

const jobColumns = `id, job_type, source_identifier, priority, status, attempts, max_retries,
	chunking_status, chunking_error_info, related_object_id, job_specific_data_json,
	error_info, next_attempt_at, created_at, updated_at`

func scanJob(row interface{ Scan(dest ...any) error }) (*Job, error) {
	var j Job
	var related, nextAttempt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(
		&j.ID, &j.JobType, &j.SourceIdentifier, &j.Priority, &j.Status, &j.Attempts, &j.MaxRetries,
		&j.ChunkingStatus, &j.ChunkingErrorInfo, &related, &j.JobSpecificData,
		&j.ErrorInfo, &nextAttempt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.RelatedObjectID = related
	j.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	j.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if nextAttempt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, nextAttempt.String)
		j.NextAttemptAt = sql.NullTime{Time: t, Valid: true}
	}
	return &j, nil
}

// Create inserts a new job in status "queued" (spec.md §4.5).
func (r *JobRepository) Create(ctx context.Context, j *Job) (*Job, error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = JobQueued
	}
	if j.ChunkingStatus == "" {
		j.ChunkingStatus = ChunkingPending
	}
	if j.MaxRetries == 0 {
		j.MaxRetries = 3
	}
	now := isoNow()
	_, err := r.db.Exec(ctx, `
		INSERT INTO ingestion_jobs (
			id, job_type, source_identifier, priority, status, attempts, max_retries,
			chunking_status, chunking_error_info, related_object_id, job_specific_data_json,
			error_info, next_attempt_at, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.JobType, j.SourceIdentifier, j.Priority, j.Status, j.Attempts, j.MaxRetries,
		j.ChunkingStatus, j.ChunkingErrorInfo, nullableString(j.RelatedObjectID), j.JobSpecificData,
		j.ErrorInfo, nullableNullTime(j.NextAttemptAt), now, now,
	)
	if err != nil {
		return nil, apperr.Storage("create job", err)
	}
	j.CreatedAt, _ = time.Parse(time.RFC3339Nano, now)
	j.UpdatedAt = j.CreatedAt
	return j, nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRow(ctx, "SELECT "+jobColumns+" FROM ingestion_jobs WHERE id = ?", id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("job "+id, err)
	}
	if err != nil {
		return nil, apperr.Storage("get job by id", err)
	}
	return j, nil
}

// ClaimBatch selects up to `limit` jobs with status in {queued,
// retry_pending} ordered by priority DESC, created_at ASC, and
// atomically transitions each to "processing" via a compare-and-swap
// UPDATE ... WHERE status = <observed> (spec.md §4.5 rule 1). A job
// raced away by a concurrent claimer is silently dropped from the
// returned slice (rule 2).
func (r *JobRepository) ClaimBatch(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	var claimed []*Job
	err := r.db.Transaction(ctx, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, `
			SELECT `+jobColumns+` FROM ingestion_jobs
			WHERE status = ? OR (status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?))
			ORDER BY priority DESC, created_at ASC
			LIMIT ?`, JobQueued, JobRetryPending, isoNow(), limit)
		if err != nil {
			return apperr.Storage("select claimable jobs", err)
		}
		candidates, err := func() ([]*Job, error) {
			defer rows.Close()
			var out []*Job
			for rows.Next() {
				j, err := scanJob(rows)
				if err != nil {
					return nil, apperr.Storage("scan claimable job", err)
				}
				out = append(out, j)
			}
			return out, rows.Err()
		}()
		if err != nil {
			return err
		}

		for _, j := range candidates {
			res, err := r.db.Exec(ctx, `
				UPDATE ingestion_jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
				JobProcessing, isoNow(), j.ID, j.Status,
			)
			if err != nil {
				return apperr.Storage("claim job", err)
			}
			n, _ := res.RowsAffected()
			if n == 0 {
				// Lost the race to a concurrent claimer; skip silently.
				continue
			}
			j.Status = JobProcessing
			claimed = append(claimed, j)
		}
		return nil
	})
	return claimed, err
}

// MarkCompleted transitions a job to its terminal completed state.
func (r *JobRepository) MarkCompleted(ctx context.Context, id string, relatedObjectID *string) error {
	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{JobCompleted, isoNow()}
	if relatedObjectID != nil {
		sets = append(sets, "related_object_id = ?")
		args = append(args, *relatedObjectID)
	}
	args = append(args, id)
	_, err := r.db.Exec(ctx, "UPDATE ingestion_jobs SET "+joinSets(sets)+" WHERE id = ?", args...)
	if err != nil {
		return apperr.Storage("mark job completed", err)
	}
	return nil
}

// MarkVectorizing hands a job off to the Chunking Pipeline
// (spec.md §4.5 rule 3).
func (r *JobRepository) MarkVectorizing(ctx context.Context, id string, relatedObjectID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE ingestion_jobs SET status = ?, chunking_status = ?, related_object_id = ?, updated_at = ?
		WHERE id = ?`, JobVectorizing, ChunkingPending, relatedObjectID, isoNow(), id)
	if err != nil {
		return apperr.Storage("mark job vectorizing", err)
	}
	return nil
}

// ApplyFailure implements spec.md §4.5 rule 4: on worker exception,
// increments attempts and either schedules a retry (status =
// retry_pending, next_attempt_at in the future) or marks the job
// permanently failed, storing the JSON error envelope either way.
func (r *JobRepository) ApplyFailure(ctx context.Context, id string, errJSON string, retryDelay time.Duration) (retried bool, err error) {
	j, err := r.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	attempts := j.Attempts + 1
	if attempts < j.MaxRetries {
		nextAttempt := time.Now().UTC().Add(retryDelay).Format(time.RFC3339Nano)
		_, err := r.db.Exec(ctx, `
			UPDATE ingestion_jobs SET status = ?, attempts = ?, error_info = ?, next_attempt_at = ?, updated_at = ?
			WHERE id = ?`, JobRetryPending, attempts, apperr.Truncate(errJSON), nextAttempt, isoNow(), id)
		if err != nil {
			return false, apperr.Storage("apply job retry", err)
		}
		return true, nil
	}
	_, err = r.db.Exec(ctx, `
		UPDATE ingestion_jobs SET status = ?, attempts = ?, error_info = ?, updated_at = ?
		WHERE id = ?`, JobFailed, attempts, apperr.Truncate(errJSON), isoNow(), id)
	if err != nil {
		return false, apperr.Storage("apply job failure", err)
	}
	return false, nil
}

// SetChunkingStatus updates the job's chunking_status (and optionally
// chunking_error_info) as the Chunking Pipeline progresses through its
// per-object steps (spec.md §4.9).
func (r *JobRepository) SetChunkingStatus(ctx context.Context, id, status string, chunkingErrorInfo *string) error {
	sets := []string{"chunking_status = ?", "updated_at = ?"}
	args := []any{status, isoNow()}
	if chunkingErrorInfo != nil {
		sets = append(sets, "chunking_error_info = ?")
		args = append(args, apperr.Truncate(*chunkingErrorInfo))
	}
	args = append(args, id)
	_, err := r.db.Exec(ctx, "UPDATE ingestion_jobs SET "+joinSets(sets)+" WHERE id = ?", args...)
	if err != nil {
		return apperr.Storage("set job chunking status", err)
	}
	return nil
}

// MarkJobFailed is used outside the retry/backoff path (e.g. a
// RaceLost or Orphan abort in the Chunking Pipeline) to move a job
// straight to the failed terminal state.
func (r *JobRepository) MarkJobFailed(ctx context.Context, id, chunkingErrorInfo string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE ingestion_jobs SET status = ?, chunking_status = ?, chunking_error_info = ?, updated_at = ?
		WHERE id = ?`, JobFailed, ChunkingFailed, apperr.Truncate(chunkingErrorInfo), isoNow(), id)
	if err != nil {
		return apperr.Storage("mark job failed", err)
	}
	return nil
}

// Cancel succeeds iff the job's current status is queued or
// retry_pending (spec.md §4.5's cancel/cancellation semantics).
func (r *JobRepository) Cancel(ctx context.Context, id string) (bool, error) {
	res, err := r.db.Exec(ctx, `
		UPDATE ingestion_jobs SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`, JobCancelled, isoNow(), id, JobQueued, JobRetryPending)
	if err != nil {
		return false, apperr.Storage("cancel job", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Retry succeeds iff status is failed; resets attempts/error_info and
// re-queues (spec.md §4.5).
func (r *JobRepository) Retry(ctx context.Context, id string) (bool, error) {
	res, err := r.db.Exec(ctx, `
		UPDATE ingestion_jobs SET status = ?, attempts = 0, error_info = '', updated_at = ?
		WHERE id = ? AND status = ?`, JobQueued, isoNow(), id, JobFailed)
	if err != nil {
		return false, apperr.Storage("retry job", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CountByStatus feeds stats() (spec.md §4.5).
func (r *JobRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.Query(ctx, "SELECT status, COUNT(1) FROM ingestion_jobs GROUP BY status")
	if err != nil {
		return nil, apperr.Storage("count jobs by status", err)
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, apperr.Storage("scan job status count", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ActiveCount returns the number of jobs currently in "processing".
func (r *JobRepository) ActiveCount(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, "SELECT COUNT(1) FROM ingestion_jobs WHERE status = ?", JobProcessing).Scan(&n)
	if err != nil {
		return 0, apperr.Storage("count active jobs", err)
	}
	return n, nil
}

// FindJobAwaitingChunking locates the job that owns object_id and is
// mid-handoff to the Chunking Pipeline (spec.md §4.9 step a).
func (r *JobRepository) FindJobAwaitingChunking(ctx context.Context, objectID string) (*Job, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM ingestion_jobs
		WHERE related_object_id = ? AND status = ? ORDER BY created_at DESC LIMIT 1`,
		objectID, JobVectorizing)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("find job awaiting chunking", err)
	}
	return j, nil
}

// FindDueRetries returns retry_pending jobs whose next_attempt_at has
// elapsed — the claim query for backoff-scheduled retries.
func (r *JobRepository) FindDueRetries(ctx context.Context, limit int) ([]*Job, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+jobColumns+` FROM ingestion_jobs
		WHERE status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		ORDER BY priority DESC, created_at ASC LIMIT ?`,
		JobRetryPending, isoNow(), limit)
	if err != nil {
		return nil, apperr.Storage("find due retries", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, apperr.Storage("scan due retry job", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func nullableNullTime(t sql.NullTime) any {
	if !t.Valid {
		return nil
	}
	return t.Time.UTC().Format(time.RFC3339Nano)
}
