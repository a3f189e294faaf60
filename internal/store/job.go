package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/onekey/rag-core-go/internal/apperror"
)

// EnqueueJob inserts a new queued job.
func (s *Store) EnqueueJob(ctx context.Context, jobType JobType, payload map[string]any) (Job, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return Job{}, apperror.Validation("store.EnqueueJob", err)
	}

	const q = `
INSERT INTO jobs (type, status, payload, progress)
VALUES ($1, 'queued', $2, '{"_meta":{"attempts":0}}')
RETURNING id, type, status, payload, progress, error, worker_id, started_at, finished_at, created_at`

	row := s.pool.QueryRow(ctx, q, jobType, p)
	return scanJob(row)
}

// ClaimNext atomically claims one queued job for workerID using
// SELECT ... FOR UPDATE SKIP LOCKED, so concurrent workers never claim the
// same row and never block on one another's claim attempt. Returns
// (Job{}, false, nil) when no job is available.
func (s *Store) ClaimNext(ctx context.Context, workerID string, jobTypes ...JobType) (Job, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, false, apperror.Dependency("store.ClaimNext", err)
	}
	defer tx.Rollback(ctx)

	q := `
SELECT id, type, status, payload, progress, error, worker_id, started_at, finished_at, created_at
FROM jobs
WHERE status = 'queued'`
	args := []any{}
	if len(jobTypes) > 0 {
		q += " AND type = ANY($1)"
		args = append(args, jobTypes)
	}
	q += " ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 1"

	row := tx.QueryRow(ctx, q, args...)
	job, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return Job{}, false, nil
		}
		return Job{}, false, err
	}

	attempts := job.Attempts() + 1
	progress := job.Progress
	if progress == nil {
		progress = map[string]any{}
	}
	progress["_meta"] = map[string]any{"attempts": attempts}
	pj, err := json.Marshal(progress)
	if err != nil {
		return Job{}, false, apperror.Validation("store.ClaimNext", err)
	}

	const upd = `
UPDATE jobs SET status = 'running', worker_id = $2, progress = $3, started_at = now()
WHERE id = $1
RETURNING id, type, status, payload, progress, error, worker_id, started_at, finished_at, created_at`

	row = tx.QueryRow(ctx, upd, job.ID, workerID, pj)
	job, err = scanJob(row)
	if err != nil {
		return Job{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, false, apperror.Dependency("store.ClaimNext", err)
	}
	return job, true, nil
}

// CompleteJob transitions a running job to succeeded or failed, recording
// finished_at and, for failures, the error text.
func (s *Store) CompleteJob(ctx context.Context, id uuid.UUID, status JobStatus, progress map[string]any, jobErr string) error {
	p, err := json.Marshal(progress)
	if err != nil {
		return apperror.Validation("store.CompleteJob", err)
	}
	const q = `UPDATE jobs SET status = $2, progress = $3, error = $4, finished_at = now() WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, id, status, p, jobErr); err != nil {
		return apperror.Dependency("store.CompleteJob", err)
	}
	return nil
}

// RequeueJob transitions a job back to queued after a transient failure,
// preserving its attempt count for the next claim to increment.
func (s *Store) RequeueJob(ctx context.Context, id uuid.UUID, jobErr string) error {
	const q = `UPDATE jobs SET status = 'queued', error = $2, started_at = NULL WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, id, jobErr); err != nil {
		return apperror.Dependency("store.RequeueJob", err)
	}
	return nil
}

// RequeueStale finds running jobs whose started_at is older than
// staleAfter and moves them back to queued, for recovery from a worker that
// crashed mid-claim. Returns the number of jobs requeued.
func (s *Store) RequeueStale(ctx context.Context, staleAfter time.Duration, batch int) (int, error) {
	const q = `
WITH stale AS (
	SELECT id FROM jobs
	WHERE status = 'running' AND started_at < now() - ($1 || ' seconds')::interval
	ORDER BY started_at
	FOR UPDATE SKIP LOCKED
	LIMIT $2
)
UPDATE jobs SET status = 'queued', started_at = NULL, error = 'requeued after staleness timeout'
WHERE id IN (SELECT id FROM stale)`

	tag, err := s.pool.Exec(ctx, q, staleAfter.Seconds(), batch)
	if err != nil {
		return 0, apperror.Dependency("store.RequeueStale", err)
	}
	return int(tag.RowsAffected()), nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (Job, error) {
	const q = `
SELECT id, type, status, payload, progress, error, worker_id, started_at, finished_at, created_at
FROM jobs WHERE id = $1`
	row := s.pool.QueryRow(ctx, q, id)
	return scanJob(row)
}

type jobRow interface {
	Scan(dest ...any) error
}

func scanJob(row jobRow) (Job, error) {
	var j Job
	var payload, progress []byte
	if err := row.Scan(&j.ID, &j.Type, &j.Status, &payload, &progress, &j.Error, &j.WorkerID,
		&j.StartedAt, &j.FinishedAt, &j.CreatedAt); err != nil {
		return Job{}, apperror.Dependency("store.scanJob", err)
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &j.Payload); err != nil {
			return Job{}, apperror.Dependency("store.scanJob", err)
		}
	}
	if len(progress) > 0 {
		if err := json.Unmarshal(progress, &j.Progress); err != nil {
			return Job{}, apperror.Dependency("store.scanJob", err)
		}
	}
	return j, nil
}
