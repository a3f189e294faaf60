package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/onekey/rag-core-go/internal/apperror"
)

// CreateFileBatch inserts a new file batch and its items, all queued.
func (s *Store) CreateFileBatch(ctx context.Context, workspace, kb string, filenames []string) (FileBatch, []FileItem, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return FileBatch{}, nil, apperror.Dependency("store.CreateFileBatch", err)
	}
	defer tx.Rollback(ctx)

	var batch FileBatch
	const insBatch = `
INSERT INTO file_batches (workspace, kb, status) VALUES ($1, $2, 'queued')
RETURNING id, workspace, kb, status, created_at`
	if err := tx.QueryRow(ctx, insBatch, workspace, kb).Scan(
		&batch.ID, &batch.Workspace, &batch.KB, &batch.Status, &batch.CreatedAt); err != nil {
		return FileBatch{}, nil, apperror.Dependency("store.CreateFileBatch", err)
	}

	items := make([]FileItem, 0, len(filenames))
	const insItem = `
INSERT INTO file_items (batch_id, filename, status) VALUES ($1, $2, 'queued')
RETURNING id, batch_id, filename, status, error, created_at`
	for _, name := range filenames {
		var it FileItem
		if err := tx.QueryRow(ctx, insItem, batch.ID, name).Scan(
			&it.ID, &it.BatchID, &it.Filename, &it.Status, &it.Error, &it.CreatedAt); err != nil {
			return FileBatch{}, nil, apperror.Dependency("store.CreateFileBatch", err)
		}
		items = append(items, it)
	}

	if err := tx.Commit(ctx); err != nil {
		return FileBatch{}, nil, apperror.Dependency("store.CreateFileBatch", err)
	}
	return batch, items, nil
}

// SetFileItemStatus updates one file item's processing status and error text.
func (s *Store) SetFileItemStatus(ctx context.Context, id uuid.UUID, status, errText string) error {
	const q = `UPDATE file_items SET status = $2, error = $3 WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, id, status, errText); err != nil {
		return apperror.Dependency("store.SetFileItemStatus", err)
	}
	return nil
}

// GetFileBatch returns a batch and its items, and a rolled-up status.
// While any item is still queued or processing the batch is "queued" or
// "processing" respectively; once every item has reached a terminal state
// the batch settles into spec's three terminal values: "completed" (no
// item failed), "partial" (some failed, some did not), or "failed" (every
// item failed).
func (s *Store) GetFileBatch(ctx context.Context, id uuid.UUID) (FileBatch, []FileItem, error) {
	const qBatch = `SELECT id, workspace, kb, status, created_at FROM file_batches WHERE id = $1`
	var batch FileBatch
	if err := s.pool.QueryRow(ctx, qBatch, id).Scan(
		&batch.ID, &batch.Workspace, &batch.KB, &batch.Status, &batch.CreatedAt); err != nil {
		return FileBatch{}, nil, apperror.Dependency("store.GetFileBatch", err)
	}

	const qItems = `SELECT id, batch_id, filename, status, error, created_at FROM file_items WHERE batch_id = $1 ORDER BY filename`
	rows, err := s.pool.Query(ctx, qItems, id)
	if err != nil {
		return FileBatch{}, nil, apperror.Dependency("store.GetFileBatch", err)
	}
	defer rows.Close()

	var items []FileItem
	hasQueued, hasProcessing, hasFailed, hasNonFailedTerminal := false, false, false, false
	for rows.Next() {
		var it FileItem
		if err := rows.Scan(&it.ID, &it.BatchID, &it.Filename, &it.Status, &it.Error, &it.CreatedAt); err != nil {
			return FileBatch{}, nil, apperror.Dependency("store.GetFileBatch", err)
		}
		switch it.Status {
		case "queued":
			hasQueued = true
		case "processing":
			hasProcessing = true
		case "failed":
			hasFailed = true
		default:
			hasNonFailedTerminal = true
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return FileBatch{}, nil, apperror.Dependency("store.GetFileBatch", err)
	}

	switch {
	case hasQueued:
		batch.Status = "queued"
	case hasProcessing:
		batch.Status = "processing"
	case hasFailed && hasNonFailedTerminal:
		batch.Status = "partial"
	case hasFailed:
		batch.Status = "failed"
	default:
		batch.Status = "completed"
	}
	return batch, items, nil
}
