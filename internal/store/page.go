package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/onekey/rag-core-go/internal/apperror"
)

// UpsertPage inserts or updates a Page by its (workspace, kb, url) natural
// key. On conflict, content fields are refreshed but indexed_content_hash is
// left untouched so the caller's later index pass can detect the change.
func (s *Store) UpsertPage(ctx context.Context, p Page) (Page, error) {
	meta, err := json.Marshal(p.Meta)
	if err != nil {
		return Page{}, apperror.Validation("store.UpsertPage", err)
	}

	const q = `
INSERT INTO pages (workspace, kb, url, title, content_markdown, content_hash, http_status, last_crawled_at, meta)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (workspace, kb, url) DO UPDATE SET
	title = EXCLUDED.title,
	content_markdown = EXCLUDED.content_markdown,
	content_hash = EXCLUDED.content_hash,
	http_status = EXCLUDED.http_status,
	last_crawled_at = EXCLUDED.last_crawled_at,
	meta = EXCLUDED.meta,
	updated_at = now()
RETURNING id, workspace, kb, url, title, content_markdown, content_hash, indexed_content_hash,
	http_status, last_crawled_at, meta, created_at, updated_at`

	row := s.pool.QueryRow(ctx, q, p.Workspace, p.KB, p.URL, p.Title, p.ContentMarkdown, p.ContentHash, p.HTTPStatus, p.LastCrawledAt, meta)
	return scanPage(row)
}

// MarkPageIndexed sets indexed_content_hash = content_hash for the given
// page, recording that its chunks are now current.
func (s *Store) MarkPageIndexed(ctx context.Context, pageID uuid.UUID) error {
	const q = `UPDATE pages SET indexed_content_hash = content_hash, updated_at = now() WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, pageID)
	if err != nil {
		return apperror.Dependency("store.MarkPageIndexed", err)
	}
	return nil
}

// GetPage fetches a page by id.
func (s *Store) GetPage(ctx context.Context, id uuid.UUID) (Page, error) {
	const q = `
SELECT id, workspace, kb, url, title, content_markdown, content_hash, indexed_content_hash,
	http_status, last_crawled_at, meta, created_at, updated_at
FROM pages WHERE id = $1`
	row := s.pool.QueryRow(ctx, q, id)
	return scanPage(row)
}

// PagesNeedingIndex returns pages in (workspace, kb) whose content_hash
// differs from indexed_content_hash, or every page in the scope when full
// is true.
func (s *Store) PagesNeedingIndex(ctx context.Context, workspace, kb string, full bool) ([]Page, error) {
	var q string
	if full {
		q = `
SELECT id, workspace, kb, url, title, content_markdown, content_hash, indexed_content_hash,
	http_status, last_crawled_at, meta, created_at, updated_at
FROM pages WHERE workspace = $1 AND kb = $2 ORDER BY url`
	} else {
		q = `
SELECT id, workspace, kb, url, title, content_markdown, content_hash, indexed_content_hash,
	http_status, last_crawled_at, meta, created_at, updated_at
FROM pages WHERE workspace = $1 AND kb = $2 AND content_hash <> indexed_content_hash ORDER BY url`
	}

	rows, err := s.pool.Query(ctx, q, workspace, kb)
	if err != nil {
		return nil, apperror.Dependency("store.PagesNeedingIndex", err)
	}
	defer rows.Close()

	var out []Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Dependency("store.PagesNeedingIndex", err)
	}
	return out, nil
}

type pageRow interface {
	Scan(dest ...any) error
}

func scanPage(row pageRow) (Page, error) {
	var p Page
	var meta []byte
	if err := row.Scan(&p.ID, &p.Workspace, &p.KB, &p.URL, &p.Title, &p.ContentMarkdown,
		&p.ContentHash, &p.IndexedContentHash, &p.HTTPStatus, &p.LastCrawledAt, &meta,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return Page{}, apperror.New(apperror.KindDependency, "store.scanPage", fmt.Errorf("page not found: %w", err))
		}
		return Page{}, apperror.Dependency("store.scanPage", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.Meta); err != nil {
			return Page{}, apperror.Dependency("store.scanPage", err)
		}
	}
	return p, nil
}
