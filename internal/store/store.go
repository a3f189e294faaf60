// Package store is the Postgres-backed relational store consumed by the RAG
// core. It satisfies the five external-store primitives spec.md §6 requires:
// per-row unique constraints, a full-text index with a configurable analyzer,
// a dense-vector type with cosine-distance ordering, `FOR UPDATE SKIP
// LOCKED`, and upsert-on-conflict. All five are native Postgres features —
// nothing here reimplements a database or index engine.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/onekey/rag-core-go/internal/apperror"
)

// Store wraps a pgxpool.Pool and exposes the domain operations the RAG core
// needs. It is safe for concurrent use; the pool itself is the cross-request
// cache, initialized once at startup (§5 Shared-resource policy).
type Store struct {
	pool      *pgxpool.Pool
	ftsConfig string
	dims      int
}

// Config holds the settings needed to open a Store.
type Config struct {
	// DSN is the Postgres connection string.
	DSN string
	// MaxConns bounds the pgxpool connection pool size.
	MaxConns int32
	// FTSConfig names the Postgres text-search configuration (analyzer),
	// e.g. "english", "simple". Must be enumerated in configuration per
	// spec.md §6 — never inferred at runtime.
	FTSConfig string
	// Dimensions is D, the fixed embedding vector width.
	Dimensions int
}

// Open connects to Postgres and runs Migrate. The returned Store owns the
// pool; call Close when done.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}

	ftsConfig := cfg.FTSConfig
	if ftsConfig == "" {
		ftsConfig = "english"
	}
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = 1536
	}

	s := &Store{pool: pool, ftsConfig: ftsConfig, dims: dims}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies connectivity, for use by the server's readiness pinger.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return apperror.Dependency("store.Ping", err)
	}
	return nil
}

// migrate creates every table and index the store needs, idempotently.
func (s *Store) migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;
CREATE EXTENSION IF NOT EXISTS pgcrypto;

CREATE TABLE IF NOT EXISTS pages (
	id                   UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	workspace            TEXT NOT NULL,
	kb                   TEXT NOT NULL,
	url                  TEXT NOT NULL,
	title                TEXT NOT NULL DEFAULT '',
	content_markdown     TEXT NOT NULL DEFAULT '',
	content_hash         TEXT NOT NULL DEFAULT '',
	indexed_content_hash TEXT NOT NULL DEFAULT '',
	http_status          INT NOT NULL DEFAULT 0,
	last_crawled_at      TIMESTAMPTZ,
	meta                 JSONB NOT NULL DEFAULT '{}',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (workspace, kb, url)
);
CREATE INDEX IF NOT EXISTS idx_pages_workspace_kb ON pages (workspace, kb);
CREATE INDEX IF NOT EXISTS idx_pages_needs_index ON pages (workspace, kb)
	WHERE content_hash <> indexed_content_hash;

CREATE TABLE IF NOT EXISTS chunks (
	id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	page_id         UUID NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
	workspace       TEXT NOT NULL,
	kb              TEXT NOT NULL,
	chunk_index     INT NOT NULL,
	section_path    TEXT NOT NULL DEFAULT '',
	chunk_text      TEXT NOT NULL,
	chunk_hash      TEXT NOT NULL,
	token_count     INT NOT NULL DEFAULT 0,
	embedding       vector(%d),
	embedding_model TEXT NOT NULL DEFAULT '',
	fts             tsvector GENERATED ALWAYS AS (to_tsvector(%s, chunk_text)) STORED,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (page_id, chunk_index)
);
CREATE INDEX IF NOT EXISTS idx_chunks_workspace_kb ON chunks (workspace, kb);
CREATE INDEX IF NOT EXISTS idx_chunks_fts ON chunks USING GIN (fts);
CREATE INDEX IF NOT EXISTS idx_chunks_embedding_hnsw ON chunks
	USING hnsw (embedding vector_cosine_ops) WITH (m = 16, ef_construction = 64);

CREATE TABLE IF NOT EXISTS contract_index (
	address          TEXT PRIMARY KEY,
	protocol         TEXT NOT NULL DEFAULT '',
	protocol_version TEXT NOT NULL DEFAULT '',
	contract_type    TEXT NOT NULL DEFAULT '',
	contract_name    TEXT NOT NULL DEFAULT '',
	source_url       TEXT NOT NULL DEFAULT '',
	source_kb        TEXT NOT NULL DEFAULT '',
	confidence       DOUBLE PRECISION NOT NULL DEFAULT 0,
	chain_id         INT NOT NULL DEFAULT 0,
	meta             JSONB NOT NULL DEFAULT '{}',
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS jobs (
	id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	type        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'queued',
	payload     JSONB NOT NULL DEFAULT '{}',
	progress    JSONB NOT NULL DEFAULT '{}',
	error       TEXT NOT NULL DEFAULT '',
	worker_id   TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs (status, created_at);

CREATE TABLE IF NOT EXISTS file_batches (
	id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	workspace  TEXT NOT NULL,
	kb         TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'completed',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS file_items (
	id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	batch_id   UUID NOT NULL REFERENCES file_batches(id) ON DELETE CASCADE,
	filename   TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_file_items_batch ON file_items (batch_id);

CREATE TABLE IF NOT EXISTS feedback (
	conversation_id TEXT NOT NULL,
	message_id      TEXT NOT NULL,
	rating          TEXT NOT NULL,
	reason          TEXT NOT NULL DEFAULT '',
	comment         TEXT NOT NULL DEFAULT '',
	sources         JSONB NOT NULL DEFAULT '[]',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (conversation_id, message_id)
);
`, s.dims, pgQuoteLiteral(s.ftsConfig))

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return err
	}
	return nil
}

// pgQuoteLiteral wraps a DDL-time constant (the FTS config name) in single
// quotes for embedding directly in the GENERATED ALWAYS AS expression. The
// value comes from this module's own configuration, never from request
// input, so this is not a SQL-injection surface.
func pgQuoteLiteral(s string) string {
	return "'" + s + "'"
}
