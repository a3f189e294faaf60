package store

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/onekey/rag-core-go/internal/apperror"
)

// ReplaceChunks deletes every existing chunk for pageID and inserts chunks
// in a single transaction, then marks the page as indexed. This implements
// "chunks are rebuilt wholesale when the owning page re-indexes".
func (s *Store) ReplaceChunks(ctx context.Context, pageID uuid.UUID, workspace, kb string, chunks []Chunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperror.Dependency("store.ReplaceChunks", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE page_id = $1`, pageID); err != nil {
		return apperror.Dependency("store.ReplaceChunks", err)
	}

	const ins = `
INSERT INTO chunks (page_id, workspace, kb, chunk_index, section_path, chunk_text, chunk_hash, token_count, embedding, embedding_model)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	for _, c := range chunks {
		var vec *pgvector.Vector
		if len(c.Embedding) > 0 {
			v := pgvector.NewVector(c.Embedding)
			vec = &v
		}
		if _, err := tx.Exec(ctx, ins, pageID, workspace, kb, c.ChunkIndex, c.SectionPath,
			c.ChunkText, c.ChunkHash, c.TokenCount, vec, c.EmbeddingModel); err != nil {
			return apperror.Dependency("store.ReplaceChunks", err)
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE pages SET indexed_content_hash = content_hash, updated_at = now() WHERE id = $1`, pageID); err != nil {
		return apperror.Dependency("store.ReplaceChunks", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return apperror.Dependency("store.ReplaceChunks", err)
	}
	return nil
}

// VectorSearch returns the k chunks in workspace (optionally restricted to
// kbs) with the smallest cosine distance to query, scored as
// 1 - cosine_distance so higher is more relevant.
func (s *Store) VectorSearch(ctx context.Context, workspace string, kbs []string, query []float32, k int) ([]ScoredChunk, error) {
	vec := pgvector.NewVector(query)
	args := []any{workspace, vec, k}
	kbFilter := ""
	if len(kbs) > 0 {
		kbFilter = " AND c.kb = ANY($4)"
		args = append(args, kbs)
	}

	q := `
SELECT c.id, c.page_id, c.workspace, c.kb, c.chunk_index, c.section_path, c.chunk_text, c.chunk_hash,
	c.token_count, c.embedding_model, c.created_at, p.url, p.title,
	1 - (c.embedding <=> $2) AS score
FROM chunks c
JOIN pages p ON p.id = c.page_id
WHERE c.workspace = $1 AND c.embedding IS NOT NULL` + kbFilter + `
ORDER BY c.embedding <=> $2
LIMIT $3`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, apperror.Dependency("store.VectorSearch", err)
	}
	defer rows.Close()
	return scanScoredChunks(rows)
}

// LexicalSearch returns the k chunks in workspace (optionally restricted to
// kbs) ranked by Postgres full-text relevance (ts_rank_cd) against query,
// using the store's configured text-search configuration.
func (s *Store) LexicalSearch(ctx context.Context, workspace string, kbs []string, query string, k int) ([]ScoredChunk, error) {
	args := []any{workspace, query, k}
	kbFilter := ""
	if len(kbs) > 0 {
		kbFilter = " AND c.kb = ANY($4)"
		args = append(args, kbs)
	}

	q := `
SELECT c.id, c.page_id, c.workspace, c.kb, c.chunk_index, c.section_path, c.chunk_text, c.chunk_hash,
	c.token_count, c.embedding_model, c.created_at, p.url, p.title,
	ts_rank_cd(c.fts, plainto_tsquery('` + s.ftsConfig + `', $2)) AS score
FROM chunks c
JOIN pages p ON p.id = c.page_id
WHERE c.workspace = $1 AND c.fts @@ plainto_tsquery('` + s.ftsConfig + `', $2)` + kbFilter + `
ORDER BY score DESC
LIMIT $3`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, apperror.Dependency("store.LexicalSearch", err)
	}
	defer rows.Close()
	return scanScoredChunks(rows)
}

// ChunksContainingAddress returns chunks in workspace (optionally restricted
// to kbs) whose text mentions the given lowercase 0x-address, for the
// contract index's RAG reverse lookup.
func (s *Store) ChunksContainingAddress(ctx context.Context, workspace string, kbs []string, address string, limit int) ([]ScoredChunk, error) {
	args := []any{workspace, strings.ToLower(address), limit}
	kbFilter := ""
	if len(kbs) > 0 {
		kbFilter = " AND c.kb = ANY($4)"
		args = append(args, kbs)
	}

	q := `
SELECT c.id, c.page_id, c.workspace, c.kb, c.chunk_index, c.section_path, c.chunk_text, c.chunk_hash,
	c.token_count, c.embedding_model, c.created_at, p.url, p.title, 0::float8 AS score
FROM chunks c
JOIN pages p ON p.id = c.page_id
WHERE c.workspace = $1 AND c.chunk_text ILIKE '%' || $2 || '%'` + kbFilter + `
ORDER BY c.created_at
LIMIT $3`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, apperror.Dependency("store.ChunksContainingAddress", err)
	}
	defer rows.Close()
	return scanScoredChunks(rows)
}

func scanScoredChunks(rows pgx.Rows) ([]ScoredChunk, error) {
	var out []ScoredChunk
	for rows.Next() {
		var sc ScoredChunk
		if err := rows.Scan(&sc.ID, &sc.PageID, &sc.Workspace, &sc.KB, &sc.ChunkIndex, &sc.SectionPath,
			&sc.ChunkText, &sc.ChunkHash, &sc.TokenCount, &sc.EmbeddingModel, &sc.CreatedAt,
			&sc.PageURL, &sc.PageTitle, &sc.Score); err != nil {
			return nil, apperror.Dependency("store.scanScoredChunks", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Dependency("store.scanScoredChunks", err)
	}
	return out, nil
}
