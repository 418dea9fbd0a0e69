// Package vectorstore is the C3 vector store port's Postgres+pgvector
// adapter: chunk storage and top-k cosine-distance search. Adapted from the
// teacher's single-conversation chunk store, generalized to per-file chunk
// indices, richer chunk metadata, and the fixed 768-dimension contract.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/fabfab/ragsentry/internal/domain"
)

// Store persists and retrieves chunk embeddings from Postgres + pgvector.
type Store struct {
	pool      *pgxpool.Pool
	dimension int
}

// NewPostgresStore connects to Postgres and ensures the vector schema exists.
func NewPostgresStore(ctx context.Context, dsn string, maxConns int, dimension int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	store := &Store{pool: pool, dimension: dimension}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying database resources.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	const statements = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chunks (
	file_id TEXT NOT NULL,
	chunk_index INT NOT NULL,
	content TEXT NOT NULL,
	embedding vector(%[1]d) NOT NULL,
	page_number INT NOT NULL DEFAULT 0,
	section_type TEXT NOT NULL DEFAULT '',
	file_name TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (file_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS chunks_file_idx ON chunks (file_id);
CREATE INDEX IF NOT EXISTS chunks_page_number_idx ON chunks (page_number);
CREATE INDEX IF NOT EXISTS chunks_section_type_idx ON chunks (section_type);

DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1 FROM pg_indexes
		WHERE schemaname = current_schema() AND indexname = 'chunks_embedding_idx'
	) THEN
		EXECUTE 'CREATE INDEX chunks_embedding_idx ON chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)';
	END IF;
END
$$;
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(statements, s.dimension))
	if err != nil {
		return fmt.Errorf("ensure vector schema: %w", err)
	}
	return nil
}

// UpsertChunks inserts chunks for a file, overwriting any existing row at
// the same (file_id, chunk_index). It never deletes rows: callers that index a
// file across several batches must call DeleteByFile once before the first
// batch, not per batch, or earlier batches would be wiped by later ones.
func (s *Store) UpsertChunks(ctx context.Context, fid string, chunks []domain.Chunk) (int, error) {
	for _, c := range chunks {
		if len(c.Embedding) != s.dimension {
			return 0, domain.NewError(domain.KindDimensionMismatch,
				fmt.Sprintf("expected %d got %d", s.dimension, len(c.Embedding)), nil)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, domain.NewError(domain.KindVectorStoreError, "begin tx", err)
	}
	defer tx.Rollback(ctx)

	for _, c := range chunks {
		if _, err := tx.Exec(ctx,
			`INSERT INTO chunks (file_id, chunk_index, content, embedding, page_number, section_type, file_name)
			 VALUES ($1,$2,$3,$4,$5,$6,$7)
			 ON CONFLICT (file_id, chunk_index) DO UPDATE SET
			   content = EXCLUDED.content,
			   embedding = EXCLUDED.embedding,
			   page_number = EXCLUDED.page_number,
			   section_type = EXCLUDED.section_type,
			   file_name = EXCLUDED.file_name`,
			fid, c.ChunkIndex, c.Text, pgvector.NewVector(c.Embedding), c.PageNumber, c.SectionType, c.FileName,
		); err != nil {
			return 0, domain.NewError(domain.KindVectorStoreError, "insert chunk", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, domain.NewError(domain.KindVectorStoreError, "commit tx", err)
	}
	return len(chunks), nil
}

// Search returns the top-k chunks by ascending cosine distance, ties broken
// by lower chunk_index. When fid is non-empty the search is scoped to that
// file; an empty fid searches across all files.
func (s *Store) Search(ctx context.Context, fid string, queryVec []float32, k int) ([]domain.ScoredChunk, error) {
	if len(queryVec) != s.dimension {
		return nil, domain.NewError(domain.KindDimensionMismatch,
			fmt.Sprintf("expected %d got %d", s.dimension, len(queryVec)), nil)
	}
	if k <= 0 {
		k = 10
	}

	qv := pgvector.NewVector(queryVec)

	var rows pgx.Rows
	var err error
	if fid == "" {
		rows, err = s.pool.Query(ctx, `
SELECT file_id, chunk_index, content, page_number, section_type, file_name, embedding <=> $1 AS dist
FROM chunks
ORDER BY embedding <=> $1, chunk_index ASC
LIMIT $2`, qv, k)
	} else {
		rows, err = s.pool.Query(ctx, `
SELECT file_id, chunk_index, content, page_number, section_type, file_name, embedding <=> $1 AS dist
FROM chunks
WHERE file_id = $2
ORDER BY embedding <=> $1, chunk_index ASC
LIMIT $3`, qv, fid, k)
	}
	if err != nil {
		return nil, domain.NewError(domain.KindVectorStoreError, "search chunks", err)
	}
	defer rows.Close()

	var out []domain.ScoredChunk
	for rows.Next() {
		var sc domain.ScoredChunk
		var dist float32
		if err := rows.Scan(&sc.Chunk.FileID, &sc.Chunk.ChunkIndex, &sc.Chunk.Text, &sc.Chunk.PageNumber, &sc.Chunk.SectionType, &sc.Chunk.FileName, &dist); err != nil {
			return nil, domain.NewError(domain.KindVectorStoreError, "scan search row", err)
		}
		sc.Distance = dist
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewError(domain.KindVectorStoreError, "iterate search rows", err)
	}
	return out, nil
}

// DeleteByFile removes every chunk belonging to a file.
func (s *Store) DeleteByFile(ctx context.Context, fid string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE file_id = $1`, fid)
	if err != nil {
		return 0, domain.NewError(domain.KindVectorStoreError, "delete by file", err)
	}
	return int(tag.RowsAffected()), nil
}

// CountChunks returns the number of chunks for a file, or across all files
// when fid is empty.
func (s *Store) CountChunks(ctx context.Context, fid string) (int, error) {
	var count int
	var err error
	if fid == "" {
		err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	} else {
		err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chunks WHERE file_id = $1`, fid).Scan(&count)
	}
	if err != nil {
		return 0, domain.NewError(domain.KindVectorStoreError, "count chunks", err)
	}
	return count, nil
}
