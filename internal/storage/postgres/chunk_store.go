package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/hackjpnteam/sales-ai/internal/crawler"
)

const chunkColumns = `company_id, agent_id, url, title, section_title, text, embedding, created_at`

// ChunkStore implements crawler.ChunkStore and crawler.VectorIndex.
type ChunkStore struct {
	db DB
}

// NewChunkStore wraps an open pool.
func NewChunkStore(db DB) (*ChunkStore, error) {
	if db == nil {
		return nil, errors.New("pool is required")
	}
	return &ChunkStore{db: db}, nil
}

// Close releases the underlying pool.
func (s *ChunkStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// InsertChunks writes all chunks in one transaction.
func (s *ChunkStore) InsertChunks(ctx context.Context, chunks []crawler.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	query := `INSERT INTO chunks (` + chunkColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for _, c := range chunks {
		if len(c.Vector) == 0 {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("chunk for %s has no embedding", c.URL)
		}
		if _, err := tx.Exec(ctx, query,
			c.CompanyID,
			c.AgentID,
			c.URL,
			c.Title,
			c.SectionTitle,
			c.Text,
			pgvector.NewVector(c.Vector),
			c.CreatedAt,
		); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("insert chunk: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ListChunks loads every chunk for a company in insertion order.
func (s *ChunkStore) ListChunks(ctx context.Context, companyID string) ([]crawler.Chunk, error) {
	rows, err := s.db.Query(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE company_id = $1 ORDER BY id`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var out []crawler.Chunk
	for rows.Next() {
		var (
			c   crawler.Chunk
			vec pgvector.Vector
		)
		if err := rows.Scan(&c.CompanyID, &c.AgentID, &c.URL, &c.Title, &c.SectionTitle, &c.Text, &vec, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.Vector = vec.Slice()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}

// DeleteChunks removes an agent's chunks.
func (s *ChunkStore) DeleteChunks(ctx context.Context, companyID, agentID string) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM chunks WHERE company_id = $1 AND agent_id = $2`, companyID, agentID)
	if err != nil {
		return 0, fmt.Errorf("delete chunks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SearchIndexed runs an HNSW cosine search scoped to companyID. candidates
// sets hnsw.ef_search for the transaction.
func (s *ChunkStore) SearchIndexed(
	ctx context.Context,
	companyID string,
	vector []float32,
	candidates, limit int,
) ([]crawler.ScoredChunk, error) {
	if len(vector) == 0 {
		return nil, errors.New("query vector is required")
	}
	if limit <= 0 {
		limit = 10
	}
	if candidates < limit {
		candidates = limit
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", candidates)); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("set ef_search: %w", err)
	}
	rows, err := tx.Query(ctx, `SELECT `+chunkColumns+`, 1 - (embedding <=> $2) AS score
FROM chunks
WHERE company_id = $1
ORDER BY embedding <=> $2
LIMIT $3`, companyID, pgvector.NewVector(vector), limit)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("indexed search: %w", err)
	}

	var out []crawler.ScoredChunk
	for rows.Next() {
		var (
			hit crawler.ScoredChunk
			vec pgvector.Vector
		)
		c := &hit.Chunk
		if err := rows.Scan(&c.CompanyID, &c.AgentID, &c.URL, &c.Title, &c.SectionTitle, &c.Text, &vec, &c.CreatedAt, &hit.Score); err != nil {
			rows.Close()
			_ = tx.Rollback(ctx)
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		c.Vector = vec.Slice()
		out = append(out, hit)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("iterate hits: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return out, nil
}
