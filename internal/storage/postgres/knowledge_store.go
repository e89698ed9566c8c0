package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/hackjpnteam/sales-ai/internal/crawler"
)

// KnowledgeStore implements crawler.KnowledgeStore.
type KnowledgeStore struct {
	db DB
}

// NewKnowledgeStore wraps an open pool.
func NewKnowledgeStore(db DB) (*KnowledgeStore, error) {
	if db == nil {
		return nil, errors.New("pool is required")
	}
	return &KnowledgeStore{db: db}, nil
}

// PutKnowledge inserts an entry or replaces the one with the same ID.
func (s *KnowledgeStore) PutKnowledge(ctx context.Context, entry crawler.CustomKnowledgeEntry) error {
	if entry.ID == "" || entry.CompanyID == "" {
		return errors.New("knowledge entry requires id and company id")
	}
	if len(entry.Vector) == 0 {
		return errors.New("knowledge entry has no embedding")
	}
	_, err := s.db.Exec(ctx, `INSERT INTO custom_knowledge (id, company_id, title, content, embedding)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE
SET title = EXCLUDED.title, content = EXCLUDED.content, embedding = EXCLUDED.embedding, updated_at = now()`,
		entry.ID, entry.CompanyID, entry.Title, entry.Content, pgvector.NewVector(entry.Vector))
	if err != nil {
		return fmt.Errorf("put knowledge: %w", err)
	}
	return nil
}

// ListKnowledge returns every entry for a company.
func (s *KnowledgeStore) ListKnowledge(ctx context.Context, companyID string) ([]crawler.CustomKnowledgeEntry, error) {
	rows, err := s.db.Query(ctx, `SELECT id, company_id, title, content, embedding
FROM custom_knowledge
WHERE company_id = $1
ORDER BY updated_at, id`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list knowledge: %w", err)
	}
	defer rows.Close()

	var out []crawler.CustomKnowledgeEntry
	for rows.Next() {
		var (
			entry crawler.CustomKnowledgeEntry
			vec   pgvector.Vector
		)
		if err := rows.Scan(&entry.ID, &entry.CompanyID, &entry.Title, &entry.Content, &vec); err != nil {
			return nil, fmt.Errorf("scan knowledge: %w", err)
		}
		entry.Vector = vec.Slice()
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate knowledge: %w", err)
	}
	return out, nil
}
