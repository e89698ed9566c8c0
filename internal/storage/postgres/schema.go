package postgres

import (
	"context"
	"fmt"
)

// DefaultDimensions matches text-embedding-3-small.
const DefaultDimensions = 1536

// Schema returns the DDL statements for the given embedding width.
func Schema(dimensions int) []string {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
	id BIGSERIAL PRIMARY KEY,
	company_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	url TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	section_title TEXT NOT NULL DEFAULT '',
	text TEXT NOT NULL,
	embedding vector(%d) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`, dimensions),
		`CREATE INDEX IF NOT EXISTS chunks_company_agent_idx ON chunks (company_id, agent_id)`,
		`CREATE INDEX IF NOT EXISTS chunks_embedding_idx ON chunks USING hnsw (embedding vector_cosine_ops) WITH (m = 16, ef_construction = 128)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS custom_knowledge (
	id TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	embedding vector(%d) NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, dimensions),
		`CREATE INDEX IF NOT EXISTS custom_knowledge_company_idx ON custom_knowledge (company_id)`,
		`CREATE TABLE IF NOT EXISTS crawl_jobs (
	id TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	root_url TEXT NOT NULL,
	page_budget INT NOT NULL,
	status TEXT NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	error_text TEXT NOT NULL DEFAULT '',
	progress JSONB NOT NULL DEFAULT '{}'::jsonb,
	result JSONB
)`,
		`CREATE INDEX IF NOT EXISTS crawl_jobs_agent_status_idx ON crawl_jobs (company_id, agent_id, status)`,
	}
}

// EnsureSchema creates the extension, tables and indexes when missing.
func EnsureSchema(ctx context.Context, db DB, dimensions int) error {
	for _, stmt := range Schema(dimensions) {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
