package storage

import (
	"context"
	"fmt"
)

// EnsureSchema creates the tables this service owns. dim is the embedding width.
func (d *DB) EnsureSchema(ctx context.Context, dim int) error {
	if dim <= 0 {
		dim = 1536
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE EXTENSION IF NOT EXISTS pgcrypto`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS vector_records (
  collection TEXT NOT NULL,
  id TEXT NOT NULL,
  text TEXT NOT NULL,
  metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
  embedding vector(%d),
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  PRIMARY KEY (collection, id)
)`, dim),
		`CREATE INDEX IF NOT EXISTS vector_records_doc_id_idx ON vector_records ((metadata->>'doc_id'))`,
		`CREATE INDEX IF NOT EXISTS vector_records_doi_idx ON vector_records ((metadata->>'doi'))`,
		`CREATE TABLE IF NOT EXISTS citations (
  doc_id TEXT PRIMARY KEY,
  full_text TEXT NOT NULL,
  short_text TEXT NOT NULL,
  unresolved BOOLEAN NOT NULL DEFAULT FALSE,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
		`CREATE TABLE IF NOT EXISTS chats (
  chat_id TEXT PRIMARY KEY,
  chat_name TEXT NOT NULL,
  record JSONB NOT NULL,
  last_updated TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
		`CREATE TABLE IF NOT EXISTS ingested_documents (
  doc_id TEXT PRIMARY KEY,
  batch_id TEXT,
  filename TEXT NOT NULL,
  title TEXT,
  authors TEXT,
  year INT,
  doi TEXT,
  pages INT NOT NULL DEFAULT 0,
  status TEXT NOT NULL,
  fail_reason TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
		`CREATE TABLE IF NOT EXISTS llm_calls (
  call_id UUID PRIMARY KEY,
  operation TEXT NOT NULL,
  chat_id TEXT,
  doc_id TEXT,
  provider_name TEXT NOT NULL,
  model TEXT NOT NULL,
  status TEXT NOT NULL,
  error_type TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	}
	for _, s := range stmts {
		if _, err := d.Pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
