package storage

import (
	"context"
	"errors"
	"fmt"

	"litground/internal/models"

	"github.com/jackc/pgx/v5"
)

// CitationRepo is the durable citation cache.
type CitationRepo struct {
	db *DB
}

func NewCitationRepo(db *DB) *CitationRepo {
	return &CitationRepo{db: db}
}

func (r *CitationRepo) Get(ctx context.Context, docID string) (models.Citation, bool, error) {
	var c models.Citation
	err := r.db.Pool.QueryRow(ctx, `SELECT full_text, short_text, unresolved FROM citations WHERE doc_id=$1`, docID).
		Scan(&c.Full, &c.Short, &c.Unresolved)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Citation{}, false, nil
	}
	if err != nil {
		return models.Citation{}, false, fmt.Errorf("get citation: %w", err)
	}
	return c, true, nil
}

func (r *CitationRepo) Put(ctx context.Context, docID string, c models.Citation) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO citations (doc_id, full_text, short_text, unresolved)
VALUES ($1, $2, $3, $4)
ON CONFLICT (doc_id)
DO UPDATE SET
  full_text = EXCLUDED.full_text,
  short_text = EXCLUDED.short_text,
  unresolved = EXCLUDED.unresolved,
  updated_at = NOW()`, docID, c.Full, c.Short, c.Unresolved)
	if err != nil {
		return fmt.Errorf("put citation: %w", err)
	}
	return nil
}
