package storage

import (
	"context"
	"fmt"
	"time"
)

// IngestedDocument tracks the outcome of importing one PDF.
type IngestedDocument struct {
	DocID      string    `json:"doc_id"`
	BatchID    string    `json:"batch_id,omitempty"`
	Filename   string    `json:"filename"`
	Title      string    `json:"title,omitempty"`
	Authors    string    `json:"authors,omitempty"`
	Year       *int      `json:"year,omitempty"`
	DOI        string    `json:"doi,omitempty"`
	Pages      int       `json:"pages"`
	Status     string    `json:"status"`
	FailReason string    `json:"fail_reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type DocumentRepo struct {
	db *DB
}

func NewDocumentRepo(db *DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

func (r *DocumentRepo) Upsert(ctx context.Context, d IngestedDocument) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO ingested_documents (doc_id, batch_id, filename, title, authors, year, doi, pages, status, fail_reason)
VALUES ($1, NULLIF($2,''), $3, NULLIF($4,''), NULLIF($5,''), $6, NULLIF($7,''), $8, $9, NULLIF($10,''))
ON CONFLICT (doc_id)
DO UPDATE SET
  batch_id = COALESCE(EXCLUDED.batch_id, ingested_documents.batch_id),
  filename = EXCLUDED.filename,
  title = COALESCE(EXCLUDED.title, ingested_documents.title),
  authors = COALESCE(EXCLUDED.authors, ingested_documents.authors),
  year = COALESCE(EXCLUDED.year, ingested_documents.year),
  doi = COALESCE(EXCLUDED.doi, ingested_documents.doi),
  pages = EXCLUDED.pages,
  status = EXCLUDED.status,
  fail_reason = EXCLUDED.fail_reason,
  updated_at = NOW()`,
		d.DocID, d.BatchID, d.Filename, d.Title, d.Authors, d.Year, d.DOI, d.Pages, d.Status, d.FailReason,
	)
	if err != nil {
		return fmt.Errorf("upsert ingested document: %w", err)
	}
	return nil
}

func (r *DocumentRepo) ListByBatch(ctx context.Context, batchID string) ([]IngestedDocument, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT doc_id, COALESCE(batch_id,''), filename, COALESCE(title,''), COALESCE(authors,''), year,
       COALESCE(doi,''), pages, status, COALESCE(fail_reason,''), created_at, updated_at
FROM ingested_documents
WHERE batch_id=$1
ORDER BY created_at ASC`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list ingested documents: %w", err)
	}
	defer rows.Close()
	out := make([]IngestedDocument, 0)
	for rows.Next() {
		var d IngestedDocument
		if err := rows.Scan(&d.DocID, &d.BatchID, &d.Filename, &d.Title, &d.Authors, &d.Year, &d.DOI, &d.Pages, &d.Status, &d.FailReason, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan ingested document: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ingested documents: %w", err)
	}
	return out, nil
}

func (r *DocumentRepo) Delete(ctx context.Context, docID string) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM ingested_documents WHERE doc_id=$1`, docID); err != nil {
		return fmt.Errorf("delete ingested document: %w", err)
	}
	return nil
}
