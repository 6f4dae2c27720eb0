package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"litground/internal/util"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type Queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PGStore keeps one collection in the vector_records table and ranks by
// pgvector cosine distance.
type PGStore struct {
	q          Queryer
	collection string
	embedder   Embedder
}

func NewPGStore(q Queryer, collection string, embedder Embedder) *PGStore {
	return &PGStore{q: q, collection: collection, embedder: embedder}
}

func (s *PGStore) Query(ctx context.Context, req QueryRequest) ([]Hit, error) {
	if req.NResults <= 0 {
		req.NResults = 10
	}
	vecs, err := s.embedder.Embed(ctx, []string{req.Text})
	if err != nil {
		return nil, util.Upstream("embed query", err)
	}
	if len(vecs) == 0 {
		return nil, util.Upstream("embed query", fmt.Errorf("no vector returned"))
	}
	args := []any{ToLiteral(vecs[0]), s.collection, req.NResults}
	where, err := buildWhere(&args, req.Where, req.WhereDocument)
	if err != nil {
		return nil, err
	}
	query := `
SELECT id, text, metadata, embedding <=> $1::vector AS distance
FROM vector_records
WHERE collection = $2
  AND embedding IS NOT NULL
  AND ` + where + `
ORDER BY embedding <=> $1::vector
LIMIT $3`

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, util.Upstream("query vector store", err)
	}
	defer rows.Close()
	out := make([]Hit, 0, req.NResults)
	for rows.Next() {
		var (
			h   Hit
			raw []byte
		)
		if err := rows.Scan(&h.ID, &h.Text, &raw, &h.Distance); err != nil {
			return nil, fmt.Errorf("scan vector hit: %w", err)
		}
		if h.Metadata, err = decodeMetadata(raw); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, util.Upstream("iterate vector hits", err)
	}
	return out, nil
}

func (s *PGStore) Add(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	texts := make([]string, 0, len(records))
	for _, r := range records {
		texts = append(texts, r.Text)
	}
	vecs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return util.Upstream("embed records", err)
	}
	if len(vecs) != len(records) {
		return fmt.Errorf("embed records: got %d vectors for %d records", len(vecs), len(records))
	}
	tx, err := s.q.Begin(ctx)
	if err != nil {
		return util.Upstream("begin tx add records", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	for i, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata %s: %w", r.ID, err)
		}
		_, err = tx.Exec(ctx, `
INSERT INTO vector_records (collection, id, text, metadata, embedding)
VALUES ($1, $2, $3, $4::jsonb, $5::vector)
ON CONFLICT (collection, id)
DO UPDATE SET
  text = EXCLUDED.text,
  metadata = EXCLUDED.metadata,
  embedding = EXCLUDED.embedding`,
			s.collection, r.ID, util.SanitizeText(r.Text), string(meta), ToLiteral(vecs[i]))
		if err != nil {
			return fmt.Errorf("upsert record %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return util.Upstream("commit add records", err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, req GetRequest) ([]Record, error) {
	args := []any{s.collection}
	conds := []string{"collection = $1"}
	if len(req.IDs) > 0 {
		args = append(args, req.IDs)
		conds = append(conds, "id = ANY($"+strconv.Itoa(len(args))+")")
	}
	where, err := buildWhere(&args, req.Where, req.WhereDocument)
	if err != nil {
		return nil, err
	}
	conds = append(conds, where)
	query := "SELECT id, text, metadata FROM vector_records WHERE " + strings.Join(conds, " AND ") + " ORDER BY id"
	if req.Limit > 0 {
		args = append(args, req.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, util.Upstream("get vector records", err)
	}
	defer rows.Close()
	out := make([]Record, 0, 8)
	for rows.Next() {
		var (
			r   Record
			raw []byte
		)
		if err := rows.Scan(&r.ID, &r.Text, &raw); err != nil {
			return nil, fmt.Errorf("scan vector record: %w", err)
		}
		if r.Metadata, err = decodeMetadata(raw); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, util.Upstream("iterate vector records", err)
	}
	return out, nil
}

func (s *PGStore) Delete(ctx context.Context, where Predicate) (int, error) {
	if where.IsZero() {
		return 0, fmt.Errorf("delete records: refusing to delete without a predicate")
	}
	args := []any{s.collection}
	cond, err := where.SQL(&args, "metadata", "text")
	if err != nil {
		return 0, err
	}
	tag, err := s.q.Exec(ctx, "DELETE FROM vector_records WHERE collection = $1 AND "+cond, args...)
	if err != nil {
		return 0, util.Upstream("delete vector records", err)
	}
	return int(tag.RowsAffected()), nil
}

func buildWhere(args *[]any, where, whereDoc Predicate) (string, error) {
	w, err := where.SQL(args, "metadata", "text")
	if err != nil {
		return "", fmt.Errorf("compile where: %w", err)
	}
	d, err := whereDoc.SQL(args, "metadata", "text")
	if err != nil {
		return "", fmt.Errorf("compile where_document: %w", err)
	}
	return w + " AND " + d, nil
}

func decodeMetadata(raw []byte) (Metadata, error) {
	if len(raw) == 0 {
		return Metadata{}, nil
	}
	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}

func ToLiteral(v []float32) string {
	parts := make([]string, 0, len(v))
	for _, x := range v {
		parts = append(parts, strconv.FormatFloat(float64(x), 'f', 6, 32))
	}
	return "[" + strings.Join(parts, ",") + "]"
}
