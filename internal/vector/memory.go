package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryStore is a brute-force cosine store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	embedder Embedder
	order    []string
	records  map[string]Record
	vectors  map[string][]float32
}

func NewMemoryStore(embedder Embedder) *MemoryStore {
	return &MemoryStore{
		embedder: embedder,
		records:  map[string]Record{},
		vectors:  map[string][]float32{},
	}
}

func (s *MemoryStore) Add(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	texts := make([]string, 0, len(records))
	for _, r := range records {
		texts = append(texts, r.Text)
	}
	vecs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed records: %w", err)
	}
	if len(vecs) != len(records) {
		return fmt.Errorf("embed records: got %d vectors for %d records", len(vecs), len(records))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range records {
		if _, ok := s.records[r.ID]; !ok {
			s.order = append(s.order, r.ID)
		}
		s.records[r.ID] = r
		s.vectors[r.ID] = vecs[i]
	}
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, req QueryRequest) ([]Hit, error) {
	if req.NResults <= 0 {
		req.NResults = 10
	}
	vecs, err := s.embedder.Embed(ctx, []string{req.Text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embed query: no vector returned")
	}
	q := vecs[0]

	s.mu.RLock()
	hits := make([]Hit, 0, len(s.order))
	for _, id := range s.order {
		r := s.records[id]
		if !req.Where.Match(r.Metadata, r.Text) || !req.WhereDocument.Match(r.Metadata, r.Text) {
			continue
		}
		hits = append(hits, Hit{Record: r, Distance: 1 - cosine(q, s.vectors[id])})
	}
	s.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > req.NResults {
		hits = hits[:req.NResults]
	}
	return hits, nil
}

func (s *MemoryStore) Get(ctx context.Context, req GetRequest) ([]Record, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := req.IDs
	if len(ids) == 0 {
		ids = s.order
	}
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		r, ok := s.records[id]
		if !ok {
			continue
		}
		if !req.Where.Match(r.Metadata, r.Text) || !req.WhereDocument.Match(r.Metadata, r.Text) {
			continue
		}
		out = append(out, r)
		if req.Limit > 0 && len(out) == req.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, where Predicate) (int, error) {
	_ = ctx
	if where.IsZero() {
		return 0, fmt.Errorf("delete records: refusing to delete without a predicate")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.order[:0]
	n := 0
	for _, id := range s.order {
		r := s.records[id]
		if where.Match(r.Metadata, r.Text) {
			delete(s.records, id)
			delete(s.vectors, id)
			n++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return n, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
