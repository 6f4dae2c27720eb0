package vector

import "context"

const (
	CollectionAbstracts = "abstracts"
	CollectionPDFChunks = "pdf_chunks"
)

type Metadata map[string]any

func (m Metadata) String(key string) string { return toString(m[key]) }

func (m Metadata) Int(key string) int {
	f, ok := toFloat(m[key])
	if !ok {
		return 0
	}
	return int(f)
}

type Record struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}

type Hit struct {
	Record
	Distance float64 `json:"distance"`
}

type QueryRequest struct {
	Text          string
	Where         Predicate
	WhereDocument Predicate
	NResults      int
}

// GetRequest selects records by id and/or predicate without ranking.
type GetRequest struct {
	IDs           []string
	Where         Predicate
	WhereDocument Predicate
	Limit         int
}

// Store is a nearest-neighbour store over one collection.
type Store interface {
	Query(ctx context.Context, req QueryRequest) ([]Hit, error)
	Add(ctx context.Context, records []Record) error
	Get(ctx context.Context, req GetRequest) ([]Record, error)
	Delete(ctx context.Context, where Predicate) (int, error)
}

type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}
