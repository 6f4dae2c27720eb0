package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"litground/internal/citation"
	"litground/internal/logger"
	"litground/internal/models"
	"litground/internal/util"
	"litground/internal/vector"
)

const (
	defaultTitle   = "Uploaded Document"
	citationPages  = 2
	titleScanLines = 40

	defaultChunkHits = 4
)

// CitationSource is the slice of citation.Resolver ingestion needs.
type CitationSource interface {
	Resolve(ctx context.Context, doc models.Document) (models.Citation, error)
	Extract(ctx context.Context, text string) (models.Citation, error)
	Remember(ctx context.Context, docID string, c models.Citation) error
}

type Options struct {
	ChunkSize    int
	ChunkOverlap int
	Parallelism  int
}

// Ingester imports PDFs into the pdf_chunks collection.
type Ingester struct {
	store     vector.Store
	extractor Extractor
	citations CitationSource
	log       *logger.Logger
	opts      Options

	mu     sync.Mutex
	claims map[string]struct{}
}

func New(store vector.Store, extractor Extractor, citations CitationSource, opts Options, log *logger.Logger) *Ingester {
	if extractor == nil {
		extractor = PDFExtractor{}
	}
	if log == nil {
		log = logger.Nop()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 1000
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkSize {
		opts.ChunkOverlap = 200
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	return &Ingester{
		store:     store,
		extractor: extractor,
		citations: citations,
		log:       log,
		opts:      opts,
		claims:    map[string]struct{}{},
	}
}

// Ingest extracts, identifies and stores one PDF. A document that is already
// present (same DOI, or same bytes when no DOI is given) yields a *DuplicateError
// that wraps ErrAlreadyImported.
func (in *Ingester) Ingest(ctx context.Context, data []byte, doiHint string) (models.Document, error) {
	if len(data) == 0 {
		return models.Document{}, fmt.Errorf("%w: empty upload", util.ErrInvalidInput)
	}
	pages, err := in.extractor.ExtractPages(data)
	if err != nil {
		return models.Document{}, fmt.Errorf("%w: %v", util.ErrNoExtractableText, err)
	}
	windows := util.ChunkPages(pages, in.opts.ChunkSize, in.opts.ChunkOverlap)
	if len(windows) == 0 {
		return models.Document{}, util.ErrNoExtractableText
	}

	doi := util.NormalizeDOI(doiHint)
	id := models.DocumentIDFromContent(data)
	if doi != "" {
		id = models.DocumentIDFromDOI(doi)
	}
	stored, err := in.claim(ctx, id, doi)
	if err != nil {
		return models.Document{}, err
	}
	if stored != nil {
		return models.Document{}, &DuplicateError{Document: storedDocument(*stored, pages)}
	}
	defer in.release(id)

	log := in.log.With("doc_id", id, "doi", doi)
	full := joinPages(pages)
	cit := in.citationFor(ctx, id, doi, leadingText(pages, citationPages), log)

	doc := models.Document{
		ID:       id,
		Title:    guessTitle(full),
		DOI:      doi,
		Text:     models.NormalizeText(full, "", ""),
		Citation: &cit,
		Source:   models.SourcePDFChunk,
		Type:     "pdf",
		Pages:    len(pages),
	}
	if !cit.Unresolved {
		doc.Authors, doc.Year = citation.SplitFullCitation(cit.Full)
	}

	records := make([]vector.Record, 0, len(windows))
	for _, w := range windows {
		records = append(records, vector.Record{
			ID:   models.ChunkKey(id, w.Page, w.Index),
			Text: w.Text,
			Metadata: vector.Metadata{
				"doc_id":      id,
				"title":       doc.Title,
				"authors":     doc.Authors,
				"year":        doc.Year,
				"journal":     doc.Journal,
				"doi":         doi,
				"page_number": w.Page,
				"chunk_index": w.Index,
				"citation":    cit.Full,
				"source":      string(models.SourcePDFChunk),
			},
		})
	}
	if err := in.store.Add(ctx, records); err != nil {
		return models.Document{}, util.Upstream("store pdf chunks", err)
	}
	log.Info("pdf ingested", "pages", len(pages), "chunks", len(records), "citation_unresolved", cit.Unresolved)
	return doc, nil
}

// DuplicateError reports an upload of a document that is already imported.
// Document is rebuilt from the stored chunk metadata and the uploaded pages.
type DuplicateError struct {
	Document models.Document
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("document %s: %v", e.Document.ID, util.ErrAlreadyImported)
}

func (e *DuplicateError) Unwrap() error { return util.ErrAlreadyImported }

func storedDocument(rec vector.Record, pages []string) models.Document {
	md := rec.Metadata
	full := joinPages(pages)
	doc := models.Document{
		ID:      md.String("doc_id"),
		Title:   md.String("title"),
		Authors: md.String("authors"),
		Year:    md.Int("year"),
		Journal: md.String("journal"),
		DOI:     md.String("doi"),
		Text:    models.NormalizeText(full, "", ""),
		Source:  models.SourcePDFChunk,
		Type:    "pdf",
		Pages:   len(pages),
	}
	if doc.Title == "" {
		doc.Title = guessTitle(full)
	}
	c := models.UnknownCitation()
	if f := md.String("citation"); f != "" && f != models.UnknownCitationFull {
		c = models.Citation{Full: f, Short: citation.ShortFromFull(f)}
	}
	doc.Citation = &c
	return doc
}

// SearchChunks returns up to k chunks of docID nearest to query, best first.
func (in *Ingester) SearchChunks(ctx context.Context, docID, query string, k int) ([]models.Chunk, error) {
	if strings.TrimSpace(docID) == "" {
		return nil, fmt.Errorf("%w: document id is required", util.ErrInvalidInput)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", util.ErrInvalidInput)
	}
	if k <= 0 {
		k = defaultChunkHits
	}
	hits, err := in.store.Query(ctx, vector.QueryRequest{Text: query, Where: vector.Eq("doc_id", docID), NResults: k})
	if err != nil {
		return nil, util.Upstream("query pdf chunks", err)
	}
	out := make([]models.Chunk, 0, len(hits))
	for _, h := range hits {
		out = append(out, models.Chunk{
			ParentDocumentID: docID,
			PageNumber:       h.Metadata.Int("page_number"),
			ChunkIndex:       h.Metadata.Int("chunk_index"),
			Text:             h.Text,
		})
	}
	return out, nil
}

// Remove deletes every chunk of a document.
func (in *Ingester) Remove(ctx context.Context, docID string) error {
	if strings.TrimSpace(docID) == "" {
		return fmt.Errorf("%w: document id is required", util.ErrInvalidInput)
	}
	n, err := in.store.Delete(ctx, vector.Eq("doc_id", docID))
	if err != nil {
		return util.Upstream("delete pdf chunks", err)
	}
	if n == 0 {
		return fmt.Errorf("document %s: %w", docID, util.ErrNotFound)
	}
	in.log.Info("pdf removed", "doc_id", docID, "chunks", n)
	return nil
}

// claim runs the duplicate check and reserves id while the mutex is held, so two
// concurrent uploads of the same document cannot both pass the check. A stored
// chunk of the same document is returned instead of a reservation.
func (in *Ingester) claim(ctx context.Context, id, doi string) (*vector.Record, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if _, busy := in.claims[id]; busy {
		return nil, fmt.Errorf("document %s: %w", id, util.ErrAlreadyImported)
	}
	where := vector.Eq("doc_id", id)
	if doi != "" {
		where = vector.Or(where, vector.Eq("doi", doi))
	}
	existing, err := in.store.Get(ctx, vector.GetRequest{Where: where, Limit: 1})
	if err != nil {
		return nil, util.Upstream("check existing document", err)
	}
	if len(existing) > 0 {
		return &existing[0], nil
	}
	in.claims[id] = struct{}{}
	return nil, nil
}

func (in *Ingester) release(id string) {
	in.mu.Lock()
	delete(in.claims, id)
	in.mu.Unlock()
}

func (in *Ingester) citationFor(ctx context.Context, id, doi, lead string, log *logger.Logger) models.Citation {
	if in.citations == nil {
		return models.UnknownCitation()
	}
	if doi != "" {
		c, err := in.citations.Resolve(ctx, models.Document{ID: id, DOI: doi, Text: lead})
		if err != nil {
			log.Warn("citation lookup failed", "error", err)
			return models.UnknownCitation()
		}
		return c
	}
	c, err := in.citations.Extract(ctx, lead)
	if err != nil {
		log.Warn("citation extraction failed, using placeholder", "error", err)
		c = models.UnknownCitation()
	}
	if err := in.citations.Remember(ctx, id, c); err != nil {
		log.Warn("citation cache write failed", "error", err)
	}
	return c
}

func joinPages(pages []string) string {
	kept := make([]string, 0, len(pages))
	for _, p := range pages {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}

func leadingText(pages []string, n int) string {
	if len(pages) > n {
		pages = pages[:n]
	}
	return joinPages(pages)
}

var titleSkip = []string{"abstract", "introduction", "keywords", "doi:", "http"}

func guessTitle(text string) string {
	lines := strings.Split(text, "\n")
	if len(lines) > titleScanLines {
		lines = lines[:titleScanLines]
	}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		n := len([]rune(line))
		if n <= 10 || n >= 200 {
			continue
		}
		low := strings.ToLower(line)
		skip := false
		for _, p := range titleSkip {
			if strings.HasPrefix(low, p) {
				skip = true
				break
			}
		}
		if !skip {
			return line
		}
	}
	return defaultTitle
}
