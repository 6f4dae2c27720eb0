package citation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"litground/internal/logger"
	"litground/internal/models"
	"litground/internal/providers"
	"litground/internal/util"

	"golang.org/x/sync/singleflight"
)

const (
	extractionWindow   = 3000
	extractionAttempts = 2
)

const extractionPrompt = `Below are the opening pages of a research paper. Work out its APA 7th edition reference.
Reply with a list of exactly two strings and nothing else: the full reference, then the in-text citation.
Example: ["Smith, J., & Lee, K. (2020). Title of the paper. Journal Name, 12(3), 45-67. https://doi.org/10.0000/x", "(Smith & Lee, 2020)"]

Paper:
`

type DOIFormatter interface {
	FormatCitation(ctx context.Context, doi, style string) (string, error)
}

// Resolver returns a document's citation, resolving it at most once per id.
type Resolver struct {
	store    Store
	doi      DOIFormatter
	llm      providers.LLMProvider
	log      *logger.Logger
	group    singleflight.Group
	attempts int
}

func NewResolver(store Store, doi DOIFormatter, llm providers.LLMProvider, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.Nop()
	}
	return &Resolver{store: store, doi: doi, llm: llm, log: log, attempts: extractionAttempts}
}

// Resolve serves from the cache when possible. A cached unresolved entry is
// returned together with ErrCitationUnresolved and is not retried.
func (r *Resolver) Resolve(ctx context.Context, doc models.Document) (models.Citation, error) {
	if strings.TrimSpace(doc.ID) == "" {
		return models.Citation{}, fmt.Errorf("%w: document id is required", util.ErrInvalidInput)
	}
	if c, ok := r.cached(ctx, doc.ID); ok {
		return c, unresolvedErr(c)
	}
	v, err, _ := r.group.Do(doc.ID, func() (any, error) {
		if c, ok := r.cached(ctx, doc.ID); ok {
			return c, nil
		}
		return r.resolveAndStore(ctx, doc)
	})
	c, _ := v.(models.Citation)
	if err != nil {
		return c, err
	}
	return c, unresolvedErr(c)
}

// Regenerate ignores the cache and overwrites it with a fresh result.
func (r *Resolver) Regenerate(ctx context.Context, doc models.Document) (models.Citation, error) {
	v, err, _ := r.group.Do("regenerate:"+doc.ID, func() (any, error) {
		return r.resolveAndStore(ctx, doc)
	})
	c, _ := v.(models.Citation)
	return c, err
}

// Cached peeks at the cache without triggering resolution.
func (r *Resolver) Cached(ctx context.Context, docID string) (models.Citation, bool) {
	return r.cached(ctx, docID)
}

// Remember seeds the cache, e.g. with a citation produced during ingestion.
func (r *Resolver) Remember(ctx context.Context, docID string, c models.Citation) error {
	return r.store.Put(ctx, docID, c)
}

func (r *Resolver) cached(ctx context.Context, docID string) (models.Citation, bool) {
	c, ok, err := r.store.Get(ctx, docID)
	if err != nil {
		r.log.Warn("citation cache read failed", "doc_id", docID, "error", err)
		return models.Citation{}, false
	}
	return c, ok
}

func (r *Resolver) resolveAndStore(ctx context.Context, doc models.Document) (models.Citation, error) {
	c, err := r.lookup(ctx, doc)
	if err != nil {
		if ctx.Err() != nil {
			return models.Citation{}, ctx.Err()
		}
		r.log.Warn("citation unresolved", "doc_id", doc.ID, "doi", doc.DOI, "error", err)
		placeholder := models.UnknownCitation()
		if perr := r.store.Put(ctx, doc.ID, placeholder); perr != nil {
			r.log.Warn("citation cache write failed", "doc_id", doc.ID, "error", perr)
		}
		return placeholder, fmt.Errorf("resolve citation for %s: %w: %w", doc.ID, util.ErrCitationUnresolved, err)
	}
	if err := r.store.Put(ctx, doc.ID, c); err != nil {
		r.log.Warn("citation cache write failed", "doc_id", doc.ID, "error", err)
	}
	return c, nil
}

func (r *Resolver) lookup(ctx context.Context, doc models.Document) (models.Citation, error) {
	var doiErr error
	if doc.DOI != "" && r.doi != nil {
		full, err := r.doi.FormatCitation(ctx, doc.DOI, "apa")
		if err == nil {
			short := ShortFromFull(full)
			if short == "" {
				short = fallbackShort(doc)
			}
			return models.Citation{Full: full, Short: short}, nil
		}
		doiErr = err
		r.log.Info("doi citation lookup failed, falling back to extraction", "doc_id", doc.ID, "doi", doc.DOI, "error", err)
	}
	c, err := r.Extract(ctx, doc.Text)
	if err != nil {
		return models.Citation{}, errors.Join(doiErr, err)
	}
	return c, nil
}

// Extract asks the LLM for a [full, short] pair over the first pages of text.
func (r *Resolver) Extract(ctx context.Context, text string) (models.Citation, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Citation{}, fmt.Errorf("%w: no text to extract a citation from", util.ErrMalformedCitation)
	}
	if r.llm == nil {
		return models.Citation{}, util.Upstream("extract citation", fmt.Errorf("no llm provider configured"))
	}
	if rs := []rune(text); len(rs) > extractionWindow {
		text = string(rs[:extractionWindow])
	}
	var last error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		resp, info, err := r.llm.Generate(ctx, providers.GenerateRequest{
			Operation: "citation_extract",
			Prompt:    extractionPrompt + text,
		})
		if err != nil {
			if ctx.Err() != nil {
				return models.Citation{}, ctx.Err()
			}
			last = util.Upstream("extract citation", err)
			r.log.Warn("citation extraction call failed", "attempt", attempt, "provider", info.Name, "error", err)
			continue
		}
		c, err := ParseCitationPair(resp.Text)
		if err != nil {
			last = err
			r.log.Warn("citation extraction unparseable", "attempt", attempt, "provider", info.Name, "error", err)
			continue
		}
		return c, nil
	}
	return models.Citation{}, last
}

func unresolvedErr(c models.Citation) error {
	if c.Unresolved {
		return util.ErrCitationUnresolved
	}
	return nil
}

func fallbackShort(doc models.Document) string {
	lead := strings.TrimSpace(strings.SplitN(doc.Authors, ",", 2)[0])
	if lead == "" {
		lead = "Unknown"
	}
	if doc.Year > 0 {
		return fmt.Sprintf("(%s, %d)", lead, doc.Year)
	}
	return "(" + lead + ", n.d.)"
}
