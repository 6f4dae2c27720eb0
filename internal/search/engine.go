package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"litground/internal/logger"
	"litground/internal/models"
	"litground/internal/util"
	"litground/internal/vector"
)

const (
	DefaultLimit     = 10
	MaxLimit         = 100
	DefaultYearStart = 1990
)

// WorkLookup materializes a document for a DOI missing from the corpus.
type WorkLookup interface {
	LookupWork(ctx context.Context, doi string) (models.Document, error)
}

type DOIFailure struct {
	DOI     string `json:"doi"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

type Result struct {
	Documents []models.Document `json:"documents"`
	Failures  []DOIFailure      `json:"failures,omitempty"`
}

// Engine answers structured queries against the abstracts collection.
type Engine struct {
	store vector.Store
	works WorkLookup
	log   *logger.Logger
	now   func() time.Time
}

func NewEngine(store vector.Store, works WorkLookup, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{store: store, works: works, log: log, now: time.Now}
}

func (e *Engine) Search(ctx context.Context, q models.Query) (Result, error) {
	dois := SplitDOIs(q.DOIs)
	topic := strings.TrimSpace(q.Topic)
	if topic == "" && len(dois) == 0 {
		return Result{}, util.ErrNoSearchCriteria
	}
	if len(dois) > 0 {
		return e.lookupDOIs(ctx, dois)
	}

	q = e.withDefaults(q)
	if q.YearStart > q.YearEnd {
		return Result{}, fmt.Errorf("%w: year range %d-%d is inverted", util.ErrInvalidInput, q.YearStart, q.YearEnd)
	}
	where, whereDoc := BuildFilter(q)
	hits, err := e.store.Query(ctx, vector.QueryRequest{
		Text:          topic,
		Where:         where,
		WhereDocument: whereDoc,
		NResults:      q.Limit,
	})
	if err != nil {
		return Result{}, util.Upstream("query abstracts", err)
	}
	docs := make([]models.Document, 0, len(hits))
	for _, h := range hits {
		d := documentFromRecord(h.Record)
		d.Relevance = 1 - h.Distance
		docs = append(docs, d)
	}
	sortDocuments(docs, q.SortBy)
	e.log.Debug("search", "topic", topic, "where", where.String(), "where_document", whereDoc.String(), "hits", len(docs))
	return Result{Documents: docs}, nil
}

// BuildFilter compiles the metadata and document predicates for q. Year
// bounds are always applied; q is expected to carry defaults already.
func BuildFilter(q models.Query) (where, whereDoc vector.Predicate) {
	yearCond := vector.And(vector.Gte("year", q.YearStart), vector.Lte("year", q.YearEnd))

	journals := nonEmpty(q.Journals)
	var journalCond vector.Predicate
	switch len(journals) {
	case 0:
	case 1:
		journalCond = vector.Eq("journal", journals[0])
	default:
		journalCond = vector.In("journal", journals...)
	}
	where = vector.And(journalCond, yearCond)

	phrases := nonEmpty(q.Contains)
	conds := make([]vector.Predicate, 0, len(phrases))
	for _, p := range phrases {
		conds = append(conds, vector.Contains(p))
	}
	var phraseCond vector.Predicate
	if models.ParseCombinator(string(q.Condition)) == models.CombineOr {
		phraseCond = vector.Or(conds...)
	} else {
		phraseCond = vector.And(conds...)
	}
	var authorCond vector.Predicate
	if a := strings.TrimSpace(q.Author); a != "" {
		authorCond = vector.Contains(a)
	}
	whereDoc = vector.And(phraseCond, authorCond)
	return where, whereDoc
}

func (e *Engine) withDefaults(q models.Query) models.Query {
	switch {
	case q.Limit <= 0:
		q.Limit = DefaultLimit
	case q.Limit > MaxLimit:
		q.Limit = MaxLimit
	}
	if q.YearStart <= 0 {
		q.YearStart = DefaultYearStart
	}
	if q.YearEnd <= 0 {
		q.YearEnd = e.now().Year()
	}
	return q
}

func (e *Engine) lookupDOIs(ctx context.Context, dois []string) (Result, error) {
	res := Result{Documents: make([]models.Document, 0, len(dois))}
	for _, doi := range dois {
		recs, err := e.store.Get(ctx, vector.GetRequest{
			Where: vector.InFold("doi", doiForms(doi)...),
			Limit: 1,
		})
		if err != nil {
			return Result{}, util.Upstream("look up doi in corpus", err)
		}
		if len(recs) > 0 {
			res.Documents = append(res.Documents, documentFromRecord(recs[0]))
			continue
		}
		if e.works == nil {
			res.Failures = append(res.Failures, failure(doi, fmt.Errorf("doi %s: %w", doi, util.ErrNotFound)))
			continue
		}
		d, err := e.works.LookupWork(ctx, doi)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return Result{}, err
			}
			e.log.Warn("doi lookup failed", "doi", doi, "error", err)
			res.Failures = append(res.Failures, failure(doi, err))
			continue
		}
		d.Text = models.NormalizeText(d.Text, "", "")
		d.Source = models.SourceCorpusAbstract
		d.Type = "abstract"
		res.Documents = append(res.Documents, d)
	}
	return res, nil
}

// doiForms lists the spellings a corpus record may carry for doi.
func doiForms(doi string) []string {
	return []string{doi, "https://doi.org/" + doi, "http://doi.org/" + doi, "https://dx.doi.org/" + doi, "doi:" + doi}
}

func failure(doi string, err error) DOIFailure {
	msg := err.Error()
	if util.KindOf(err) == util.KindNotFound {
		msg = "DOI not found. Check it for typos."
	}
	return DOIFailure{DOI: doi, Message: msg, Err: err}
}

// SplitDOIs reads a newline-separated DOI batch, dropping blanks, resolver
// prefixes and repeats while keeping first-seen order.
func SplitDOIs(raw string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0)
	for _, line := range strings.Split(raw, "\n") {
		doi := util.NormalizeDOI(line)
		if doi == "" {
			continue
		}
		if _, dup := seen[doi]; dup {
			continue
		}
		seen[doi] = struct{}{}
		out = append(out, doi)
	}
	return out
}

func documentFromRecord(r vector.Record) models.Document {
	m := r.Metadata
	authors := m.String("authors")
	text := models.NormalizeText(r.Text, m.String("abstract"), m.String("summary"))
	if authors != "" {
		text = strings.TrimSpace(strings.ReplaceAll(text, authors, ""))
	}
	journal := m.String("journal")
	if journal == "" {
		journal = m.String("venue")
	}
	return models.Document{
		ID:         r.ID,
		Title:      m.String("title"),
		Authors:    authors,
		Year:       m.Int("year"),
		Journal:    journal,
		DOI:        util.NormalizeDOI(m.String("doi")),
		Text:       text,
		Source:     models.SourceCorpusAbstract,
		Type:       "abstract",
		CiteCounts: m.Int("cite_counts"),
	}
}

func sortDocuments(docs []models.Document, by models.SortOrder) {
	switch by {
	case models.SortCitations:
		sort.SliceStable(docs, func(i, j int) bool { return docs[i].CiteCounts > docs[j].CiteCounts })
	case models.SortYear:
		sort.SliceStable(docs, func(i, j int) bool { return docs[i].Year > docs[j].Year })
	}
}

func nonEmpty(xs []string) []string {
	out := make([]string, 0, len(xs))
	for _, x := range xs {
		if x = strings.TrimSpace(x); x != "" {
			out = append(out, x)
		}
	}
	return out
}
