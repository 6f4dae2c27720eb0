package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"litground/internal/models"
	"litground/internal/util"
	"litground/internal/vector"

	"github.com/stretchr/testify/require"
)

// termEmbedder scores "audit" and "quality" against every other word.
type termEmbedder struct{}

func (termEmbedder) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, 0, len(inputs))
	for _, in := range inputs {
		var audit, quality, other float32
		for _, w := range strings.Fields(strings.ToLower(in)) {
			switch strings.Trim(w, ".,") {
			case "audit":
				audit++
			case "quality":
				quality++
			default:
				other++
			}
		}
		out = append(out, []float32{audit, quality, other, 0.001})
	}
	return out, nil
}

type fakeWorks struct {
	docs  map[string]models.Document
	calls []string
}

func (f *fakeWorks) LookupWork(_ context.Context, doi string) (models.Document, error) {
	f.calls = append(f.calls, doi)
	d, ok := f.docs[doi]
	if !ok {
		return models.Document{}, fmt.Errorf("crossref %s: %w", doi, util.ErrNotFound)
	}
	return d, nil
}

func seed(t *testing.T, recs ...vector.Record) *vector.MemoryStore {
	t.Helper()
	s := vector.NewMemoryStore(termEmbedder{})
	require.NoError(t, s.Add(context.Background(), recs))
	return s
}

func abstract(id string, year int, text string, extra vector.Metadata) vector.Record {
	m := vector.Metadata{"year": year, "title": "Title " + id, "journal": "JAR", "authors": "", "doi": "", "cite_counts": 0}
	for k, v := range extra {
		m[k] = v
	}
	return vector.Record{ID: id, Text: text, Metadata: m}
}

func TestSearchReturnsTopInRangeMatches(t *testing.T) {
	recs := make([]vector.Record, 0, 11)
	for k := 0; k < 8; k++ {
		recs = append(recs, abstract(fmt.Sprintf("in-%d", k), 2015+k%6, "audit quality"+strings.Repeat(" filler", k), nil))
	}
	for k := 0; k < 3; k++ {
		recs = append(recs, abstract(fmt.Sprintf("out-%d", k), 2010+k, "audit quality", nil))
	}
	e := NewEngine(seed(t, recs...), nil, nil)

	res, err := e.Search(context.Background(), models.Query{Topic: "audit quality", YearStart: 2015, YearEnd: 2020, Limit: 5})
	require.NoError(t, err)
	require.Len(t, res.Documents, 5)
	ids := make([]string, 0, 5)
	for _, d := range res.Documents {
		require.GreaterOrEqual(t, d.Year, 2015)
		require.LessOrEqual(t, d.Year, 2020)
		require.Equal(t, "abstract", d.Type)
		require.Equal(t, models.SourceCorpusAbstract, d.Source)
		ids = append(ids, d.ID)
	}
	require.Equal(t, []string{"in-0", "in-1", "in-2", "in-3", "in-4"}, ids)
}

func TestSearchYearRangeFilter(t *testing.T) {
	e := NewEngine(seed(t,
		abstract("a", 1999, "audit", nil),
		abstract("b", 2000, "audit", nil),
		abstract("c", 2010, "audit", nil),
		abstract("d", 2011, "audit", nil),
	), nil, nil)
	res, err := e.Search(context.Background(), models.Query{Topic: "audit", YearStart: 2000, YearEnd: 2010, Limit: 100})
	require.NoError(t, err)
	require.Len(t, res.Documents, 2)
	for _, d := range res.Documents {
		require.True(t, d.Year >= 2000 && d.Year <= 2010, "year %d out of range", d.Year)
	}
}

func TestSearchBooleanPhrases(t *testing.T) {
	store := seed(t,
		abstract("both", 2015, "audit quality and earnings management", nil),
		abstract("aq", 2015, "audit quality only", nil),
		abstract("em", 2015, "earnings management only", nil),
		abstract("none", 2015, "tax avoidance", nil),
	)
	e := NewEngine(store, nil, nil)
	phrases := []string{"audit quality", "earnings management"}

	and, err := e.Search(context.Background(), models.Query{Topic: "audit", YearStart: 2000, YearEnd: 2020, Contains: phrases, Condition: models.CombineAnd, Limit: 10})
	require.NoError(t, err)
	require.Len(t, and.Documents, 1)
	for _, d := range and.Documents {
		require.Contains(t, d.Text, "audit quality")
		require.Contains(t, d.Text, "earnings management")
	}

	or, err := e.Search(context.Background(), models.Query{Topic: "audit", YearStart: 2000, YearEnd: 2020, Contains: phrases, Condition: models.CombineOr, Limit: 10})
	require.NoError(t, err)
	require.Len(t, or.Documents, 3)
	for _, d := range or.Documents {
		require.True(t, strings.Contains(d.Text, "audit quality") || strings.Contains(d.Text, "earnings management"))
	}

	def, err := e.Search(context.Background(), models.Query{Topic: "audit", YearStart: 2000, YearEnd: 2020, Contains: phrases, Limit: 10})
	require.NoError(t, err)
	require.Len(t, def.Documents, 1)
}

func TestSearchJournalAndAuthorFilters(t *testing.T) {
	e := NewEngine(seed(t,
		abstract("a", 2015, "Smith, J. audit study", vector.Metadata{"journal": "JAR", "authors": "Smith, J."}),
		abstract("b", 2015, "Lee, K. audit study", vector.Metadata{"journal": "TAR", "authors": "Lee, K."}),
		abstract("c", 2015, "Smith, J. audit again", vector.Metadata{"journal": "CAR", "authors": "Smith, J."}),
	), nil, nil)

	res, err := e.Search(context.Background(), models.Query{Topic: "audit", YearStart: 2000, YearEnd: 2020, Journals: []string{"JAR", "TAR"}, Author: "Smith", Limit: 10})
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	require.Equal(t, "a", res.Documents[0].ID)
	require.Equal(t, "audit study", res.Documents[0].Text)
}

func TestSearchDOIBatchPartialFailure(t *testing.T) {
	store := seed(t, abstract("local", 2018, "audit quality", vector.Metadata{"doi": "10.1/a"}))
	works := &fakeWorks{docs: map[string]models.Document{
		"10.1/b": {ID: models.DocumentIDFromDOI("10.1/b"), Title: "Remote", DOI: "10.1/b", Text: " remote abstract "},
	}}
	e := NewEngine(store, works, nil)

	res, err := e.Search(context.Background(), models.Query{
		Topic: "ignored",
		DOIs:  "10.1/b\nhttps://doi.org/10.1/a\n\n10.1/c\n10.1/A\n",
	})
	require.NoError(t, err)
	require.Len(t, res.Documents, 2)
	require.Equal(t, "Remote", res.Documents[0].Title)
	require.Equal(t, "remote abstract", res.Documents[0].Text)
	require.Equal(t, "abstract", res.Documents[0].Type)
	require.Equal(t, "local", res.Documents[1].ID)
	require.Len(t, res.Failures, 1)
	require.Equal(t, "10.1/c", res.Failures[0].DOI)
	require.True(t, errors.Is(res.Failures[0].Err, util.ErrNotFound))
	require.Equal(t, []string{"10.1/b", "10.1/c"}, works.calls)
}

func TestSearchDOIMatchesCorpusCaseInsensitively(t *testing.T) {
	store := seed(t,
		abstract("jar-486", 2019, "audit quality", vector.Metadata{"doi": "10.1111/1475-679X.12486"}),
		abstract("tar-77", 2020, "audit fees", vector.Metadata{"doi": "https://doi.org/10.2308/TAR-2018-0077"}),
	)
	works := &fakeWorks{}
	e := NewEngine(store, works, nil)

	for i := 0; i < 2; i++ {
		res, err := e.Search(context.Background(), models.Query{DOIs: "10.1111/1475-679X.12486\n10.2308/tar-2018-0077"})
		require.NoError(t, err)
		require.Empty(t, res.Failures)
		require.Len(t, res.Documents, 2)
		require.Equal(t, "jar-486", res.Documents[0].ID)
		require.Equal(t, "tar-77", res.Documents[1].ID)
	}
	require.Empty(t, works.calls)
}

func TestSearchRequiresCriteria(t *testing.T) {
	e := NewEngine(seed(t), nil, nil)
	_, err := e.Search(context.Background(), models.Query{Topic: "   ", DOIs: "\n \n"})
	require.ErrorIs(t, err, util.ErrNoSearchCriteria)
	require.Equal(t, util.KindUserInput, util.KindOf(err))

	_, err = e.Search(context.Background(), models.Query{Topic: "audit", YearStart: 2020, YearEnd: 2010})
	require.ErrorIs(t, err, util.ErrInvalidInput)
}

func TestSearchClampsLimitAndSorts(t *testing.T) {
	recs := make([]vector.Record, 0, 120)
	for i := 0; i < 120; i++ {
		recs = append(recs, abstract(fmt.Sprintf("r%d", i), 2000+i%20, "audit", vector.Metadata{"cite_counts": i}))
	}
	e := NewEngine(seed(t, recs...), nil, nil)
	res, err := e.Search(context.Background(), models.Query{Topic: "audit", YearStart: 1990, YearEnd: 2030, Limit: 500, SortBy: models.SortCitations})
	require.NoError(t, err)
	require.Len(t, res.Documents, MaxLimit)
	for i := 1; i < len(res.Documents); i++ {
		require.GreaterOrEqual(t, res.Documents[i-1].CiteCounts, res.Documents[i].CiteCounts)
	}

	res, err = e.Search(context.Background(), models.Query{Topic: "audit", YearStart: 1990, YearEnd: 2030})
	require.NoError(t, err)
	require.Len(t, res.Documents, DefaultLimit)
}

func TestBuildFilter(t *testing.T) {
	where, doc := BuildFilter(models.Query{YearStart: 2000, YearEnd: 2010, Journals: []string{"JAR"}, Contains: []string{"x"}})
	require.JSONEq(t, `{"$and":[{"journal":{"$eq":"JAR"}},{"$and":[{"year":{"$gte":2000}},{"year":{"$lte":2010}}]}]}`, where.String())
	require.JSONEq(t, `{"$contains":"x"}`, doc.String())

	where, doc = BuildFilter(models.Query{YearStart: 2000, YearEnd: 2010})
	require.JSONEq(t, `{"$and":[{"year":{"$gte":2000}},{"year":{"$lte":2010}}]}`, where.String())
	require.True(t, doc.IsZero())
}

func TestSplitDOIs(t *testing.T) {
	require.Equal(t, []string{"10.1/a", "10.2/b"}, SplitDOIs(" 10.1/A \nhttps://doi.org/10.1/a\r\n\n10.2/b"))
}

func TestParsePhrases(t *testing.T) {
	p, c := ParsePhrases(`"audit quality" OR "earnings management"`)
	require.Equal(t, []string{"audit quality", "earnings management"}, p)
	require.Equal(t, models.CombineOr, c)

	p, c = ParsePhrases(`"audit quality" "earnings management"`)
	require.Len(t, p, 2)
	require.Equal(t, models.CombineAnd, c)

	p, c = ParsePhrases(`going concern AND tax`)
	require.Equal(t, []string{"going concern", "tax"}, p)
	require.Equal(t, models.CombineAnd, c)

	p, _ = ParsePhrases("   ")
	require.Empty(t, p)
}
