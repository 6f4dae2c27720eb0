package doi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"litground/internal/models"
	"litground/internal/util"

	"golang.org/x/time/rate"
)

type Config struct {
	DOIBaseURL      string
	CrossrefBaseURL string
	Mailto          string
	RPS             float64
}

// Client resolves DOIs against doi.org content negotiation and the Crossref works API.
type Client struct {
	doiBase      string
	crossrefBase string
	mailto       string
	http         *http.Client
	limiter      *rate.Limiter
}

func NewClient(cfg Config) *Client {
	rps := cfg.RPS
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		doiBase:      strings.TrimRight(orDefault(cfg.DOIBaseURL, "https://doi.org"), "/"),
		crossrefBase: strings.TrimRight(orDefault(cfg.CrossrefBaseURL, "https://api.crossref.org"), "/"),
		mailto:       strings.TrimSpace(cfg.Mailto),
		http:         &http.Client{Timeout: 20 * time.Second},
		limiter:      rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// FormatCitation returns the bibliography entry for doi rendered in style (e.g. "apa").
func (c *Client) FormatCitation(ctx context.Context, doi, style string) (string, error) {
	doi = util.NormalizeDOI(doi)
	if doi == "" {
		return "", fmt.Errorf("%w: empty doi", util.ErrInvalidInput)
	}
	if style == "" {
		style = "apa"
	}
	body, err := c.get(ctx, c.doiBase+"/"+escapeDOI(doi), "text/x-bibliography; style="+style+"; locale=en-US", doi)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return "", util.Upstream("format citation "+doi, fmt.Errorf("empty response"))
	}
	return text, nil
}

type work struct {
	DOI            string   `json:"DOI"`
	URL            string   `json:"URL"`
	Title          []string `json:"title"`
	ContainerTitle []string `json:"container-title"`
	Abstract       string   `json:"abstract"`
	Type           string   `json:"type"`
	ReferencedBy   int      `json:"is-referenced-by-count"`
	Author         []struct {
		Given  string `json:"given"`
		Family string `json:"family"`
		Name   string `json:"name"`
	} `json:"author"`
	Issued    dateParts `json:"issued"`
	Published dateParts `json:"published"`
}

type dateParts struct {
	DateParts [][]int `json:"date-parts"`
}

func (d dateParts) year() int {
	if len(d.DateParts) == 0 || len(d.DateParts[0]) == 0 {
		return 0
	}
	return d.DateParts[0][0]
}

// LookupWork materializes a corpus-shaped Document for a DOI that is not stored locally.
func (c *Client) LookupWork(ctx context.Context, doi string) (models.Document, error) {
	doi = util.NormalizeDOI(doi)
	if doi == "" {
		return models.Document{}, fmt.Errorf("%w: empty doi", util.ErrInvalidInput)
	}
	endpoint := c.crossrefBase + "/works/" + escapeDOI(doi)
	if c.mailto != "" {
		endpoint += "?mailto=" + url.QueryEscape(c.mailto)
	}
	body, err := c.get(ctx, endpoint, "application/json", doi)
	if err != nil {
		return models.Document{}, err
	}
	var parsed struct {
		Message work `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return models.Document{}, util.Upstream("decode crossref work "+doi, err)
	}
	w := parsed.Message
	families := make([]string, 0, len(w.Author))
	for _, a := range w.Author {
		name := strings.TrimSpace(a.Family)
		if name == "" {
			name = strings.TrimSpace(a.Name)
		}
		if name != "" {
			families = append(families, name)
		}
	}
	year := w.Issued.year()
	if year == 0 {
		year = w.Published.year()
	}
	title := first(w.Title)
	doc := models.Document{
		ID:         models.DocumentIDFromDOI(doi),
		Title:      title,
		Authors:    strings.Join(families, ", "),
		Year:       year,
		Journal:    first(w.ContainerTitle),
		DOI:        doi,
		Text:       models.NormalizeText(StripJATS(w.Abstract), "", title),
		Source:     models.SourceCorpusAbstract,
		Type:       "abstract",
		CiteCounts: w.ReferencedBy,
	}
	return doc, nil
}

func (c *Client) get(ctx context.Context, endpoint, accept, doi string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build doi request: %w", err)
	}
	req.Header.Set("Accept", accept)
	if c.mailto != "" {
		req.Header.Set("User-Agent", "litground (mailto:"+c.mailto+")")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, util.Upstream("resolve doi "+doi, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, util.Upstream("read doi response "+doi, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("could not get %s: %w: please ensure the DOI is correct or upload the PDF", doi, util.ErrNotFound)
	case resp.StatusCode >= 400:
		return nil, util.Upstream("resolve doi "+doi, fmt.Errorf("status %d", resp.StatusCode))
	}
	return body, nil
}

var jatsTag = regexp.MustCompile(`<[^>]+>`)

// StripJATS removes JATS XML markup Crossref embeds in abstracts.
func StripJATS(s string) string {
	s = jatsTag.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

func escapeDOI(doi string) string {
	parts := strings.Split(doi, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func first(xs []string) string {
	if len(xs) == 0 {
		return ""
	}
	return strings.TrimSpace(xs[0])
}

func orDefault(s, d string) string {
	if strings.TrimSpace(s) == "" {
		return d
	}
	return s
}
