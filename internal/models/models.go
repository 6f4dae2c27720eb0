package models

import (
	"fmt"
	"strings"
	"time"

	"litground/internal/util"
)

type Source string

const (
	SourceCorpusAbstract Source = "corpus-abstract"
	SourcePDFChunk       Source = "pdf-chunk"
	SourceAdHocText      Source = "ad-hoc-text"
)

// Citation is a resolved reference. Unresolved marks a placeholder that
// should be regenerated by the user.
type Citation struct {
	Full       string `json:"full"`
	Short      string `json:"short"`
	Unresolved bool   `json:"unresolved,omitempty"`
}

func (c *Citation) IsZero() bool {
	return c == nil || (strings.TrimSpace(c.Full) == "" && strings.TrimSpace(c.Short) == "")
}

const (
	UnknownCitationFull  = "Unknown Citation"
	UnknownCitationShort = "Unknown, n.d."
)

func UnknownCitation() Citation {
	return Citation{Full: UnknownCitationFull, Short: UnknownCitationShort, Unresolved: true}
}

type Document struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Authors    string    `json:"authors,omitempty"`
	Year       int       `json:"year,omitempty"`
	Journal    string    `json:"journal,omitempty"`
	DOI        string    `json:"doi,omitempty"`
	Text       string    `json:"text"`
	Citation   *Citation `json:"citation,omitempty"`
	Source     Source    `json:"source"`
	Type       string    `json:"type,omitempty"`
	CiteCounts int       `json:"cite_counts,omitempty"`
	Relevance  float64   `json:"relevance,omitempty"`
	Pages      int       `json:"pages,omitempty"`
}

type Chunk struct {
	ParentDocumentID string `json:"parent_document_id"`
	PageNumber       int    `json:"page_number"`
	ChunkIndex       int    `json:"chunk_index"`
	Text             string `json:"text"`
}

func (c Chunk) Key() string {
	return ChunkKey(c.ParentDocumentID, c.PageNumber, c.ChunkIndex)
}

func ChunkKey(docID string, page, index int) string {
	return fmt.Sprintf("%s_page_%d_part_%d", docID, page, index)
}

type ContextEntry struct {
	DisplayLabel  string   `json:"display_label"`
	GroundingText string   `json:"grounding_text"`
	Document      Document `json:"document"`
}

type Combinator string

const (
	CombineAnd Combinator = "AND"
	CombineOr  Combinator = "OR"
)

// ParseCombinator reads AND/OR case-insensitively; anything else is AND.
func ParseCombinator(s string) Combinator {
	if strings.EqualFold(strings.TrimSpace(s), string(CombineOr)) {
		return CombineOr
	}
	return CombineAnd
}

type SortOrder string

const (
	SortRelevance SortOrder = "relevance"
	SortCitations SortOrder = "citations"
	SortYear      SortOrder = "year"
)

type Query struct {
	Topic     string     `json:"topic"`
	YearStart int        `json:"year_start"`
	YearEnd   int        `json:"year_end"`
	Journals  []string   `json:"journals,omitempty"`
	Contains  []string   `json:"contains,omitempty"`
	Condition Combinator `json:"condition,omitempty"`
	Author    string     `json:"author,omitempty"`
	DOIs      string     `json:"dois,omitempty"`
	Limit     int        `json:"limit"`
	SortBy    SortOrder  `json:"sort_by,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRecord is the persisted shape of one chat.
type ChatRecord struct {
	ID          string     `json:"id"`
	ChatName    string     `json:"chat_name"`
	LastUpdated time.Time  `json:"last_updated"`
	Chat        []Message  `json:"chat"`
	Articles    []Document `json:"articles"`
	PDFs        []Document `json:"pdfs"`
}

// NormalizeText picks the first non-empty of text, abstract and summary.
func NormalizeText(text, abstract, summary string) string {
	for _, s := range []string{text, abstract, summary} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

func DocumentIDFromDOI(doi string) string {
	return "doi-" + util.ShortHash([]byte(util.NormalizeDOI(doi)), 24)
}

func DocumentIDFromContent(b []byte) string {
	return "pdf-" + util.ShortHash(b, 24)
}

func DocumentIDFromText(text string) string {
	return "txt-" + util.ShortHash([]byte(strings.TrimSpace(text)), 24)
}

// NewAdHocDocument wraps user-submitted free text as a Document.
func NewAdHocDocument(title, text string) Document {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "User Notes"
	}
	return Document{
		ID:     DocumentIDFromText(title + "\n" + text),
		Title:  title,
		Text:   NormalizeText(text, "", ""),
		Source: SourceAdHocText,
		Type:   "text",
	}
}
