package grounding

import (
	"fmt"
	"strconv"
	"strings"

	"litground/internal/models"
	"litground/internal/util"
)

// MinGroundingText is the shortest body, in runes, treated as a usable abstract.
const MinGroundingText = 50

const labelRunes = 100

// PrepareForGrounding derives the transcript label and prompt block for doc.
func PrepareForGrounding(doc models.Document) models.ContextEntry {
	return models.ContextEntry{
		DisplayLabel:  DisplayLabel(doc),
		GroundingText: groundingText(doc),
		Document:      doc,
	}
}

// DisplayLabel is the membership key of a document in a Set.
func DisplayLabel(doc models.Document) string {
	title := strings.TrimSpace(doc.Title)
	if title == "" {
		title = doc.ID
	}
	title = util.DisplaySnippet(title, labelRunes)
	if doc.Source == models.SourceAdHocText {
		return title + ": " + util.DisplaySnippet(doc.Text, 60)
	}
	return fmt.Sprintf("%s (%s)", title, yearOrND(doc.Year))
}

// CitationLine prefers authors and year, then a resolved citation, else "".
func CitationLine(doc models.Document) string {
	if a := strings.TrimSpace(doc.Authors); a != "" && doc.Year > 0 {
		return fmt.Sprintf("%s (%d)", a, doc.Year)
	}
	if !doc.Citation.IsZero() && !doc.Citation.Unresolved {
		return strings.TrimSpace(doc.Citation.Full)
	}
	return ""
}

func groundingText(doc models.Document) string {
	body := models.NormalizeText(doc.Text, "", "")
	if len([]rune(body)) < MinGroundingText {
		body = fallbackBody(doc)
	}
	var b strings.Builder
	if t := strings.TrimSpace(doc.Title); t != "" {
		b.WriteString("Title: " + t + "\n")
	}
	if c := CitationLine(doc); c != "" {
		b.WriteString("Citation: " + c + "\n")
	}
	if doc.DOI != "" {
		b.WriteString("DOI: " + doc.DOI + "\n")
	}
	b.WriteString(body)
	return b.String()
}

func fallbackBody(doc models.Document) string {
	title := strings.TrimSpace(doc.Title)
	if title == "" {
		title = "Untitled"
	}
	journal := strings.TrimSpace(doc.Journal)
	if journal == "" {
		journal = "Unknown"
	}
	return fmt.Sprintf("Title: %s Journal: %s Year: %s", title, journal, yearOrND(doc.Year))
}

func yearOrND(y int) string {
	if y <= 0 {
		return "n.d."
	}
	return strconv.Itoa(y)
}
