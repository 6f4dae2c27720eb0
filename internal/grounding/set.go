package grounding

import (
	"litground/internal/models"
)

// Set is the grounding set of one chat together with its transcript and
// prompt projections. The three slices always have equal length and are
// index-aligned. A Set is not safe for concurrent use.
type Set struct {
	entries    []models.ContextEntry
	transcript []string
	prompt     []string
}

func NewSet() *Set { return &Set{} }

// Pin adds doc unless a document with the same display label is present.
// It reports whether the set changed.
func (s *Set) Pin(doc models.Document) bool {
	e := PrepareForGrounding(doc)
	if s.indexOf(e.DisplayLabel) >= 0 {
		return false
	}
	s.entries = append(s.entries, e)
	s.transcript = append(s.transcript, e.DisplayLabel)
	s.prompt = append(s.prompt, e.GroundingText)
	return true
}

// Unpin removes doc if present; removing an absent document is a no-op.
func (s *Set) Unpin(doc models.Document) bool {
	return s.RemoveAt(s.indexOf(DisplayLabel(doc)))
}

func (s *Set) RemoveAt(i int) bool {
	if i < 0 || i >= len(s.entries) {
		return false
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	s.transcript = append(s.transcript[:i], s.transcript[i+1:]...)
	s.prompt = append(s.prompt[:i], s.prompt[i+1:]...)
	return true
}

// Clone returns an independent copy; edits to either set do not affect the other.
func (s *Set) Clone() *Set {
	return &Set{
		entries:    append([]models.ContextEntry(nil), s.entries...),
		transcript: append([]string(nil), s.transcript...),
		prompt:     append([]string(nil), s.prompt...),
	}
}

func (s *Set) Clear() {
	s.entries = nil
	s.transcript = nil
	s.prompt = nil
}

// Annotate attaches c to every entry for docID and rebuilds their prompt
// text. Labels do not change, so membership is unaffected.
func (s *Set) Annotate(docID string, c models.Citation) int {
	n := 0
	for i := range s.entries {
		if s.entries[i].Document.ID != docID {
			continue
		}
		cc := c
		doc := s.entries[i].Document
		doc.Citation = &cc
		s.entries[i] = models.ContextEntry{
			DisplayLabel:  s.entries[i].DisplayLabel,
			GroundingText: groundingText(doc),
			Document:      doc,
		}
		s.prompt[i] = s.entries[i].GroundingText
		n++
	}
	return n
}

func (s *Set) Contains(doc models.Document) bool {
	return s.indexOf(DisplayLabel(doc)) >= 0
}

func (s *Set) Len() int { return len(s.entries) }

func (s *Set) Transcript() []string { return append([]string(nil), s.transcript...) }

func (s *Set) Prompt() []string { return append([]string(nil), s.prompt...) }

func (s *Set) Entries() []models.ContextEntry {
	return append([]models.ContextEntry(nil), s.entries...)
}

// Documents returns the pinned documents split by origin, the shape stored
// in a chat record.
func (s *Set) Documents() (articles, pdfs []models.Document) {
	articles = make([]models.Document, 0, len(s.entries))
	pdfs = make([]models.Document, 0)
	for _, e := range s.entries {
		if e.Document.Source == models.SourcePDFChunk {
			pdfs = append(pdfs, e.Document)
			continue
		}
		articles = append(articles, e.Document)
	}
	return articles, pdfs
}

func (s *Set) indexOf(label string) int {
	for i, l := range s.transcript {
		if l == label {
			return i
		}
	}
	return -1
}
