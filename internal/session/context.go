package session

import (
	"sync"
	"time"

	"litground/internal/grounding"
	"litground/internal/models"
)

// SessionContext is the state of one chat: its grounding set, transcript and
// latest search results. Callers hold mu for the duration of an operation.
type SessionContext struct {
	mu sync.Mutex

	ID          string
	Name        string
	LastUpdated time.Time
	Messages    []models.Message
	Grounding   *grounding.Set
	Results     []models.Document
}

func newSessionContext(rec models.ChatRecord) *SessionContext {
	s := &SessionContext{
		ID:          rec.ID,
		Name:        rec.ChatName,
		LastUpdated: rec.LastUpdated,
		Messages:    append([]models.Message(nil), rec.Chat...),
		Grounding:   grounding.NewSet(),
	}
	for _, d := range rec.Articles {
		d.Text = models.NormalizeText(d.Text, "", "")
		s.Grounding.Pin(d)
	}
	for _, d := range rec.PDFs {
		d.Text = models.NormalizeText(d.Text, "", "")
		s.Grounding.Pin(d)
	}
	return s
}

func (s *SessionContext) record() models.ChatRecord {
	articles, pdfs := s.Grounding.Documents()
	return models.ChatRecord{
		ID:          s.ID,
		ChatName:    s.Name,
		LastUpdated: s.LastUpdated,
		Chat:        append([]models.Message{}, s.Messages...),
		Articles:    articles,
		PDFs:        pdfs,
	}
}

type sessionState struct {
	name        string
	lastUpdated time.Time
	messages    []models.Message
	grounding   *grounding.Set
	results     []models.Document
}

func (s *SessionContext) snapshot() sessionState {
	return sessionState{
		name:        s.Name,
		lastUpdated: s.LastUpdated,
		messages:    append([]models.Message(nil), s.Messages...),
		grounding:   s.Grounding.Clone(),
		results:     append([]models.Document(nil), s.Results...),
	}
}

// restore puts back state taken by snapshot after a change could not be saved.
func (s *SessionContext) restore(snap sessionState) {
	s.Name = snap.name
	s.LastUpdated = snap.lastUpdated
	s.Messages = snap.messages
	s.Grounding = snap.grounding
	s.Results = snap.results
}

// ContextView is a read-only snapshot of a grounding set.
type ContextView struct {
	Transcript []string              `json:"transcript"`
	Entries    []models.ContextEntry `json:"entries"`
}

func (s *SessionContext) view() ContextView {
	return ContextView{Transcript: s.Grounding.Transcript(), Entries: s.Grounding.Entries()}
}
