package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"litground/internal/ingest"
	"litground/internal/logger"
	"litground/internal/models"
	"litground/internal/providers"
	"litground/internal/search"
	"litground/internal/storage"
	"litground/internal/util"

	"github.com/google/uuid"
)

const DefaultMaxReviewItems = 20

type Searcher interface {
	Search(ctx context.Context, q models.Query) (search.Result, error)
}

// Importer is the slice of ingest.Ingester a chat needs.
type Importer interface {
	Ingest(ctx context.Context, data []byte, doiHint string) (models.Document, error)
	Remove(ctx context.Context, docID string) error
	SearchChunks(ctx context.Context, docID, query string, k int) ([]models.Chunk, error)
}

type Citations interface {
	Resolve(ctx context.Context, doc models.Document) (models.Citation, error)
	Regenerate(ctx context.Context, doc models.Document) (models.Citation, error)
}

// AuditLog records completion and extraction calls; storage.LLMAuditRepo implements it.
type AuditLog interface {
	Insert(ctx context.Context, rec storage.LLMCallRecord) error
}

type CompletionSettings struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

type Deps struct {
	Chats     ChatStore
	Search    Searcher
	Ingest    Importer
	Citations Citations
	Completer providers.Completer
	Audit     AuditLog
	Log       *logger.Logger
}

type Options struct {
	Completion     CompletionSettings
	MaxReviewItems int
}

// Manager owns the live SessionContext of every open chat.
type Manager struct {
	deps Deps
	opts Options
	log  *logger.Logger
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*SessionContext
}

func NewManager(deps Deps, opts Options) *Manager {
	if deps.Chats == nil {
		deps.Chats = NewMemoryChatStore()
	}
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	if opts.MaxReviewItems <= 0 {
		opts.MaxReviewItems = DefaultMaxReviewItems
	}
	return &Manager{deps: deps, opts: opts, log: log, now: time.Now, sessions: map[string]*SessionContext{}}
}

func (m *Manager) CreateChat(ctx context.Context, name string) (models.ChatRecord, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "New chat"
	}
	rec := models.ChatRecord{
		ID:          uuid.NewString(),
		ChatName:    name,
		LastUpdated: m.now().UTC(),
		Chat:        []models.Message{},
		Articles:    []models.Document{},
		PDFs:        []models.Document{},
	}
	if err := m.deps.Chats.Save(ctx, rec); err != nil {
		return models.ChatRecord{}, fmt.Errorf("create chat: %w", err)
	}
	m.mu.Lock()
	m.sessions[rec.ID] = newSessionContext(rec)
	m.mu.Unlock()
	return rec, nil
}

// ListChats returns every chat, most recently updated first.
func (m *Manager) ListChats(ctx context.Context) ([]models.ChatRecord, error) {
	recs, err := m.deps.Chats.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return recs, nil
}

func (m *Manager) Chat(ctx context.Context, chatID string) (models.ChatRecord, error) {
	var rec models.ChatRecord
	err := m.with(ctx, chatID, func(s *SessionContext) error {
		rec = s.record()
		return nil
	})
	return rec, err
}

func (m *Manager) RenameChat(ctx context.Context, chatID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: chat name is required", util.ErrInvalidInput)
	}
	return m.mutate(ctx, chatID, func(s *SessionContext) error {
		s.Name = name
		return nil
	})
}

func (m *Manager) DeleteChat(ctx context.Context, chatID string) error {
	if err := m.deps.Chats.Delete(ctx, chatID); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	m.mu.Lock()
	delete(m.sessions, chatID)
	m.mu.Unlock()
	return nil
}

// ClearMessages empties the transcript but keeps the grounding set.
func (m *Manager) ClearMessages(ctx context.Context, chatID string) error {
	return m.mutate(ctx, chatID, func(s *SessionContext) error {
		s.Messages = nil
		return nil
	})
}

func (m *Manager) Search(ctx context.Context, chatID string, q models.Query) (search.Result, error) {
	if m.deps.Search == nil {
		return search.Result{}, fmt.Errorf("search is not configured")
	}
	var res search.Result
	err := m.with(ctx, chatID, func(s *SessionContext) error {
		var err error
		res, err = m.deps.Search.Search(ctx, q)
		if err != nil {
			return err
		}
		s.Results = res.Documents
		return nil
	})
	return res, err
}

func (m *Manager) Pin(ctx context.Context, chatID string, doc models.Document) (bool, error) {
	if strings.TrimSpace(doc.ID) == "" {
		return false, fmt.Errorf("%w: document id is required", util.ErrInvalidInput)
	}
	doc.Text = models.NormalizeText(doc.Text, "", "")
	changed := false
	err := m.mutate(ctx, chatID, func(s *SessionContext) error {
		changed = s.Grounding.Pin(doc)
		return nil
	})
	return changed, err
}

func (m *Manager) Unpin(ctx context.Context, chatID string, doc models.Document) (bool, error) {
	changed := false
	err := m.mutate(ctx, chatID, func(s *SessionContext) error {
		changed = s.Grounding.Unpin(doc)
		return nil
	})
	return changed, err
}

func (m *Manager) UnpinAt(ctx context.Context, chatID string, index int) (bool, error) {
	changed := false
	err := m.mutate(ctx, chatID, func(s *SessionContext) error {
		changed = s.Grounding.RemoveAt(index)
		return nil
	})
	return changed, err
}

func (m *Manager) ClearContext(ctx context.Context, chatID string) error {
	return m.mutate(ctx, chatID, func(s *SessionContext) error {
		s.Grounding.Clear()
		return nil
	})
}

func (m *Manager) Context(ctx context.Context, chatID string) (ContextView, error) {
	var v ContextView
	err := m.with(ctx, chatID, func(s *SessionContext) error {
		v = s.view()
		return nil
	})
	return v, err
}

// UploadPDF ingests a PDF and, when pin is set, adds it to the chat's context.
// A PDF that is already imported, here or in another chat, is not stored again:
// the stored document is pinned and returned together with the duplicate error.
func (m *Manager) UploadPDF(ctx context.Context, chatID string, data []byte, doiHint string, pin bool) (models.Document, error) {
	if m.deps.Ingest == nil {
		return models.Document{}, fmt.Errorf("ingestion is not configured")
	}
	var (
		doc    models.Document
		dupErr error
	)
	err := m.mutate(ctx, chatID, func(s *SessionContext) error {
		var err error
		doc, err = m.deps.Ingest.Ingest(ctx, data, doiHint)
		var dup *ingest.DuplicateError
		switch {
		case errors.As(err, &dup) && dup.Document.ID != "":
			doc, dupErr = dup.Document, err
		case err != nil:
			return err
		}
		if pin {
			s.Grounding.Pin(doc)
		}
		return nil
	})
	if err != nil {
		return models.Document{}, err
	}
	return doc, dupErr
}

// RemovePDF unpins an imported PDF from the chat. Its chunks are deleted once
// no other chat still holds the document.
func (m *Manager) RemovePDF(ctx context.Context, chatID, docID string) error {
	return m.mutate(ctx, chatID, func(s *SessionContext) error {
		if m.deps.Ingest != nil {
			shared, err := m.heldElsewhere(ctx, chatID, docID)
			if err != nil {
				return err
			}
			if shared {
				m.log.Info("pdf kept, still pinned in another chat", "chat_id", chatID, "doc_id", docID)
			} else if err := m.deps.Ingest.Remove(ctx, docID); err != nil && !errors.Is(err, util.ErrNotFound) {
				return err
			}
		}
		for i := s.Grounding.Len() - 1; i >= 0; i-- {
			if s.Grounding.Entries()[i].Document.ID == docID {
				s.Grounding.RemoveAt(i)
			}
		}
		return nil
	})
}

// heldElsewhere reports whether a chat other than chatID lists docID among its PDFs.
func (m *Manager) heldElsewhere(ctx context.Context, chatID, docID string) (bool, error) {
	recs, err := m.deps.Chats.List(ctx)
	if err != nil {
		return false, fmt.Errorf("list chats: %w", err)
	}
	for _, rec := range recs {
		if rec.ID == chatID {
			continue
		}
		for _, d := range rec.PDFs {
			if d.ID == docID {
				return true, nil
			}
		}
	}
	return false, nil
}

// RegenerateCitation re-resolves a pinned document's citation, overwriting the cache.
func (m *Manager) RegenerateCitation(ctx context.Context, chatID, docID string) (models.Citation, error) {
	if m.deps.Citations == nil {
		return models.Citation{}, fmt.Errorf("citations are not configured")
	}
	var (
		c        models.Citation
		resolveE error
	)
	err := m.mutate(ctx, chatID, func(s *SessionContext) error {
		doc, ok := findDocument(s, docID)
		if !ok {
			return fmt.Errorf("document %s is not in this chat: %w", docID, util.ErrNotFound)
		}
		c, resolveE = m.deps.Citations.Regenerate(ctx, doc)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// an unresolved placeholder is still recorded so the entry shows it
		if !c.IsZero() {
			s.Grounding.Annotate(docID, c)
		}
		return nil
	})
	if err != nil {
		return models.Citation{}, err
	}
	return c, resolveE
}

func findDocument(s *SessionContext, docID string) (models.Document, bool) {
	for _, e := range s.Grounding.Entries() {
		if e.Document.ID == docID {
			return e.Document, true
		}
	}
	for _, d := range s.Results {
		if d.ID == docID {
			return d, true
		}
	}
	return models.Document{}, false
}

// with runs fn under the session lock.
func (m *Manager) with(ctx context.Context, chatID string, fn func(*SessionContext) error) error {
	s, err := m.session(ctx, chatID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s)
}

// mutate is with plus persistence of the updated record. When fn or the save
// fails the session is rolled back, so memory never runs ahead of the store.
func (m *Manager) mutate(ctx context.Context, chatID string, fn func(*SessionContext) error) error {
	return m.with(ctx, chatID, func(s *SessionContext) error {
		snap := s.snapshot()
		if err := fn(s); err != nil {
			s.restore(snap)
			return err
		}
		if err := m.persist(ctx, s); err != nil {
			s.restore(snap)
			return err
		}
		return nil
	})
}

func (m *Manager) persist(ctx context.Context, s *SessionContext) error {
	s.LastUpdated = m.now().UTC()
	if err := m.deps.Chats.Save(ctx, s.record()); err != nil {
		return fmt.Errorf("save chat %s: %w", s.ID, err)
	}
	return nil
}

func (m *Manager) session(ctx context.Context, chatID string) (*SessionContext, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, fmt.Errorf("%w: chat id is required", util.ErrInvalidInput)
	}
	m.mu.Lock()
	s, ok := m.sessions[chatID]
	m.mu.Unlock()
	if ok {
		return s, nil
	}
	rec, err := m.deps.Chats.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	rec.ID = chatID
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[chatID]; ok {
		return s, nil
	}
	s = newSessionContext(rec)
	m.sessions[chatID] = s
	return s, nil
}
