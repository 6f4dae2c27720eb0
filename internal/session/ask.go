package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"litground/internal/models"
	"litground/internal/prompt"
	"litground/internal/providers"
	"litground/internal/storage"
	"litground/internal/util"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	citationLookups  = 4
	questionExcerpts = 4
)

type Mode string

const (
	ModeReview   Mode = "review"
	ModeQuestion Mode = "question"
)

type AskRequest struct {
	Instruction string `json:"instruction"`
	Mode        Mode   `json:"mode,omitempty"`
	Model       string `json:"model,omitempty"`
}

// Ask runs a grounded completion over the chat's context. Citations are
// resolved and the prompt assembled before streaming starts; the grounding
// set is not touched afterwards. The transcript is only extended when the
// stream completes.
func (m *Manager) Ask(ctx context.Context, chatID string, req AskRequest, onDelta providers.DeltaFunc) (string, error) {
	instruction := strings.TrimSpace(req.Instruction)
	if instruction == "" {
		return "", util.ErrEmptyInstruction
	}
	if m.deps.Completer == nil {
		return "", fmt.Errorf("completion is not configured")
	}
	var answer string
	err := m.with(ctx, chatID, func(s *SessionContext) error {
		if n := s.Grounding.Len(); n > m.opts.MaxReviewItems {
			return fmt.Errorf("%w: %d selected, limit is %d", util.ErrTooManyItems, n, m.opts.MaxReviewItems)
		}
		m.annotate(ctx, s)
		if err := ctx.Err(); err != nil {
			return err
		}

		var msgs []providers.Message
		if req.Mode == ModeQuestion {
			msgs = prompt.BuildQuestion(m.questionEntries(ctx, s.ID, s.Grounding.Entries(), instruction), instruction)
		} else {
			msgs = prompt.Build(s.Grounding.Entries(), instruction)
		}
		model := strings.TrimSpace(req.Model)
		if model == "" {
			model = m.opts.Completion.Model
		}

		var b strings.Builder
		info, err := m.deps.Completer.Stream(ctx, providers.CompletionRequest{
			Model:       model,
			Messages:    msgs,
			Temperature: m.opts.Completion.Temperature,
			MaxTokens:   m.opts.Completion.MaxTokens,
		}, func(delta string) error {
			b.WriteString(delta)
			if onDelta != nil {
				return onDelta(delta)
			}
			return nil
		})
		m.audit(ctx, s.ID, "review_completion", info, model, err)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, util.ErrUpstream) {
				return err
			}
			return util.Upstream("stream completion", err)
		}

		answer = b.String()
		snap := s.snapshot()
		s.Messages = append(s.Messages,
			models.Message{Role: providers.RoleUser, Content: instruction},
			models.Message{Role: providers.RoleAssistant, Content: answer},
		)
		if err := m.persist(ctx, s); err != nil {
			s.restore(snap)
			return err
		}
		return nil
	})
	return answer, err
}

// questionEntries narrows each pinned PDF to the passages nearest the question.
// Other entries, and PDFs whose chunks cannot be searched, keep their full text.
func (m *Manager) questionEntries(ctx context.Context, chatID string, entries []models.ContextEntry, question string) []models.ContextEntry {
	if m.deps.Ingest == nil {
		return entries
	}
	out := append([]models.ContextEntry(nil), entries...)
	for i, e := range out {
		if e.Document.Source != models.SourcePDFChunk {
			continue
		}
		chunks, err := m.deps.Ingest.SearchChunks(ctx, e.Document.ID, question, questionExcerpts)
		if err != nil {
			m.log.Warn("pdf excerpt search failed, using full text", "chat_id", chatID, "doc_id", e.Document.ID, "error", err)
			continue
		}
		if text := prompt.Excerpts(chunks, question); text != "" {
			out[i].GroundingText = text
		}
	}
	return out
}

// annotate resolves missing citations for pinned documents. Failures leave an
// unresolved placeholder on the entry and do not stop the review.
func (m *Manager) annotate(ctx context.Context, s *SessionContext) {
	if m.deps.Citations == nil {
		return
	}
	entries := s.Grounding.Entries()
	found := make([]*models.Citation, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(citationLookups)
	for i, e := range entries {
		if !e.Document.Citation.IsZero() {
			continue
		}
		g.Go(func() error {
			c, err := m.deps.Citations.Resolve(gctx, e.Document)
			if err != nil {
				m.log.Warn("citation unresolved for pinned document", "chat_id", s.ID, "doc_id", e.Document.ID, "error", err)
			}
			if !c.IsZero() {
				found[i] = &c
			}
			return nil
		})
	}
	_ = g.Wait()
	for i, c := range found {
		if c != nil {
			s.Grounding.Annotate(entries[i].Document.ID, *c)
		}
	}
}

func (m *Manager) audit(ctx context.Context, chatID, op string, info providers.ProviderInfo, model string, err error) {
	if m.deps.Audit == nil {
		return
	}
	status, errType := "ok", ""
	if err != nil {
		status, errType = "failed", string(providers.ClassifyError(err))
	}
	name := info.Name
	if name == "" {
		name = "unknown"
	}
	if info.Model != "" {
		model = info.Model
	}
	rec := storage.LLMCallRecord{
		CallID:       uuid.NewString(),
		Operation:    op,
		ChatID:       chatID,
		ProviderName: name,
		Model:        model,
		Status:       status,
		ErrorType:    errType,
	}
	if aerr := m.deps.Audit.Insert(context.WithoutCancel(ctx), rec); aerr != nil {
		m.log.Warn("llm audit write failed", "chat_id", chatID, "error", aerr)
	}
}
