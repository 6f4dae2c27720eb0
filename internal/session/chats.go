package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"litground/internal/models"
	"litground/internal/util"
)

// ChatStore persists chat records. storage.ChatRepo is the Postgres implementation.
type ChatStore interface {
	Save(ctx context.Context, rec models.ChatRecord) error
	Get(ctx context.Context, chatID string) (models.ChatRecord, error)
	List(ctx context.Context) ([]models.ChatRecord, error)
	Delete(ctx context.Context, chatID string) error
}

type MemoryChatStore struct {
	mu   sync.RWMutex
	recs map[string]models.ChatRecord
}

func NewMemoryChatStore() *MemoryChatStore {
	return &MemoryChatStore{recs: map[string]models.ChatRecord{}}
}

func (s *MemoryChatStore) Save(_ context.Context, rec models.ChatRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.ID] = rec
	return nil
}

func (s *MemoryChatStore) Get(_ context.Context, chatID string) (models.ChatRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[chatID]
	if !ok {
		return models.ChatRecord{}, fmt.Errorf("chat %s: %w", chatID, util.ErrNotFound)
	}
	return rec, nil
}

func (s *MemoryChatStore) List(_ context.Context) ([]models.ChatRecord, error) {
	s.mu.RLock()
	out := make([]models.ChatRecord, 0, len(s.recs))
	for _, r := range s.recs {
		out = append(out, r)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].LastUpdated.After(out[j].LastUpdated) })
	return out, nil
}

func (s *MemoryChatStore) Delete(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[chatID]; !ok {
		return fmt.Errorf("chat %s: %w", chatID, util.ErrNotFound)
	}
	delete(s.recs, chatID)
	return nil
}
