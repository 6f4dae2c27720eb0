package citation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"litground/internal/models"

	"github.com/redis/go-redis/v9"
)

// Store persists resolved citations by document id.
type Store interface {
	Get(ctx context.Context, docID string) (models.Citation, bool, error)
	Put(ctx context.Context, docID string, c models.Citation) error
}

type MemoryStore struct {
	mu sync.RWMutex
	m  map[string]models.Citation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: map[string]models.Citation{}}
}

func (s *MemoryStore) Get(_ context.Context, docID string) (models.Citation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.m[docID]
	return c, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, docID string, c models.Citation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[docID] = c
	return nil
}

// RedisStore shares the citation cache across API replicas. Entries never expire.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return &RedisStore{rdb: rdb, prefix: "litground:citation:"}, nil
}

func (s *RedisStore) Get(ctx context.Context, docID string) (models.Citation, bool, error) {
	b, err := s.rdb.Get(ctx, s.prefix+docID).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Citation{}, false, nil
	}
	if err != nil {
		return models.Citation{}, false, fmt.Errorf("get citation %s: %w", docID, err)
	}
	var c models.Citation
	if err := json.Unmarshal(b, &c); err != nil {
		return models.Citation{}, false, fmt.Errorf("decode citation %s: %w", docID, err)
	}
	return c, true, nil
}

func (s *RedisStore) Put(ctx context.Context, docID string, c models.Citation) error {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode citation %s: %w", docID, err)
	}
	if err := s.rdb.Set(ctx, s.prefix+docID, b, 0).Err(); err != nil {
		return fmt.Errorf("set citation %s: %w", docID, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
