package convstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/cinemate/internal/movie"
)

// InMemoryStore is a simple in-process store for local/dev use.
type InMemoryStore struct {
	mu       sync.RWMutex
	records  map[string][]TurnRecord
	contexts map[string]movie.Context
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records:  make(map[string][]TurnRecord),
		contexts: make(map[string]movie.Context),
	}
}

func (s *InMemoryStore) SaveTurn(_ context.Context, record TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	s.records[record.SessionID] = append(s.records[record.SessionID], record)
	return nil
}

func (s *InMemoryStore) RecentTurns(_ context.Context, sessionID string, limit int) ([]TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.records[sessionID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]TurnRecord, 0, limit)
	for i := len(arr) - limit; i < len(arr); i++ {
		out = append(out, arr[i])
	}
	return out, nil
}

func (s *InMemoryStore) SaveContext(_ context.Context, sessionID string, c *movie.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c == nil {
		delete(s.contexts, sessionID)
		return nil
	}
	s.contexts[sessionID] = c.Clone()
	return nil
}

func (s *InMemoryStore) LoadContext(_ context.Context, sessionID string) (*movie.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contexts[sessionID]
	if !ok {
		return nil, nil
	}
	out := c.Clone()
	return &out, nil
}

func (s *InMemoryStore) Close() error { return nil }
