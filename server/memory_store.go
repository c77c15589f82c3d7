package server

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and ephemeral serving.
type MemoryStore struct {
	mu     sync.RWMutex
	scopes map[string]ScopeRecord
	runs   map[string]RunRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		scopes: make(map[string]ScopeRecord),
		runs:   make(map[string]RunRecord),
	}
}

func (s *MemoryStore) ListScopes(_ context.Context) ([]ScopeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ScopeRecord, 0, len(s.scopes))
	for _, rec := range s.scopes {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) GetScope(_ context.Context, id string) (ScopeRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.scopes[id]
	return rec, ok, nil
}

func (s *MemoryStore) CreateScope(_ context.Context, rec ScopeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.scopes[rec.ID]; exists {
		return ErrScopeExists
	}
	s.scopes[rec.ID] = rec
	return nil
}

func (s *MemoryStore) UpdateScope(_ context.Context, rec ScopeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.scopes[rec.ID]; !exists {
		return ErrScopeNotFound
	}
	s.scopes[rec.ID] = rec
	return nil
}

func (s *MemoryStore) DeleteScope(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.scopes[id]; !exists {
		return ErrScopeNotFound
	}
	delete(s.scopes, id)
	return nil
}

func (s *MemoryStore) ListRuns(_ context.Context, scopeID string) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]RunRecord, 0, len(s.runs))
	for _, rec := range s.runs {
		if scopeID != "" && rec.ScopeID != scopeID {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.runs[id]
	return rec, ok, nil
}

func (s *MemoryStore) CreateRun(_ context.Context, rec RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[rec.ID] = rec
	return nil
}

func (s *MemoryStore) DeleteRunsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, rec := range s.runs {
		if rec.FinishedAt.Before(cutoff) {
			delete(s.runs, id)
			deleted++
		}
	}
	return deleted, nil
}

var _ Store = (*MemoryStore)(nil)
