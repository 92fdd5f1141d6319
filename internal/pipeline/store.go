package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/maauso/videoforge-api/internal/apperr"
)

// ErrRunNotFound is returned for unknown run ids.
var ErrRunNotFound = fmt.Errorf("pipeline run %w", apperr.ErrNotFound)

// RunStore persists pipeline runs.
type RunStore interface {
	Save(ctx context.Context, run *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	List(ctx context.Context) ([]*Run, error)
}

// Compile-time check that MemoryRunStore implements RunStore.
var _ RunStore = (*MemoryRunStore)(nil)

// MemoryRunStore keeps runs in memory. Runs go in and come out as copies.
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewMemoryRunStore creates an empty store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]*Run)}
}

// Save inserts or replaces run.
func (s *MemoryRunStore) Save(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run.Clone()
	return nil
}

// Get returns the run with id.
func (s *MemoryRunStore) Get(_ context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return run.Clone(), nil
}

// List returns every run, newest first.
func (s *MemoryRunStore) List(_ context.Context) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
