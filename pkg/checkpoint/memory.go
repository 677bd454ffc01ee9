package checkpoint

import (
	"context"
	"sync"
)

// MemoryStore keeps the checkpoint in process. Runs using it always resume
// from the same process's last save.
type MemoryStore struct {
	mu    sync.Mutex
	page  int
	saves []int
}

// NewMemoryStore returns a store preloaded with page (0 means empty).
func NewMemoryStore(page int) *MemoryStore {
	return &MemoryStore{page: page}
}

// Load implements Store.
func (s *MemoryStore) Load(ctx context.Context) Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page < DefaultPage {
		return Default()
	}
	return Checkpoint{LastPage: s.page}
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, page int) error {
	if _, err := encode(page); err != nil {
		recordSave("memory", err)
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.page = page
	s.saves = append(s.saves, page)
	recordSave("memory", nil)
	return nil
}

// Reset implements Store.
func (s *MemoryStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.page = 0
	return nil
}

// Saves returns every page saved so far, in order.
func (s *MemoryStore) Saves() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.saves...)
}
