package snapshot

import (
	"context"
	"sync"

	"github.com/Sternrassler/pncp-sync/pkg/record"
)

// MemoryStore keeps collections in memory. Records are cloned on the way in
// and out so callers cannot mutate stored state.
type MemoryStore struct {
	mu    sync.Mutex
	data  map[string][]record.Record
	saves map[string]int
	err   error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:  make(map[string][]record.Record),
		saves: make(map[string]int),
	}
}

// Load implements Store.
func (s *MemoryStore) Load(ctx context.Context, name string) ([]record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAll(s.data[name]), nil
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, name string, records []record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		recordSave("memory", s.err)
		return s.err
	}
	s.data[name] = cloneAll(records)
	s.saves[name]++
	recordSave("memory", nil)
	return nil
}

// SetSaveError makes subsequent saves fail with err. Nil restores saving.
func (s *MemoryStore) SetSaveError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// SaveCount returns how often the named collection was saved.
func (s *MemoryStore) SaveCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves[name]
}

func cloneAll(records []record.Record) []record.Record {
	out := make([]record.Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}
