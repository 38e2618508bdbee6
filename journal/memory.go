package journal

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps records in memory. Safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string][]Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string][]Record)}
}

// Append stores a record.
func (s *MemoryStore) Append(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[rec.RunID] = append(s.runs[rec.RunID], rec)
	return nil
}

// ListRun returns a run's records in sequence order.
func (s *MemoryStore) ListRun(ctx context.Context, runID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.runs[runID]
	out := make([]Record, len(recs))
	copy(out, recs)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// RunIDs returns the distinct run IDs present in the store.
func (s *MemoryStore) RunIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)
