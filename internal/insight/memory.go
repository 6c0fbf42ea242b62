package insight

import (
	"context"
	"sort"
	"sync"

	"github.com/dandantas/scout/internal/model"
)

// MemoryStore keeps insights in process memory
type MemoryStore struct {
	mu       sync.RWMutex
	insights map[string]*model.Insight
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty insight store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{insights: make(map[string]*model.Insight)}
}

func (s *MemoryStore) Upsert(_ context.Context, insight *model.Insight) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.insights[insight.ID]; exists {
		return false, nil
	}
	c := *insight
	s.insights[insight.ID] = &c
	return true, nil
}

func (s *MemoryStore) ListRecent(_ context.Context, locationID string, limit int) ([]*model.Insight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Insight, 0)
	for _, in := range s.insights {
		if in.LocationID == locationID {
			c := *in
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
