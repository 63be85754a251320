// README: Queue persistence contract and the in-memory store.
package syncqueue

import (
	"context"
	"sort"
	"sync"

	"siaga/internal/types"
)

// QueueStore persists sync items. Put is an upsert keyed by item id.
// ListByStatus returns items ordered by (priority, created_at).
type QueueStore interface {
	Get(ctx context.Context, id types.ID) (Item, error)
	Put(ctx context.Context, item Item) error
	ListByStatus(ctx context.Context, status Status) ([]Item, error)
	Delete(ctx context.Context, id types.ID) error
}

type MemoryStore struct {
	mu    sync.RWMutex
	items map[types.ID]Item
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[types.ID]Item)}
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return item, nil
}

func (s *MemoryStore) Put(_ context.Context, item Item) error {
	s.mu.Lock()
	s.items[item.ID] = item
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status Status) ([]Item, error) {
	s.mu.RLock()
	out := make([]Item, 0)
	for _, item := range s.items {
		if item.Status == status {
			out = append(out, item)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id types.ID) error {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
