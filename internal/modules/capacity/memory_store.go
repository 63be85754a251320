package capacity

import (
	"context"
	"sort"
	"sync"

	"siaga/internal/types"
)

type MemoryStore struct {
	mu        sync.RWMutex
	hospitals map[types.ID]HospitalCapacity
}

func NewMemoryStore(seed ...HospitalCapacity) *MemoryStore {
	s := &MemoryStore{hospitals: make(map[types.ID]HospitalCapacity)}
	for _, h := range seed {
		s.hospitals[h.HospitalID] = h
	}
	return s
}

func (s *MemoryStore) Upsert(_ context.Context, h HospitalCapacity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.hospitals[h.HospitalID]; ok && cur.LastUpdated.After(h.LastUpdated) {
		return nil
	}
	s.hospitals[h.HospitalID] = h
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (HospitalCapacity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hospitals[id]
	if !ok {
		return HospitalCapacity{}, ErrNotFound
	}
	return h, nil
}

func (s *MemoryStore) List(_ context.Context) ([]HospitalCapacity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]HospitalCapacity, 0, len(s.hospitals))
	for _, h := range s.hospitals {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HospitalID < out[j].HospitalID })
	return out, nil
}
