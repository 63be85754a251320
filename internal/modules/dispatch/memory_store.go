// README: In-memory call store used by tests and storage-less local runs.
package dispatch

import (
	"context"
	"sort"
	"sync"

	"siaga/internal/types"
)

type MemoryStore struct {
	mu          sync.RWMutex
	calls       map[types.ID]EmergencyCall
	transitions []Transition
	// Err, when set, is returned by every mutating call.
	Err error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{calls: make(map[types.ID]EmergencyCall)}
}

func (s *MemoryStore) Create(_ context.Context, call *EmergencyCall) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	if _, ok := s.calls[call.ID]; ok {
		return false, nil
	}
	for _, c := range s.calls {
		if c.ReportID == call.ReportID {
			return false, nil
		}
	}
	s.calls[call.ID] = *call
	return true, nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*EmergencyCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.calls[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *MemoryStore) GetByReport(_ context.Context, reportID types.ID) (*EmergencyCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.calls {
		if c.ReportID == reportID {
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) UpdateStatus(_ context.Context, call *EmergencyCall, fromVersion int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	cur, ok := s.calls[call.ID]
	if !ok || cur.StatusVersion != fromVersion {
		return false, nil
	}
	s.calls[call.ID] = *call
	return true, nil
}

func (s *MemoryStore) AppendTransition(_ context.Context, tr *Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	t := *tr
	t.ID = int64(len(s.transitions) + 1)
	s.transitions = append(s.transitions, t)
	return nil
}

func (s *MemoryStore) Transitions(_ context.Context, callID types.ID) ([]Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Transition, 0)
	for _, tr := range s.transitions {
		if tr.CallID == callID {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, statuses ...Status) ([]EmergencyCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]EmergencyCall, 0)
	for _, c := range s.calls {
		for _, st := range statuses {
			if c.Status == st {
				out = append(out, c)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
