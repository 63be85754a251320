// README: In-process position store for tests and single-node runs without Redis.
package location

import (
	"context"
	"sync"

	"siaga/internal/geo"
	"siaga/internal/types"
)

type MemoryStore struct {
	mu        sync.RWMutex
	positions map[types.ID]AmbulancePosition
	snapshots []Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{positions: make(map[types.ID]AmbulancePosition)}
}

func (m *MemoryStore) Upsert(_ context.Context, pos AmbulancePosition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.positions[pos.AmbulanceID]; ok && prev.CapturedAt.After(pos.CapturedAt) {
		return false, nil
	}
	m.positions[pos.AmbulanceID] = pos
	return true, nil
}

func (m *MemoryStore) All(_ context.Context) ([]AmbulancePosition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AmbulancePosition, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out, nil
}

// naive scan; the Redis store uses GEOSEARCH
func (m *MemoryStore) Nearby(_ context.Context, p types.Point, radiusKm float64) ([]types.ID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	type hit struct {
		id   types.ID
		dist float64
	}
	var hits []hit
	for id, pos := range m.positions {
		if d := geo.DistanceKm(p, pos.Position); d <= radiusKm {
			hits = append(hits, hit{id: id, dist: d})
		}
	}
	geo.SortByDistance(hits, func(h hit) float64 { return h.dist })
	ids := make([]types.ID, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	return ids, nil
}

func (m *MemoryStore) AppendSnapshot(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap.ID = int64(len(m.snapshots) + 1)
	m.snapshots = append(m.snapshots, snap)
	return nil
}

func (m *MemoryStore) Snapshots() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, len(m.snapshots))
	copy(out, m.snapshots)
	return out
}
