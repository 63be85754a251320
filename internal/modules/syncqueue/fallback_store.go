// README: Store wrapper that degrades to memory when the durable store fails.
package syncqueue

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync/atomic"

	"siaga/internal/types"
)

// FallbackStore writes to primary and keeps items in memory while primary is
// failing. Drain moves buffered items back once primary accepts writes again.
type FallbackStore struct {
	primary  QueueStore
	memory   *MemoryStore
	logger   *slog.Logger
	degraded atomic.Bool
}

func NewFallbackStore(primary QueueStore, logger *slog.Logger) *FallbackStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackStore{primary: primary, memory: NewMemoryStore(), logger: logger}
}

func (s *FallbackStore) Degraded() bool { return s.degraded.Load() }

func (s *FallbackStore) Get(ctx context.Context, id types.ID) (Item, error) {
	mem, memErr := s.memory.Get(ctx, id)
	item, err := s.primary.Get(ctx, id)
	if err == nil {
		if memErr == nil && mem.UpdatedAt.After(item.UpdatedAt) {
			return mem, nil
		}
		return item, nil
	}
	if memErr == nil {
		return mem, nil
	}
	if errors.Is(err, ErrItemNotFound) {
		return Item{}, ErrItemNotFound
	}
	s.markDegraded("get", err)
	return Item{}, ErrItemNotFound
}

func (s *FallbackStore) Put(ctx context.Context, item Item) error {
	if err := s.primary.Put(ctx, item); err != nil {
		s.markDegraded("put", err)
		return s.memory.Put(ctx, item)
	}
	// A stale buffered copy must not shadow the durable one.
	_ = s.memory.Delete(ctx, item.ID)
	return nil
}

func (s *FallbackStore) ListByStatus(ctx context.Context, status Status) ([]Item, error) {
	merged := make(map[types.ID]Item)
	items, err := s.primary.ListByStatus(ctx, status)
	if err != nil {
		s.markDegraded("list", err)
	}
	for _, item := range items {
		merged[item.ID] = item
	}
	// Buffered copies are newer than anything primary could hold, but a
	// buffered item may have moved to another status since.
	all, _ := s.memory.all()
	for _, item := range all {
		if cur, ok := merged[item.ID]; ok && !item.UpdatedAt.After(cur.UpdatedAt) {
			continue
		}
		if item.Status == status {
			merged[item.ID] = item
		} else {
			delete(merged, item.ID)
		}
	}
	out := make([]Item, 0, len(merged))
	for _, item := range merged {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out, nil
}

func (s *FallbackStore) Delete(ctx context.Context, id types.ID) error {
	_ = s.memory.Delete(ctx, id)
	if err := s.primary.Delete(ctx, id); err != nil {
		s.markDegraded("delete", err)
	}
	return nil
}

// Drain copies buffered items into primary. It stops at the first failure and
// returns how many items were moved.
func (s *FallbackStore) Drain(ctx context.Context) (int, error) {
	items, _ := s.memory.all()
	moved := 0
	for _, item := range items {
		if err := s.primary.Put(ctx, item); err != nil {
			s.markDegraded("drain", err)
			return moved, errors.Join(ErrStoreUnavailable, err)
		}
		_ = s.memory.Delete(ctx, item.ID)
		moved++
	}
	if s.degraded.CompareAndSwap(true, false) {
		s.logger.Info("sync queue store recovered", "moved", moved)
	}
	return moved, nil
}

func (s *FallbackStore) markDegraded(op string, err error) {
	if s.degraded.CompareAndSwap(false, true) {
		s.logger.Error("sync queue store unavailable, buffering in memory",
			"op", op, "err", errors.Join(ErrStoreUnavailable, err))
	}
}

func (s *MemoryStore) all() ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Item, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out, nil
}
