// README: Matching store backed by Redis: dispatch records and the unmatched log.
package matching

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dispatchKeyPrefix = "matching:call:%s:dispatch"
	unmatchedKey      = "matching:unmatched"
	unmatchedMaxLen   = 200
	// calls resolve well within a week
	keyTTL = 7 * 24 * time.Hour
)

type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

func (s *Store) RecordDispatch(ctx context.Context, a Assignment) error {
	body, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, fmt.Sprintf(dispatchKeyPrefix, string(a.CallID)), body, keyTTL).Err()
}

// RecordUnmatched appends to a capped list, newest first.
func (s *Store) RecordUnmatched(ctx context.Context, u Unmatched) error {
	body, err := json.Marshal(u)
	if err != nil {
		return err
	}
	pipe := s.redis.Pipeline()
	pipe.LPush(ctx, unmatchedKey, body)
	pipe.LTrim(ctx, unmatchedKey, 0, unmatchedMaxLen-1)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) Unmatched(ctx context.Context, limit int) ([]Unmatched, error) {
	if limit <= 0 {
		limit = unmatchedMaxLen
	}
	raw, err := s.redis.LRange(ctx, unmatchedKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Unmatched, 0, len(raw))
	for _, r := range raw {
		var u Unmatched
		if err := json.Unmarshal([]byte(r), &u); err != nil {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

type MemoryRecorder struct {
	mu         sync.Mutex
	dispatches []Assignment
	unmatched  []Unmatched
}

func (m *MemoryRecorder) RecordDispatch(_ context.Context, a Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatches = append(m.dispatches, a)
	return nil
}

func (m *MemoryRecorder) RecordUnmatched(_ context.Context, u Unmatched) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unmatched = append([]Unmatched{u}, m.unmatched...)
	return nil
}

func (m *MemoryRecorder) Unmatched(_ context.Context, limit int) ([]Unmatched, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.unmatched)
	if limit > 0 && limit < n {
		n = limit
	}
	return append([]Unmatched(nil), m.unmatched[:n]...), nil
}

func (m *MemoryRecorder) Dispatches() []Assignment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Assignment(nil), m.dispatches...)
}
