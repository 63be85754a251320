// README: Capacity service: validated updates, cached snapshot, best-fit hospital lookup.
package capacity

import (
	"context"
	"log/slog"
	"time"

	"siaga/internal/types"
)

type HospitalStore interface {
	Upsert(ctx context.Context, h HospitalCapacity) error
	Get(ctx context.Context, id types.ID) (HospitalCapacity, error)
	List(ctx context.Context) ([]HospitalCapacity, error)
}

type SnapshotCache interface {
	Get(ctx context.Context) ([]HospitalCapacity, bool, error)
	Set(ctx context.Context, hospitals []HospitalCapacity) error
	Invalidate(ctx context.Context) error
}

type Service struct {
	store   HospitalStore
	cache   SnapshotCache
	weights Weights
	logger  *slog.Logger
	now     func() time.Time
}

// NewService accepts a nil cache.
func NewService(store HospitalStore, cache SnapshotCache, weights Weights, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if weights == (Weights{}) {
		weights = DefaultWeights
	}
	return &Service{store: store, cache: cache, weights: weights, logger: logger.With("component", "capacity"), now: time.Now}
}

func (s *Service) Weights() Weights { return s.weights }

func (s *Service) Upsert(ctx context.Context, h HospitalCapacity) (HospitalCapacity, error) {
	if h.LastUpdated.IsZero() {
		h.LastUpdated = s.now().UTC()
	}
	if err := h.Validate(); err != nil {
		return HospitalCapacity{}, err
	}
	if err := s.store.Upsert(ctx, h); err != nil {
		return HospitalCapacity{}, err
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.logger.Warn("invalidate capacity cache", "err", err)
		}
	}
	return h, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (HospitalCapacity, error) {
	return s.store.Get(ctx, id)
}

// List returns the capacity snapshot, served from cache when warm.
func (s *Service) List(ctx context.Context) ([]HospitalCapacity, error) {
	if s.cache != nil {
		if hs, ok, err := s.cache.Get(ctx); err == nil && ok {
			return hs, nil
		} else if err != nil {
			s.logger.Warn("read capacity cache", "err", err)
		}
	}
	hs, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, hs); err != nil {
			s.logger.Warn("fill capacity cache", "err", err)
		}
	}
	return hs, nil
}

func (s *Service) FindBest(ctx context.Context, target types.Point, emergencyType string) (Ranked, error) {
	ranked, err := s.Rank(ctx, target, emergencyType)
	if err != nil {
		return Ranked{}, err
	}
	if len(ranked) == 0 {
		return Ranked{}, ErrNoSuitableHospital
	}
	return ranked[0], nil
}

func (s *Service) Rank(ctx context.Context, target types.Point, emergencyType string) ([]Ranked, error) {
	hs, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, h := range hs {
		if err := h.Validate(); err != nil {
			s.logger.Warn("skipping invalid capacity record", "hospital_id", h.HospitalID, "err", err)
		}
	}
	return Rank(target, emergencyType, hs, s.weights), nil
}
