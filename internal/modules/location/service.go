// README: Location service applies position pings (last-write-wins) and serves live snapshots.
package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"siaga/internal/types"
)

var ErrInvalidPosition = errors.New("invalid position")

type PositionStore interface {
	Upsert(ctx context.Context, pos AmbulancePosition) (bool, error)
	All(ctx context.Context) ([]AmbulancePosition, error)
	Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]types.ID, error)
	AppendSnapshot(ctx context.Context, snap Snapshot) error
}

type Service struct {
	store  PositionStore
	logger *slog.Logger
	now    func() time.Time
	outbox Outbox
	conn   Connectivity
}

func NewService(store PositionStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// Update applies one ping. Out-of-order pings older than the stored fix are
// dropped silently; they are not an error for at-least-once feeds.
func (s *Service) Update(ctx context.Context, pos AmbulancePosition) error {
	if pos.AmbulanceID == "" || !pos.Position.Valid() {
		return ErrInvalidPosition
	}
	if pos.CapturedAt.IsZero() {
		pos.CapturedAt = s.now()
	}
	applied, err := s.store.Upsert(ctx, pos)
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	if !applied {
		s.logger.Debug("stale position ignored",
			slog.String("ambulance_id", string(pos.AmbulanceID)),
			slog.Time("captured_at", pos.CapturedAt))
		return nil
	}
	if err := s.FlushSnapshot(ctx, pos); err != nil {
		// snapshots are for replay only; the live position is already stored
		s.logger.Warn("position snapshot failed", slog.Any("error", err))
	}
	return nil
}

func (s *Service) FlushSnapshot(ctx context.Context, pos AmbulancePosition) error {
	snap := Snapshot{
		AmbulanceID: pos.AmbulanceID,
		Position:    pos.Position,
		Accuracy:    pos.AccuracyMeters,
		CapturedAt:  pos.CapturedAt,
		RecordedAt:  s.now(),
	}
	return s.store.AppendSnapshot(ctx, snap)
}

// Live returns positions not older than maxAge.
func (s *Service) Live(ctx context.Context, maxAge time.Duration) ([]AmbulancePosition, error) {
	all, err := s.store.All(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := all[:0]
	for _, p := range all {
		if p.Stale(now, maxAge) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Nearby returns the live positions within radiusKm of p, using the store's
// spatial index to narrow the candidate set.
func (s *Service) Nearby(ctx context.Context, p types.Point, radiusKm float64, maxAge time.Duration) ([]AmbulancePosition, error) {
	ids, err := s.store.Nearby(ctx, p, radiusKm)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	wanted := make(map[types.ID]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	live, err := s.Live(ctx, maxAge)
	if err != nil {
		return nil, err
	}
	out := make([]AmbulancePosition, 0, len(ids))
	for _, pos := range live {
		if _, ok := wanted[pos.AmbulanceID]; ok {
			out = append(out, pos)
		}
	}
	return out, nil
}
