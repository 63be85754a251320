// README: Matching service finds the nearest free ambulance and best hospital, and dispatches pending calls.
package matching

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"siaga/internal/config"
	"siaga/internal/geo"
	"siaga/internal/modules/capacity"
	"siaga/internal/modules/dispatch"
	"siaga/internal/modules/location"
	"siaga/internal/types"
)

type Positions interface {
	Live(ctx context.Context, maxAge time.Duration) ([]location.AmbulancePosition, error)
	Nearby(ctx context.Context, p types.Point, radiusKm float64, maxAge time.Duration) ([]location.AmbulancePosition, error)
}

type Hospitals interface {
	FindBest(ctx context.Context, target types.Point, emergencyType string) (capacity.Ranked, error)
}

type Calls interface {
	Pending(ctx context.Context) ([]dispatch.EmergencyCall, error)
	BusyAmbulances(ctx context.Context) (map[types.ID]struct{}, error)
	Dispatch(ctx context.Context, id, ambulanceID, hospitalID types.ID) (dispatch.Outcome, error)
}

type Recorder interface {
	RecordDispatch(ctx context.Context, a Assignment) error
	RecordUnmatched(ctx context.Context, u Unmatched) error
	Unmatched(ctx context.Context, limit int) ([]Unmatched, error)
}

type Service struct {
	positions Positions
	hospitals Hospitals
	calls     Calls
	recorder  Recorder
	cfg       config.MatchingConfig
	logger    *slog.Logger
	now       func() time.Time

	// untargeted holds calls already recorded as lacking a target; the
	// condition never clears, so each is recorded once.
	untargeted sync.Map
}

func NewService(positions Positions, hospitals Hospitals, calls Calls, recorder Recorder, cfg config.MatchingConfig, logger *slog.Logger) *Service {
	if recorder == nil {
		recorder = &MemoryRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AssumedSpeedKmh <= 0 {
		cfg.AssumedSpeedKmh = geo.DefaultSpeedKmh
	}
	return &Service{
		positions: positions,
		hospitals: hospitals,
		calls:     calls,
		recorder:  recorder,
		cfg:       cfg,
		logger:    logger.With("component", "matching"),
		now:       time.Now,
	}
}

// FindNearest ranks free ambulances with a fresh fix within radiusKm of
// target. A non-positive radius falls back to the configured one. It has no
// side effects.
func (s *Service) FindNearest(ctx context.Context, target types.Point, radiusKm float64) ([]Ranked, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if radiusKm <= 0 {
		radiusKm = s.cfg.RadiusKm
	}
	candidates, err := s.positions.Nearby(ctx, target, radiusKm, s.cfg.PositionMaxAge)
	if err != nil {
		s.logger.Warn("geo index unavailable, scanning live positions", "err", err)
		candidates, err = s.positions.Live(ctx, s.cfg.PositionMaxAge)
		if err != nil {
			return nil, err
		}
	}
	if s.calls != nil {
		busy, err := s.calls.BusyAmbulances(ctx)
		if err != nil {
			return nil, err
		}
		free := candidates[:0:0]
		for _, c := range candidates {
			if _, ok := busy[c.AmbulanceID]; !ok {
				free = append(free, c)
			}
		}
		candidates = free
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ranked := Rank(target, candidates, radiusKm)
	for i := range ranked {
		ranked[i].ETAMinutes = geo.ETAMinutes(ranked[i].DistanceKm, s.cfg.AssumedSpeedKmh)
	}
	return ranked, nil
}

func (s *Service) SelectNearest(ctx context.Context, target types.Point, radiusKm float64) (Ranked, error) {
	ranked, err := s.FindNearest(ctx, target, radiusKm)
	if err != nil {
		return Ranked{}, err
	}
	if len(ranked) == 0 {
		return Ranked{}, ErrNoAvailableUnit
	}
	return ranked[0], nil
}

func (s *Service) FindHospital(ctx context.Context, target types.Point, emergencyType string) (capacity.Ranked, error) {
	return s.hospitals.FindBest(ctx, target, emergencyType)
}

// MatchCall assigns the nearest free ambulance and, when one qualifies, the
// best hospital, then dispatches the call. A missing hospital does not block
// dispatch.
func (s *Service) MatchCall(ctx context.Context, call dispatch.EmergencyCall) (Assignment, error) {
	if call.Target == nil {
		if _, seen := s.untargeted.LoadOrStore(call.ID, struct{}{}); !seen {
			s.logger.Warn("call has no target, needs manual dispatch", "call_id", call.ID)
			s.recordUnmatched(ctx, call, ErrNoTarget.Error())
		}
		return Assignment{}, ErrNoTarget
	}
	target := *call.Target
	unit, err := s.SelectNearest(ctx, target, s.cfg.RadiusKm)
	if err != nil {
		if errors.Is(err, ErrNoAvailableUnit) {
			s.recordUnmatched(ctx, call, err.Error())
		}
		return Assignment{}, err
	}

	var hospitalID types.ID
	if s.hospitals != nil {
		best, herr := s.hospitals.FindBest(ctx, target, call.EmergencyType)
		switch {
		case herr == nil:
			hospitalID = best.Hospital.HospitalID
		case errors.Is(herr, capacity.ErrNoSuitableHospital):
			s.logger.Warn("no suitable hospital", "call_id", call.ID, "emergency_type", call.EmergencyType)
		default:
			s.logger.Warn("hospital lookup failed", "call_id", call.ID, "err", herr)
		}
	}

	out, err := s.calls.Dispatch(ctx, call.ID, unit.AmbulanceID, hospitalID)
	if err != nil {
		return Assignment{}, err
	}
	a := Assignment{
		CallID:      call.ID,
		AmbulanceID: unit.AmbulanceID,
		HospitalID:  hospitalID,
		DistanceKm:  unit.DistanceKm,
		ETAMinutes:  unit.ETAMinutes,
		Queued:      out.Queued,
		At:          s.now().UTC(),
	}
	if err := s.recorder.RecordDispatch(ctx, a); err != nil {
		s.logger.Warn("record dispatch", "call_id", call.ID, "err", err)
	}
	s.logger.Info("call dispatched", "call_id", call.ID, "ambulance_id", a.AmbulanceID,
		"hospital_id", a.HospitalID, "distance_km", a.DistanceKm, "eta_min", a.ETAMinutes)
	return a, nil
}

func (s *Service) recordUnmatched(ctx context.Context, call dispatch.EmergencyCall, reason string) {
	u := Unmatched{CallID: call.ID, Reason: reason, At: s.now().UTC()}
	if call.Target != nil {
		target := *call.Target
		u.Target = &target
	}
	if err := s.recorder.RecordUnmatched(ctx, u); err != nil {
		s.logger.Warn("record unmatched", "call_id", call.ID, "err", err)
	}
}

func (s *Service) Unmatched(ctx context.Context) ([]Unmatched, error) {
	return s.recorder.Unmatched(ctx, 50)
}

// DispatchPending runs one matching pass over received calls, most urgent first.
func (s *Service) DispatchPending(ctx context.Context) (int, error) {
	pending, err := s.calls.Pending(ctx)
	if err != nil {
		return 0, err
	}
	s.pruneUntargeted(pending)
	dispatched := 0
	for _, call := range pending {
		if ctx.Err() != nil {
			return dispatched, ctx.Err()
		}
		if _, err := s.MatchCall(ctx, call); err != nil {
			if !errors.Is(err, ErrNoAvailableUnit) && !errors.Is(err, ErrNoTarget) {
				s.logger.Warn("match call", "call_id", call.ID, "err", err)
			}
			continue
		}
		dispatched++
	}
	return dispatched, nil
}

// pruneUntargeted drops calls that left the pending set, dispatched by hand or
// cancelled.
func (s *Service) pruneUntargeted(pending []dispatch.EmergencyCall) {
	open := make(map[types.ID]struct{}, len(pending))
	for _, c := range pending {
		open[c.ID] = struct{}{}
	}
	s.untargeted.Range(func(k, _ any) bool {
		if _, ok := open[k.(types.ID)]; !ok {
			s.untargeted.Delete(k)
		}
		return true
	})
}

func (s *Service) RunScheduler(ctx context.Context) {
	tick := time.Duration(s.cfg.TickSeconds) * time.Second
	if tick <= 0 {
		tick = 3 * time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.DispatchPending(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("dispatch pending calls", "err", err)
			}
		}
	}
}
