// README: Offline path for position pings: queue while disconnected, replay through ApplyUpdate.
package location

import (
	"context"
	"fmt"

	"siaga/internal/modules/syncqueue"
)

// Pings rank behind reports and status changes.
const queuePriority = 2

type Outbox interface {
	Enqueue(ctx context.Context, ownerID string, payload syncqueue.Payload, priority int) (syncqueue.Item, error)
}

type Connectivity interface {
	IsOnline() bool
}

// WithOutbox lets Report buffer pings while conn reports offline or the
// store rejects the write.
func (s *Service) WithOutbox(outbox Outbox, conn Connectivity) *Service {
	s.outbox = outbox
	s.conn = conn
	return s
}

// Report stores pos now or queues it. queued is true when it went to the outbox.
func (s *Service) Report(ctx context.Context, pos AmbulancePosition) (queued bool, err error) {
	if pos.AmbulanceID == "" || !pos.Position.Valid() {
		return false, ErrInvalidPosition
	}
	if pos.CapturedAt.IsZero() {
		pos.CapturedAt = s.now().UTC()
	}
	if s.outbox == nil {
		return false, s.Update(ctx, pos)
	}
	if s.conn == nil || s.conn.IsOnline() {
		err := s.Update(ctx, pos)
		if err == nil {
			return false, nil
		}
		s.logger.Warn("position store unavailable, queueing ping", "ambulance_id", pos.AmbulanceID, "err", err)
	}
	if _, err := s.outbox.Enqueue(ctx, string(pos.AmbulanceID), toPayload(pos), queuePriority); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) RegisterApply(r interface {
	Register(action syncqueue.ActionType, fn syncqueue.ApplyFunc)
}) {
	r.Register(syncqueue.ActionLocationUpdate, s.ApplyUpdate)
}

// ApplyUpdate replays a queued ping. Last-write-wins makes replays harmless.
func (s *Service) ApplyUpdate(ctx context.Context, p syncqueue.Payload) error {
	lp, ok := p.(syncqueue.LocationUpdatePayload)
	if !ok {
		return fmt.Errorf("%w: unexpected payload %T", syncqueue.ErrApplyFailure, p)
	}
	return s.Update(ctx, AmbulancePosition{
		AmbulanceID:    lp.AmbulanceID,
		Position:       lp.Position,
		AccuracyMeters: lp.AccuracyMeters,
		SpeedMps:       lp.SpeedMps,
		HeadingDegrees: lp.HeadingDegrees,
		CapturedAt:     lp.CapturedAt,
	})
}

func toPayload(pos AmbulancePosition) syncqueue.LocationUpdatePayload {
	return syncqueue.LocationUpdatePayload{
		AmbulanceID:    pos.AmbulanceID,
		Position:       pos.Position,
		AccuracyMeters: pos.AccuracyMeters,
		SpeedMps:       pos.SpeedMps,
		HeadingDegrees: pos.HeadingDegrees,
		CapturedAt:     pos.CapturedAt,
	}
}
