// README: Sync queue apply functions for queued reports and status changes. Both are idempotent.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"siaga/internal/modules/syncqueue"
)

var ErrVersionGap = errors.New("earlier transition not yet applied")

type Registrar interface {
	Register(action syncqueue.ActionType, fn syncqueue.ApplyFunc)
}

func (s *Service) RegisterApply(r Registrar) {
	r.Register(syncqueue.ActionEmergencyReport, s.ApplyReport)
	r.Register(syncqueue.ActionStatusUpdate, s.ApplyStatus)
}

// ApplyReport stores a queued call. A call already present for the report
// counts as applied.
func (s *Service) ApplyReport(ctx context.Context, p syncqueue.Payload) error {
	rp, ok := p.(syncqueue.EmergencyReportPayload)
	if !ok {
		return fmt.Errorf("%w: unexpected payload %T", syncqueue.ErrApplyFailure, p)
	}
	call := callFromReport(rp)
	created, err := s.store.Create(ctx, &call)
	if err != nil {
		return err
	}
	if created {
		tr := Transition{CallID: call.ID, From: StatusNone, To: StatusReceived, Note: "report " + string(rp.ReportID), At: rp.CreatedAt}
		if rp.ReporterID != "" {
			reporter := rp.ReporterID
			tr.ActorID = &reporter
		}
		s.appendTransition(ctx, &tr)
	}
	s.markApplied(call.ID, call.StatusVersion)
	return nil
}

// ApplyStatus replays one transition. A stored version at or past the payload
// version means it already landed.
func (s *Service) ApplyStatus(ctx context.Context, p syncqueue.Payload) error {
	sp, ok := p.(syncqueue.StatusUpdatePayload)
	if !ok {
		return fmt.Errorf("%w: unexpected payload %T", syncqueue.ErrApplyFailure, p)
	}
	cur, err := s.store.Get(ctx, sp.CallID)
	if err != nil {
		return err
	}
	if cur.StatusVersion >= sp.Version {
		s.markApplied(sp.CallID, sp.Version)
		return nil
	}
	if cur.StatusVersion != sp.Version-1 {
		return fmt.Errorf("%w: call %s stored at %d, update is %d", ErrVersionGap, sp.CallID, cur.StatusVersion, sp.Version)
	}
	if string(cur.Status) != sp.From {
		return fmt.Errorf("%w: call %s is %s, update expects %s", ErrConflict, sp.CallID, cur.Status, sp.From)
	}

	next := withStatus(*cur, sp)
	updated, err := s.store.UpdateStatus(ctx, &next, cur.StatusVersion)
	if err != nil {
		return err
	}
	if !updated {
		again, gerr := s.store.Get(ctx, sp.CallID)
		if gerr == nil && again.StatusVersion >= sp.Version {
			s.markApplied(sp.CallID, sp.Version)
			return nil
		}
		return fmt.Errorf("%w: call %s", ErrConflict, sp.CallID)
	}
	tr := Transition{
		CallID:  sp.CallID,
		From:    Status(sp.From),
		To:      Status(sp.To),
		ActorID: sp.ActorID,
		Note:    sp.Note,
		At:      sp.At,
	}
	s.appendTransition(ctx, &tr)
	s.markApplied(sp.CallID, sp.Version)
	s.logger.Info("queued transition applied", "call_id", sp.CallID, "to", sp.To, "version", sp.Version)
	return nil
}

func callFromReport(rp syncqueue.EmergencyReportPayload) EmergencyCall {
	call := EmergencyCall{
		ID:            rp.CallID,
		ReportID:      rp.ReportID,
		Status:        StatusReceived,
		Priority:      Priority(rp.Priority),
		EmergencyType: rp.EmergencyType,
		CreatedAt:     rp.CreatedAt,
		UpdatedAt:     rp.CreatedAt,
		Notes:         rp.Description,
	}
	if rp.Location != nil && rp.Location.Valid() {
		target := *rp.Location
		call.Target = &target
	}
	return call
}

// withStatus lays the state carried by sp over call.
func withStatus(call EmergencyCall, sp syncqueue.StatusUpdatePayload) EmergencyCall {
	next := call
	next.Status = Status(sp.To)
	next.StatusVersion = sp.Version
	next.UpdatedAt = sp.At
	if sp.AmbulanceID != nil {
		next.AmbulanceID = sp.AmbulanceID
	}
	if sp.HospitalID != nil {
		next.HospitalID = sp.HospitalID
	}
	next.ArrivalNote = sp.ArrivalNote
	next.Notes = sp.Notes
	at := sp.At
	switch next.Status {
	case StatusArrived:
		next.ArrivedAt = &at
	case StatusCompleted:
		next.CompletedAt = &at
	case StatusCancelled:
		next.CancelledAt = &at
	}
	return next
}
