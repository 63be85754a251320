// README: Pure call lifecycle transitions; persistence-agnostic.
package dispatch

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"siaga/internal/geo"
	"siaga/internal/types"
)

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrMissingAmbulance  = errors.New("dispatch requires an ambulance")
)

// ArrivalToleranceKm is the distance within which an arrival is "confirmed".
const ArrivalToleranceKm = 0.1

const ArrivalConfirmed = "confirmed"

func PriorityFromSeverity(severity string) Priority {
	switch strings.ToLower(strings.TrimSpace(severity)) {
	case SeverityBerat:
		return PriorityCritical
	case SeveritySedang:
		return PriorityHigh
	default:
		return PriorityMedium
	}
}

// Create opens a call for report in the received state. A report without a
// location yields a call without a target.
func Create(report Report, now time.Time) EmergencyCall {
	call := EmergencyCall{
		ID:            types.ID(uuid.NewString()),
		ReportID:      report.ID,
		Status:        StatusReceived,
		Priority:      PriorityFromSeverity(report.Severity),
		EmergencyType: report.EmergencyType,
		CreatedAt:     now,
		UpdatedAt:     now,
		Notes:         report.Description,
	}
	if report.Location != nil && report.Location.Valid() {
		target := *report.Location
		call.Target = &target
	}
	return call
}

// Advance moves call to next. The input is never modified; on error the
// caller still holds the unchanged call.
func Advance(call EmergencyCall, next Status, ev *Evidence, now time.Time) (EmergencyCall, Transition, error) {
	if !CanTransition(call.Status, next) {
		return call, Transition{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, call.Status, next)
	}

	out := call
	switch next {
	case StatusDispatched:
		if ev != nil && ev.AmbulanceID != "" {
			id := ev.AmbulanceID
			out.AmbulanceID = &id
		}
		if out.AmbulanceID == nil {
			return call, Transition{}, ErrMissingAmbulance
		}
		if ev != nil && ev.HospitalID != "" {
			id := ev.HospitalID
			out.HospitalID = &id
		}
	case StatusArrived:
		t := now
		out.ArrivedAt = &t
		if ev != nil && ev.Coordinate != nil && out.Target != nil {
			out.ArrivalNote = ArrivalNote(*out.Target, *ev.Coordinate)
		}
	case StatusCompleted:
		t := now
		out.CompletedAt = &t
	case StatusCancelled:
		t := now
		out.CancelledAt = &t
	}
	out.Status = next
	out.StatusVersion = call.StatusVersion + 1
	out.UpdatedAt = now

	tr := Transition{
		CallID: call.ID,
		From:   call.Status,
		To:     next,
		At:     now,
	}
	if ev != nil {
		if ev.ActorID != "" {
			actor := ev.ActorID
			tr.ActorID = &actor
		}
		tr.Note = ev.Note
	}
	if next == StatusArrived && out.ArrivalNote != "" {
		tr.Note = joinNote(tr.Note, out.ArrivalNote)
	}
	if next == StatusCancelled && tr.Note != "" {
		out.Notes = joinNote(out.Notes, "cancelled: "+tr.Note)
	}
	return out, tr, nil
}

// Complete is only valid from arrived.
func Complete(call EmergencyCall, now time.Time) (EmergencyCall, Transition, error) {
	return Advance(call, StatusCompleted, nil, now)
}

func Cancel(call EmergencyCall, reason string, now time.Time) (EmergencyCall, Transition, error) {
	return Advance(call, StatusCancelled, &Evidence{Note: reason}, now)
}

// ArrivalNote is advisory: it never blocks the arrived transition.
func ArrivalNote(target, reported types.Point) string {
	d := geo.DistanceKm(target, reported)
	if d <= ArrivalToleranceKm {
		return ArrivalConfirmed
	}
	return fmt.Sprintf("discrepancy: %dm", int(math.Round(d*1000)))
}

func joinNote(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}
