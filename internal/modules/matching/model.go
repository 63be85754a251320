// README: Proximity match results, dispatch assignments and unmatched records.
package matching

import (
	"errors"
	"time"

	"siaga/internal/types"
)

var (
	ErrNoAvailableUnit = errors.New("no available unit")
	ErrNoTarget        = errors.New("call has no target location")
)

// tieEpsilonKm: distances closer than this are equal and ordered by id.
const tieEpsilonKm = 1e-9

type Ranked struct {
	AmbulanceID types.ID    `json:"ambulance_id"`
	Position    types.Point `json:"position"`
	DistanceKm  float64     `json:"distance_km"`
	ETAMinutes  float64     `json:"eta_minutes"`
	CapturedAt  time.Time   `json:"captured_at"`
}

type Assignment struct {
	CallID      types.ID  `json:"call_id"`
	AmbulanceID types.ID  `json:"ambulance_id"`
	HospitalID  types.ID  `json:"hospital_id,omitempty"`
	DistanceKm  float64   `json:"distance_km"`
	ETAMinutes  float64   `json:"eta_minutes"`
	Queued      bool      `json:"queued"`
	At          time.Time `json:"at"`
}

type Unmatched struct {
	CallID types.ID     `json:"call_id"`
	Target *types.Point `json:"target,omitempty"`
	Reason string       `json:"reason"`
	At     time.Time    `json:"at"`
}
