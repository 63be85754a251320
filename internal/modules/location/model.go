// README: Ambulance position reports and persisted snapshots.
package location

import (
	"time"

	"siaga/internal/types"
)

// AmbulancePosition is the latest known fix of one ambulance. A newer
// CapturedAt supersedes an older one; there is no explicit delete.
type AmbulancePosition struct {
	AmbulanceID    types.ID    `json:"ambulance_id"`
	Position       types.Point `json:"position"`
	AccuracyMeters float64     `json:"accuracy_meters"`
	SpeedMps       *float64    `json:"speed_mps,omitempty"`
	HeadingDegrees *float64    `json:"heading_degrees,omitempty"`
	CapturedAt     time.Time   `json:"captured_at"`
}

// Stale reports whether the fix is older than maxAge at now. A zero maxAge
// never marks a position stale.
func (p AmbulancePosition) Stale(now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	return now.Sub(p.CapturedAt) > maxAge
}

type Snapshot struct {
	ID          int64
	AmbulanceID types.ID
	Position    types.Point
	Accuracy    float64
	CapturedAt  time.Time
	RecordedAt  time.Time
}
