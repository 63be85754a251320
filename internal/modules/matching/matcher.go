// README: Pure nearest-ambulance ranking over a position snapshot.
package matching

import (
	"math"
	"sort"

	"siaga/internal/geo"
	"siaga/internal/modules/location"
	"siaga/internal/types"
)

// Rank orders candidates by great-circle distance to target, keeping those
// within maxDistanceKm. A radius of zero keeps only co-located units.
// ETA is left at zero; callers that know the fleet speed fill it in.
func Rank(target types.Point, candidates []location.AmbulancePosition, maxDistanceKm float64) []Ranked {
	out := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		if c.AmbulanceID == "" || !c.Position.Valid() {
			continue
		}
		d := geo.DistanceKm(target, c.Position)
		if d > maxDistanceKm {
			continue
		}
		out = append(out, Ranked{
			AmbulanceID: c.AmbulanceID,
			Position:    c.Position,
			DistanceKm:  d,
			CapturedAt:  c.CapturedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if math.Abs(out[i].DistanceKm-out[j].DistanceKm) <= tieEpsilonKm {
			return out[i].AmbulanceID < out[j].AmbulanceID
		}
		return out[i].DistanceKm < out[j].DistanceKm
	})
	return out
}

func SelectNearest(target types.Point, candidates []location.AmbulancePosition, maxDistanceKm float64) (Ranked, error) {
	ranked := Rank(target, candidates, maxDistanceKm)
	if len(ranked) == 0 {
		return Ranked{}, ErrNoAvailableUnit
	}
	return ranked[0], nil
}
