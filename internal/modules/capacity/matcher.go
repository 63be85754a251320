// README: Capacity scoring and best-fit hospital selection.
package capacity

import (
	"sort"
	"strings"

	"siaga/internal/geo"
	"siaga/internal/types"
)

// Score is the percentage of emergency and ICU beds still available.
func Score(h HospitalCapacity) float64 {
	total := h.EmergencyBedsTotal + h.ICUBedsTotal
	if total <= 0 {
		return 0
	}
	available := h.EmergencyBedsAvailable + h.ICUBedsAvailable
	return float64(available) / float64(total) * 100
}

// Composite is lower for hospitals that are closer and emptier.
func Composite(h HospitalCapacity, distanceKm float64, w Weights) float64 {
	return w.Distance*distanceKm + w.Capacity*(100-Score(h))
}

// Eligible reports whether h can take an emergency of the given type.
// Unknown types accept any hospital with a free emergency bed.
func Eligible(h HospitalCapacity, emergencyType string) bool {
	switch strings.ToLower(strings.TrimSpace(emergencyType)) {
	case TypeTrauma:
		return h.Capabilities.Trauma && h.EmergencyBedsAvailable > 0
	case TypeCardiac:
		return h.Capabilities.Cardiac && (h.ICUBedsAvailable > 0 || h.EmergencyBedsAvailable > 0)
	case TypeStroke:
		return h.Capabilities.Stroke && h.ICUBedsAvailable > 0
	case TypePediatric:
		return h.Capabilities.Pediatric && h.EmergencyBedsAvailable > 0
	default:
		return h.EmergencyBedsAvailable > 0
	}
}

// Rank returns eligible hospitals ordered by composite, then HospitalID.
// Records failing Validate are skipped.
func Rank(target types.Point, emergencyType string, hospitals []HospitalCapacity, w Weights) []Ranked {
	out := make([]Ranked, 0, len(hospitals))
	for _, h := range hospitals {
		if h.Validate() != nil || !Eligible(h, emergencyType) {
			continue
		}
		d := geo.DistanceKm(target, h.Position)
		out = append(out, Ranked{
			Hospital:   h,
			DistanceKm: d,
			Score:      Score(h),
			Composite:  Composite(h, d, w),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Composite != out[j].Composite {
			return out[i].Composite < out[j].Composite
		}
		return out[i].Hospital.HospitalID < out[j].Hospital.HospitalID
	})
	return out
}

func FindBest(target types.Point, emergencyType string, hospitals []HospitalCapacity, w Weights) (Ranked, error) {
	ranked := Rank(target, emergencyType, hospitals, w)
	if len(ranked) == 0 {
		return Ranked{}, ErrNoSuitableHospital
	}
	return ranked[0], nil
}
