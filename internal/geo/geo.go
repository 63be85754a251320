// README: Pure geographic helpers: great-circle distance, linear ETA, distance sort.
package geo

import (
	"math"
	"sort"

	"siaga/internal/types"
)

const earthRadiusKm = 6371.0

// DefaultSpeedKmh is the assumed ambulance speed used for ETA when no
// configured value is supplied.
const DefaultSpeedKmh = 40.0

// DistanceKm returns the haversine distance in kilometres between a and b.
func DistanceKm(a, b types.Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	if h > 1 {
		h = 1
	}
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// ETAMinutes is a linear estimate, distance over an assumed constant speed.
// A non-positive speed yields 0.
func ETAMinutes(distanceKm, speedKmh float64) float64 {
	if speedKmh <= 0 || distanceKm <= 0 {
		return 0
	}
	return distanceKm / speedKmh * 60
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// SortByDistance sorts items ascending by the accessor, keeping the relative
// order of equal elements.
func SortByDistance[T any](items []T, dist func(T) float64) {
	sort.SliceStable(items, func(i, j int) bool {
		return dist(items[i]) < dist(items[j])
	})
}
