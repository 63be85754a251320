package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"siaga/internal/types"
)

func TestDistanceKm_KnownDistances(t *testing.T) {
	tests := []struct {
		name      string
		a, b      types.Point
		wantKm    float64
		tolerance float64
	}{
		{
			name:      "same point",
			a:         types.Point{Lat: -6.2, Lng: 106.8},
			b:         types.Point{Lat: -6.2, Lng: 106.8},
			wantKm:    0,
			tolerance: 1e-9,
		},
		{
			name:      "Monas to Bundaran HI (~2km)",
			a:         types.Point{Lat: -6.1754, Lng: 106.8272},
			b:         types.Point{Lat: -6.1950, Lng: 106.8230},
			wantKm:    2.2,
			tolerance: 0.3,
		},
		{
			name:      "New York to Los Angeles (~3944km)",
			a:         types.Point{Lat: 40.7128, Lng: -74.0060},
			b:         types.Point{Lat: 34.0522, Lng: -118.2437},
			wantKm:    3944,
			tolerance: 50,
		},
		{
			name:      "one degree of latitude on the equator",
			a:         types.Point{Lat: 0, Lng: 0},
			b:         types.Point{Lat: 1, Lng: 0},
			wantKm:    111.19,
			tolerance: 0.05,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceKm(tt.a, tt.b)
			assert.InDelta(t, tt.wantKm, got, tt.tolerance)
		})
	}
}

func TestDistanceKm_Symmetry(t *testing.T) {
	points := []types.Point{
		{Lat: 25.0, Lng: 121.0},
		{Lat: 26.0, Lng: 122.0},
		{Lat: -6.2, Lng: 106.8},
		{Lat: 89.9, Lng: -179.9},
		{Lat: -45, Lng: 170},
	}
	for _, a := range points {
		assert.Zero(t, DistanceKm(a, a))
		for _, b := range points {
			assert.InDelta(t, DistanceKm(a, b), DistanceKm(b, a), 1e-9)
		}
	}
}

func TestDistanceKm_MonotonicWithSeparation(t *testing.T) {
	origin := types.Point{Lat: 0, Lng: 0}
	prev := 0.0
	for i := 1; i <= 180; i++ {
		d := DistanceKm(origin, types.Point{Lat: 0, Lng: float64(i)})
		if d <= prev {
			t.Fatalf("distance at %d degrees (%f) not greater than previous (%f)", i, d, prev)
		}
		prev = d
	}
	assert.InDelta(t, math.Pi*earthRadiusKm, prev, 0.001)
}

func TestETAMinutes(t *testing.T) {
	assert.InDelta(t, 3.0, ETAMinutes(2, 40), 1e-9)
	assert.InDelta(t, 60.0, ETAMinutes(DefaultSpeedKmh, DefaultSpeedKmh), 1e-9)
	assert.Zero(t, ETAMinutes(10, 0))
	assert.Zero(t, ETAMinutes(0, 40))
}

func TestSortByDistance_Stable(t *testing.T) {
	type item struct {
		id   string
		dist float64
	}
	items := []item{{"c", 5}, {"a", 1}, {"b", 1}, {"d", 3}}
	SortByDistance(items, func(i item) float64 { return i.dist })
	assert.Equal(t, []string{"a", "b", "d", "c"}, []string{items[0].id, items[1].id, items[2].id, items[3].id})

	var empty []item
	SortByDistance(empty, func(i item) float64 { return i.dist })
}
