package handlers_test

import "siaga/internal/types"

func testPoint(lat, lng float64) types.Point {
	return types.Point{Lat: lat, Lng: lng}
}
