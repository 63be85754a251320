package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type sample struct {
	Lat    float64 `validate:"lat"`
	Lng    float64 `validate:"lng"`
	Radius float64 `validate:"radius_km"`
}

func TestValidateStruct(t *testing.T) {
	assert.NoError(t, ValidateStruct(sample{Lat: -6.2, Lng: 106.8, Radius: 10}))
	assert.Error(t, ValidateStruct(sample{Lat: 91, Lng: 0, Radius: 10}))
	assert.Error(t, ValidateStruct(sample{Lat: 0, Lng: -181, Radius: 10}))
	assert.Error(t, ValidateStruct(sample{Lat: 0, Lng: 0, Radius: 0}))
}
