// README: Hospital bed capacity records and the weights used to rank them.
package capacity

import (
	"errors"
	"time"

	"siaga/internal/types"
	"siaga/pkg/validator"
)

var (
	ErrNoSuitableHospital = errors.New("no suitable hospital")
	ErrInvalidCapacity    = errors.New("invalid capacity record")
	ErrNotFound           = errors.New("hospital not found")
)

const (
	TypeTrauma    = "trauma"
	TypeCardiac   = "cardiac"
	TypeStroke    = "stroke"
	TypePediatric = "pediatric"
)

type Capabilities struct {
	Trauma    bool `json:"trauma"`
	Cardiac   bool `json:"cardiac"`
	Stroke    bool `json:"stroke"`
	Pediatric bool `json:"pediatric"`
}

type HospitalCapacity struct {
	HospitalID             types.ID     `json:"hospital_id" validate:"required"`
	Name                   string       `json:"name"`
	Position               types.Point  `json:"position"`
	EmergencyBedsTotal     int          `json:"emergency_beds_total" validate:"gte=0"`
	EmergencyBedsAvailable int          `json:"emergency_beds_available" validate:"gte=0,ltefield=EmergencyBedsTotal"`
	ICUBedsTotal           int          `json:"icu_beds_total" validate:"gte=0"`
	ICUBedsAvailable       int          `json:"icu_beds_available" validate:"gte=0,ltefield=ICUBedsTotal"`
	Capabilities           Capabilities `json:"capabilities"`
	LastUpdated            time.Time    `json:"last_updated"`
}

// Validate enforces 0 <= available <= total and a usable position.
func (h HospitalCapacity) Validate() error {
	if err := validator.ValidateStruct(h); err != nil {
		return errors.Join(ErrInvalidCapacity, err)
	}
	if !h.Position.Valid() {
		return errors.Join(ErrInvalidCapacity, errors.New("position out of range"))
	}
	return nil
}

type Weights struct {
	Distance float64 `json:"distance"`
	Capacity float64 `json:"capacity"`
}

var DefaultWeights = Weights{Distance: 0.7, Capacity: 0.3}

type Ranked struct {
	Hospital   HospitalCapacity `json:"hospital"`
	DistanceKm float64          `json:"distance_km"`
	Score      float64          `json:"score"`
	Composite  float64          `json:"composite"`
}
