// README: Shared struct validator with geo-aware tags.
package validator

import (
	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("lat", func(fl validator.FieldLevel) bool {
		lat := fl.Field().Float()
		return lat >= -90 && lat <= 90
	})
	_ = validate.RegisterValidation("lng", func(fl validator.FieldLevel) bool {
		lng := fl.Field().Float()
		return lng >= -180 && lng <= 180
	})
	_ = validate.RegisterValidation("radius_km", func(fl validator.FieldLevel) bool {
		r := fl.Field().Float()
		return r > 0 && r <= 500
	})
}

func ValidateStruct(s any) error {
	return validate.Struct(s)
}
