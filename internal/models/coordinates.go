package models

import (
	"math"

	validator "github.com/go-playground/validator/v10"
)

var coordinatesValidator = validator.New()

// ValidateCoordinates applies the single coordinate policy shared by
// create, update and bulk import: finite values, latitude in [-90, 90]
// and longitude in [-180, 180].
func ValidateCoordinates(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lng) || math.IsInf(lng, 0) {
		return NewValidationError("lat and lng must be valid numbers")
	}

	if err := coordinatesValidator.Var(lat, "latitude"); err != nil {
		return NewValidationError("Latitude must be between -90 and 90")
	}

	if err := coordinatesValidator.Var(lng, "longitude"); err != nil {
		return NewValidationError("Longitude must be between -180 and 180")
	}

	return nil
}

// ValidCoordinates is the boolean form of ValidateCoordinates.
func ValidCoordinates(lat, lng float64) bool {
	return ValidateCoordinates(lat, lng) == nil
}
