// Package entities contains the core domain objects for the acquisition engine
package entities

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Reservoir is a water reservoir the hydrological data is about.
// Reference data, created and edited out-of-band; the engine only reads it.
type Reservoir struct {
	ID           int64
	Name         string `validate:"required"`
	Slug         string `validate:"required"`
	StationName  string
	ForceLevel   *float64 // m, maximum design level
	NormalLevel  *float64 // m
	DeadLevel    *float64 // m
	UsefulVolume *float64 // km3
	FullVolume   *float64 // km3
	Area         *float64 // km2
	Region       string
}

// GeoObject is a geographic object weather observations are attached to.
// StationID and GismeteoID are external identifiers at the respective
// weather providers; a nil id means the provider does not cover the object.
type GeoObject struct {
	ID         int64
	Name       string `validate:"required"`
	Slug       string `validate:"required"`
	GismeteoID *int64
	StationID  *int64
	Latitude   *float64 `validate:"omitempty,gte=-90,lte=90"`
	Longitude  *float64 `validate:"omitempty,gte=-180,lte=180"`
}

// RecordKey is the natural uniqueness key of one observation.
type RecordKey struct {
	Date     time.Time
	EntityID int64
}

// Record is one normalized observation ready for persistence.
type Record interface {
	Key() RecordKey
}

// Situation is one day's hydrological reading for one reservoir.
// Optional fields are nil when the source published no value for them.
type Situation struct {
	ID           int64
	Date         time.Time `validate:"required"`
	ReservoirID  int64     `validate:"required"`
	Level        float64   `validate:"required"` // m above sea level
	FreeCapacity *float64  // mln m3
	Inflow       *float64  // m3/s
	Outflow      *float64  // m3/s
	Spillway     *float64  // m3/s
}

func (s Situation) Key() RecordKey {
	return RecordKey{Date: s.Date, EntityID: s.ReservoirID}
}

// WeatherObservation is one timestamped weather reading for one geo object.
// IsObservable marks measured (historical) data; false means forecast.
type WeatherObservation struct {
	ID            int64
	Date          time.Time `validate:"required"`
	GeoObjectID   int64     `validate:"required"`
	Temp          float64   `validate:"gte=-90,lte=60"` // C
	Pressure      float64   `validate:"gt=0"`           // mm Hg
	Humidity      float64   `validate:"gte=0,lte=100"`  // %
	Cloudiness    float64   `validate:"gte=0,lte=100"`  // %
	WindSpeed     float64   `validate:"gte=0"`          // m/s
	WindDirection *int      // compass scale 0..7
	Precipitation float64   `validate:"gte=0"` // mm
	IsObservable  bool
}

func (w WeatherObservation) Key() RecordKey {
	return RecordKey{Date: w.Date, EntityID: w.GeoObjectID}
}

// ValidationError reports the first field that failed schema validation.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid field %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

var validate = validator.New()

// Validate checks a record or reference entity against its schema constraints.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return &ValidationError{Field: verrs[0].Field(), Err: err}
	}
	return err
}
