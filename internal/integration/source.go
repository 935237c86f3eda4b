package integration

import (
	"time"

	"github.com/hlystovea/reservoirs-web/internal/entities"
)

// Granularity is the unit-of-work step of a source.
type Granularity int

const (
	// GranularityDay sources publish one document per calendar day.
	GranularityDay Granularity = iota
	// GranularityMonth sources publish one document per month of days;
	// the document is fetched once per month, not once per day.
	GranularityMonth
	// GranularityEntity sources publish one document per entity and are
	// swept over the entity set in a single bounded run.
	GranularityEntity
)

// WorkUnit is one fetch-parse cycle: a date, an entity, or both, depending
// on the source's granularity. Reservoirs carries the entity set for
// situation sources; GeoObject the single entity for weather sources.
// Since is the last persisted datetime for the geo object, when any.
type WorkUnit struct {
	Date       time.Time
	Reservoirs []entities.Reservoir
	GeoObject  *entities.GeoObject
	Since      time.Time
}

// SourceAdapter is implemented once per external provider. Implementations
// hold no mutable state; everything a unit of work needs travels in WorkUnit.
type SourceAdapter interface {
	Name() string
	Granularity() Granularity

	// EarliestKnownDate is the cursor floor used when nothing has been
	// persisted yet. Entity-swept sources return the zero time.
	EarliestKnownDate() time.Time

	// BuildRequest is deterministic for a given unit of work.
	BuildRequest(u WorkUnit) (Request, error)

	// Parse extracts zero or more records from one fetched document. It
	// fails only when the document structure is unrecognizable; a single
	// malformed entity or day is logged and skipped without dropping the
	// document's remaining records.
	Parse(body []byte, u WorkUnit) ([]entities.Record, error)
}

// ReservoirScoped is implemented by situation sources. The returned slugs
// bound the reservoir set the cursor aggregates over; with exclude set the
// scope is every reservoir except those slugs.
type ReservoirScoped interface {
	ReservoirScope() (slugs []string, exclude bool)
}

// GeoObjectScoped is implemented by weather sources to select the geo
// objects that carry the identifier the source needs.
type GeoObjectScoped interface {
	WantsGeoObject(g entities.GeoObject) bool
}
