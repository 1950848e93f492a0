// Package places holds the places data model, the Google type table and the
// mapper that turns upstream results into storage records.
package places

import (
	"time"
)

// DataSource tags records written by the seeder.
const DataSource = "google_places_seed"

// DefaultCity is stamped on every seeded record.
const DefaultCity = "Bangalore"

// Category is a top-level place category.
type Category string

// Categories known to the places table.
const (
	CategoryFood          Category = "food"
	CategoryAccommodation Category = "accommodation"
	CategoryStudy         Category = "study"
	CategoryHealth        Category = "health"
	CategoryFitness       Category = "fitness"
	CategoryServices      Category = "services"
	CategoryTransport     Category = "transport"
	CategoryCampus        Category = "campus"
	CategoryEssentials    Category = "essentials"
	CategoryHangout       Category = "hangout"
	CategorySafety        Category = "safety"
	CategoryEvents        Category = "events"
	CategoryMarketplace   Category = "marketplace"
)

// ValidCategories lists every category accepted by read filters.
var ValidCategories = []Category{
	CategoryFood, CategoryAccommodation, CategoryStudy, CategoryHealth,
	CategoryFitness, CategoryServices, CategoryTransport, CategoryCampus,
	CategoryEssentials, CategoryHangout, CategorySafety, CategoryEvents,
	CategoryMarketplace,
}

// IsValidCategory reports whether c is one of ValidCategories.
func IsValidCategory(c string) bool {
	for _, v := range ValidCategories {
		if string(v) == c {
			return true
		}
	}
	return false
}

// LatLng is a coordinate pair.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Record is the normalized shape written to the places table.
type Record struct {
	Name             string         `json:"name"`
	ExternalID       string         `json:"google_place_id"`
	Category         Category       `json:"category"`
	SubType          string         `json:"type"`
	Address          *string        `json:"address"`
	City             string         `json:"city"`
	Lat              float64        `json:"lat"`
	Lng              float64        `json:"lng"`
	Phone            *string        `json:"phone"`
	Website          *string        `json:"website"`
	IsOnCampus       bool           `json:"is_on_campus"`
	IsStatic         bool           `json:"is_static"`
	IsManualOverride bool           `json:"is_manual_override"`
	DataSource       string         `json:"data_source"`
	Rating           *float64       `json:"rating"`
	RatingCount      *int           `json:"rating_count"`
	PriceLevel       *int           `json:"price_level"`
	PhotoRefs        []string       `json:"photo_refs"`
	Extra            map[string]any `json:"extra"`
	LastFetchedAt    time.Time      `json:"last_fetched_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Place is a stored row as returned by read queries.
type Place struct {
	ID               string         `json:"id" yaml:"id"`
	Name             string         `json:"name" yaml:"name"`
	ExternalID       *string        `json:"google_place_id,omitempty" yaml:"google_place_id,omitempty"`
	Category         string         `json:"category" yaml:"category"`
	SubType          *string        `json:"type,omitempty" yaml:"type,omitempty"`
	Address          *string        `json:"address,omitempty" yaml:"address,omitempty"`
	City             *string        `json:"city,omitempty" yaml:"city,omitempty"`
	Lat              float64        `json:"lat" yaml:"lat"`
	Lng              float64        `json:"lng" yaml:"lng"`
	IsOnCampus       bool           `json:"is_on_campus" yaml:"is_on_campus"`
	IsStatic         bool           `json:"is_static" yaml:"is_static"`
	IsManualOverride bool           `json:"is_manual_override" yaml:"is_manual_override"`
	DataSource       *string        `json:"data_source,omitempty" yaml:"data_source,omitempty"`
	Rating           *float64       `json:"rating,omitempty" yaml:"rating,omitempty"`
	RatingCount      *int           `json:"rating_count,omitempty" yaml:"rating_count,omitempty"`
	PriceLevel       *int           `json:"price_level,omitempty" yaml:"price_level,omitempty"`
	PhotoRefs        []string       `json:"photo_refs" yaml:"photo_refs"`
	Extra            map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`
	LastFetchedAt    *time.Time     `json:"last_fetched_at,omitempty" yaml:"last_fetched_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" yaml:"updated_at"`
}

// Protected reports whether the row is immune to seeding.
func (p Place) Protected() bool {
	return p.IsOnCampus && p.IsManualOverride
}

// Live-data TTLs, measured against last_fetched_at.
const (
	RatingTTL       = 6 * time.Hour
	OpeningHoursTTL = 15 * time.Minute
)

// IsLiveDataStale reports whether a row fetched at lastFetchedAt has outlived
// the shorter of the live-data TTLs. A row never fetched is stale.
func IsLiveDataStale(lastFetchedAt *time.Time, now time.Time) bool {
	if lastFetchedAt == nil {
		return true
	}
	age := now.Sub(*lastFetchedAt)
	return age > RatingTTL || age > OpeningHoursTTL
}
