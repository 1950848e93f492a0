package config

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/unieasy/places-cli/internal/places"
)

// ValidationError reports a bad configuration value or command-line input.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, fmt.Sprint(e.Value), e.Reason)
}

// ParseLocation parses a "lat,lng" pair.
func ParseLocation(s string) (places.LatLng, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return places.LatLng{}, &ValidationError{Field: "location", Value: s, Reason: "expected lat,lng"}
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return places.LatLng{}, &ValidationError{Field: "location", Value: s, Reason: "latitude is not a number"}
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return places.LatLng{}, &ValidationError{Field: "location", Value: s, Reason: "longitude is not a number"}
	}

	// Written as negated ranges so NaN fails them too.
	if !(lat >= -90 && lat <= 90) {
		return places.LatLng{}, &ValidationError{Field: "location", Value: s, Reason: "latitude out of range"}
	}
	if !(lng >= -180 && lng <= 180) {
		return places.LatLng{}, &ValidationError{Field: "location", Value: s, Reason: "longitude out of range"}
	}

	return places.LatLng{Lat: lat, Lng: lng}, nil
}

// ClampRadius rejects non-positive radii and caps the rest at maxRadius.
func ClampRadius(radius, maxRadius int) (int, error) {
	if radius <= 0 {
		return 0, &ValidationError{Field: "radius", Value: radius, Reason: "must be positive"}
	}
	if maxRadius > 0 && radius > maxRadius {
		zap.L().Warn("radius exceeds maximum, capping",
			zap.Int("requested", radius),
			zap.Int("max", maxRadius),
		)
		return maxRadius, nil
	}
	return radius, nil
}

// ParseTags parses a comma-separated list of search tags. An empty string
// or "all" selects every tag. Duplicates are dropped, first occurrence wins.
func ParseTags(s string) ([]places.Tag, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "all") {
		return places.AllTags(), nil
	}

	var tags []places.Tag
	seen := make(map[places.Tag]bool)
	for _, raw := range strings.Split(s, ",") {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		tag := places.Tag(name)
		if _, ok := places.Lookup(tag); !ok {
			return nil, &ValidationError{Field: "categories", Value: name, Reason: "unknown category"}
		}
		if seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}

	if len(tags) == 0 {
		return nil, &ValidationError{Field: "categories", Value: s, Reason: "no categories given"}
	}
	return tags, nil
}
