package places

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/unieasy/places-cli/pkg/google"
)

// SkipReason explains why a result produced no record.
type SkipReason string

// Skip reasons returned by Map.
const (
	SkipNone       SkipReason = ""
	SkipFiltered   SkipReason = "filtered"
	SkipNoLocation SkipReason = "missing_location"
	SkipNoID       SkipReason = "missing_id"
)

// UnknownName replaces a missing or empty display name.
const UnknownName = "Unknown"

var priceLevels = map[string]int{
	"PRICE_LEVEL_FREE":           0,
	"PRICE_LEVEL_INEXPENSIVE":    1,
	"PRICE_LEVEL_MODERATE":       2,
	"PRICE_LEVEL_EXPENSIVE":      3,
	"PRICE_LEVEL_VERY_EXPENSIVE": 4,
}

// Map converts one upstream result fetched under tag into a record. It is
// pure apart from a warning log for results without coordinates. A nil
// record comes with a non-empty SkipReason.
func Map(p google.Place, tag Tag, city string, now time.Time) (*Record, SkipReason) {
	name := UnknownName
	if p.DisplayName != nil && strings.TrimSpace(p.DisplayName.Text) != "" {
		name = p.DisplayName.Text
	}

	category, subType, keep := Resolve(tag, name)
	if !keep {
		return nil, SkipFiltered
	}

	if p.ID == "" {
		zap.L().Warn("places: result has no id, skipping", zap.String("name", name), zap.String("tag", string(tag)))
		return nil, SkipNoID
	}

	if p.Location == nil || p.Location.Latitude == nil || p.Location.Longitude == nil {
		zap.L().Warn("places: result has no coordinates, skipping",
			zap.String("google_place_id", p.ID),
			zap.String("name", name),
		)
		return nil, SkipNoLocation
	}

	if city == "" {
		city = DefaultCity
	}
	now = now.UTC()

	return &Record{
		Name:          name,
		ExternalID:    p.ID,
		Category:      category,
		SubType:       subType,
		Address:       p.FormattedAddress,
		City:          city,
		Lat:           *p.Location.Latitude,
		Lng:           *p.Location.Longitude,
		DataSource:    DataSource,
		Rating:        p.Rating,
		RatingCount:   p.UserRatingCount,
		PriceLevel:    ParsePriceLevel(p.PriceLevel),
		PhotoRefs:     photoRefs(p.Photos),
		Extra:         extra(p),
		LastFetchedAt: now,
		UpdatedAt:     now,
	}, SkipNone
}

// ParsePriceLevel converts the upstream price level to 0..4. Enum strings map
// through the PRICE_LEVEL_* table, numbers pass through, anything else is nil.
func ParsePriceLevel(raw json.RawMessage) *int {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		v, ok := priceLevels[s]
		if !ok {
			return nil
		}
		return &v
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		v := int(f)
		return &v
	}
	return nil
}

func photoRefs(photos []google.Photo) []string {
	refs := make([]string, 0, len(photos))
	for _, ph := range photos {
		if ph.Name != "" {
			refs = append(refs, ph.Name)
		}
	}
	return refs
}

func extra(p google.Place) map[string]any {
	var openNow *bool
	if p.CurrentOpeningHours != nil {
		openNow = p.CurrentOpeningHours.OpenNow
	}
	types := p.Types
	if types == nil {
		types = []string{}
	}
	return map[string]any{
		"business_status": p.BusinessStatus,
		"open_now":        openNow,
		"google_types":    types,
	}
}
