package places

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// BBox is a lat/lng bounding box. Corners may be given in any order.
type BBox struct {
	bounds *geom.Bounds
}

// ParseBBox parses "lat1,lng1,lat2,lng2".
func ParseBBox(s string) (*BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, eris.Errorf("bbox %q: want lat1,lng1,lat2,lng2", s)
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "bbox %q: parse %q", s, p)
		}
		vals[i] = v
	}
	for _, lat := range []float64{vals[0], vals[2]} {
		if !(lat >= -90 && lat <= 90) {
			return nil, eris.Errorf("bbox %q: latitude %v out of range", s, lat)
		}
	}
	for _, lng := range []float64{vals[1], vals[3]} {
		if !(lng >= -180 && lng <= 180) {
			return nil, eris.Errorf("bbox %q: longitude %v out of range", s, lng)
		}
	}

	b := geom.NewBounds(geom.XY).
		Extend(geom.NewPointFlat(geom.XY, []float64{vals[1], vals[0]})).
		Extend(geom.NewPointFlat(geom.XY, []float64{vals[3], vals[2]}))
	return &BBox{bounds: b}, nil
}

// MinLat returns the southern edge.
func (b *BBox) MinLat() float64 { return b.bounds.Min(1) }

// MaxLat returns the northern edge.
func (b *BBox) MaxLat() float64 { return b.bounds.Max(1) }

// MinLng returns the western edge.
func (b *BBox) MinLng() float64 { return b.bounds.Min(0) }

// MaxLng returns the eastern edge.
func (b *BBox) MaxLng() float64 { return b.bounds.Max(0) }
