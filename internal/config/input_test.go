package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unieasy/places-cli/internal/places"
)

func TestParseLocation(t *testing.T) {
	loc, err := ParseLocation("12.9345,77.6069")
	require.NoError(t, err)
	assert.InDelta(t, 12.9345, loc.Lat, 1e-9)
	assert.InDelta(t, 77.6069, loc.Lng, 1e-9)

	loc, err = ParseLocation(" -33.86 , 151.2 ")
	require.NoError(t, err)
	assert.InDelta(t, -33.86, loc.Lat, 1e-9)
}

func TestParseLocation_Invalid(t *testing.T) {
	tests := []struct {
		in     string
		reason string
	}{
		{"12.93", "expected lat,lng"},
		{"1,2,3", "expected lat,lng"},
		{"abc,77.6", "latitude is not a number"},
		{"12.9,east", "longitude is not a number"},
		{"91,77.6", "latitude out of range"},
		{"12.9,181", "longitude out of range"},
		{"NaN,77.6", "latitude out of range"},
		{"12.9,nan", "longitude out of range"},
		{"+Inf,77.6", "latitude out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := ParseLocation(tt.in)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, "location", verr.Field)
			assert.Equal(t, tt.reason, verr.Reason)
		})
	}
}

func TestClampRadius(t *testing.T) {
	r, err := ClampRadius(1500, 5000)
	require.NoError(t, err)
	assert.Equal(t, 1500, r)

	r, err = ClampRadius(9000, 5000)
	require.NoError(t, err)
	assert.Equal(t, 5000, r)

	r, err = ClampRadius(9000, 0)
	require.NoError(t, err)
	assert.Equal(t, 9000, r)

	_, err = ClampRadius(0, 5000)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "radius", verr.Field)

	_, err = ClampRadius(-10, 5000)
	assert.Error(t, err)
}

func TestParseTags(t *testing.T) {
	tags, err := ParseTags("")
	require.NoError(t, err)
	assert.Equal(t, places.AllTags(), tags)

	tags, err = ParseTags("all")
	require.NoError(t, err)
	assert.Equal(t, places.AllTags(), tags)

	tags, err = ParseTags("cafe, Gym,cafe,,store")
	require.NoError(t, err)
	assert.Equal(t, []places.Tag{places.TagCafe, places.TagGym, places.TagStore}, tags)
}

func TestParseTags_Invalid(t *testing.T) {
	_, err := ParseTags("cafe,bakery")
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "categories", verr.Field)
	assert.Equal(t, "bakery", verr.Value)

	_, err = ParseTags(" , ")
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "no categories given", verr.Reason)
}
