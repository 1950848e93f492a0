package seed

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/unieasy/places-cli/internal/places"
	"github.com/unieasy/places-cli/internal/resilience"
	"github.com/unieasy/places-cli/pkg/google"
	"github.com/unieasy/places-cli/pkg/google/mocks"
)

var testArea = Area{Center: places.LatLng{Lat: 12.9345, Lng: 77.6069}, Radius: 2500}

// testPolicy records sleeps instead of blocking and draws no jitter.
func testPolicy(sleeps *[]time.Duration) resilience.BackoffPolicy {
	p := resilience.DefaultBackoffPolicy()
	p.Jitter = func() float64 { return 0 }
	p.Sleep = func(_ context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}
	return p
}

func forTag(tag string) any {
	return mock.MatchedBy(func(r google.NearbySearchRequest) bool {
		return len(r.IncludedTypes) == 1 && r.IncludedTypes[0] == tag
	})
}

func TestFetch_Success(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("NearbySearch", mock.Anything, mock.MatchedBy(func(r google.NearbySearchRequest) bool {
		return r.IncludedTypes[0] == "cafe" &&
			r.MaxResultCount == google.MaxResultCount &&
			r.LocationRestriction.Circle.Radius == 2500 &&
			r.LocationRestriction.Circle.Center.Latitude == 12.9345
	})).Return(&google.NearbySearchResponse{Places: []google.Place{{ID: "a"}, {ID: "b"}}}, nil).Once()

	var sleeps []time.Duration
	f := NewFetcher(client, testPolicy(&sleeps), nil)

	got, err := f.Fetch(context.Background(), places.TagCafe, testArea)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Empty(t, sleeps)
}

func TestFetch_ServerErrorsExhaustRetries(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("NearbySearch", mock.Anything, forTag("gym")).
		Return(nil, &google.StatusError{StatusCode: http.StatusInternalServerError}).Times(3)

	var sleeps []time.Duration
	f := NewFetcher(client, testPolicy(&sleeps), nil)

	got, err := f.Fetch(context.Background(), places.TagGym, testArea)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, sleeps)

	var total time.Duration
	for _, s := range sleeps {
		total += s
	}
	assert.LessOrEqual(t, total, 3*time.Second+1500*time.Millisecond)
}

func TestFetch_RateLimitedThenSuccess(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("NearbySearch", mock.Anything, forTag("library")).
		Return(nil, &google.StatusError{StatusCode: http.StatusTooManyRequests}).Once()
	client.On("NearbySearch", mock.Anything, forTag("library")).
		Return(&google.NearbySearchResponse{Places: []google.Place{{ID: "lib"}}}, nil).Once()

	var sleeps []time.Duration
	f := NewFetcher(client, testPolicy(&sleeps), nil)

	got, err := f.Fetch(context.Background(), places.TagLibrary, testArea)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, []time.Duration{60 * time.Second}, sleeps)
}

func TestFetch_Forbidden(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("NearbySearch", mock.Anything, forTag("store")).
		Return(nil, &google.StatusError{StatusCode: http.StatusForbidden, Message: "API key not valid"}).Once()

	var sleeps []time.Duration
	f := NewFetcher(client, testPolicy(&sleeps), nil)

	got, err := f.Fetch(context.Background(), places.TagStore, testArea)
	require.Error(t, err)
	assert.Nil(t, got)
	assert.Empty(t, sleeps)

	assert.True(t, errors.Is(err, ErrUpstreamForbidden))
	var fe *ForbiddenError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, places.TagStore, fe.Tag)
	assert.Contains(t, err.Error(), "API key not valid")
}

func TestFetch_PermanentErrorYieldsEmpty(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("NearbySearch", mock.Anything, forTag("pharmacy")).
		Return(nil, &google.StatusError{StatusCode: http.StatusBadRequest, Message: "invalid radius"}).Once()

	var sleeps []time.Duration
	f := NewFetcher(client, testPolicy(&sleeps), nil)

	got, err := f.Fetch(context.Background(), places.TagPharmacy, testArea)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, sleeps)
}

func TestFetch_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	client := mocks.NewMockClient(t)
	client.On("NearbySearch", mock.Anything, forTag("cafe")).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, context.Canceled).Once()

	var sleeps []time.Duration
	f := NewFetcher(client, testPolicy(&sleeps), nil)

	_, err := f.Fetch(ctx, places.TagCafe, testArea)
	assert.ErrorIs(t, err, context.Canceled)
}
