package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unieasy/places-cli/internal/resilience"
)

func testRequest() NearbySearchRequest {
	return NearbySearchRequest{
		IncludedTypes: []string{"cafe"},
		LocationRestriction: LocationRestriction{
			Circle: Circle{
				Center: LatLng{Latitude: 12.9345, Longitude: 77.6069},
				Radius: 2500,
			},
		},
	}
}

func TestNearbySearch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/places:searchNearby", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Goog-Api-Key"))
		assert.Contains(t, r.Header.Get("X-Goog-FieldMask"), "places.id")
		assert.Contains(t, r.Header.Get("X-Goog-FieldMask"), "places.currentOpeningHours")

		var body NearbySearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"cafe"}, body.IncludedTypes)
		assert.Equal(t, MaxResultCount, body.MaxResultCount)
		assert.InDelta(t, 12.9345, body.LocationRestriction.Circle.Center.Latitude, 0.0001)
		assert.InDelta(t, 2500.0, body.LocationRestriction.Circle.Radius, 0.001)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"places": [{
				"id": "ChIJ-cafe1",
				"displayName": {"text": "Third Wave Coffee", "languageCode": "en"},
				"formattedAddress": "80 Feet Rd, Koramangala, Bengaluru",
				"location": {"latitude": 12.935, "longitude": 77.61},
				"rating": 4.4,
				"userRatingCount": 812,
				"priceLevel": "PRICE_LEVEL_MODERATE",
				"businessStatus": "OPERATIONAL",
				"currentOpeningHours": {"openNow": true},
				"photos": [{"name": "places/ChIJ-cafe1/photos/abc"}],
				"types": ["cafe", "food"]
			}]
		}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.NearbySearch(context.Background(), testRequest())

	require.NoError(t, err)
	require.Len(t, resp.Places, 1)
	p := resp.Places[0]
	assert.Equal(t, "ChIJ-cafe1", p.ID)
	require.NotNil(t, p.DisplayName)
	assert.Equal(t, "Third Wave Coffee", p.DisplayName.Text)
	require.NotNil(t, p.Location)
	require.NotNil(t, p.Location.Latitude)
	assert.InDelta(t, 12.935, *p.Location.Latitude, 0.0001)
	require.NotNil(t, p.Rating)
	assert.InDelta(t, 4.4, *p.Rating, 0.001)
	require.NotNil(t, p.UserRatingCount)
	assert.Equal(t, 812, *p.UserRatingCount)
	assert.JSONEq(t, `"PRICE_LEVEL_MODERATE"`, string(p.PriceLevel))
	require.NotNil(t, p.CurrentOpeningHours)
	require.NotNil(t, p.CurrentOpeningHours.OpenNow)
	assert.True(t, *p.CurrentOpeningHours.OpenNow)
	assert.Equal(t, []string{"cafe", "food"}, p.Types)
}

func TestNearbySearch_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.NearbySearch(context.Background(), testRequest())

	require.NoError(t, err)
	assert.Empty(t, resp.Places)
}

func TestNearbySearch_ClampsMaxResultCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body NearbySearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, MaxResultCount, body.MaxResultCount)
		_, _ = w.Write([]byte(`{"places": []}`))
	}))
	defer srv.Close()

	req := testRequest()
	req.MaxResultCount = 500

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.NearbySearch(context.Background(), req)
	require.NoError(t, err)
}

func TestNearbySearch_Forbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error": {"code": 403, "message": "Places API (New) has not been used in project", "status": "PERMISSION_DENIED"}}`))
	}))
	defer srv.Close()

	client := NewClient("bad-key", WithBaseURL(srv.URL))
	resp, err := client.NearbySearch(context.Background(), testRequest())

	require.Error(t, err)
	assert.Nil(t, resp)

	se, ok := err.(*StatusError)
	require.True(t, ok, "expected *StatusError, got %T", err)
	assert.Equal(t, http.StatusForbidden, se.HTTPStatus())
	assert.Equal(t, "Places API (New) has not been used in project", se.Message)
	assert.Contains(t, err.Error(), "403")
	assert.Equal(t, resilience.ClassFatal, resilience.Classify(err))
}

func TestNearbySearch_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`rate limit exceeded`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.NearbySearch(context.Background(), testRequest())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "rate limit exceeded")
	assert.Equal(t, resilience.ClassRateLimited, resilience.Classify(err))
}

func TestNearbySearch_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.NearbySearch(context.Background(), testRequest())

	require.Error(t, err)
	assert.Equal(t, resilience.ClassRetryable, resilience.Classify(err))
}

func TestNearbySearch_TransportErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewClient("test-key", WithBaseURL(url))
	_, err := client.NearbySearch(context.Background(), testRequest())

	require.Error(t, err)
	assert.Equal(t, resilience.ClassRetryable, resilience.Classify(err))
}

func TestNearbySearch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL), WithTimeout(50*time.Millisecond))
	_, err := client.NearbySearch(context.Background(), testRequest())

	require.Error(t, err)
	assert.Equal(t, resilience.ClassRetryable, resilience.Classify(err))
}

func TestNearbySearch_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"places": [`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.NearbySearch(context.Background(), testRequest())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal response")
	assert.Equal(t, resilience.ClassPermanent, resilience.Classify(err))
}

func TestNearbySearch_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.NearbySearch(ctx, testRequest())

	assert.Error(t, err)
	assert.Nil(t, resp)
}

func TestErrorMessage_Truncates(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, errorMessage(long), 200)
	assert.Equal(t, "bad request", errorMessage([]byte(`{"error": {"message": "bad request"}}`)))
}
