// Package seed fetches nearby places per category, maps them into records and
// reconciles them against the places table.
package seed

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/unieasy/places-cli/internal/places"
	"github.com/unieasy/places-cli/internal/resilience"
	"github.com/unieasy/places-cli/pkg/google"
)

// ErrUpstreamForbidden marks an authorization failure from the Places API.
// Runs stop as soon as one is seen.
var ErrUpstreamForbidden = errors.New("places api: forbidden")

// ForbiddenError carries the 403 that aborted a fetch.
type ForbiddenError struct {
	Tag places.Tag
	Err error
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("places api rejected the key while fetching %q: %v", e.Tag, e.Err)
}

func (e *ForbiddenError) Unwrap() error { return e.Err }

// Is matches ErrUpstreamForbidden.
func (e *ForbiddenError) Is(target error) bool { return target == ErrUpstreamForbidden }

// Area is the circle searched for every category.
type Area struct {
	Center places.LatLng
	Radius float64
}

// Fetcher runs one nearby search per category with bounded retries.
type Fetcher struct {
	client  google.Client
	policy  resilience.BackoffPolicy
	limiter *rate.Limiter
}

// NewFetcher creates a Fetcher. A nil limiter disables pacing.
func NewFetcher(client google.Client, policy resilience.BackoffPolicy, limiter *rate.Limiter) *Fetcher {
	if policy.OnRetry == nil {
		policy.OnRetry = resilience.RetryLogger("google_places", "searchNearby")
	}
	return &Fetcher{client: client, policy: policy, limiter: limiter}
}

// Fetch returns up to 20 raw results for tag within area.
//
// Permanent failures and exhausted retries are logged and produce an empty
// result with a nil error so the run can move on. A 403 returns a
// *ForbiddenError and context cancellation returns the context error.
func (f *Fetcher) Fetch(ctx context.Context, tag places.Tag, area Area) ([]google.Place, error) {
	log := zap.L().With(zap.String("category", string(tag)))

	req := google.NearbySearchRequest{
		IncludedTypes:  []string{string(tag)},
		MaxResultCount: google.MaxResultCount,
		LocationRestriction: google.LocationRestriction{
			Circle: google.Circle{
				Center: google.LatLng{Latitude: area.Center.Lat, Longitude: area.Center.Lng},
				Radius: area.Radius,
			},
		},
	}

	resp, err := resilience.DoVal(ctx, f.policy, resilience.Classify, func(ctx context.Context) (*google.NearbySearchResponse, error) {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		return f.client.NearbySearch(ctx, req)
	})
	if err == nil {
		if resp == nil {
			return []google.Place{}, nil
		}
		log.Debug("nearby search complete", zap.Int("results", len(resp.Places)))
		return resp.Places, nil
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var exhausted *resilience.ExhaustedError
	switch {
	case errors.As(err, &exhausted):
		log.Error("nearby search failed after retries", zap.Int("attempts", exhausted.Attempts), zap.Error(exhausted.Err))
	case resilience.Classify(err) == resilience.ClassFatal:
		log.Error("places api returned 403, check GOOGLE_PLACES_API_KEY", zap.Error(err))
		return nil, &ForbiddenError{Tag: tag, Err: err}
	default:
		log.Error("nearby search failed", zap.Error(eris.Wrapf(err, "fetch %s", tag)))
	}
	return []google.Place{}, nil
}
