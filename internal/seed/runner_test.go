package seed

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/unieasy/places-cli/internal/places"
	"github.com/unieasy/places-cli/internal/store"
	"github.com/unieasy/places-cli/pkg/google"
	"github.com/unieasy/places-cli/pkg/google/mocks"
)

func newSQLite(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "seed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func ptr[T any](v T) *T { return &v }

func result(id, name string) google.Place {
	return google.Place{
		ID:          id,
		DisplayName: &google.DisplayName{Text: name},
		Location:    &google.Location{Latitude: ptr(12.93), Longitude: ptr(77.61)},
		Rating:      ptr(4.1),
	}
}

func response(ps ...google.Place) *google.NearbySearchResponse {
	return &google.NearbySearchResponse{Places: ps}
}

var fixedClock = WithClock(func() time.Time { return time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC) })

type countingObserver struct {
	fetched  map[places.Tag]int
	outcomes map[Outcome]int
}

func (o *countingObserver) Fetched(tag places.Tag, n int) { o.fetched[tag] += n }
func (o *countingObserver) Reconciled(_ places.Tag, out Outcome) {
	o.outcomes[out]++
}

func TestRunner_SeedsAndIsIdempotent(t *testing.T) {
	st := newSQLite(t)
	client := mocks.NewMockClient(t)
	client.On("NearbySearch", mock.Anything, forTag("cafe")).
		Return(response(result("c1", "Third Wave Coffee"), result("c2", "Matteo"), google.Place{ID: "c3"}), nil)
	client.On("NearbySearch", mock.Anything, forTag("store")).
		Return(response(result("s1", "Metro Print & Xerox"), result("s2", "Metro Superstore")), nil)

	var sleeps []time.Duration
	obs := &countingObserver{fetched: map[places.Tag]int{}, outcomes: map[Outcome]int{}}
	runner := NewRunner(NewFetcher(client, testPolicy(&sleeps), nil), NewReconciler(st, nil),
		WithRunLog(st), WithObserver(obs), fixedClock)
	cfg := RunConfig{Tags: []places.Tag{places.TagCafe, places.TagStore}, Area: testArea}

	first, err := runner.Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, Tally{Fetched: 5, Inserted: 3}, first)
	assert.Equal(t, 3, obs.fetched[places.TagCafe])
	assert.Equal(t, 3, obs.outcomes[OutcomeInserted])

	second, err := runner.Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, Tally{Fetched: 5, Updated: 3}, second)

	_, total, err := st.ListPlaces(context.Background(), store.PlaceFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	runs, err := st.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, store.RunStatusComplete, r.Status)
		assert.Equal(t, []string{"cafe", "store"}, r.Categories)
	}
}

func TestRunner_ProtectedRowsSurviveReseed(t *testing.T) {
	st := newSQLite(t)
	ctx := context.Background()

	manual := record("campus-1")
	manual.Name = "Main Canteen"
	manual.Category = places.CategoryCampus
	manual.IsOnCampus = true
	manual.IsManualOverride = true
	_, err := st.UpsertPlace(ctx, manual)
	require.NoError(t, err)

	client := mocks.NewMockClient(t)
	client.On("NearbySearch", mock.Anything, forTag("restaurant")).
		Return(response(result("campus-1", "Canteen (Google)"), result("r2", "Meghana Foods")), nil)

	var sleeps []time.Duration
	runner := NewRunner(NewFetcher(client, testPolicy(&sleeps), nil), NewReconciler(st, nil), fixedClock)

	tally, err := runner.Run(ctx, RunConfig{Tags: []places.Tag{places.TagRestaurant}, Area: testArea})
	require.NoError(t, err)
	assert.Equal(t, Tally{Fetched: 2, Inserted: 1, Skipped: 1}, tally)

	list, _, err := st.ListPlaces(ctx, store.PlaceFilter{Category: "campus"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Main Canteen", list[0].Name)
	assert.True(t, list[0].Protected())
}

func TestRunner_DryRunWritesNothing(t *testing.T) {
	st := newSQLite(t)
	ctx := context.Background()
	_, err := st.UpsertPlace(ctx, record("c2"))
	require.NoError(t, err)

	client := mocks.NewMockClient(t)
	client.On("NearbySearch", mock.Anything, forTag("cafe")).
		Return(response(result("c1", "Third Wave Coffee"), result("c2", "Matteo")), nil)

	var sleeps []time.Duration
	var preview bytes.Buffer
	runner := NewRunner(NewFetcher(client, testPolicy(&sleeps), nil), NewReconciler(st, &preview),
		WithRunLog(st), fixedClock)

	tally, err := runner.Run(ctx, RunConfig{Tags: []places.Tag{places.TagCafe}, Area: testArea, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, Tally{Fetched: 2, Inserted: 1, Updated: 1}, tally)

	list, total, err := st.ListPlaces(ctx, store.PlaceFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "Blossom Book House", list[0].Name)

	runs, err := st.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, runs)

	previews := decodePreviews(t, &preview)
	require.Len(t, previews, 2)
	assert.Equal(t, ActionInsert, previews[0].Action)
	assert.Equal(t, ActionUpdate, previews[1].Action)
}

func TestRunner_ForbiddenStopsRun(t *testing.T) {
	st := newSQLite(t)
	client := mocks.NewMockClient(t)
	client.On("NearbySearch", mock.Anything, forTag("restaurant")).
		Return(response(result("r1", "Meghana Foods")), nil).Once()
	client.On("NearbySearch", mock.Anything, forTag("cafe")).
		Return(nil, &google.StatusError{StatusCode: http.StatusForbidden, Message: "API key expired"}).Once()

	var sleeps []time.Duration
	runner := NewRunner(NewFetcher(client, testPolicy(&sleeps), nil), NewReconciler(st, nil), WithRunLog(st), fixedClock)

	tally, err := runner.Run(context.Background(), RunConfig{
		Tags: []places.Tag{places.TagRestaurant, places.TagCafe, places.TagGym},
		Area: testArea,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstreamForbidden))
	assert.Equal(t, Tally{Fetched: 1, Inserted: 1}, tally)
	client.AssertNotCalled(t, "NearbySearch", mock.Anything, forTag("gym"))

	runs, err := st.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunStatusFailed, runs[0].Status)
	assert.Equal(t, 1, runs[0].Counts.Inserted)
}

func TestRunner_ExhaustedCategoryContinues(t *testing.T) {
	st := newSQLite(t)
	client := mocks.NewMockClient(t)
	client.On("NearbySearch", mock.Anything, forTag("laundry")).
		Return(nil, &google.StatusError{StatusCode: http.StatusServiceUnavailable}).Times(3)
	client.On("NearbySearch", mock.Anything, forTag("pharmacy")).
		Return(response(result("ph1", "Apollo Pharmacy")), nil).Once()

	var sleeps []time.Duration
	runner := NewRunner(NewFetcher(client, testPolicy(&sleeps), nil), NewReconciler(st, nil), fixedClock)

	tally, err := runner.Run(context.Background(), RunConfig{
		Tags: []places.Tag{places.TagLaundry, places.TagPharmacy},
		Area: testArea,
	})
	require.NoError(t, err)
	assert.Equal(t, Tally{Fetched: 1, Inserted: 1}, tally)
	assert.Len(t, sleeps, 2)
}

func TestRunner_DefaultsToEveryTag(t *testing.T) {
	st := newSQLite(t)
	client := mocks.NewMockClient(t)
	var seen []string
	client.On("NearbySearch", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			seen = append(seen, args.Get(1).(google.NearbySearchRequest).IncludedTypes[0])
		}).
		Return(response(), nil)

	var sleeps []time.Duration
	runner := NewRunner(NewFetcher(client, testPolicy(&sleeps), nil), NewReconciler(st, nil))

	tally, err := runner.Run(context.Background(), RunConfig{Area: testArea})
	require.NoError(t, err)
	assert.Equal(t, Tally{}, tally)
	assert.Equal(t, []string{"restaurant", "cafe", "gym", "lodging", "library", "laundry", "pharmacy", "store"}, seen)
}

func TestTally_Add(t *testing.T) {
	var tally Tally
	tally = tally.Add(OutcomeInserted).Add(OutcomeUpdated).Add(OutcomeSkipped).Add(OutcomeError).Add(OutcomeInserted)
	assert.Equal(t, Tally{Inserted: 2, Updated: 1, Skipped: 1, Errors: 1}, tally)
	assert.Equal(t, store.RunCounts{Inserted: 2, Updated: 1, Skipped: 1, Errors: 1}, tally.Counts())
}
