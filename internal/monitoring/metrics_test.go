package monitoring

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unieasy/places-cli/internal/places"
	"github.com/unieasy/places-cli/internal/seed"
)

func TestRunMetrics_Counters(t *testing.T) {
	m := NewRunMetrics()

	m.Fetched(places.TagCafe, 12)
	m.Fetched(places.TagCafe, 3)
	m.Reconciled(places.TagCafe, seed.OutcomeInserted)
	m.Reconciled(places.TagCafe, seed.OutcomeInserted)
	m.Reconciled(places.TagCafe, seed.OutcomeSkipped)

	assert.InDelta(t, 15.0, testutil.ToFloat64(m.fetched.WithLabelValues("cafe")), 1e-9)
	assert.InDelta(t, 2.0, testutil.ToFloat64(m.records.WithLabelValues("cafe", "inserted")), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.records.WithLabelValues("cafe", "skipped")), 1e-9)
}

func TestRunMetrics_Finish(t *testing.T) {
	m := NewRunMetrics()
	start := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	m.Finish(start, start.Add(90*time.Second), true)

	assert.InDelta(t, 90.0, testutil.ToFloat64(m.duration), 1e-9)
	assert.InDelta(t, float64(start.Add(90*time.Second).Unix()), testutil.ToFloat64(m.lastRun), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.dryRun), 1e-9)
}

func TestRunMetrics_Push(t *testing.T) {
	var method, path, body string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		path = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	m := NewRunMetrics()
	m.Fetched(places.TagGym, 4)

	require.NoError(t, m.Push(context.Background(), ts.URL, "places_seed"))
	assert.Equal(t, http.MethodPut, method)
	assert.True(t, strings.HasSuffix(path, "/metrics/job/places_seed"), path)
	assert.NotEmpty(t, body)
}

func TestRunMetrics_PushDisabled(t *testing.T) {
	m := NewRunMetrics()
	assert.NoError(t, m.Push(context.Background(), "", ""))
}

func TestRunMetrics_PushError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	m := NewRunMetrics()
	err := m.Push(context.Background(), ts.URL, "places_seed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: push")
}
