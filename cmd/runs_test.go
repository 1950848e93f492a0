package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unieasy/places-cli/internal/store"
)

func sampleRuns() []store.Run {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	done := now.Add(2 * time.Minute)
	failed := now.Add(-50 * time.Minute)
	return []store.Run{
		{
			ID:         "abc12345-6789-0000-0000-000000000000",
			Status:     store.RunStatusComplete,
			Categories: []string{"restaurant", "cafe"},
			Counts:     store.RunCounts{Fetched: 40, Inserted: 12, Updated: 25, Skipped: 2, Errors: 1},
			StartedAt:  now,
			FinishedAt: &done,
		},
		{
			ID:         "def12345-6789-0000-0000-000000000000",
			Status:     store.RunStatusFailed,
			Categories: []string{"restaurant", "cafe", "gym", "lodging", "library", "laundry", "pharmacy", "store"},
			Counts:     store.RunCounts{Fetched: 20, Inserted: 20},
			Error:      "upstream forbidden",
			StartedAt:  now.Add(-1 * time.Hour),
			FinishedAt: &failed,
		},
		{
			ID:         "0123abcd-0000-0000-0000-000000000000",
			Status:     store.RunStatusRunning,
			Categories: []string{"gym"},
			StartedAt:  now.Add(-30 * 24 * time.Hour),
		},
	}
}

func TestFormatRunsList(t *testing.T) {
	var buf bytes.Buffer
	formatRunsList(&buf, sampleRuns())

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "STATUS")
	assert.Contains(t, output, "abc12345")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "restaurant,cafe")
	assert.Contains(t, output, "failed")
	assert.Contains(t, output, "...")
	assert.Contains(t, output, "2025-06-15 10:30")
	assert.Contains(t, output, "2m0s")
}

func TestComputeRunStats(t *testing.T) {
	s := computeRunStats(sampleRuns(), time.Time{})

	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.Complete)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Running)
	assert.Equal(t, 60, s.Counts.Fetched)
	assert.Equal(t, 32, s.Counts.Inserted)
	assert.InDelta(t, 120.0, s.AvgDurSecs, 0.001)
}

func TestComputeRunStats_Cutoff(t *testing.T) {
	cutoff := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	s := computeRunStats(sampleRuns(), cutoff)

	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 0, s.Running)
}

func TestFormatRunStats(t *testing.T) {
	var buf bytes.Buffer
	formatRunStats(&buf, runStats{
		Total:      3,
		Complete:   2,
		Failed:     1,
		Counts:     store.RunCounts{Fetched: 60, Inserted: 32, Updated: 25},
		AvgDurSecs: 95.5,
	})

	output := buf.String()
	assert.Contains(t, output, "Total runs:")
	assert.Contains(t, output, "Failed:")
	assert.Contains(t, output, "Inserted:")
	assert.Contains(t, output, "95.5s")
}

func TestFormatRunStats_NoAvgDuration(t *testing.T) {
	var buf bytes.Buffer
	formatRunStats(&buf, runStats{Total: 1, Failed: 1})
	assert.NotContains(t, buf.String(), "Avg duration")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789-0000-0000-000000000000"))
	assert.Equal(t, "short", truncateID("short"))
	assert.Equal(t, "", truncateID(""))
}

func TestRunsCommands_FreshDatabase(t *testing.T) {
	seedEnv(t, "http://127.0.0.1:1")

	_, stderr, code := runCLI(t, "runs", "list")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stderr, "No runs found.")

	_, stderr, code = runCLI(t, "runs", "stats")
	assert.Equal(t, exitOK, code, stderr)
}
